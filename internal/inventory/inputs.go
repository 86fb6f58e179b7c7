package inventory

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoveInput describes one movement engine call.
type MoveInput struct {
	TenantID     string `validate:"required"`
	WarehouseID  string `validate:"required"`
	ProductID    string `validate:"required"`
	VariantID    string
	LotID        string
	Qty          decimal.Decimal `validate:"gt=0,qtyscale"`
	FromLocation string          `validate:"required_without=ToLocation"`
	ToLocation   string          `validate:"required_without=FromLocation"`
	Reason       MoveReason      `validate:"required,oneof=receipt shipment move transfer pick adjustment"`
	RefModule    string
	RefID        string
}

// ReserveInput requests qty for an order. Scope.LocationID and Scope.LotID
// narrow the candidate rows; VariantID is matched exactly.
type ReserveInput struct {
	Scope    ReserveScope
	Qty      decimal.Decimal `validate:"gt=0,qtyscale"`
	OrderRef string          `validate:"required"`
}

// ReserveScope is the row selection for Reserve.
type ReserveScope struct {
	TenantID    string `validate:"required"`
	WarehouseID string `validate:"required"`
	ProductID   string `validate:"required"`
	VariantID   string
	LocationID  string
	LotID       string
}

func (s ReserveScope) scope() Scope {
	return Scope{
		TenantID:    s.TenantID,
		WarehouseID: s.WarehouseID,
		ProductID:   s.ProductID,
		VariantID:   s.VariantID,
		LocationID:  s.LocationID,
		LotID:       s.LotID,
	}
}

// CreateReceiptInput opens a receipt.
type CreateReceiptInput struct {
	TenantID    string `validate:"required"`
	WarehouseID string `validate:"required"`
	Reference   string
	Items       []ReceiptLineInput `validate:"required,min=1,dive"`
}

// ReceiptLineInput is an expected inbound line.
type ReceiptLineInput struct {
	ProductID   string `validate:"required"`
	VariantID   string
	ExpectedQty decimal.Decimal `validate:"gt=0,qtyscale"`
}

// ReceiveLineInput books a (partial) delivery against a receipt line.
type ReceiveLineInput struct {
	TenantID   string          `validate:"required"`
	ItemID     uuid.UUID       `validate:"required"`
	Qty        decimal.Decimal `validate:"gt=0,qtyscale"`
	ToLocation string          `validate:"required"`
	LotID      string
}

// CreateShipmentInput opens a shipment.
type CreateShipmentInput struct {
	TenantID    string `validate:"required"`
	WarehouseID string `validate:"required"`
	Reference   string
	OrderRef    string
	Items       []ShipmentLineInput `validate:"required,min=1,dive"`
}

// ShipmentLineInput is an outbound line.
type ShipmentLineInput struct {
	ProductID string `validate:"required"`
	VariantID string
	Qty       decimal.Decimal `validate:"gt=0,qtyscale"`
}

// ShipItemInput ships qty of a shipment line. A non-zero ReservationID
// consumes that reservation's claim before the stock leaves.
type ShipItemInput struct {
	TenantID      string          `validate:"required"`
	ItemID        uuid.UUID       `validate:"required"`
	Qty           decimal.Decimal `validate:"gt=0,qtyscale"`
	FromLocation  string          `validate:"required"`
	LotID         string
	ReservationID uuid.UUID
}

// CreateWaveInput batches reservations of one warehouse into a pick wave.
type CreateWaveInput struct {
	TenantID       string `validate:"required"`
	WarehouseID    string `validate:"required"`
	Reference      string
	ReservationIDs []uuid.UUID `validate:"required,min=1"`
}

// CompleteTaskInput confirms a pick. An empty StagingLocation picks in place.
type CompleteTaskInput struct {
	TenantID        string    `validate:"required"`
	TaskID          uuid.UUID `validate:"required"`
	StagingLocation string
}

// CreateTransferInput opens a transfer order.
type CreateTransferInput struct {
	TenantID        string `validate:"required"`
	FromWarehouseID string `validate:"required"`
	ToWarehouseID   string `validate:"required,nefield=FromWarehouseID"`
	Reference       string
	Items           []TransferLineInput `validate:"required,min=1,dive"`
}

// TransferLineInput is one transfer line.
type TransferLineInput struct {
	ProductID string `validate:"required"`
	VariantID string
	LotID     string
	Qty       decimal.Decimal `validate:"gt=0,qtyscale"`
}

// ExecuteTransferInput moves qty of a transfer line.
type ExecuteTransferInput struct {
	TenantID     string          `validate:"required"`
	ItemID       uuid.UUID       `validate:"required"`
	FromLocation string          `validate:"required"`
	ToLocation   string          `validate:"required"`
	Qty          decimal.Decimal `validate:"gt=0,qtyscale"`
}

// CreateAdjustmentInput records and applies a count correction.
type CreateAdjustmentInput struct {
	TenantID    string `validate:"required"`
	WarehouseID string `validate:"required"`
	Reference   string
	Note        string
	Items       []AdjustmentLineInput `validate:"required,min=1,dive"`
}

// AdjustmentLineInput is a signed correction. Zero diffs are recorded but not applied.
type AdjustmentLineInput struct {
	ProductID  string `validate:"required"`
	VariantID  string
	LocationID string `validate:"required"`
	LotID      string
	QtyDiff    decimal.Decimal `validate:"qtyscale"`
}

type idInput struct {
	TenantID string    `validate:"required"`
	ID       uuid.UUID `validate:"required"`
}

type orderInput struct {
	TenantID string `validate:"required"`
	OrderRef string `validate:"required"`
}
