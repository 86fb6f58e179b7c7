package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoveReason classifies a stock movement.
type MoveReason string

const (
	// ReasonReceipt is inbound stock from a receipt.
	ReasonReceipt MoveReason = "receipt"
	// ReasonShipment is outbound stock leaving on a shipment.
	ReasonShipment MoveReason = "shipment"
	// ReasonMove relocates stock inside one warehouse.
	ReasonMove MoveReason = "move"
	// ReasonTransfer is one leg of a cross-warehouse transfer.
	ReasonTransfer MoveReason = "transfer"
	// ReasonPick relocates reserved stock to a staging location.
	ReasonPick MoveReason = "pick"
	// ReasonAdjustment reconciles a physical count against the ledger.
	ReasonAdjustment MoveReason = "adjustment"
)

// IsInternal reports whether moves with this reason only relocate quantity.
func (r MoveReason) IsInternal() bool {
	switch r {
	case ReasonMove, ReasonTransfer, ReasonPick:
		return true
	}
	return false
}

// MoveStatus is the lifecycle state of a stock move.
type MoveStatus string

// MoveStatusDone is the only status the engine writes.
const MoveStatusDone MoveStatus = "done"

// ReservationStatus enumerates reservation states.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationReleased ReservationStatus = "released"
	ReservationPicked   ReservationStatus = "picked"
	ReservationShipped  ReservationStatus = "shipped"
)

// Active reports whether the reservation still holds a claim on a ledger row.
func (s ReservationStatus) Active() bool {
	return s == ReservationReserved || s == ReservationPicked
}

// DocumentStatus is shared by receipts, shipments, waves, tasks, transfers and adjustments.
type DocumentStatus string

const (
	StatusOpen     DocumentStatus = "open"
	StatusReceived DocumentStatus = "received"
	StatusShipped  DocumentStatus = "shipped"
	StatusDone     DocumentStatus = "done"
)

// IsOpen reports whether lines of the document may still be processed.
func (s DocumentStatus) IsOpen() bool {
	return s == StatusOpen
}

// ItemKey identifies one ledger row. Empty VariantID and LotID mean "none".
type ItemKey struct {
	TenantID    string
	WarehouseID string
	ProductID   string
	VariantID   string
	LocationID  string
	LotID       string
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s", k.TenantID, k.WarehouseID, k.ProductID, k.VariantID, k.LocationID, k.LotID)
}

// Less orders keys the same way the store orders rows it locks
// (bytewise, warehouse first). Every multi-row lock follows this order.
func (k ItemKey) Less(o ItemKey) bool {
	switch {
	case k.TenantID != o.TenantID:
		return k.TenantID < o.TenantID
	case k.WarehouseID != o.WarehouseID:
		return k.WarehouseID < o.WarehouseID
	case k.ProductID != o.ProductID:
		return k.ProductID < o.ProductID
	case k.VariantID != o.VariantID:
		return k.VariantID < o.VariantID
	case k.LocationID != o.LocationID:
		return k.LocationID < o.LocationID
	default:
		return k.LotID < o.LotID
	}
}

// Scope selects ledger rows. TenantID is always required.
type Scope struct {
	TenantID    string `validate:"required"`
	WarehouseID string
	ProductID   string
	VariantID   string
	LocationID  string
	LotID       string
}

// Matches reports whether the row falls in the scope. With exactVariant an
// empty VariantID only matches rows without a variant.
func (s Scope) Matches(k ItemKey, exactVariant bool) bool {
	if k.TenantID != s.TenantID {
		return false
	}
	if s.WarehouseID != "" && k.WarehouseID != s.WarehouseID {
		return false
	}
	if s.ProductID != "" && k.ProductID != s.ProductID {
		return false
	}
	if (exactVariant || s.VariantID != "") && k.VariantID != s.VariantID {
		return false
	}
	if s.LocationID != "" && k.LocationID != s.LocationID {
		return false
	}
	if s.LotID != "" && k.LotID != s.LotID {
		return false
	}
	return true
}

// InventoryItem is a ledger row.
type InventoryItem struct {
	ID uuid.UUID
	ItemKey
	Qty         decimal.Decimal
	ReservedQty decimal.Decimal
	UpdatedAt   time.Time
}

// Free returns the quantity available to new reservations and outbound moves.
func (i InventoryItem) Free() decimal.Decimal {
	return i.Qty.Sub(i.ReservedQty)
}

// Reservation is a claim on part of one ledger row.
type Reservation struct {
	ID              uuid.UUID
	TenantID        string
	WarehouseID     string
	ProductID       string
	VariantID       string
	InventoryItemID uuid.UUID
	Qty             decimal.Decimal
	OrderRef        string
	Status          ReservationStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StockMove is the append-only audit entry written with every qty mutation.
// An empty FromLocation is a pure inbound move, an empty ToLocation a pure outbound one.
type StockMove struct {
	ID           uuid.UUID
	TenantID     string
	WarehouseID  string
	ProductID    string
	VariantID    string
	LotID        string
	Qty          decimal.Decimal
	FromLocation string
	ToLocation   string
	Reason       MoveReason
	Status       MoveStatus
	RefModule    string
	RefID        string
	CreatedAt    time.Time
}

// Receipt is an inbound document.
type Receipt struct {
	ID          uuid.UUID
	TenantID    string
	WarehouseID string
	Reference   string
	Status      DocumentStatus
	Items       []ReceiptItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ReceiptItem is an expected inbound line.
type ReceiptItem struct {
	ID          uuid.UUID
	ReceiptID   uuid.UUID
	TenantID    string
	ProductID   string
	VariantID   string
	ExpectedQty decimal.Decimal
	ReceivedQty decimal.Decimal
	LineNo      int
}

// Satisfied reports whether the line is fully received.
func (i ReceiptItem) Satisfied() bool {
	return i.ReceivedQty.GreaterThanOrEqual(i.ExpectedQty)
}

// Shipment is an outbound document.
type Shipment struct {
	ID          uuid.UUID
	TenantID    string
	WarehouseID string
	Reference   string
	OrderRef    string
	Status      DocumentStatus
	Items       []ShipmentItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ShipmentItem is an outbound line.
type ShipmentItem struct {
	ID         uuid.UUID
	ShipmentID uuid.UUID
	TenantID   string
	ProductID  string
	VariantID  string
	Qty        decimal.Decimal
	ShippedQty decimal.Decimal
	LineNo     int
}

// Satisfied reports whether the line is fully shipped.
func (i ShipmentItem) Satisfied() bool {
	return i.ShippedQty.GreaterThanOrEqual(i.Qty)
}

// PickWave batches reservations for picking.
type PickWave struct {
	ID          uuid.UUID
	TenantID    string
	WarehouseID string
	Reference   string
	Status      DocumentStatus
	Tasks       []PickTask
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PickTask picks one reservation.
type PickTask struct {
	ID              uuid.UUID
	WaveID          uuid.UUID
	TenantID        string
	ReservationID   uuid.UUID
	ProductID       string
	VariantID       string
	LotID           string
	FromLocation    string
	StagingLocation string
	Qty             decimal.Decimal
	Status          DocumentStatus
	LineNo          int
}

// TransferOrder moves stock between two warehouses.
type TransferOrder struct {
	ID              uuid.UUID
	TenantID        string
	FromWarehouseID string
	ToWarehouseID   string
	Reference       string
	Status          DocumentStatus
	Items           []TransferItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TransferItem is one product line of a transfer.
type TransferItem struct {
	ID         uuid.UUID
	TransferID uuid.UUID
	TenantID   string
	ProductID  string
	VariantID  string
	LotID      string
	Qty        decimal.Decimal
	MovedQty   decimal.Decimal
	LineNo     int
}

// Satisfied reports whether the line is fully moved.
func (i TransferItem) Satisfied() bool {
	return i.MovedQty.GreaterThanOrEqual(i.Qty)
}

// Adjustment corrects the ledger against a physical count.
type Adjustment struct {
	ID          uuid.UUID
	TenantID    string
	WarehouseID string
	Reference   string
	Note        string
	Status      DocumentStatus
	Items       []AdjustmentItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AdjustmentItem carries a signed correction for one row.
type AdjustmentItem struct {
	ID           uuid.UUID
	AdjustmentID uuid.UUID
	TenantID     string
	ProductID    string
	VariantID    string
	LocationID   string
	LotID        string
	QtyDiff      decimal.Decimal
	LineNo       int
}

// OnHand aggregates ledger rows for a scope.
type OnHand struct {
	Qty      decimal.Decimal
	Reserved decimal.Decimal
	OnHand   decimal.Decimal
	Rows     []InventoryItem
}

// MoveFilter filters the stock card.
type MoveFilter struct {
	TenantID    string `validate:"required"`
	WarehouseID string
	ProductID   string
	VariantID   string
	LocationID  string
	LotID       string
	From        time.Time
	To          time.Time
	Limit       int
}

// KeyQty is a quantity attributed to a ledger key.
type KeyQty struct {
	Key ItemKey
	Qty decimal.Decimal
}

// LedgerSnapshot is a consistent read of one tenant used by reconciliation.
type LedgerSnapshot struct {
	Items      []InventoryItem
	MoveTotals []KeyQty
	Claims     map[uuid.UUID]decimal.Decimal
}

// DiscrepancyKind names a reconciliation finding.
type DiscrepancyKind string

const (
	DiscrepancyNegativeQty      DiscrepancyKind = "negative_qty"
	DiscrepancyReservedRange    DiscrepancyKind = "reserved_out_of_range"
	DiscrepancyMoveDrift        DiscrepancyKind = "move_drift"
	DiscrepancyReservationDrift DiscrepancyKind = "reservation_drift"
)

// Discrepancy is a ledger row that disagrees with its invariants or history.
type Discrepancy struct {
	Kind     DiscrepancyKind
	ItemID   uuid.UUID
	Key      ItemKey
	Expected decimal.Decimal
	Actual   decimal.Decimal
}
