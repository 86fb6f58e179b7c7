package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const refModuleReceipt = "receipt"

// CreateReceipt opens a receipt with every line at zero received.
func (s *Service) CreateReceipt(ctx context.Context, in CreateReceiptInput) (Receipt, error) {
	now := s.now()
	receipt := Receipt{
		ID:          s.newID(),
		TenantID:    in.TenantID,
		WarehouseID: in.WarehouseID,
		Reference:   in.Reference,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, line := range in.Items {
		receipt.Items = append(receipt.Items, ReceiptItem{
			ID:          s.newID(),
			ReceiptID:   receipt.ID,
			TenantID:    in.TenantID,
			ProductID:   line.ProductID,
			VariantID:   line.VariantID,
			ExpectedQty: line.ExpectedQty,
			ReceivedQty: decimal.Zero,
			LineNo:      i + 1,
		})
	}
	err := s.execute(ctx, "create_receipt", in, tenantAttrs(in.TenantID), func(ctx context.Context, sc *txScope) error {
		return sc.tx.InsertReceipt(ctx, receipt)
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, in.TenantID, "inventory.receipt.create", "receipt", receipt.ID, map[string]any{
		"warehouse_id": receipt.WarehouseID,
		"lines":        len(receipt.Items),
	})
	return receipt, nil
}

// ReceiveLine books qty of a receipt line into ToLocation. The receipt turns
// received once every line reached its expected qty.
func (s *Service) ReceiveLine(ctx context.Context, in ReceiveLineInput) (Receipt, error) {
	var receipt Receipt
	attrs := tenantAttrs(in.TenantID, attribute.String("inventory.receipt_item", in.ItemID.String()))
	err := s.execute(ctx, "receive_line", in, attrs, func(ctx context.Context, sc *txScope) error {
		var err error
		receipt, err = sc.tx.LockReceiptByItem(ctx, in.TenantID, in.ItemID)
		if err != nil {
			return err
		}
		if !receipt.Status.IsOpen() {
			return fmt.Errorf("%w: receipt %s is %s", ErrStateConflict, receipt.ID, receipt.Status)
		}
		line := findReceiptItem(receipt.Items, in.ItemID)
		if line == nil {
			return fmt.Errorf("%w: receipt item %s", ErrNotFound, in.ItemID)
		}
		received := line.ReceivedQty.Add(in.Qty)
		if s.cfg.RejectOverQuantity && received.GreaterThan(line.ExpectedQty) {
			return fmt.Errorf("%w: receiving %s exceeds expected %s (received %s)", ErrValidation, in.Qty, line.ExpectedQty, line.ReceivedQty)
		}

		_, err = s.applyMove(ctx, sc, MoveInput{
			TenantID:    in.TenantID,
			WarehouseID: receipt.WarehouseID,
			ProductID:   line.ProductID,
			VariantID:   line.VariantID,
			LotID:       in.LotID,
			Qty:         in.Qty,
			ToLocation:  in.ToLocation,
			Reason:      ReasonReceipt,
			RefModule:   refModuleReceipt,
			RefID:       receipt.ID.String(),
		})
		if err != nil {
			return err
		}
		line.ReceivedQty = received
		if err := sc.tx.UpdateReceiptItem(ctx, *line); err != nil {
			return err
		}
		if receiptSatisfied(receipt.Items) {
			receipt.Status = StatusReceived
			receipt.UpdatedAt = s.now()
			return sc.tx.UpdateReceiptStatus(ctx, receipt.TenantID, receipt.ID, receipt.Status)
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, in.TenantID, "inventory.receipt.receive", "receipt", receipt.ID, map[string]any{
		"item_id":  in.ItemID.String(),
		"qty":      in.Qty.String(),
		"location": in.ToLocation,
		"status":   string(receipt.Status),
	})
	return receipt, nil
}

func findReceiptItem(items []ReceiptItem, id uuid.UUID) *ReceiptItem {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

func receiptSatisfied(items []ReceiptItem) bool {
	for _, item := range items {
		if !item.Satisfied() {
			return false
		}
	}
	return len(items) > 0
}
