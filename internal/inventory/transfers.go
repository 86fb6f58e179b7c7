package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const refModuleTransfer = "transfer"

// CreateTransfer opens a transfer order between two warehouses.
func (s *Service) CreateTransfer(ctx context.Context, in CreateTransferInput) (TransferOrder, error) {
	now := s.now()
	order := TransferOrder{
		ID:              s.newID(),
		TenantID:        in.TenantID,
		FromWarehouseID: in.FromWarehouseID,
		ToWarehouseID:   in.ToWarehouseID,
		Reference:       in.Reference,
		Status:          StatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, line := range in.Items {
		order.Items = append(order.Items, TransferItem{
			ID:         s.newID(),
			TransferID: order.ID,
			TenantID:   in.TenantID,
			ProductID:  line.ProductID,
			VariantID:  line.VariantID,
			LotID:      line.LotID,
			Qty:        line.Qty,
			MovedQty:   decimal.Zero,
			LineNo:     i + 1,
		})
	}
	err := s.execute(ctx, "create_transfer", in, tenantAttrs(in.TenantID), func(ctx context.Context, sc *txScope) error {
		return sc.tx.InsertTransfer(ctx, order)
	})
	if err != nil {
		return TransferOrder{}, err
	}
	s.recordAudit(ctx, in.TenantID, "inventory.transfer.create", "transfer_order", order.ID, map[string]any{
		"from_warehouse_id": order.FromWarehouseID,
		"to_warehouse_id":   order.ToWarehouseID,
		"lines":             len(order.Items),
	})
	return order, nil
}

// ExecuteTransferLine moves qty of a transfer line out of the source
// warehouse and into the destination warehouse. Both legs commit together.
func (s *Service) ExecuteTransferLine(ctx context.Context, in ExecuteTransferInput) (TransferOrder, error) {
	var order TransferOrder
	attrs := tenantAttrs(in.TenantID, attribute.String("inventory.transfer_item", in.ItemID.String()))
	err := s.execute(ctx, "execute_transfer_line", in, attrs, func(ctx context.Context, sc *txScope) error {
		var err error
		order, err = sc.tx.LockTransferByItem(ctx, in.TenantID, in.ItemID)
		if err != nil {
			return err
		}
		if !order.Status.IsOpen() {
			return fmt.Errorf("%w: transfer %s is %s", ErrStateConflict, order.ID, order.Status)
		}
		line := findTransferItem(order.Items, in.ItemID)
		if line == nil {
			return fmt.Errorf("%w: transfer item %s", ErrNotFound, in.ItemID)
		}
		moved := line.MovedQty.Add(in.Qty)
		if s.cfg.RejectOverQuantity && moved.GreaterThan(line.Qty) {
			return fmt.Errorf("%w: moving %s exceeds line qty %s (moved %s)", ErrValidation, in.Qty, line.Qty, line.MovedQty)
		}

		out := MoveInput{
			TenantID:     in.TenantID,
			WarehouseID:  order.FromWarehouseID,
			ProductID:    line.ProductID,
			VariantID:    line.VariantID,
			LotID:        line.LotID,
			Qty:          in.Qty,
			FromLocation: in.FromLocation,
			Reason:       ReasonTransfer,
			RefModule:    refModuleTransfer,
			RefID:        order.ID.String(),
		}
		inbound := out
		inbound.WarehouseID = order.ToWarehouseID
		inbound.FromLocation = ""
		inbound.ToLocation = in.ToLocation

		_, err = s.lockInOrder(ctx, sc, []lockTarget{
			{key: out.key(in.FromLocation)},
			{key: inbound.key(in.ToLocation), create: true},
		})
		if err != nil {
			return err
		}
		if _, err := s.applyMove(ctx, sc, out); err != nil {
			return err
		}
		if _, err := s.applyMove(ctx, sc, inbound); err != nil {
			return err
		}

		line.MovedQty = moved
		if err := sc.tx.UpdateTransferItem(ctx, *line); err != nil {
			return err
		}
		if transferSatisfied(order.Items) {
			order.Status = StatusDone
			order.UpdatedAt = s.now()
			return sc.tx.UpdateTransferStatus(ctx, order.TenantID, order.ID, order.Status)
		}
		return nil
	})
	if err != nil {
		return TransferOrder{}, err
	}
	s.recordAudit(ctx, in.TenantID, "inventory.transfer.execute", "transfer_order", order.ID, map[string]any{
		"item_id": in.ItemID.String(),
		"qty":     in.Qty.String(),
		"from":    in.FromLocation,
		"to":      in.ToLocation,
		"status":  string(order.Status),
	})
	return order, nil
}

func findTransferItem(items []TransferItem, id uuid.UUID) *TransferItem {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

func transferSatisfied(items []TransferItem) bool {
	for _, item := range items {
		if !item.Satisfied() {
			return false
		}
	}
	return len(items) > 0
}
