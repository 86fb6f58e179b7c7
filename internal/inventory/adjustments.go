package inventory

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

const refModuleAdjustment = "adjustment"

// CreateAdjustment records a count correction and applies every non-zero
// line in the same transaction: negative diffs issue stock, positive diffs
// receive it. Any failing line rolls back the whole document.
func (s *Service) CreateAdjustment(ctx context.Context, in CreateAdjustmentInput) (Adjustment, error) {
	now := s.now()
	adj := Adjustment{
		ID:          s.newID(),
		TenantID:    in.TenantID,
		WarehouseID: in.WarehouseID,
		Reference:   in.Reference,
		Note:        in.Note,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, line := range in.Items {
		adj.Items = append(adj.Items, AdjustmentItem{
			ID:           s.newID(),
			AdjustmentID: adj.ID,
			TenantID:     in.TenantID,
			ProductID:    line.ProductID,
			VariantID:    line.VariantID,
			LocationID:   line.LocationID,
			LotID:        line.LotID,
			QtyDiff:      line.QtyDiff,
			LineNo:       i + 1,
		})
	}

	attrs := tenantAttrs(in.TenantID, attribute.Int("inventory.lines", len(adj.Items)))
	err := s.execute(ctx, "create_adjustment", in, attrs, func(ctx context.Context, sc *txScope) error {
		if err := sc.tx.InsertAdjustment(ctx, adj); err != nil {
			return err
		}

		moves := make([]MoveInput, 0, len(adj.Items))
		targets := make([]lockTarget, 0, len(adj.Items))
		for _, item := range adj.Items {
			if item.QtyDiff.IsZero() {
				continue
			}
			move := MoveInput{
				TenantID:    in.TenantID,
				WarehouseID: in.WarehouseID,
				ProductID:   item.ProductID,
				VariantID:   item.VariantID,
				LotID:       item.LotID,
				Qty:         item.QtyDiff.Abs(),
				Reason:      ReasonAdjustment,
				RefModule:   refModuleAdjustment,
				RefID:       adj.ID.String(),
			}
			inbound := item.QtyDiff.IsPositive()
			if inbound {
				move.ToLocation = item.LocationID
			} else {
				move.FromLocation = item.LocationID
			}
			moves = append(moves, move)
			targets = append(targets, lockTarget{key: move.key(item.LocationID), create: inbound})
		}

		if _, err := s.lockInOrder(ctx, sc, targets); err != nil {
			return err
		}
		for _, move := range moves {
			if _, err := s.applyMove(ctx, sc, move); err != nil {
				return err
			}
		}
		adj.Status = StatusDone
		adj.UpdatedAt = s.now()
		return sc.tx.UpdateAdjustmentStatus(ctx, adj.TenantID, adj.ID, adj.Status)
	})
	if err != nil {
		return Adjustment{}, err
	}
	s.recordAudit(ctx, in.TenantID, "inventory.adjustment.create", "adjustment", adj.ID, map[string]any{
		"warehouse_id": adj.WarehouseID,
		"lines":        len(adj.Items),
		"note":         adj.Note,
	})
	return adj, nil
}
