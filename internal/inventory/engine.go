package inventory

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
)

// ApplyMove relocates, receives or issues qty in its own transaction.
func (s *Service) ApplyMove(ctx context.Context, in MoveInput) (StockMove, error) {
	var move StockMove
	attrs := tenantAttrs(in.TenantID, attribute.String("inventory.reason", string(in.Reason)))
	err := s.execute(ctx, "apply_move", in, attrs, func(ctx context.Context, sc *txScope) error {
		var err error
		move, err = s.applyMove(ctx, sc, in)
		return err
	})
	if err != nil {
		return StockMove{}, err
	}
	return move, nil
}

// applyMove is the only code path that changes InventoryItem.Qty. It locks
// the rows it touches in key order, checks free stock at the source and
// appends exactly one StockMove.
func (s *Service) applyMove(ctx context.Context, sc *txScope, in MoveInput) (StockMove, error) {
	if in.FromLocation == "" && in.ToLocation == "" {
		return StockMove{}, fmt.Errorf("%w: move needs a source or a destination", ErrValidation)
	}
	if in.FromLocation == in.ToLocation {
		return StockMove{}, fmt.Errorf("%w: source and destination are both %q", ErrValidation, in.FromLocation)
	}
	if !in.Qty.IsPositive() {
		return StockMove{}, fmt.Errorf("%w: qty must be positive", ErrValidation)
	}

	var targets []lockTarget
	srcKey := in.key(in.FromLocation)
	dstKey := in.key(in.ToLocation)
	if in.FromLocation != "" {
		targets = append(targets, lockTarget{key: srcKey})
	}
	if in.ToLocation != "" {
		targets = append(targets, lockTarget{key: dstKey, create: true})
	}
	rows, err := s.lockInOrder(ctx, sc, targets)
	if err != nil {
		return StockMove{}, err
	}

	if in.FromLocation != "" {
		src := rows[srcKey]
		if free := src.Free(); free.LessThan(in.Qty) {
			return StockMove{}, insufficient(srcKey, free, in.Qty)
		}
		src.Qty = src.Qty.Sub(in.Qty)
		if err := sc.tx.UpdateItem(ctx, src); err != nil {
			return StockMove{}, err
		}
	}
	if in.ToLocation != "" {
		dst := rows[dstKey]
		dst.Qty = dst.Qty.Add(in.Qty)
		if err := sc.tx.UpdateItem(ctx, dst); err != nil {
			return StockMove{}, err
		}
	}

	move := StockMove{
		ID:           s.newID(),
		TenantID:     in.TenantID,
		WarehouseID:  in.WarehouseID,
		ProductID:    in.ProductID,
		VariantID:    in.VariantID,
		LotID:        in.LotID,
		Qty:          in.Qty,
		FromLocation: in.FromLocation,
		ToLocation:   in.ToLocation,
		Reason:       in.Reason,
		Status:       MoveStatusDone,
		RefModule:    in.RefModule,
		RefID:        in.RefID,
		CreatedAt:    s.now(),
	}
	if err := sc.tx.InsertMove(ctx, move); err != nil {
		return StockMove{}, err
	}
	sc.moves = append(sc.moves, move)
	return move, nil
}

func (in MoveInput) key(location string) ItemKey {
	return ItemKey{
		TenantID:    in.TenantID,
		WarehouseID: in.WarehouseID,
		ProductID:   in.ProductID,
		VariantID:   in.VariantID,
		LocationID:  location,
		LotID:       in.LotID,
	}
}

// lockTarget is a row to lock. Rows without create are only locked when they
// already exist; a missing source reads as 0/0.
type lockTarget struct {
	key    ItemKey
	create bool
}

// lockInOrder locks every target in canonical key order. Locking a row the
// transaction already holds is a no-op, so workflows pre-lock all rows of a
// multi-row step before calling applyMove.
func (s *Service) lockInOrder(ctx context.Context, sc *txScope, targets []lockTarget) (map[ItemKey]InventoryItem, error) {
	merged := make(map[ItemKey]bool, len(targets))
	keys := make([]ItemKey, 0, len(targets))
	for _, t := range targets {
		create, seen := merged[t.key]
		if !seen {
			keys = append(keys, t.key)
		}
		merged[t.key] = create || t.create
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	rows := make(map[ItemKey]InventoryItem, len(keys))
	for _, key := range keys {
		var (
			item InventoryItem
			err  error
		)
		if merged[key] {
			item, err = sc.tx.LockOrCreateItem(ctx, key, s.newID())
		} else {
			item, _, err = sc.tx.FindItemForUpdate(ctx, key)
		}
		if err != nil {
			return nil, err
		}
		rows[key] = item
	}
	return rows, nil
}
