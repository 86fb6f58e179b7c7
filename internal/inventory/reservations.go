package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// Reserve claims qty for an order across the rows in scope. Rows are consumed
// greedily in key order; either the whole qty is reserved or nothing is.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) ([]Reservation, error) {
	var out []Reservation
	attrs := tenantAttrs(in.Scope.TenantID, attribute.String("inventory.order_ref", in.OrderRef))
	err := s.execute(ctx, "reserve", in, attrs, func(ctx context.Context, sc *txScope) error {
		out = nil
		scope := in.Scope.scope()
		items, err := sc.tx.LockItemsInScope(ctx, scope)
		if err != nil {
			return err
		}

		total := decimal.Zero
		for _, item := range items {
			if free := item.Free(); free.IsPositive() {
				total = total.Add(free)
			}
		}
		if total.LessThan(in.Qty) {
			return insufficient(scopeKey(scope), total, in.Qty)
		}

		remaining := in.Qty
		now := s.now()
		for _, item := range items {
			if !remaining.IsPositive() {
				break
			}
			free := item.Free()
			if !free.IsPositive() {
				continue
			}
			take := decimal.Min(free, remaining)
			item.ReservedQty = item.ReservedQty.Add(take)
			if err := sc.tx.UpdateItem(ctx, item); err != nil {
				return err
			}
			res := Reservation{
				ID:              s.newID(),
				TenantID:        item.TenantID,
				WarehouseID:     item.WarehouseID,
				ProductID:       item.ProductID,
				VariantID:       item.VariantID,
				InventoryItemID: item.ID,
				Qty:             take,
				OrderRef:        in.OrderRef,
				Status:          ReservationReserved,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := sc.tx.InsertReservation(ctx, res); err != nil {
				return err
			}
			sc.reservationChanged(ReservationReserved)
			out = append(out, res)
			remaining = remaining.Sub(take)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, res := range out {
		s.recordAudit(ctx, res.TenantID, "inventory.reservation.reserve", "reservation", res.ID, map[string]any{
			"order_ref": res.OrderRef,
			"item_id":   res.InventoryItemID.String(),
			"qty":       res.Qty.String(),
		})
	}
	return out, nil
}

// ReleaseReservation gives a reservation's claim back to its row.
func (s *Service) ReleaseReservation(ctx context.Context, tenantID string, id uuid.UUID) (Reservation, error) {
	var res Reservation
	err := s.execute(ctx, "release_reservation", idInput{TenantID: tenantID, ID: id}, tenantAttrs(tenantID), func(ctx context.Context, sc *txScope) error {
		var err error
		res, err = sc.tx.LockReservation(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if !res.Status.Active() {
			return fmt.Errorf("%w: reservation %s is %s", ErrStateConflict, id, res.Status)
		}
		if s.holdsClaim(res) {
			item, err := sc.tx.LockItem(ctx, tenantID, res.InventoryItemID)
			if err != nil {
				return err
			}
			item.ReservedQty = subFloor(item.ReservedQty, res.Qty)
			if err := sc.tx.UpdateItem(ctx, item); err != nil {
				return err
			}
		}
		res.Status = ReservationReleased
		res.UpdatedAt = s.now()
		if err := sc.tx.UpdateReservation(ctx, res); err != nil {
			return err
		}
		sc.reservationChanged(ReservationReleased)
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	s.recordAudit(ctx, tenantID, "inventory.reservation.release", "reservation", res.ID, map[string]any{"qty": res.Qty.String()})
	return res, nil
}

// ReleaseOrder releases every active reservation of an order in one
// transaction and returns the released reservations.
func (s *Service) ReleaseOrder(ctx context.Context, tenantID, orderRef string) ([]Reservation, error) {
	var released []Reservation
	attrs := tenantAttrs(tenantID, attribute.String("inventory.order_ref", orderRef))
	err := s.execute(ctx, "release_order", orderInput{TenantID: tenantID, OrderRef: orderRef}, attrs, func(ctx context.Context, sc *txScope) error {
		released = nil
		all, err := sc.tx.LockReservationsByOrder(ctx, tenantID, orderRef)
		if err != nil {
			return err
		}
		if len(all) == 0 {
			return fmt.Errorf("%w: no reservations for order %q", ErrNotFound, orderRef)
		}

		var itemIDs []uuid.UUID
		for _, res := range all {
			if res.Status.Active() && s.holdsClaim(res) {
				itemIDs = append(itemIDs, res.InventoryItemID)
			}
		}
		items, err := sc.tx.LockItemsByID(ctx, tenantID, itemIDs)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]InventoryItem, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}

		now := s.now()
		dirty := make(map[uuid.UUID]bool)
		for _, res := range all {
			if !res.Status.Active() {
				continue
			}
			if s.holdsClaim(res) {
				item, ok := byID[res.InventoryItemID]
				if !ok {
					return fmt.Errorf("%w %s", ErrItemNotFound, res.InventoryItemID)
				}
				item.ReservedQty = subFloor(item.ReservedQty, res.Qty)
				byID[item.ID] = item
				dirty[item.ID] = true
			}
			res.Status = ReservationReleased
			res.UpdatedAt = now
			if err := sc.tx.UpdateReservation(ctx, res); err != nil {
				return err
			}
			sc.reservationChanged(ReservationReleased)
			released = append(released, res)
		}
		for _, item := range items {
			if dirty[item.ID] {
				if err := sc.tx.UpdateItem(ctx, byID[item.ID]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, res := range released {
		s.recordAudit(ctx, tenantID, "inventory.reservation.release", "reservation", res.ID, map[string]any{
			"order_ref": orderRef,
			"qty":       res.Qty.String(),
		})
	}
	return released, nil
}

// ListReservations lists a tenant's reservations, optionally for one order.
func (s *Service) ListReservations(ctx context.Context, tenantID, orderRef string) ([]Reservation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant required", ErrValidation)
	}
	return s.repo.ListReservations(ctx, tenantID, orderRef)
}

// holdsClaim reports whether res is counted in its row's ReservedQty. Picked
// reservations only keep their claim when claims travel with the pick.
func (s *Service) holdsClaim(res Reservation) bool {
	switch res.Status {
	case ReservationReserved:
		return true
	case ReservationPicked:
		return s.cfg.CarryReservationOnPick
	}
	return false
}

func (s *Service) claimStatuses() []ReservationStatus {
	if s.cfg.CarryReservationOnPick {
		return []ReservationStatus{ReservationReserved, ReservationPicked}
	}
	return []ReservationStatus{ReservationReserved}
}

func subFloor(v, d decimal.Decimal) decimal.Decimal {
	return decimal.Max(v.Sub(d), decimal.Zero)
}

func scopeKey(scope Scope) ItemKey {
	return ItemKey{
		TenantID:    scope.TenantID,
		WarehouseID: scope.WarehouseID,
		ProductID:   scope.ProductID,
		VariantID:   scope.VariantID,
		LocationID:  scope.LocationID,
		LotID:       scope.LotID,
	}
}
