package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const refModuleShipment = "shipment"

// CreateShipment opens a shipment with every line at zero shipped.
func (s *Service) CreateShipment(ctx context.Context, in CreateShipmentInput) (Shipment, error) {
	now := s.now()
	shipment := Shipment{
		ID:          s.newID(),
		TenantID:    in.TenantID,
		WarehouseID: in.WarehouseID,
		Reference:   in.Reference,
		OrderRef:    in.OrderRef,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, line := range in.Items {
		shipment.Items = append(shipment.Items, ShipmentItem{
			ID:         s.newID(),
			ShipmentID: shipment.ID,
			TenantID:   in.TenantID,
			ProductID:  line.ProductID,
			VariantID:  line.VariantID,
			Qty:        line.Qty,
			ShippedQty: decimal.Zero,
			LineNo:     i + 1,
		})
	}
	err := s.execute(ctx, "create_shipment", in, tenantAttrs(in.TenantID), func(ctx context.Context, sc *txScope) error {
		return sc.tx.InsertShipment(ctx, shipment)
	})
	if err != nil {
		return Shipment{}, err
	}
	s.recordAudit(ctx, in.TenantID, "inventory.shipment.create", "shipment", shipment.ID, map[string]any{
		"warehouse_id": shipment.WarehouseID,
		"order_ref":    shipment.OrderRef,
		"lines":        len(shipment.Items),
	})
	return shipment, nil
}

// ShipItem issues qty of a shipment line from FromLocation. When a
// reservation is named its claim is consumed first so the reserved stock
// counts as free for the outbound move.
func (s *Service) ShipItem(ctx context.Context, in ShipItemInput) (Shipment, error) {
	var shipment Shipment
	attrs := tenantAttrs(in.TenantID, attribute.String("inventory.shipment_item", in.ItemID.String()))
	err := s.execute(ctx, "ship_item", in, attrs, func(ctx context.Context, sc *txScope) error {
		var err error
		shipment, err = sc.tx.LockShipmentByItem(ctx, in.TenantID, in.ItemID)
		if err != nil {
			return err
		}
		if !shipment.Status.IsOpen() {
			return fmt.Errorf("%w: shipment %s is %s", ErrStateConflict, shipment.ID, shipment.Status)
		}
		line := findShipmentItem(shipment.Items, in.ItemID)
		if line == nil {
			return fmt.Errorf("%w: shipment item %s", ErrNotFound, in.ItemID)
		}
		shipped := line.ShippedQty.Add(in.Qty)
		if s.cfg.RejectOverQuantity && shipped.GreaterThan(line.Qty) {
			return fmt.Errorf("%w: shipping %s exceeds line qty %s (shipped %s)", ErrValidation, in.Qty, line.Qty, line.ShippedQty)
		}

		if in.ReservationID != uuid.Nil {
			if err := s.consumeReservation(ctx, sc, shipment, *line, in); err != nil {
				return err
			}
		}

		_, err = s.applyMove(ctx, sc, MoveInput{
			TenantID:     in.TenantID,
			WarehouseID:  shipment.WarehouseID,
			ProductID:    line.ProductID,
			VariantID:    line.VariantID,
			LotID:        in.LotID,
			Qty:          in.Qty,
			FromLocation: in.FromLocation,
			Reason:       ReasonShipment,
			RefModule:    refModuleShipment,
			RefID:        shipment.ID.String(),
		})
		if err != nil {
			return err
		}
		line.ShippedQty = shipped
		if err := sc.tx.UpdateShipmentItem(ctx, *line); err != nil {
			return err
		}
		if shipmentSatisfied(shipment.Items) {
			shipment.Status = StatusShipped
			shipment.UpdatedAt = s.now()
			return sc.tx.UpdateShipmentStatus(ctx, shipment.TenantID, shipment.ID, shipment.Status)
		}
		return nil
	})
	if err != nil {
		return Shipment{}, err
	}
	meta := map[string]any{
		"item_id":  in.ItemID.String(),
		"qty":      in.Qty.String(),
		"location": in.FromLocation,
		"status":   string(shipment.Status),
	}
	if in.ReservationID != uuid.Nil {
		meta["reservation_id"] = in.ReservationID.String()
	}
	s.recordAudit(ctx, in.TenantID, "inventory.shipment.ship", "shipment", shipment.ID, meta)
	return shipment, nil
}

// consumeReservation drops up to in.Qty of the reservation's claim from the
// shipped-from row. A partial ship leaves the reservation active with the
// remaining qty; it becomes shipped once nothing is left.
func (s *Service) consumeReservation(ctx context.Context, sc *txScope, shipment Shipment, line ShipmentItem, in ShipItemInput) error {
	res, err := sc.tx.LockReservation(ctx, in.TenantID, in.ReservationID)
	if err != nil {
		return err
	}
	if !res.Status.Active() {
		return fmt.Errorf("%w: reservation %s is %s", ErrStateConflict, res.ID, res.Status)
	}
	if res.WarehouseID != shipment.WarehouseID || res.ProductID != line.ProductID || res.VariantID != line.VariantID {
		return fmt.Errorf("%w: reservation %s does not match shipment line %s", ErrValidation, res.ID, line.ID)
	}
	var item InventoryItem
	if s.holdsClaim(res) {
		item, err = sc.tx.LockItem(ctx, in.TenantID, res.InventoryItemID)
		if err != nil {
			return err
		}
		if item.LocationID != in.FromLocation || item.LotID != in.LotID {
			return fmt.Errorf("%w: reservation %s holds stock at %s, not %s", ErrValidation, res.ID, item.ItemKey, in.FromLocation)
		}
	}
	consumed := decimal.Min(in.Qty, res.Qty)
	if s.holdsClaim(res) {
		item.ReservedQty = subFloor(item.ReservedQty, consumed)
		if err := sc.tx.UpdateItem(ctx, item); err != nil {
			return err
		}
	}
	res.UpdatedAt = s.now()
	if consumed.LessThan(res.Qty) {
		res.Qty = res.Qty.Sub(consumed)
		return sc.tx.UpdateReservation(ctx, res)
	}
	res.Status = ReservationShipped
	if err := sc.tx.UpdateReservation(ctx, res); err != nil {
		return err
	}
	sc.reservationChanged(ReservationShipped)
	return nil
}

func findShipmentItem(items []ShipmentItem, id uuid.UUID) *ShipmentItem {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

func shipmentSatisfied(items []ShipmentItem) bool {
	for _, item := range items {
		if !item.Satisfied() {
			return false
		}
	}
	return len(items) > 0
}
