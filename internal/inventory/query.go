package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GetOnHand aggregates the rows matching scope. It takes no locks; the
// result may be stale by the time the caller acts on it.
func (s *Service) GetOnHand(ctx context.Context, scope Scope) (OnHand, error) {
	if err := s.check(scope); err != nil {
		return OnHand{}, err
	}
	rows, err := s.repo.ListItems(ctx, scope)
	if err != nil {
		return OnHand{}, err
	}
	result := OnHand{Qty: decimal.Zero, Reserved: decimal.Zero, Rows: rows}
	for _, row := range rows {
		result.Qty = result.Qty.Add(row.Qty)
		result.Reserved = result.Reserved.Add(row.ReservedQty)
	}
	result.OnHand = result.Qty.Sub(result.Reserved)
	return result, nil
}

// ListMoves returns the stock card for the filter.
func (s *Service) ListMoves(ctx context.Context, filter MoveFilter) ([]StockMove, error) {
	if err := s.check(filter); err != nil {
		return nil, err
	}
	return s.repo.ListMoves(ctx, filter)
}

// GetReceipt returns a receipt with its lines.
func (s *Service) GetReceipt(ctx context.Context, tenantID string, id uuid.UUID) (Receipt, error) {
	if err := s.check(idInput{TenantID: tenantID, ID: id}); err != nil {
		return Receipt{}, err
	}
	return s.repo.GetReceipt(ctx, tenantID, id)
}

// GetShipment returns a shipment with its lines.
func (s *Service) GetShipment(ctx context.Context, tenantID string, id uuid.UUID) (Shipment, error) {
	if err := s.check(idInput{TenantID: tenantID, ID: id}); err != nil {
		return Shipment{}, err
	}
	return s.repo.GetShipment(ctx, tenantID, id)
}

// GetWave returns a pick wave with its tasks.
func (s *Service) GetWave(ctx context.Context, tenantID string, id uuid.UUID) (PickWave, error) {
	if err := s.check(idInput{TenantID: tenantID, ID: id}); err != nil {
		return PickWave{}, err
	}
	return s.repo.GetWave(ctx, tenantID, id)
}

// GetTransfer returns a transfer order with its lines.
func (s *Service) GetTransfer(ctx context.Context, tenantID string, id uuid.UUID) (TransferOrder, error) {
	if err := s.check(idInput{TenantID: tenantID, ID: id}); err != nil {
		return TransferOrder{}, err
	}
	return s.repo.GetTransfer(ctx, tenantID, id)
}

// GetAdjustment returns an adjustment with its lines.
func (s *Service) GetAdjustment(ctx context.Context, tenantID string, id uuid.UUID) (Adjustment, error) {
	if err := s.check(idInput{TenantID: tenantID, ID: id}); err != nil {
		return Adjustment{}, err
	}
	adj, err := s.repo.GetAdjustment(ctx, tenantID, id)
	if err != nil {
		return Adjustment{}, fmt.Errorf("get adjustment: %w", err)
	}
	return adj, nil
}
