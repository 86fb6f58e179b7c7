package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reconcile checks the ledger of one tenant, or of every tenant when
// tenantID is empty, against its invariants and its move history. It never
// writes to the ledger.
func (s *Service) Reconcile(ctx context.Context, tenantID string) ([]Discrepancy, error) {
	tenants := []string{tenantID}
	if tenantID == "" {
		var err error
		tenants, err = s.repo.ListTenants(ctx)
		if err != nil {
			return nil, fmt.Errorf("reconcile: list tenants: %w", err)
		}
	}

	var out []Discrepancy
	for _, tenant := range tenants {
		snap, err := s.repo.Snapshot(ctx, tenant, s.claimStatuses())
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", tenant, err)
		}
		found := checkSnapshot(snap)
		if len(found) > 0 {
			s.logger.Warn("ledger discrepancies", slog.String("tenant", tenant), slog.Int("count", len(found)))
		}
		out = append(out, found...)
	}
	return out, nil
}

func checkSnapshot(snap LedgerSnapshot) []Discrepancy {
	totals := make(map[ItemKey]decimal.Decimal, len(snap.MoveTotals))
	for _, kq := range snap.MoveTotals {
		totals[kq.Key] = kq.Qty
	}

	var out []Discrepancy
	for _, item := range snap.Items {
		if item.Qty.IsNegative() {
			out = append(out, Discrepancy{Kind: DiscrepancyNegativeQty, ItemID: item.ID, Key: item.ItemKey,
				Expected: decimal.Zero, Actual: item.Qty})
		}
		if item.ReservedQty.IsNegative() || item.ReservedQty.GreaterThan(item.Qty) {
			out = append(out, Discrepancy{Kind: DiscrepancyReservedRange, ItemID: item.ID, Key: item.ItemKey,
				Expected: item.Qty, Actual: item.ReservedQty})
		}
		expected, ok := totals[item.ItemKey]
		if !ok {
			expected = decimal.Zero
		}
		delete(totals, item.ItemKey)
		if !expected.Equal(item.Qty) {
			out = append(out, Discrepancy{Kind: DiscrepancyMoveDrift, ItemID: item.ID, Key: item.ItemKey,
				Expected: expected, Actual: item.Qty})
		}
		claimed, ok := snap.Claims[item.ID]
		if !ok {
			claimed = decimal.Zero
		}
		if !claimed.Equal(item.ReservedQty) {
			out = append(out, Discrepancy{Kind: DiscrepancyReservationDrift, ItemID: item.ID, Key: item.ItemKey,
				Expected: claimed, Actual: item.ReservedQty})
		}
	}

	// Moves booked against keys that have no row.
	orphans := make([]ItemKey, 0, len(totals))
	for key, qty := range totals {
		if !qty.IsZero() {
			orphans = append(orphans, key)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Less(orphans[j]) })
	for _, key := range orphans {
		out = append(out, Discrepancy{Kind: DiscrepancyMoveDrift, ItemID: uuid.Nil, Key: key,
			Expected: totals[key], Actual: decimal.Zero})
	}
	return out
}
