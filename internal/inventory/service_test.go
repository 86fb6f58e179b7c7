package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

const tenant = "acme"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireQty(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func itemKey(warehouse, product, location string) ItemKey {
	return ItemKey{TenantID: tenant, WarehouseID: warehouse, ProductID: product, LocationID: location}
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type recordingHandler struct {
	mu     sync.Mutex
	events []MovesPostedEvent
	err    error
}

func (h *recordingHandler) HandleMovesPosted(ctx context.Context, evt MovesPostedEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
	return h.err
}

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	return NewService(repo, &recordingAudit{}, cfg, nil), repo
}

// requireLedgerInvariants asserts 0 <= reserved <= qty on every row.
func requireLedgerInvariants(t *testing.T, repo *memoryRepo) {
	t.Helper()
	for _, item := range repo.allItems() {
		require.Falsef(t, item.ReservedQty.IsNegative(), "row %s reserved %s", item.ItemKey, item.ReservedQty)
		require.Falsef(t, item.ReservedQty.GreaterThan(item.Qty), "row %s reserved %s > qty %s", item.ItemKey, item.ReservedQty, item.Qty)
	}
}

func TestApplyMoveInboundCreatesRow(t *testing.T) {
	svc, repo := newTestService(t, DefaultServiceConfig())
	ctx := context.Background()

	move, err := svc.ApplyMove(ctx, MoveInput{
		TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1",
		Qty: dec("10"), ToLocation: "LOC-1", Reason: ReasonReceipt,
	})
	require.NoError(t, err)
	require.Equal(t, MoveStatusDone, move.Status)
	require.Empty(t, move.FromLocation)

	item, ok := repo.item(itemKey("WH-A", "SKU-1", "LOC-1"))
	require.True(t, ok)
	requireQty(t, "10", item.Qty)
	requireQty(t, "0", item.ReservedQty)
	require.Equal(t, 1, repo.moveCount())
}

func TestApplyMoveInsufficientStockLeavesRowsUntouched(t *testing.T) {
	svc, repo := newTestService(t, DefaultServiceConfig())
	ctx := context.Background()
	src := repo.seed(itemKey("WH-A", "SKU-1", "LOC-1"), dec("5"), dec("2"))

	_, err := svc.ApplyMove(ctx, MoveInput{
		TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1",
		Qty: dec("4"), FromLocation: "LOC-1", ToLocation: "LOC-2", Reason: ReasonMove,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.False(t, IsRetryable(err))

	after, _ := repo.item(src.ItemKey)
	requireQty(t, "5", after.Qty)
	requireQty(t, "2", after.ReservedQty)
	_, created := repo.item(itemKey("WH-A", "SKU-1", "LOC-2"))
	require.False(t, created)
	require.Zero(t, repo.moveCount())
}

func TestApplyMoveOutboundFromUnknownRow(t *testing.T) {
	svc, repo := newTestService(t, DefaultServiceConfig())

	_, err := svc.ApplyMove(context.Background(), MoveInput{
		TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1",
		Qty: dec("1"), FromLocation: "LOC-9", Reason: ReasonShipment,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	_, created := repo.item(itemKey("WH-A", "SKU-1", "LOC-9"))
	require.False(t, created)
}

func TestApplyMoveInternalConservesQty(t *testing.T) {
	svc, repo := newTestService(t, DefaultServiceConfig())
	ctx := context.Background()
	repo.seed(itemKey("WH-A", "SKU-1", "LOC-1"), dec("7.5"), dec("0"))

	for _, reason := range []MoveReason{ReasonMove, ReasonPick} {
		_, err := svc.ApplyMove(ctx, MoveInput{
			TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1",
			Qty: dec("2.25"), FromLocation: "LOC-1", ToLocation: "LOC-2", Reason: reason,
		})
		require.NoError(t, err)
	}

	onHand, err := svc.GetOnHand(ctx, Scope{TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1"})
	require.NoError(t, err)
	requireQty(t, "7.5", onHand.Qty)
	require.Len(t, onHand.Rows, 2)
	requireQty(t, "3", onHand.Rows[0].Qty)
	requireQty(t, "4.5", onHand.Rows[1].Qty)
	requireLedgerInvariants(t, repo)
}

func TestApplyMoveValidation(t *testing.T) {
	svc, _ := newTestService(t, DefaultServiceConfig())
	ctx := context.Background()
	base := MoveInput{TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1", Qty: dec("1"), ToLocation: "LOC-1", Reason: ReasonReceipt}

	cases := map[string]func(in *MoveInput){
		"missing tenant":  func(in *MoveInput) { in.TenantID = "" },
		"zero qty":        func(in *MoveInput) { in.Qty = decimal.Zero },
		"negative qty":    func(in *MoveInput) { in.Qty = dec("-1") },
		"no locations":    func(in *MoveInput) { in.ToLocation = "" },
		"same locations":  func(in *MoveInput) { in.FromLocation = "LOC-1" },
		"unknown reason":  func(in *MoveInput) { in.Reason = "gift" },
		"missing product": func(in *MoveInput) { in.ProductID = "" },
		"seven decimals":  func(in *MoveInput) { in.Qty = dec("2.0000004") },
		"below precision": func(in *MoveInput) { in.Qty = dec("0.0000004") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			_, err := svc.ApplyMove(ctx, in)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestApplyMoveAcceptsSixDecimals(t *testing.T) {
	svc, repo := newTestService(t, DefaultServiceConfig())
	ctx := context.Background()

	_, err := svc.ApplyMove(ctx, MoveInput{TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1", Qty: dec("2.000001"), ToLocation: "LOC-1", Reason: ReasonReceipt})
	require.NoError(t, err)
	_, err = svc.ApplyMove(ctx, MoveInput{TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1", Qty: dec("1.50000000"), ToLocation: "LOC-1", Reason: ReasonReceipt})
	require.NoError(t, err)

	after, _ := repo.item(itemKey("WH-A", "SKU-1", "LOC-1"))
	requireQty(t, "3.500001", after.Qty)
	requireLedgerInvariants(t, repo)
}

func TestApplyMoveLocksRowsInKeyOrder(t *testing.T) {
	svc, repo := newTestService(t, DefaultServiceConfig())
	repo.seed(itemKey("WH-A", "SKU-1", "LOC-B"), dec("3"), dec("0"))

	_, err := svc.ApplyMove(context.Background(), MoveInput{
		TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1",
		Qty: dec("1"), FromLocation: "LOC-B", ToLocation: "LOC-A", Reason: ReasonMove,
	})
	require.NoError(t, err)

	trace := repo.lockTrace[len(repo.lockTrace)-1]
	require.Equal(t, []ItemKey{itemKey("WH-A", "SKU-1", "LOC-A"), itemKey("WH-A", "SKU-1", "LOC-B")}, trace)
}

func TestReserveIsAllOrNothing(t *testing.T) {
	svc, repo := newTestService(t, DefaultServiceConfig())
	ctx := context.Background()
	a := repo.seed(itemKey("WH-A", "SKU-1", "LOC-1"), dec("4"), dec("1"))
	b := repo.seed(itemKey("WH-A", "SKU-1", "LOC-2"), dec("4"), dec("0"))
	repo.seed(itemKey("WH-B", "SKU-1", "LOC-1"), dec("50"), dec("0"))

	scope := ReserveScope{TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1"}
	_, err := svc.Reserve(ctx, ReserveInput{Scope: scope, Qty: dec("8"), OrderRef: "SO-1"})
	require.ErrorIs(t, err, ErrInsufficientStock)
	for _, row := range []InventoryItem{a, b} {
		after, _ := repo.item(row.ItemKey)
		requireQty(t, row.ReservedQty.String(), after.ReservedQty)
	}

	reservations, err := svc.Reserve(ctx, ReserveInput{Scope: scope, Qty: dec("5"), OrderRef: "SO-1"})
	require.NoError(t, err)
	require.Len(t, reservations, 2)
	require.Equal(t, a.ID, reservations[0].InventoryItemID)
	requireQty(t, "3", reservations[0].Qty)
	require.Equal(t, b.ID, reservations[1].InventoryItemID)
	requireQty(t, "2", reservations[1].Qty)

	afterA, _ := repo.item(a.ItemKey)
	afterB, _ := repo.item(b.ItemKey)
	requireQty(t, "4", afterA.ReservedQty)
	requireQty(t, "2", afterB.ReservedQty)
	requireLedgerInvariants(t, repo)
}

func TestReserveMatchesVariantExactly(t *testing.T) {
	svc, repo := newTestService(t, DefaultServiceConfig())
	red := itemKey("WH-A", "SKU-1", "LOC-1")
	red.VariantID = "RED"
	repo.seed(red, dec("5"), dec("0"))

	_, err := svc.Reserve(context.Background(), ReserveInput{
		Scope: ReserveScope{TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1"},
		Qty:   dec("1"), OrderRef: "SO-1",
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	res, err := svc.Reserve(context.Background(), ReserveInput{
		Scope: ReserveScope{TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1", VariantID: "RED"},
		Qty:   dec("1"), OrderRef: "SO-1",
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, "RED", res[0].VariantID)
}

func TestReserveRequiresScope(t *testing.T) {
	svc, _ := newTestService(t, DefaultServiceConfig())
	_, err := svc.Reserve(context.Background(), ReserveInput{
		Scope: ReserveScope{TenantID: tenant, ProductID: "SKU-1"},
		Qty:   dec("1"), OrderRef: "SO-1",
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "WarehouseID")
}

// The memory store runs one transaction at a time, so this covers
// all-or-nothing accounting under contention and that every reserver goes
// through the row lock. Blocking on FOR UPDATE in key order is a Postgres
// behavior this test does not reach; lock ordering is asserted from the
// recorded lock trace in TestApplyMoveLocksRowsInKeyOrder.
func TestConcurrentReserveOnSingleRow(t *testing.T) {
	cases := []struct {
		name      string
		reservers int
		qty       string
		succeed   int
		reserved  string
	}{
		{name: "two orders of six", reservers: 2, qty: "6", succeed: 1, reserved: "6"},
		{name: "eight orders of three", reservers: 8, qty: "3", succeed: 3, reserved: "9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo := newTestService(t, DefaultServiceConfig())
			row := repo.seed(itemKey("WH-A", "SKU-1", "LOC-1"), dec("10"), dec("0"))

			var (
				wg   sync.WaitGroup
				errs = make([]error, tc.reservers)
			)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = svc.Reserve(context.Background(), ReserveInput{
						Scope:    ReserveScope{TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1"},
						Qty:      dec(tc.qty),
						OrderRef: "SO-" + string(rune('A'+i)),
					})
				}(i)
			}
			wg.Wait()

			var succeeded, insufficientCount int
			for _, err := range errs {
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, ErrInsufficientStock):
					insufficientCount++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			require.Equal(t, tc.succeed, succeeded)
			require.Equal(t, tc.reservers-tc.succeed, insufficientCount)

			require.Len(t, repo.lockTrace, tc.reservers)
			for _, trace := range repo.lockTrace {
				require.Contains(t, trace, row.ItemKey)
			}

			after, _ := repo.item(row.ItemKey)
			requireQty(t, tc.reserved, after.ReservedQty)
			requireLedgerInvariants(t, repo)
		})
	}
}

func TestReleaseReservation(t *testing.T) {
	svc, repo := newTestService(t, DefaultServiceConfig())
	ctx := context.Background()
	row := repo.seed(itemKey("WH-A", "SKU-1", "LOC-1"), dec("10"), dec("0"))

	reservations, err := svc.Reserve(ctx, ReserveInput{
		Scope: ReserveScope{TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1"},
		Qty:   dec("4"), OrderRef: "SO-1",
	})
	require.NoError(t, err)
	require.Len(t, reservations, 1)

	released, err := svc.ReleaseReservation(ctx, tenant, reservations[0].ID)
	require.NoError(t, err)
	require.Equal(t, ReservationReleased, released.Status)
	after, _ := repo.item(row.ItemKey)
	requireQty(t, "0", after.ReservedQty)

	_, err = svc.ReleaseReservation(ctx, tenant, reservations[0].ID)
	require.ErrorIs(t, err, ErrStateConflict)
	after, _ = repo.item(row.ItemKey)
	requireQty(t, "0", after.ReservedQty)

	_, err = svc.ReleaseReservation(ctx, tenant, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ReleaseReservation(ctx, "other-tenant", reservations[0].ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReleaseReservationFloorsAtZero(t *testing.T) {
	svc, repo := newTestService(t, DefaultServiceConfig())
	ctx := context.Background()
	row := repo.seed(itemKey("WH-A", "SKU-1", "LOC-1"), dec("10"), dec("0"))

	reservations, err := svc.Reserve(ctx, ReserveInput{
		Scope: ReserveScope{TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1"},
		Qty:   dec("4"), OrderRef: "SO-1",
	})
	require.NoError(t, err)
	repo.seed(row.ItemKey, dec("10"), dec("1"))

	_, err = svc.ReleaseReservation(ctx, tenant, reservations[0].ID)
	require.NoError(t, err)
	after, _ := repo.item(row.ItemKey)
	requireQty(t, "0", after.ReservedQty)
}

func TestReleaseOrder(t *testing.T) {
	svc, repo := newTestService(t, DefaultServiceConfig())
	ctx := context.Background()
	a := repo.seed(itemKey("WH-A", "SKU-1", "LOC-1"), dec("2"), dec("0"))
	b := repo.seed(itemKey("WH-A", "SKU-1", "LOC-2"), dec("5"), dec("0"))

	_, err := svc.Reserve(ctx, ReserveInput{
		Scope: ReserveScope{TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1"},
		Qty:   dec("6"), OrderRef: "SO-9",
	})
	require.NoError(t, err)

	released, err := svc.ReleaseOrder(ctx, tenant, "SO-9")
	require.NoError(t, err)
	require.Len(t, released, 2)
	for _, row := range []InventoryItem{a, b} {
		after, _ := repo.item(row.ItemKey)
		requireQty(t, "0", after.ReservedQty)
	}

	again, err := svc.ReleaseOrder(ctx, tenant, "SO-9")
	require.NoError(t, err)
	require.Empty(t, again)

	_, err = svc.ReleaseOrder(ctx, tenant, "SO-unknown")
	require.ErrorIs(t, err, ErrNotFound)

	listed, err := svc.ListReservations(ctx, tenant, "SO-9")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, res := range listed {
		require.Equal(t, ReservationReleased, res.Status)
	}
}

func TestGetOnHand(t *testing.T) {
	svc, repo := newTestService(t, DefaultServiceConfig())
	repo.seed(itemKey("WH-A", "SKU-1", "LOC-1"), dec("10"), dec("3"))
	repo.seed(itemKey("WH-A", "SKU-1", "LOC-2"), dec("2"), dec("0"))
	repo.seed(itemKey("WH-A", "SKU-2", "LOC-1"), dec("100"), dec("0"))
	other := itemKey("WH-A", "SKU-1", "LOC-1")
	other.TenantID = "globex"
	repo.seed(other, dec("99"), dec("0"))

	onHand, err := svc.GetOnHand(context.Background(), Scope{TenantID: tenant, ProductID: "SKU-1"})
	require.NoError(t, err)
	requireQty(t, "12", onHand.Qty)
	requireQty(t, "3", onHand.Reserved)
	requireQty(t, "9", onHand.OnHand)
	require.Len(t, onHand.Rows, 2)

	_, err = svc.GetOnHand(context.Background(), Scope{ProductID: "SKU-1"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestListMovesStockCard(t *testing.T) {
	svc, _ := newTestService(t, DefaultServiceConfig())
	ctx := context.Background()
	for _, qty := range []string{"1", "2", "3"} {
		_, err := svc.ApplyMove(ctx, MoveInput{
			TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1",
			Qty: dec(qty), ToLocation: "LOC-1", Reason: ReasonReceipt,
		})
		require.NoError(t, err)
	}

	moves, err := svc.ListMoves(ctx, MoveFilter{TenantID: tenant, ProductID: "SKU-1", LocationID: "LOC-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, moves, 2)
	requireQty(t, "1", moves[0].Qty)

	_, err = svc.ListMoves(ctx, MoveFilter{ProductID: "SKU-1"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCommittedMovesArePublished(t *testing.T) {
	repo := newMemoryRepo()
	handler := &recordingHandler{err: errors.New("broker down")}
	audit := &recordingAudit{}
	svc := NewService(repo, audit, DefaultServiceConfig(), handler)
	ctx := context.Background()

	_, err := svc.ApplyMove(ctx, MoveInput{
		TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1",
		Qty: dec("1"), ToLocation: "LOC-1", Reason: ReasonReceipt,
	})
	require.NoError(t, err, "publish failures must not fail a committed operation")
	require.Len(t, handler.events, 1)
	require.Len(t, handler.events[0].Moves, 1)

	_, err = svc.ApplyMove(ctx, MoveInput{
		TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1",
		Qty: dec("5"), FromLocation: "LOC-1", Reason: ReasonShipment,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Len(t, handler.events, 1)
}

type recordingMetrics struct {
	moves    map[string]int
	failures map[string]int
}

func (m *recordingMetrics) MoveApplied(reason string, qty float64)      { m.moves[reason]++ }
func (m *recordingMetrics) ReservationChanged(status string, count int) {}
func (m *recordingMetrics) OperationFailed(op, kind string)             { m.failures[op+"/"+kind]++ }

func TestMetricsRecorded(t *testing.T) {
	svc, _ := newTestService(t, DefaultServiceConfig())
	metrics := &recordingMetrics{moves: map[string]int{}, failures: map[string]int{}}
	svc.SetMetrics(metrics)
	ctx := context.Background()

	_, err := svc.ApplyMove(ctx, MoveInput{
		TenantID: tenant, WarehouseID: "WH-A", ProductID: "SKU-1",
		Qty: dec("1"), ToLocation: "LOC-1", Reason: ReasonReceipt,
	})
	require.NoError(t, err)
	_, err = svc.ApplyMove(ctx, MoveInput{TenantID: tenant})
	require.Error(t, err)

	require.Equal(t, 1, metrics.moves["receipt"])
	require.Equal(t, 1, metrics.failures["apply_move/validation"])
}

func TestClassifyError(t *testing.T) {
	for _, code := range []string{"55P03", "40P01", "40001", "57014"} {
		err := classifyError(&pgconn.PgError{Code: code})
		require.Truef(t, IsRetryable(err), "code %s", code)
		require.Equal(t, "retryable", ErrorKind(err))
	}

	unique := &pgconn.PgError{Code: "23505"}
	require.Same(t, unique, classifyError(unique))
	require.False(t, IsRetryable(classifyError(unique)))

	require.ErrorIs(t, classifyError(ErrInsufficientStock), ErrInsufficientStock)
	require.NoError(t, classifyError(nil))
	require.Equal(t, "not_found", ErrorKind(ErrItemNotFound))
}
