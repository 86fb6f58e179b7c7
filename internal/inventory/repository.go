package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service. Every Lock*
// method takes row locks that are held until the transaction ends.
type TxRepository interface {
	LockItem(ctx context.Context, tenantID string, id uuid.UUID) (InventoryItem, error)
	FindItemForUpdate(ctx context.Context, key ItemKey) (InventoryItem, bool, error)
	LockOrCreateItem(ctx context.Context, key ItemKey, id uuid.UUID) (InventoryItem, error)
	LockItemsByID(ctx context.Context, tenantID string, ids []uuid.UUID) ([]InventoryItem, error)
	LockItemsInScope(ctx context.Context, scope Scope) ([]InventoryItem, error)
	UpdateItem(ctx context.Context, item InventoryItem) error
	InsertMove(ctx context.Context, move StockMove) error

	InsertReservation(ctx context.Context, res Reservation) error
	LockReservation(ctx context.Context, tenantID string, id uuid.UUID) (Reservation, error)
	LockReservations(ctx context.Context, tenantID string, ids []uuid.UUID) ([]Reservation, error)
	LockReservationsByOrder(ctx context.Context, tenantID, orderRef string) ([]Reservation, error)
	UpdateReservation(ctx context.Context, res Reservation) error

	InsertReceipt(ctx context.Context, receipt Receipt) error
	LockReceiptByItem(ctx context.Context, tenantID string, itemID uuid.UUID) (Receipt, error)
	UpdateReceiptItem(ctx context.Context, item ReceiptItem) error
	UpdateReceiptStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error

	InsertShipment(ctx context.Context, shipment Shipment) error
	LockShipmentByItem(ctx context.Context, tenantID string, itemID uuid.UUID) (Shipment, error)
	UpdateShipmentItem(ctx context.Context, item ShipmentItem) error
	UpdateShipmentStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error

	InsertWave(ctx context.Context, wave PickWave) error
	LockWaveByTask(ctx context.Context, tenantID string, taskID uuid.UUID) (PickWave, error)
	UpdatePickTask(ctx context.Context, task PickTask) error
	UpdateWaveStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error

	InsertTransfer(ctx context.Context, transfer TransferOrder) error
	LockTransferByItem(ctx context.Context, tenantID string, itemID uuid.UUID) (TransferOrder, error)
	UpdateTransferItem(ctx context.Context, item TransferItem) error
	UpdateTransferStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error

	InsertAdjustment(ctx context.Context, adj Adjustment) error
	UpdateAdjustmentStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error
}

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Store
// failures are classified so lock contention surfaces as ErrRetryable.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, db.LedgerTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	return classifyError(err)
}

const itemColumns = `id, tenant_id, warehouse_id, product_id, variant_id, location_id, lot_id, qty, reserved_qty, updated_at`

// canonicalOrder matches ItemKey.Less.
const canonicalOrder = `warehouse_id COLLATE "C", product_id COLLATE "C", variant_id COLLATE "C", location_id COLLATE "C", lot_id COLLATE "C"`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (InventoryItem, error) {
	var (
		item          InventoryItem
		qty, reserved pgtype.Numeric
	)
	err := row.Scan(&item.ID, &item.TenantID, &item.WarehouseID, &item.ProductID, &item.VariantID,
		&item.LocationID, &item.LotID, &qty, &reserved, &item.UpdatedAt)
	if err != nil {
		return InventoryItem{}, err
	}
	item.Qty = numericToDecimal(qty)
	item.ReservedQty = numericToDecimal(reserved)
	return item, nil
}

func collectItems(rows pgx.Rows) ([]InventoryItem, error) {
	defer rows.Close()
	var items []InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepo) LockItem(ctx context.Context, tenantID string, id uuid.UUID) (InventoryItem, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return InventoryItem{}, fmt.Errorf("%w %s", ErrItemNotFound, id)
	}
	return item, err
}

func (r *txRepo) FindItemForUpdate(ctx context.Context, key ItemKey) (InventoryItem, bool, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items
WHERE tenant_id = $1 AND warehouse_id = $2 AND product_id = $3 AND variant_id = $4 AND location_id = $5 AND lot_id = $6
FOR UPDATE`, key.TenantID, key.WarehouseID, key.ProductID, key.VariantID, key.LocationID, key.LotID)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return InventoryItem{ItemKey: key}, false, nil
	}
	if err != nil {
		return InventoryItem{}, false, err
	}
	return item, true, nil
}

// LockOrCreateItem relies on the unique key: a concurrent first touch of the
// same key waits on the conflicting insert and then finds the committed row.
func (r *txRepo) LockOrCreateItem(ctx context.Context, key ItemKey, id uuid.UUID) (InventoryItem, error) {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_items (id, tenant_id, warehouse_id, product_id, variant_id, location_id, lot_id, qty, reserved_qty)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0)
ON CONFLICT ON CONSTRAINT inventory_items_key DO NOTHING`,
		id, key.TenantID, key.WarehouseID, key.ProductID, key.VariantID, key.LocationID, key.LotID)
	if err != nil {
		return InventoryItem{}, err
	}
	item, found, err := r.FindItemForUpdate(ctx, key)
	if err != nil {
		return InventoryItem{}, err
	}
	if !found {
		return InventoryItem{}, fmt.Errorf("%w %s", ErrItemNotFound, key)
	}
	return item, nil
}

func (r *txRepo) LockItemsByID(ctx context.Context, tenantID string, ids []uuid.UUID) ([]InventoryItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items
WHERE tenant_id = $1 AND id = ANY($2)
ORDER BY `+canonicalOrder+` FOR UPDATE`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (r *txRepo) LockItemsInScope(ctx context.Context, scope Scope) ([]InventoryItem, error) {
	where, args := scopePredicate(scope, true)
	rows, err := r.tx.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE `+where+`
ORDER BY `+canonicalOrder+` FOR UPDATE`, args...)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (r *txRepo) UpdateItem(ctx context.Context, item InventoryItem) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_items SET qty = $3, reserved_qty = $4, updated_at = NOW()
WHERE tenant_id = $1 AND id = $2`, item.TenantID, item.ID, decimalToNumeric(item.Qty), decimalToNumeric(item.ReservedQty))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w %s", ErrItemNotFound, item.ID)
	}
	return nil
}

func (r *txRepo) InsertMove(ctx context.Context, move StockMove) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_moves
(id, tenant_id, warehouse_id, product_id, variant_id, lot_id, qty, from_location, to_location, reason, status, ref_module, ref_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		move.ID, move.TenantID, move.WarehouseID, move.ProductID, move.VariantID, move.LotID,
		decimalToNumeric(move.Qty), nullText(move.FromLocation), nullText(move.ToLocation),
		string(move.Reason), string(move.Status), move.RefModule, move.RefID, move.CreatedAt)
	return err
}

const reservationColumns = `id, tenant_id, warehouse_id, product_id, variant_id, inventory_item_id, qty, order_ref, status, created_at, updated_at`

func scanReservation(row scanner) (Reservation, error) {
	var (
		res    Reservation
		qty    pgtype.Numeric
		status string
	)
	err := row.Scan(&res.ID, &res.TenantID, &res.WarehouseID, &res.ProductID, &res.VariantID,
		&res.InventoryItemID, &qty, &res.OrderRef, &status, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return Reservation{}, err
	}
	res.Qty = numericToDecimal(qty)
	res.Status = ReservationStatus(status)
	return res, nil
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertReservation(ctx context.Context, res Reservation) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO reservations (`+reservationColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		res.ID, res.TenantID, res.WarehouseID, res.ProductID, res.VariantID, res.InventoryItemID,
		decimalToNumeric(res.Qty), res.OrderRef, string(res.Status), res.CreatedAt, res.UpdatedAt)
	return err
}

func (r *txRepo) LockReservation(ctx context.Context, tenantID string, id uuid.UUID) (Reservation, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id)
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, fmt.Errorf("%w: reservation %s", ErrNotFound, id)
	}
	return res, err
}

// LockReservations returns the rows found, locked in id order. Missing ids are
// left for the caller to detect.
func (r *txRepo) LockReservations(ctx context.Context, tenantID string, ids []uuid.UUID) ([]Reservation, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
WHERE tenant_id = $1 AND id = ANY($2) ORDER BY id FOR UPDATE`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (r *txRepo) LockReservationsByOrder(ctx context.Context, tenantID, orderRef string) ([]Reservation, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
WHERE tenant_id = $1 AND order_ref = $2 ORDER BY id FOR UPDATE`, tenantID, orderRef)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (r *txRepo) UpdateReservation(ctx context.Context, res Reservation) error {
	tag, err := r.tx.Exec(ctx, `UPDATE reservations SET inventory_item_id = $3, qty = $4, status = $5, updated_at = $6
WHERE tenant_id = $1 AND id = $2`, res.TenantID, res.ID, res.InventoryItemID, decimalToNumeric(res.Qty), string(res.Status), res.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: reservation %s", ErrNotFound, res.ID)
	}
	return nil
}

// scopePredicate renders the tenant-first WHERE clause for a scope. With
// exactVariant an empty VariantID selects only rows without a variant.
func scopePredicate(scope Scope, exactVariant bool) (string, []any) {
	clauses := []string{"tenant_id = $1"}
	args := []any{scope.TenantID}
	add := func(column, value string) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if scope.WarehouseID != "" {
		add("warehouse_id", scope.WarehouseID)
	}
	if scope.ProductID != "" {
		add("product_id", scope.ProductID)
	}
	if exactVariant || scope.VariantID != "" {
		add("variant_id", scope.VariantID)
	}
	if scope.LocationID != "" {
		add("location_id", scope.LocationID)
	}
	if scope.LotID != "" {
		add("lot_id", scope.LotID)
	}
	return strings.Join(clauses, " AND "), args
}

// ListItems reads ledger rows without locking.
func (r *Repository) ListItems(ctx context.Context, scope Scope) ([]InventoryItem, error) {
	return listItems(ctx, r.pool, scope)
}

func listItems(ctx context.Context, q dbtx, scope Scope) ([]InventoryItem, error) {
	where, args := scopePredicate(scope, false)
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE `+where+` ORDER BY `+canonicalOrder, args...)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// ListMoves returns the stock card for a filter, oldest first.
func (r *Repository) ListMoves(ctx context.Context, filter MoveFilter) ([]StockMove, error) {
	where, args := scopePredicate(Scope{
		TenantID:    filter.TenantID,
		WarehouseID: filter.WarehouseID,
		ProductID:   filter.ProductID,
		VariantID:   filter.VariantID,
		LotID:       filter.LotID,
	}, false)
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		where += fmt.Sprintf(" AND (from_location = $%d OR to_location = $%d)", len(args), len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultMoveLimit
	}
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, warehouse_id, product_id, variant_id, lot_id, qty,
from_location, to_location, reason, status, ref_module, ref_id, created_at
FROM stock_moves WHERE `+where+fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d`, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moves []StockMove
	for rows.Next() {
		var (
			move           StockMove
			qty            pgtype.Numeric
			from, to       pgtype.Text
			reason, status string
		)
		if err := rows.Scan(&move.ID, &move.TenantID, &move.WarehouseID, &move.ProductID, &move.VariantID, &move.LotID,
			&qty, &from, &to, &reason, &status, &move.RefModule, &move.RefID, &move.CreatedAt); err != nil {
			return nil, err
		}
		move.Qty = numericToDecimal(qty)
		move.FromLocation = from.String
		move.ToLocation = to.String
		move.Reason = MoveReason(reason)
		move.Status = MoveStatus(status)
		moves = append(moves, move)
	}
	return moves, rows.Err()
}

// ListReservations lists a tenant's reservations; an empty orderRef lists all.
func (r *Repository) ListReservations(ctx context.Context, tenantID, orderRef string) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
WHERE tenant_id = $1 AND ($2 = '' OR order_ref = $2) ORDER BY created_at, id`, tenantID, orderRef)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// ListTenants returns every tenant holding ledger rows.
func (r *Repository) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM inventory_items ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Snapshot reads a tenant's rows, move totals and reservation claims from one
// repeatable-read snapshot so the three views agree with each other.
func (r *Repository) Snapshot(ctx context.Context, tenantID string, claimStatuses []ReservationStatus) (LedgerSnapshot, error) {
	var snap LedgerSnapshot
	err := db.WithTx(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		if snap.Items, err = listItems(ctx, tx, Scope{TenantID: tenantID}); err != nil {
			return err
		}
		if snap.MoveTotals, err = sumMoveDeltas(ctx, tx, tenantID); err != nil {
			return err
		}
		snap.Claims, err = sumClaims(ctx, tx, tenantID, claimStatuses)
		return err
	})
	return snap, classifyError(err)
}

// sumMoveDeltas replays the move log into a net qty per ledger key.
func sumMoveDeltas(ctx context.Context, q dbtx, tenantID string) ([]KeyQty, error) {
	rows, err := q.Query(ctx, `SELECT warehouse_id, product_id, variant_id, location_id, lot_id, SUM(delta)
FROM (
    SELECT warehouse_id, product_id, variant_id, to_location AS location_id, lot_id, qty AS delta
    FROM stock_moves WHERE tenant_id = $1 AND to_location IS NOT NULL
    UNION ALL
    SELECT warehouse_id, product_id, variant_id, from_location AS location_id, lot_id, -qty AS delta
    FROM stock_moves WHERE tenant_id = $1 AND from_location IS NOT NULL
) d
GROUP BY warehouse_id, product_id, variant_id, location_id, lot_id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KeyQty
	for rows.Next() {
		var (
			kq  KeyQty
			sum pgtype.Numeric
		)
		kq.Key.TenantID = tenantID
		if err := rows.Scan(&kq.Key.WarehouseID, &kq.Key.ProductID, &kq.Key.VariantID, &kq.Key.LocationID, &kq.Key.LotID, &sum); err != nil {
			return nil, err
		}
		kq.Qty = numericToDecimal(sum)
		out = append(out, kq)
	}
	return out, rows.Err()
}

// sumClaims totals reservation qty per ledger row for the given statuses.
func sumClaims(ctx context.Context, q dbtx, tenantID string, statuses []ReservationStatus) (map[uuid.UUID]decimal.Decimal, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := q.Query(ctx, `SELECT inventory_item_id, SUM(qty) FROM reservations
WHERE tenant_id = $1 AND status = ANY($2) GROUP BY inventory_item_id`, tenantID, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]decimal.Decimal)
	for rows.Next() {
		var (
			id  uuid.UUID
			sum pgtype.Numeric
		)
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = numericToDecimal(sum)
	}
	return out, rows.Err()
}

const defaultMoveLimit = 200

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func touch(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}
