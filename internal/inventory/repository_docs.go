package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Document headers are locked before their lines are read; the header lock
// guards every line of the document.

const headerColumns = `id, tenant_id, warehouse_id, reference, status, created_at, updated_at`

type header struct {
	ID          uuid.UUID
	TenantID    string
	WarehouseID string
	Reference   string
	Status      DocumentStatus
	pgCreated   pgtype.Timestamptz
	pgUpdated   pgtype.Timestamptz
}

func scanHeader(row scanner) (header, error) {
	var (
		h      header
		status string
	)
	if err := row.Scan(&h.ID, &h.TenantID, &h.WarehouseID, &h.Reference, &status, &h.pgCreated, &h.pgUpdated); err != nil {
		return header{}, err
	}
	h.Status = DocumentStatus(status)
	return h, nil
}

func notFound(err error, what string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return err
}

func updateStatus(ctx context.Context, q dbtx, table, tenantID string, id uuid.UUID, status DocumentStatus) error {
	tag, err := q.Exec(ctx, `UPDATE `+table+` SET status = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, table, id)
	}
	return nil
}

// Receipts.

func (r *txRepo) InsertReceipt(ctx context.Context, receipt Receipt) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO receipts (`+headerColumns+`) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), COALESCE($6, NOW()))`,
		receipt.ID, receipt.TenantID, receipt.WarehouseID, receipt.Reference, string(receipt.Status), touch(receipt.CreatedAt))
	if err != nil {
		return err
	}
	for _, item := range receipt.Items {
		_, err := r.tx.Exec(ctx, `INSERT INTO receipt_items (id, receipt_id, tenant_id, product_id, variant_id, expected_qty, received_qty, line_no)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, receipt.ID, receipt.TenantID, item.ProductID, item.VariantID,
			decimalToNumeric(item.ExpectedQty), decimalToNumeric(item.ReceivedQty), item.LineNo)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) LockReceiptByItem(ctx context.Context, tenantID string, itemID uuid.UUID) (Receipt, error) {
	row := r.tx.QueryRow(ctx, `SELECT r.id, r.tenant_id, r.warehouse_id, r.reference, r.status, r.created_at, r.updated_at
FROM receipts r JOIN receipt_items i ON i.receipt_id = r.id AND i.tenant_id = r.tenant_id
WHERE r.tenant_id = $1 AND i.id = $2
FOR UPDATE OF r`, tenantID, itemID)
	h, err := scanHeader(row)
	if err != nil {
		return Receipt{}, notFound(err, "receipt item", itemID)
	}
	return loadReceipt(ctx, r.tx, h)
}

func (r *txRepo) UpdateReceiptItem(ctx context.Context, item ReceiptItem) error {
	_, err := r.tx.Exec(ctx, `UPDATE receipt_items SET received_qty = $3 WHERE tenant_id = $1 AND id = $2`,
		item.TenantID, item.ID, decimalToNumeric(item.ReceivedQty))
	return err
}

func (r *txRepo) UpdateReceiptStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error {
	return updateStatus(ctx, r.tx, "receipts", tenantID, id, status)
}

// GetReceipt loads a receipt with its lines.
func (r *Repository) GetReceipt(ctx context.Context, tenantID string, id uuid.UUID) (Receipt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+headerColumns+` FROM receipts WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	h, err := scanHeader(row)
	if err != nil {
		return Receipt{}, notFound(err, "receipt", id)
	}
	return loadReceipt(ctx, r.pool, h)
}

func loadReceipt(ctx context.Context, q dbtx, h header) (Receipt, error) {
	receipt := Receipt{
		ID: h.ID, TenantID: h.TenantID, WarehouseID: h.WarehouseID, Reference: h.Reference,
		Status: h.Status, CreatedAt: h.pgCreated.Time, UpdatedAt: h.pgUpdated.Time,
	}
	rows, err := q.Query(ctx, `SELECT id, product_id, variant_id, expected_qty, received_qty, line_no
FROM receipt_items WHERE tenant_id = $1 AND receipt_id = $2 ORDER BY line_no`, h.TenantID, h.ID)
	if err != nil {
		return Receipt{}, err
	}
	defer rows.Close()
	for rows.Next() {
		item := ReceiptItem{ReceiptID: h.ID, TenantID: h.TenantID}
		var expected, received pgtype.Numeric
		if err := rows.Scan(&item.ID, &item.ProductID, &item.VariantID, &expected, &received, &item.LineNo); err != nil {
			return Receipt{}, err
		}
		item.ExpectedQty = numericToDecimal(expected)
		item.ReceivedQty = numericToDecimal(received)
		receipt.Items = append(receipt.Items, item)
	}
	return receipt, rows.Err()
}

// Shipments.

func (r *txRepo) InsertShipment(ctx context.Context, shipment Shipment) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO shipments (id, tenant_id, warehouse_id, reference, order_ref, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), COALESCE($7, NOW()))`,
		shipment.ID, shipment.TenantID, shipment.WarehouseID, shipment.Reference, shipment.OrderRef,
		string(shipment.Status), touch(shipment.CreatedAt))
	if err != nil {
		return err
	}
	for _, item := range shipment.Items {
		_, err := r.tx.Exec(ctx, `INSERT INTO shipment_items (id, shipment_id, tenant_id, product_id, variant_id, qty, shipped_qty, line_no)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, shipment.ID, shipment.TenantID, item.ProductID, item.VariantID,
			decimalToNumeric(item.Qty), decimalToNumeric(item.ShippedQty), item.LineNo)
		if err != nil {
			return err
		}
	}
	return nil
}

const shipmentHeader = `SELECT s.id, s.tenant_id, s.warehouse_id, s.reference, s.order_ref, s.status, s.created_at, s.updated_at FROM shipments s`

func scanShipment(row scanner) (Shipment, error) {
	var (
		s       Shipment
		status  string
		created pgtype.Timestamptz
		updated pgtype.Timestamptz
	)
	if err := row.Scan(&s.ID, &s.TenantID, &s.WarehouseID, &s.Reference, &s.OrderRef, &status, &created, &updated); err != nil {
		return Shipment{}, err
	}
	s.Status = DocumentStatus(status)
	s.CreatedAt = created.Time
	s.UpdatedAt = updated.Time
	return s, nil
}

func (r *txRepo) LockShipmentByItem(ctx context.Context, tenantID string, itemID uuid.UUID) (Shipment, error) {
	row := r.tx.QueryRow(ctx, shipmentHeader+`
JOIN shipment_items i ON i.shipment_id = s.id AND i.tenant_id = s.tenant_id
WHERE s.tenant_id = $1 AND i.id = $2
FOR UPDATE OF s`, tenantID, itemID)
	shipment, err := scanShipment(row)
	if err != nil {
		return Shipment{}, notFound(err, "shipment item", itemID)
	}
	return loadShipmentItems(ctx, r.tx, shipment)
}

func (r *txRepo) UpdateShipmentItem(ctx context.Context, item ShipmentItem) error {
	_, err := r.tx.Exec(ctx, `UPDATE shipment_items SET shipped_qty = $3 WHERE tenant_id = $1 AND id = $2`,
		item.TenantID, item.ID, decimalToNumeric(item.ShippedQty))
	return err
}

func (r *txRepo) UpdateShipmentStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error {
	return updateStatus(ctx, r.tx, "shipments", tenantID, id, status)
}

// GetShipment loads a shipment with its lines.
func (r *Repository) GetShipment(ctx context.Context, tenantID string, id uuid.UUID) (Shipment, error) {
	row := r.pool.QueryRow(ctx, shipmentHeader+` WHERE s.tenant_id = $1 AND s.id = $2`, tenantID, id)
	shipment, err := scanShipment(row)
	if err != nil {
		return Shipment{}, notFound(err, "shipment", id)
	}
	return loadShipmentItems(ctx, r.pool, shipment)
}

func loadShipmentItems(ctx context.Context, q dbtx, shipment Shipment) (Shipment, error) {
	rows, err := q.Query(ctx, `SELECT id, product_id, variant_id, qty, shipped_qty, line_no
FROM shipment_items WHERE tenant_id = $1 AND shipment_id = $2 ORDER BY line_no`, shipment.TenantID, shipment.ID)
	if err != nil {
		return Shipment{}, err
	}
	defer rows.Close()
	for rows.Next() {
		item := ShipmentItem{ShipmentID: shipment.ID, TenantID: shipment.TenantID}
		var qty, shipped pgtype.Numeric
		if err := rows.Scan(&item.ID, &item.ProductID, &item.VariantID, &qty, &shipped, &item.LineNo); err != nil {
			return Shipment{}, err
		}
		item.Qty = numericToDecimal(qty)
		item.ShippedQty = numericToDecimal(shipped)
		shipment.Items = append(shipment.Items, item)
	}
	return shipment, rows.Err()
}

// Pick waves.

func (r *txRepo) InsertWave(ctx context.Context, wave PickWave) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO pick_waves (`+headerColumns+`) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), COALESCE($6, NOW()))`,
		wave.ID, wave.TenantID, wave.WarehouseID, wave.Reference, string(wave.Status), touch(wave.CreatedAt))
	if err != nil {
		return err
	}
	for _, task := range wave.Tasks {
		_, err := r.tx.Exec(ctx, `INSERT INTO pick_tasks
(id, wave_id, tenant_id, reservation_id, product_id, variant_id, lot_id, from_location, staging_location, qty, status, line_no)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			task.ID, wave.ID, wave.TenantID, task.ReservationID, task.ProductID, task.VariantID, task.LotID,
			task.FromLocation, task.StagingLocation, decimalToNumeric(task.Qty), string(task.Status), task.LineNo)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) LockWaveByTask(ctx context.Context, tenantID string, taskID uuid.UUID) (PickWave, error) {
	row := r.tx.QueryRow(ctx, `SELECT w.id, w.tenant_id, w.warehouse_id, w.reference, w.status, w.created_at, w.updated_at
FROM pick_waves w JOIN pick_tasks t ON t.wave_id = w.id AND t.tenant_id = w.tenant_id
WHERE w.tenant_id = $1 AND t.id = $2
FOR UPDATE OF w`, tenantID, taskID)
	h, err := scanHeader(row)
	if err != nil {
		return PickWave{}, notFound(err, "pick task", taskID)
	}
	return loadWave(ctx, r.tx, h)
}

func (r *txRepo) UpdatePickTask(ctx context.Context, task PickTask) error {
	_, err := r.tx.Exec(ctx, `UPDATE pick_tasks SET staging_location = $3, status = $4 WHERE tenant_id = $1 AND id = $2`,
		task.TenantID, task.ID, task.StagingLocation, string(task.Status))
	return err
}

func (r *txRepo) UpdateWaveStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error {
	return updateStatus(ctx, r.tx, "pick_waves", tenantID, id, status)
}

// GetWave loads a pick wave with its tasks.
func (r *Repository) GetWave(ctx context.Context, tenantID string, id uuid.UUID) (PickWave, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+headerColumns+` FROM pick_waves WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	h, err := scanHeader(row)
	if err != nil {
		return PickWave{}, notFound(err, "pick wave", id)
	}
	return loadWave(ctx, r.pool, h)
}

func loadWave(ctx context.Context, q dbtx, h header) (PickWave, error) {
	wave := PickWave{
		ID: h.ID, TenantID: h.TenantID, WarehouseID: h.WarehouseID, Reference: h.Reference,
		Status: h.Status, CreatedAt: h.pgCreated.Time, UpdatedAt: h.pgUpdated.Time,
	}
	rows, err := q.Query(ctx, `SELECT id, reservation_id, product_id, variant_id, lot_id, from_location, staging_location, qty, status, line_no
FROM pick_tasks WHERE tenant_id = $1 AND wave_id = $2 ORDER BY line_no`, h.TenantID, h.ID)
	if err != nil {
		return PickWave{}, err
	}
	defer rows.Close()
	for rows.Next() {
		task := PickTask{WaveID: h.ID, TenantID: h.TenantID}
		var (
			qty    pgtype.Numeric
			status string
		)
		if err := rows.Scan(&task.ID, &task.ReservationID, &task.ProductID, &task.VariantID, &task.LotID,
			&task.FromLocation, &task.StagingLocation, &qty, &status, &task.LineNo); err != nil {
			return PickWave{}, err
		}
		task.Qty = numericToDecimal(qty)
		task.Status = DocumentStatus(status)
		wave.Tasks = append(wave.Tasks, task)
	}
	return wave, rows.Err()
}

// Transfers.

const transferHeader = `SELECT o.id, o.tenant_id, o.from_warehouse_id, o.to_warehouse_id, o.reference, o.status, o.created_at, o.updated_at FROM transfer_orders o`

func scanTransfer(row scanner) (TransferOrder, error) {
	var (
		o       TransferOrder
		status  string
		created pgtype.Timestamptz
		updated pgtype.Timestamptz
	)
	if err := row.Scan(&o.ID, &o.TenantID, &o.FromWarehouseID, &o.ToWarehouseID, &o.Reference, &status, &created, &updated); err != nil {
		return TransferOrder{}, err
	}
	o.Status = DocumentStatus(status)
	o.CreatedAt = created.Time
	o.UpdatedAt = updated.Time
	return o, nil
}

func (r *txRepo) InsertTransfer(ctx context.Context, transfer TransferOrder) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO transfer_orders (id, tenant_id, from_warehouse_id, to_warehouse_id, reference, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), COALESCE($7, NOW()))`,
		transfer.ID, transfer.TenantID, transfer.FromWarehouseID, transfer.ToWarehouseID, transfer.Reference,
		string(transfer.Status), touch(transfer.CreatedAt))
	if err != nil {
		return err
	}
	for _, item := range transfer.Items {
		_, err := r.tx.Exec(ctx, `INSERT INTO transfer_items (id, transfer_id, tenant_id, product_id, variant_id, lot_id, qty, moved_qty, line_no)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			item.ID, transfer.ID, transfer.TenantID, item.ProductID, item.VariantID, item.LotID,
			decimalToNumeric(item.Qty), decimalToNumeric(item.MovedQty), item.LineNo)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) LockTransferByItem(ctx context.Context, tenantID string, itemID uuid.UUID) (TransferOrder, error) {
	row := r.tx.QueryRow(ctx, transferHeader+`
JOIN transfer_items i ON i.transfer_id = o.id AND i.tenant_id = o.tenant_id
WHERE o.tenant_id = $1 AND i.id = $2
FOR UPDATE OF o`, tenantID, itemID)
	transfer, err := scanTransfer(row)
	if err != nil {
		return TransferOrder{}, notFound(err, "transfer item", itemID)
	}
	return loadTransferItems(ctx, r.tx, transfer)
}

func (r *txRepo) UpdateTransferItem(ctx context.Context, item TransferItem) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_items SET moved_qty = $3 WHERE tenant_id = $1 AND id = $2`,
		item.TenantID, item.ID, decimalToNumeric(item.MovedQty))
	return err
}

func (r *txRepo) UpdateTransferStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error {
	return updateStatus(ctx, r.tx, "transfer_orders", tenantID, id, status)
}

// GetTransfer loads a transfer order with its lines.
func (r *Repository) GetTransfer(ctx context.Context, tenantID string, id uuid.UUID) (TransferOrder, error) {
	row := r.pool.QueryRow(ctx, transferHeader+` WHERE o.tenant_id = $1 AND o.id = $2`, tenantID, id)
	transfer, err := scanTransfer(row)
	if err != nil {
		return TransferOrder{}, notFound(err, "transfer", id)
	}
	return loadTransferItems(ctx, r.pool, transfer)
}

func loadTransferItems(ctx context.Context, q dbtx, transfer TransferOrder) (TransferOrder, error) {
	rows, err := q.Query(ctx, `SELECT id, product_id, variant_id, lot_id, qty, moved_qty, line_no
FROM transfer_items WHERE tenant_id = $1 AND transfer_id = $2 ORDER BY line_no`, transfer.TenantID, transfer.ID)
	if err != nil {
		return TransferOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		item := TransferItem{TransferID: transfer.ID, TenantID: transfer.TenantID}
		var qty, moved pgtype.Numeric
		if err := rows.Scan(&item.ID, &item.ProductID, &item.VariantID, &item.LotID, &qty, &moved, &item.LineNo); err != nil {
			return TransferOrder{}, err
		}
		item.Qty = numericToDecimal(qty)
		item.MovedQty = numericToDecimal(moved)
		transfer.Items = append(transfer.Items, item)
	}
	return transfer, rows.Err()
}

// Adjustments.

func (r *txRepo) InsertAdjustment(ctx context.Context, adj Adjustment) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO adjustments (id, tenant_id, warehouse_id, reference, note, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), COALESCE($7, NOW()))`,
		adj.ID, adj.TenantID, adj.WarehouseID, adj.Reference, adj.Note, string(adj.Status), touch(adj.CreatedAt))
	if err != nil {
		return err
	}
	for _, item := range adj.Items {
		_, err := r.tx.Exec(ctx, `INSERT INTO adjustment_items (id, adjustment_id, tenant_id, product_id, variant_id, location_id, lot_id, qty_diff, line_no)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			item.ID, adj.ID, adj.TenantID, item.ProductID, item.VariantID, item.LocationID, item.LotID,
			decimalToNumeric(item.QtyDiff), item.LineNo)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) UpdateAdjustmentStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error {
	return updateStatus(ctx, r.tx, "adjustments", tenantID, id, status)
}

// GetAdjustment loads an adjustment with its lines.
func (r *Repository) GetAdjustment(ctx context.Context, tenantID string, id uuid.UUID) (Adjustment, error) {
	var (
		adj              Adjustment
		status           string
		created, updated pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, warehouse_id, reference, note, status, created_at, updated_at
FROM adjustments WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&adj.ID, &adj.TenantID, &adj.WarehouseID, &adj.Reference, &adj.Note, &status, &created, &updated)
	if err != nil {
		return Adjustment{}, notFound(err, "adjustment", id)
	}
	adj.Status = DocumentStatus(status)
	adj.CreatedAt = created.Time
	adj.UpdatedAt = updated.Time

	rows, err := r.pool.Query(ctx, `SELECT id, product_id, variant_id, location_id, lot_id, qty_diff, line_no
FROM adjustment_items WHERE tenant_id = $1 AND adjustment_id = $2 ORDER BY line_no`, tenantID, id)
	if err != nil {
		return Adjustment{}, err
	}
	defer rows.Close()
	for rows.Next() {
		item := AdjustmentItem{AdjustmentID: id, TenantID: tenantID}
		var diff pgtype.Numeric
		if err := rows.Scan(&item.ID, &item.ProductID, &item.VariantID, &item.LocationID, &item.LotID, &diff, &item.LineNo); err != nil {
			return Adjustment{}, err
		}
		item.QtyDiff = numericToDecimal(diff)
		adj.Items = append(adj.Items, item)
	}
	return adj, rows.Err()
}
