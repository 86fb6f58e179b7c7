package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memoryRepo is a transactional in-memory store. A transaction works on a
// copy of the state and swaps it in on commit. The mutex held for the whole
// transaction serializes writers completely, so it is stricter than row locks:
// tests see which rows a transaction locked through lockTrace, not how
// concurrent transactions would queue on them.
type memoryRepo struct {
	mu        sync.Mutex
	state     *memoryState
	moveHook  func(StockMove) error
	lockTrace [][]ItemKey
}

type memoryState struct {
	items        map[uuid.UUID]InventoryItem
	keys         map[ItemKey]uuid.UUID
	moves        []StockMove
	reservations map[uuid.UUID]Reservation
	receipts     map[uuid.UUID]Receipt
	shipments    map[uuid.UUID]Shipment
	waves        map[uuid.UUID]PickWave
	transfers    map[uuid.UUID]TransferOrder
	adjustments  map[uuid.UUID]Adjustment
}

type memoryTx struct {
	repo   *memoryRepo
	st     *memoryState
	locked []ItemKey
}

var errCheckViolation = errors.New("memory: inventory_items_reserved_range violated")

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		items:        make(map[uuid.UUID]InventoryItem),
		keys:         make(map[ItemKey]uuid.UUID),
		reservations: make(map[uuid.UUID]Reservation),
		receipts:     make(map[uuid.UUID]Receipt),
		shipments:    make(map[uuid.UUID]Shipment),
		waves:        make(map[uuid.UUID]PickWave),
		transfers:    make(map[uuid.UUID]TransferOrder),
		adjustments:  make(map[uuid.UUID]Adjustment),
	}}
}

func (st *memoryState) clone() *memoryState {
	out := &memoryState{
		items:        make(map[uuid.UUID]InventoryItem, len(st.items)),
		keys:         make(map[ItemKey]uuid.UUID, len(st.keys)),
		moves:        append([]StockMove(nil), st.moves...),
		reservations: make(map[uuid.UUID]Reservation, len(st.reservations)),
		receipts:     make(map[uuid.UUID]Receipt, len(st.receipts)),
		shipments:    make(map[uuid.UUID]Shipment, len(st.shipments)),
		waves:        make(map[uuid.UUID]PickWave, len(st.waves)),
		transfers:    make(map[uuid.UUID]TransferOrder, len(st.transfers)),
		adjustments:  make(map[uuid.UUID]Adjustment, len(st.adjustments)),
	}
	for k, v := range st.items {
		out.items[k] = v
	}
	for k, v := range st.keys {
		out.keys[k] = v
	}
	for k, v := range st.reservations {
		out.reservations[k] = v
	}
	for k, v := range st.receipts {
		v.Items = append([]ReceiptItem(nil), v.Items...)
		out.receipts[k] = v
	}
	for k, v := range st.shipments {
		v.Items = append([]ShipmentItem(nil), v.Items...)
		out.shipments[k] = v
	}
	for k, v := range st.waves {
		v.Tasks = append([]PickTask(nil), v.Tasks...)
		out.waves[k] = v
	}
	for k, v := range st.transfers {
		v.Items = append([]TransferItem(nil), v.Items...)
		out.transfers[k] = v
	}
	for k, v := range st.adjustments {
		v.Items = append([]AdjustmentItem(nil), v.Items...)
		out.adjustments[k] = v
	}
	return out
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, st: r.state.clone()}
	err := fn(ctx, tx)
	r.lockTrace = append(r.lockTrace, tx.locked)
	if err != nil {
		return err
	}
	r.state = tx.st
	return nil
}

// seed writes a row directly, bypassing the engine and the move log.
func (r *memoryRepo) seed(key ItemKey, qty, reserved decimal.Decimal) InventoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.state.keys[key]
	if !ok {
		id = uuid.New()
		r.state.keys[key] = id
	}
	item := InventoryItem{ID: id, ItemKey: key, Qty: qty, ReservedQty: reserved}
	r.state.items[id] = item
	return item
}

func (r *memoryRepo) item(key ItemKey) (InventoryItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.state.keys[key]
	if !ok {
		return InventoryItem{}, false
	}
	return r.state.items[id], true
}

func (r *memoryRepo) moveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.moves)
}

func (r *memoryRepo) reservation(id uuid.UUID) Reservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.reservations[id]
}

func (r *memoryRepo) allItems() []InventoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedItems(r.state.items, func(InventoryItem) bool { return true })
}

func sortedItems(items map[uuid.UUID]InventoryItem, keep func(InventoryItem) bool) []InventoryItem {
	var out []InventoryItem
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemKey.Less(out[j].ItemKey) })
	return out
}

// Read side.

func (r *memoryRepo) ListItems(ctx context.Context, scope Scope) ([]InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedItems(r.state.items, func(item InventoryItem) bool { return scope.Matches(item.ItemKey, false) }), nil
}

func (r *memoryRepo) ListMoves(ctx context.Context, filter MoveFilter) ([]StockMove, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultMoveLimit
	}
	var out []StockMove
	for _, move := range r.state.moves {
		if move.TenantID != filter.TenantID ||
			(filter.WarehouseID != "" && move.WarehouseID != filter.WarehouseID) ||
			(filter.ProductID != "" && move.ProductID != filter.ProductID) ||
			(filter.VariantID != "" && move.VariantID != filter.VariantID) ||
			(filter.LotID != "" && move.LotID != filter.LotID) ||
			(filter.LocationID != "" && move.FromLocation != filter.LocationID && move.ToLocation != filter.LocationID) ||
			(!filter.From.IsZero() && move.CreatedAt.Before(filter.From)) ||
			(!filter.To.IsZero() && !move.CreatedAt.Before(filter.To)) {
			continue
		}
		out = append(out, move)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepo) ListReservations(ctx context.Context, tenantID, orderRef string) ([]Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Reservation
	for _, res := range r.state.reservations {
		if res.TenantID == tenantID && (orderRef == "" || res.OrderRef == orderRef) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out, nil
}

func (r *memoryRepo) GetReceipt(ctx context.Context, tenantID string, id uuid.UUID) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.state.receipts[id]
	if !ok || doc.TenantID != tenantID {
		return Receipt{}, fmt.Errorf("%w: receipt %s", ErrNotFound, id)
	}
	return doc, nil
}

func (r *memoryRepo) GetShipment(ctx context.Context, tenantID string, id uuid.UUID) (Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.state.shipments[id]
	if !ok || doc.TenantID != tenantID {
		return Shipment{}, fmt.Errorf("%w: shipment %s", ErrNotFound, id)
	}
	return doc, nil
}

func (r *memoryRepo) GetWave(ctx context.Context, tenantID string, id uuid.UUID) (PickWave, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.state.waves[id]
	if !ok || doc.TenantID != tenantID {
		return PickWave{}, fmt.Errorf("%w: pick wave %s", ErrNotFound, id)
	}
	return doc, nil
}

func (r *memoryRepo) GetTransfer(ctx context.Context, tenantID string, id uuid.UUID) (TransferOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.state.transfers[id]
	if !ok || doc.TenantID != tenantID {
		return TransferOrder{}, fmt.Errorf("%w: transfer %s", ErrNotFound, id)
	}
	return doc, nil
}

func (r *memoryRepo) GetAdjustment(ctx context.Context, tenantID string, id uuid.UUID) (Adjustment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.state.adjustments[id]
	if !ok || doc.TenantID != tenantID {
		return Adjustment{}, fmt.Errorf("%w: adjustment %s", ErrNotFound, id)
	}
	return doc, nil
}

func (r *memoryRepo) ListTenants(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, item := range r.state.items {
		if !seen[item.TenantID] {
			seen[item.TenantID] = true
			out = append(out, item.TenantID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memoryRepo) Snapshot(ctx context.Context, tenantID string, claimStatuses []ReservationStatus) (LedgerSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := LedgerSnapshot{
		Items:  sortedItems(r.state.items, func(item InventoryItem) bool { return item.TenantID == tenantID }),
		Claims: make(map[uuid.UUID]decimal.Decimal),
	}
	totals := make(map[ItemKey]decimal.Decimal)
	for _, move := range r.state.moves {
		if move.TenantID != tenantID {
			continue
		}
		base := ItemKey{TenantID: move.TenantID, WarehouseID: move.WarehouseID, ProductID: move.ProductID,
			VariantID: move.VariantID, LotID: move.LotID}
		if move.ToLocation != "" {
			key := base
			key.LocationID = move.ToLocation
			totals[key] = totals[key].Add(move.Qty)
		}
		if move.FromLocation != "" {
			key := base
			key.LocationID = move.FromLocation
			totals[key] = totals[key].Sub(move.Qty)
		}
	}
	for key, qty := range totals {
		snap.MoveTotals = append(snap.MoveTotals, KeyQty{Key: key, Qty: qty})
	}
	wanted := make(map[ReservationStatus]bool)
	for _, st := range claimStatuses {
		wanted[st] = true
	}
	for _, res := range r.state.reservations {
		if res.TenantID == tenantID && wanted[res.Status] {
			snap.Claims[res.InventoryItemID] = snap.Claims[res.InventoryItemID].Add(res.Qty)
		}
	}
	return snap, nil
}

// Transactional side.

func (tx *memoryTx) lock(key ItemKey) {
	tx.locked = append(tx.locked, key)
}

func (tx *memoryTx) LockItem(ctx context.Context, tenantID string, id uuid.UUID) (InventoryItem, error) {
	item, ok := tx.st.items[id]
	if !ok || item.TenantID != tenantID {
		return InventoryItem{}, fmt.Errorf("%w %s", ErrItemNotFound, id)
	}
	tx.lock(item.ItemKey)
	return item, nil
}

func (tx *memoryTx) FindItemForUpdate(ctx context.Context, key ItemKey) (InventoryItem, bool, error) {
	id, ok := tx.st.keys[key]
	if !ok {
		return InventoryItem{ItemKey: key}, false, nil
	}
	tx.lock(key)
	return tx.st.items[id], true, nil
}

func (tx *memoryTx) LockOrCreateItem(ctx context.Context, key ItemKey, id uuid.UUID) (InventoryItem, error) {
	if _, ok := tx.st.keys[key]; !ok {
		tx.st.keys[key] = id
		tx.st.items[id] = InventoryItem{ID: id, ItemKey: key, Qty: decimal.Zero, ReservedQty: decimal.Zero}
	}
	item, _, err := tx.FindItemForUpdate(ctx, key)
	return item, err
}

func (tx *memoryTx) LockItemsByID(ctx context.Context, tenantID string, ids []uuid.UUID) ([]InventoryItem, error) {
	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	items := sortedItems(tx.st.items, func(item InventoryItem) bool { return item.TenantID == tenantID && wanted[item.ID] })
	for _, item := range items {
		tx.lock(item.ItemKey)
	}
	return items, nil
}

func (tx *memoryTx) LockItemsInScope(ctx context.Context, scope Scope) ([]InventoryItem, error) {
	items := sortedItems(tx.st.items, func(item InventoryItem) bool { return scope.Matches(item.ItemKey, true) })
	for _, item := range items {
		tx.lock(item.ItemKey)
	}
	return items, nil
}

func (tx *memoryTx) UpdateItem(ctx context.Context, item InventoryItem) error {
	current, ok := tx.st.items[item.ID]
	if !ok || current.TenantID != item.TenantID {
		return fmt.Errorf("%w %s", ErrItemNotFound, item.ID)
	}
	if item.ReservedQty.IsNegative() || item.ReservedQty.GreaterThan(item.Qty) {
		return errCheckViolation
	}
	current.Qty = item.Qty
	current.ReservedQty = item.ReservedQty
	tx.st.items[item.ID] = current
	return nil
}

func (tx *memoryTx) InsertMove(ctx context.Context, move StockMove) error {
	if tx.repo.moveHook != nil {
		if err := tx.repo.moveHook(move); err != nil {
			return err
		}
	}
	tx.st.moves = append(tx.st.moves, move)
	return nil
}

func (tx *memoryTx) InsertReservation(ctx context.Context, res Reservation) error {
	tx.st.reservations[res.ID] = res
	return nil
}

func (tx *memoryTx) LockReservation(ctx context.Context, tenantID string, id uuid.UUID) (Reservation, error) {
	res, ok := tx.st.reservations[id]
	if !ok || res.TenantID != tenantID {
		return Reservation{}, fmt.Errorf("%w: reservation %s", ErrNotFound, id)
	}
	return res, nil
}

func (tx *memoryTx) LockReservations(ctx context.Context, tenantID string, ids []uuid.UUID) ([]Reservation, error) {
	var out []Reservation
	for _, id := range ids {
		if res, ok := tx.st.reservations[id]; ok && res.TenantID == tenantID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (tx *memoryTx) LockReservationsByOrder(ctx context.Context, tenantID, orderRef string) ([]Reservation, error) {
	var out []Reservation
	for _, res := range tx.st.reservations {
		if res.TenantID == tenantID && res.OrderRef == orderRef {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out, nil
}

func (tx *memoryTx) UpdateReservation(ctx context.Context, res Reservation) error {
	if _, ok := tx.st.reservations[res.ID]; !ok {
		return fmt.Errorf("%w: reservation %s", ErrNotFound, res.ID)
	}
	tx.st.reservations[res.ID] = res
	return nil
}

func (tx *memoryTx) InsertReceipt(ctx context.Context, receipt Receipt) error {
	receipt.Items = append([]ReceiptItem(nil), receipt.Items...)
	tx.st.receipts[receipt.ID] = receipt
	return nil
}

func (tx *memoryTx) LockReceiptByItem(ctx context.Context, tenantID string, itemID uuid.UUID) (Receipt, error) {
	for _, doc := range tx.st.receipts {
		if doc.TenantID != tenantID {
			continue
		}
		for _, item := range doc.Items {
			if item.ID == itemID {
				doc.Items = append([]ReceiptItem(nil), doc.Items...)
				return doc, nil
			}
		}
	}
	return Receipt{}, fmt.Errorf("%w: receipt item %s", ErrNotFound, itemID)
}

func (tx *memoryTx) UpdateReceiptItem(ctx context.Context, item ReceiptItem) error {
	doc := tx.st.receipts[item.ReceiptID]
	for i := range doc.Items {
		if doc.Items[i].ID == item.ID {
			doc.Items[i] = item
		}
	}
	return nil
}

func (tx *memoryTx) UpdateReceiptStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error {
	doc := tx.st.receipts[id]
	doc.Status = status
	tx.st.receipts[id] = doc
	return nil
}

func (tx *memoryTx) InsertShipment(ctx context.Context, shipment Shipment) error {
	shipment.Items = append([]ShipmentItem(nil), shipment.Items...)
	tx.st.shipments[shipment.ID] = shipment
	return nil
}

func (tx *memoryTx) LockShipmentByItem(ctx context.Context, tenantID string, itemID uuid.UUID) (Shipment, error) {
	for _, doc := range tx.st.shipments {
		if doc.TenantID != tenantID {
			continue
		}
		for _, item := range doc.Items {
			if item.ID == itemID {
				doc.Items = append([]ShipmentItem(nil), doc.Items...)
				return doc, nil
			}
		}
	}
	return Shipment{}, fmt.Errorf("%w: shipment item %s", ErrNotFound, itemID)
}

func (tx *memoryTx) UpdateShipmentItem(ctx context.Context, item ShipmentItem) error {
	doc := tx.st.shipments[item.ShipmentID]
	for i := range doc.Items {
		if doc.Items[i].ID == item.ID {
			doc.Items[i] = item
		}
	}
	return nil
}

func (tx *memoryTx) UpdateShipmentStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error {
	doc := tx.st.shipments[id]
	doc.Status = status
	tx.st.shipments[id] = doc
	return nil
}

func (tx *memoryTx) InsertWave(ctx context.Context, wave PickWave) error {
	wave.Tasks = append([]PickTask(nil), wave.Tasks...)
	tx.st.waves[wave.ID] = wave
	return nil
}

func (tx *memoryTx) LockWaveByTask(ctx context.Context, tenantID string, taskID uuid.UUID) (PickWave, error) {
	for _, doc := range tx.st.waves {
		if doc.TenantID != tenantID {
			continue
		}
		for _, task := range doc.Tasks {
			if task.ID == taskID {
				doc.Tasks = append([]PickTask(nil), doc.Tasks...)
				return doc, nil
			}
		}
	}
	return PickWave{}, fmt.Errorf("%w: pick task %s", ErrNotFound, taskID)
}

func (tx *memoryTx) UpdatePickTask(ctx context.Context, task PickTask) error {
	doc := tx.st.waves[task.WaveID]
	for i := range doc.Tasks {
		if doc.Tasks[i].ID == task.ID {
			doc.Tasks[i] = task
		}
	}
	return nil
}

func (tx *memoryTx) UpdateWaveStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error {
	doc := tx.st.waves[id]
	doc.Status = status
	tx.st.waves[id] = doc
	return nil
}

func (tx *memoryTx) InsertTransfer(ctx context.Context, transfer TransferOrder) error {
	transfer.Items = append([]TransferItem(nil), transfer.Items...)
	tx.st.transfers[transfer.ID] = transfer
	return nil
}

func (tx *memoryTx) LockTransferByItem(ctx context.Context, tenantID string, itemID uuid.UUID) (TransferOrder, error) {
	for _, doc := range tx.st.transfers {
		if doc.TenantID != tenantID {
			continue
		}
		for _, item := range doc.Items {
			if item.ID == itemID {
				doc.Items = append([]TransferItem(nil), doc.Items...)
				return doc, nil
			}
		}
	}
	return TransferOrder{}, fmt.Errorf("%w: transfer item %s", ErrNotFound, itemID)
}

func (tx *memoryTx) UpdateTransferItem(ctx context.Context, item TransferItem) error {
	doc := tx.st.transfers[item.TransferID]
	for i := range doc.Items {
		if doc.Items[i].ID == item.ID {
			doc.Items[i] = item
		}
	}
	return nil
}

func (tx *memoryTx) UpdateTransferStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error {
	doc := tx.st.transfers[id]
	doc.Status = status
	tx.st.transfers[id] = doc
	return nil
}

func (tx *memoryTx) InsertAdjustment(ctx context.Context, adj Adjustment) error {
	adj.Items = append([]AdjustmentItem(nil), adj.Items...)
	tx.st.adjustments[adj.ID] = adj
	return nil
}

func (tx *memoryTx) UpdateAdjustmentStatus(ctx context.Context, tenantID string, id uuid.UUID, status DocumentStatus) error {
	doc := tx.st.adjustments[id]
	doc.Status = status
	tx.st.adjustments[id] = doc
	return nil
}
