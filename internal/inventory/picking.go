package inventory

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const refModulePick = "pick_wave"

// CreateWave batches reservations of one warehouse into a pick wave with one
// task per reservation. Reservations that are no longer reserved are skipped
// unless StrictWaves is set. A wave without tasks is created done.
func (s *Service) CreateWave(ctx context.Context, in CreateWaveInput) (PickWave, error) {
	var (
		wave    PickWave
		skipped []uuid.UUID
	)
	attrs := tenantAttrs(in.TenantID, attribute.Int("inventory.reservations", len(in.ReservationIDs)))
	err := s.execute(ctx, "create_wave", in, attrs, func(ctx context.Context, sc *txScope) error {
		skipped = nil
		ids := uniqueSortedIDs(in.ReservationIDs)
		locked, err := sc.tx.LockReservations(ctx, in.TenantID, ids)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]Reservation, len(locked))
		for _, res := range locked {
			byID[res.ID] = res
		}

		var (
			picks   []Reservation
			itemIDs []uuid.UUID
		)
		seen := make(map[uuid.UUID]bool, len(in.ReservationIDs))
		for _, id := range in.ReservationIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			res, ok := byID[id]
			if !ok {
				return fmt.Errorf("%w: reservation %s", ErrNotFound, id)
			}
			if res.WarehouseID != in.WarehouseID {
				return fmt.Errorf("%w: reservation %s belongs to warehouse %s", ErrValidation, id, res.WarehouseID)
			}
			if res.Status != ReservationReserved {
				if s.cfg.StrictWaves {
					return fmt.Errorf("%w: reservation %s is %s", ErrStateConflict, id, res.Status)
				}
				skipped = append(skipped, id)
				continue
			}
			picks = append(picks, res)
			itemIDs = append(itemIDs, res.InventoryItemID)
		}

		items, err := sc.tx.LockItemsByID(ctx, in.TenantID, itemIDs)
		if err != nil {
			return err
		}
		rows := make(map[uuid.UUID]InventoryItem, len(items))
		for _, item := range items {
			rows[item.ID] = item
		}

		now := s.now()
		wave = PickWave{
			ID:          s.newID(),
			TenantID:    in.TenantID,
			WarehouseID: in.WarehouseID,
			Reference:   in.Reference,
			Status:      StatusOpen,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		for i, res := range picks {
			item, ok := rows[res.InventoryItemID]
			if !ok {
				return fmt.Errorf("%w %s", ErrItemNotFound, res.InventoryItemID)
			}
			wave.Tasks = append(wave.Tasks, PickTask{
				ID:            s.newID(),
				WaveID:        wave.ID,
				TenantID:      in.TenantID,
				ReservationID: res.ID,
				ProductID:     res.ProductID,
				VariantID:     res.VariantID,
				LotID:         item.LotID,
				FromLocation:  item.LocationID,
				Qty:           res.Qty,
				Status:        StatusOpen,
				LineNo:        i + 1,
			})
		}
		if len(wave.Tasks) == 0 {
			wave.Status = StatusDone
		}
		return sc.tx.InsertWave(ctx, wave)
	})
	if err != nil {
		return PickWave{}, err
	}
	if len(skipped) > 0 {
		s.logger.Info("pick wave skipped reservations",
			slog.String("wave_id", wave.ID.String()),
			slog.Int("skipped", len(skipped)))
	}
	s.recordAudit(ctx, in.TenantID, "inventory.wave.create", "pick_wave", wave.ID, map[string]any{
		"tasks":   len(wave.Tasks),
		"skipped": len(skipped),
	})
	return wave, nil
}

// CompleteTask confirms a pick: the reservation's qty moves from its source
// location to the staging location, the task is done and the reservation
// picked. With CarryReservationOnPick the claim follows the stock to the
// staging row; otherwise it is dropped at the source.
func (s *Service) CompleteTask(ctx context.Context, in CompleteTaskInput) (PickWave, error) {
	var wave PickWave
	attrs := tenantAttrs(in.TenantID, attribute.String("inventory.pick_task", in.TaskID.String()))
	err := s.execute(ctx, "complete_task", in, attrs, func(ctx context.Context, sc *txScope) error {
		var err error
		wave, err = sc.tx.LockWaveByTask(ctx, in.TenantID, in.TaskID)
		if err != nil {
			return err
		}
		task := findPickTask(wave.Tasks, in.TaskID)
		if task == nil {
			return fmt.Errorf("%w: pick task %s", ErrNotFound, in.TaskID)
		}
		if !task.Status.IsOpen() {
			return fmt.Errorf("%w: pick task %s is %s", ErrStateConflict, task.ID, task.Status)
		}
		res, err := sc.tx.LockReservation(ctx, in.TenantID, task.ReservationID)
		if err != nil {
			return err
		}
		if res.Status != ReservationReserved {
			return fmt.Errorf("%w: reservation %s is %s", ErrStateConflict, res.ID, res.Status)
		}

		srcKey := ItemKey{
			TenantID:    in.TenantID,
			WarehouseID: wave.WarehouseID,
			ProductID:   task.ProductID,
			VariantID:   task.VariantID,
			LocationID:  task.FromLocation,
			LotID:       task.LotID,
		}
		staging := in.StagingLocation
		if staging == task.FromLocation {
			staging = ""
		}
		dstKey := srcKey
		dstKey.LocationID = staging

		targets := []lockTarget{{key: srcKey}}
		if staging != "" {
			targets = append(targets, lockTarget{key: dstKey, create: true})
		}
		rows, err := s.lockInOrder(ctx, sc, targets)
		if err != nil {
			return err
		}
		src := rows[srcKey]
		if src.ID != res.InventoryItemID {
			return fmt.Errorf("%w: reservation %s is not held at %s", ErrStateConflict, res.ID, srcKey)
		}

		if staging != "" || !s.cfg.CarryReservationOnPick {
			src.ReservedQty = subFloor(src.ReservedQty, res.Qty)
			if err := sc.tx.UpdateItem(ctx, src); err != nil {
				return err
			}
		}
		if staging != "" {
			_, err := s.applyMove(ctx, sc, MoveInput{
				TenantID:     in.TenantID,
				WarehouseID:  wave.WarehouseID,
				ProductID:    task.ProductID,
				VariantID:    task.VariantID,
				LotID:        task.LotID,
				Qty:          task.Qty,
				FromLocation: task.FromLocation,
				ToLocation:   staging,
				Reason:       ReasonPick,
				RefModule:    refModulePick,
				RefID:        wave.ID.String(),
			})
			if err != nil {
				return err
			}
			if s.cfg.CarryReservationOnPick {
				dst, err := sc.tx.LockOrCreateItem(ctx, dstKey, s.newID())
				if err != nil {
					return err
				}
				dst.ReservedQty = dst.ReservedQty.Add(res.Qty)
				if err := sc.tx.UpdateItem(ctx, dst); err != nil {
					return err
				}
				res.InventoryItemID = dst.ID
			}
		}

		now := s.now()
		res.Status = ReservationPicked
		res.UpdatedAt = now
		if err := sc.tx.UpdateReservation(ctx, res); err != nil {
			return err
		}
		sc.reservationChanged(ReservationPicked)

		task.Status = StatusDone
		task.StagingLocation = staging
		if err := sc.tx.UpdatePickTask(ctx, *task); err != nil {
			return err
		}
		if waveDone(wave.Tasks) {
			wave.Status = StatusDone
			wave.UpdatedAt = now
			return sc.tx.UpdateWaveStatus(ctx, wave.TenantID, wave.ID, wave.Status)
		}
		return nil
	})
	if err != nil {
		return PickWave{}, err
	}
	s.recordAudit(ctx, in.TenantID, "inventory.wave.complete_task", "pick_wave", wave.ID, map[string]any{
		"task_id": in.TaskID.String(),
		"staging": in.StagingLocation,
		"status":  string(wave.Status),
	})
	return wave, nil
}

func uniqueSortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func findPickTask(tasks []PickTask, id uuid.UUID) *PickTask {
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i]
		}
	}
	return nil
}

func waveDone(tasks []PickTask) bool {
	for _, task := range tasks {
		if task.Status != StatusDone {
			return false
		}
	}
	return true
}
