package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// reconcileLockTTL bounds how long a crashed worker can block the next run.
const reconcileLockTTL = 5 * time.Minute

// Reconciler checks the ledger without mutating it.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID string) ([]inventory.Discrepancy, error)
}

// LedgerReconcileJob runs reconciliation under a redis lock so a single
// worker checks a given scope at a time.
type LedgerReconcileJob struct {
	Reconciler Reconciler
	Locker     *redislock.Client
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewLedgerReconcileJob initialises the reconcile handler.
func NewLedgerReconcileJob(reconciler Reconciler, locker *redislock.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{
		Reconciler: reconciler,
		Locker:     locker,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one reconciliation run.
func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	var payload LedgerReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	logger := j.logger().With(slog.String("tenant", scopeLabel(payload.TenantID)))

	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, shared.ReconcileLockKey(payload.TenantID), reconcileLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.Info("reconcile already running elsewhere")
			return nil
		}
		if err != nil {
			return fmt.Errorf("ledger reconcile: obtain lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.Warn("release reconcile lock", slog.Any("error", err))
			}
		}()
	}

	start := j.now()
	tracker := j.metrics().Track(TaskLedgerReconcile)
	logger.Info("starting ledger reconcile")

	found, err := j.Reconciler.Reconcile(ctx, payload.TenantID)
	if err != nil {
		logger.Error("reconcile failed", slog.Any("error", err))
		return tracker.End(err)
	}

	byKind := make(map[inventory.DiscrepancyKind]int)
	for _, d := range found {
		logger.Warn("ledger discrepancy",
			slog.String("kind", string(d.Kind)),
			slog.String("item_id", d.ItemID.String()),
			slog.String("key", d.Key.String()),
			slog.String("expected", d.Expected.String()),
			slog.String("actual", d.Actual.String()),
		)
		byKind[d.Kind]++
	}
	for kind, count := range byKind {
		j.metrics().AddDiscrepancies(string(kind), count)
	}

	logger.Info("completed ledger reconcile",
		slog.Int("discrepancies", len(found)),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return tracker.End(nil)
}

func (j *LedgerReconcileJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *LedgerReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (j *LedgerReconcileJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}

func scopeLabel(tenantID string) string {
	if tenantID == "" {
		return "all"
	}
	return tenantID
}
