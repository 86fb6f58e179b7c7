package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile is the task type for ledger reconciliation runs.
	TaskLedgerReconcile = "ledger:reconcile"
)

// LedgerReconcilePayload scopes a reconciliation run. An empty TenantID
// checks every tenant.
type LedgerReconcilePayload struct {
	TenantID string `json:"tenant_id,omitempty"`
}

// NewLedgerReconcileTask constructs an Asynq task.
func NewLedgerReconcileTask(tenantID string) (*asynq.Task, error) {
	data, err := json.Marshal(LedgerReconcilePayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data, asynq.Queue(QueueDefault)), nil
}
