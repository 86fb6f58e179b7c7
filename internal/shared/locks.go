package shared

import "fmt"

// ReconcileLockKey builds the redis key guarding a reconciliation run. An
// empty tenant scopes the lock to the all-tenants run.
func ReconcileLockKey(tenantID string) string {
	if tenantID == "" {
		tenantID = "all"
	}
	return fmt.Sprintf("stockledger:reconcile:%s", tenantID)
}
