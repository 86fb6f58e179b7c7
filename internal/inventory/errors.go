package inventory

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrValidation indicates a missing or malformed input field.
	ErrValidation = errors.New("inventory: invalid input")
	// ErrInsufficientStock indicates free qty below the request.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrNotFound indicates an unknown id within the tenant.
	ErrNotFound = errors.New("inventory: not found")
	// ErrStateConflict indicates an operation on a terminal document, line or reservation.
	ErrStateConflict = errors.New("inventory: state conflict")
	// ErrRetryable indicates lock contention; the call had no effect and may be retried.
	ErrRetryable = errors.New("inventory: retryable")
)

// ErrItemNotFound indicates a missing ledger row.
var ErrItemNotFound = fmt.Errorf("%w: inventory item", ErrNotFound)

// IsRetryable reports whether err is a lock-wait timeout or similar transient failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}

// ErrorKind names the taxonomy class of err for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, ErrRetryable):
		return "retryable"
	default:
		return "internal"
	}
}

// SQLSTATE codes surfaced as ErrRetryable.
const (
	sqlStateLockNotAvailable     = "55P03"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateSerializationFailure = "40001"
	sqlStateQueryCanceled        = "57014"
)

// classifyError maps store failures onto the ledger taxonomy. Domain errors pass through.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateLockNotAvailable, sqlStateDeadlockDetected, sqlStateSerializationFailure, sqlStateQueryCanceled:
			return fmt.Errorf("%w: %w", ErrRetryable, err)
		}
		return err
	}
	if pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	return err
}

func insufficient(key ItemKey, free, requested fmt.Stringer) error {
	return fmt.Errorf("%w: %s free %s, requested %s", ErrInsufficientStock, key, free, requested)
}
