package repositories

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	helper "kapalku_backend/internals/helpers"
	"kapalku_backend/internals/helpers/resilience"
)

// PostgreSQL SQLSTATE codes that are safe to retry.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014"
)

// IsRetryableDBError is the allow-list for database call-sites: lock timeouts,
// serialization failures, deadlocks and version conflicts.
func IsRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, helper.ErrVersionConflict) || errors.Is(err, helper.ErrTransientInfra) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgQueryCanceled:
			return true
		}
		return false
	}
	return resilience.IsRetryableGatewayError(err)
}

func DBRetryPolicy(attempts int) resilience.RetryPolicy {
	return resilience.RetryPolicy{
		Name:        "db",
		MaxAttempts: attempts,
		BaseDelay:   50 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    time.Second,
		Jitter:      0.3,
		Retryable:   IsRetryableDBError,
	}
}

func notFound(what string, key any, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, key, helper.ErrNotFound)
	}
	return err
}
