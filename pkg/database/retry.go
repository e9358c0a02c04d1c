package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Retry policy for transient contention. Six attempts with exponential
// backoff, never sleeping past the total budget.
const (
	retryAttempts = 6
	retryBase     = 25 * time.Millisecond
	retryBudget   = 750 * time.Millisecond
)

// IsUniqueViolation reports whether err is a unique-constraint violation.
// These surface to the caller without retry so the ingest service can
// resolve them as idempotent returns.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// Fallback for drivers that flatten the error chain.
	return err != nil && strings.Contains(err.Error(), "duplicate key value")
}

// isBusy reports whether err is transient contention worth retrying:
// serialization failures, deadlocks, or lock-not-available.
func isBusy(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

// WithRetry runs fn, retrying transient busy errors with exponential backoff.
// Uniqueness violations and every other error return immediately.
func WithRetry(ctx context.Context, fn func() error) error {
	deadline := time.Now().Add(retryBudget)
	delay := retryBase

	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt == retryAttempts-1 || time.Now().Add(delay).After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
