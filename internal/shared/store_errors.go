// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError checks if the error is either a SQLITE_BUSY
// or "database is locked" error.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// Postgres SQLSTATE codes that indicate lock contention.
var postgresConflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled
}

// IsPostgresConflictError reports lock contention or cancellation reported by Postgres.
func IsPostgresConflictError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return postgresConflictCodes[pgErr.Code]
	}
	return false
}

// IsStoreConflictError reports a transient store failure: either backend's
// lock contention or a request deadline.
func IsStoreConflictError(err error) bool {
	if err == nil {
		return false
	}
	return IsSQLiteConflictError(err) ||
		IsPostgresConflictError(err) ||
		errors.Is(err, context.DeadlineExceeded)
}
