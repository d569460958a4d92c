// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/cbt-research/internal/domain"
)

// SessionsCollection is the document collection holding submitted sessions.
const SessionsCollection = "sessions"

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnavailable marks a transient store condition (busy, locked, timed out).
var ErrUnavailable = errors.New("store temporarily unavailable")

// Repository defines the interface for persisting participants and session documents.
type Repository interface {
	// GetParticipant retrieves a participant by anonymous user ID; nil if unknown.
	GetParticipant(ctx context.Context, userID string) (*domain.Participant, error)

	// UpsertParticipant creates or updates a participant record.
	UpsertParticipant(ctx context.Context, p *domain.Participant) error

	// TouchParticipant updates last_seen_at for a participant.
	TouchParticipant(ctx context.Context, userID string, lastSeen time.Time) error

	// AddSession appends a session document and returns its new ID.
	AddSession(ctx context.Context, doc domain.SessionDocument) (string, error)

	// ListSessions returns every session document, most recent first.
	ListSessions(ctx context.Context) ([]domain.SessionRecord, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver      string
	DBPath      string
	DatabaseURL string
}

// Open creates the repository for the configured driver.
func Open(ctx context.Context, opts Options) (Repository, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return NewSQLite(opts.DBPath)
	case DriverPostgres:
		return NewPostgres(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
