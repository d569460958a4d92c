package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashureev/cbt-research/internal/domain"
)

// PostgresStore implements Repository on a hosted Postgres database,
// keeping session documents in a jsonb column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and prepares the schema.
func NewPostgres(ctx context.Context, databaseURL string) (Repository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS participants (
			user_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			collection TEXT NOT NULL,
			data JSONB NOT NULL,
			ts TIMESTAMPTZ,
			seq BIGSERIAL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_collection_ts
			ON documents (collection, ts DESC NULLS LAST);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetParticipant retrieves a participant by their user ID.
func (s *PostgresStore) GetParticipant(ctx context.Context, userID string) (*domain.Participant, error) {
	var p domain.Participant
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, display_name, last_seen_at, created_at, updated_at
		FROM participants WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.LastSeenAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan participant row: %w", err)
	}
	return &p, nil
}

// UpsertParticipant creates or updates a participant record.
func (s *PostgresStore) UpsertParticipant(ctx context.Context, p *domain.Participant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participants (user_id, display_name, last_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = EXCLUDED.updated_at`,
		p.UserID, p.DisplayName, p.LastSeenAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return classify(fmt.Errorf("upsert participant: %w", err))
	}
	return nil
}

// TouchParticipant updates the last_seen_at timestamp for a participant.
func (s *PostgresStore) TouchParticipant(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE participants SET last_seen_at = $1, updated_at = NOW() WHERE user_id = $2`,
		lastSeen, userID,
	)
	if err != nil {
		return classify(fmt.Errorf("update last_seen: %w", err))
	}
	return nil
}

// AddSession stores a session document in the sessions collection.
func (s *PostgresStore) AddSession(ctx context.Context, doc domain.SessionDocument) (string, error) {
	data, err := encodeSessionDocument(doc)
	if err != nil {
		return "", err
	}

	id := uuid.New()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (id, collection, data, ts) VALUES ($1, $2, $3, $4)`,
		id, SessionsCollection, data, doc.Timestamp,
	)
	if err != nil {
		return "", classify(fmt.Errorf("insert session document: %w", err))
	}
	return id.String(), nil
}

// ListSessions returns all session documents, newest first.
func (s *PostgresStore) ListSessions(ctx context.Context) ([]domain.SessionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, data FROM documents
		WHERE collection = $1
		ORDER BY ts DESC NULLS LAST, seq DESC`, SessionsCollection)
	if err != nil {
		return nil, classify(fmt.Errorf("query sessions: %w", err))
	}
	defer rows.Close()

	records := make([]domain.SessionRecord, 0)
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		records = append(records, decodeSessionJSON(id, data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return records, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
