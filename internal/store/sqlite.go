package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashureev/cbt-research/internal/domain"
	"github.com/ashureev/cbt-research/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS participants (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		data TEXT NOT NULL,
		ts INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_documents_collection_ts ON documents(collection, ts DESC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetParticipant retrieves a participant by their user ID.
func (s *SQLiteStore) GetParticipant(ctx context.Context, userID string) (*domain.Participant, error) {
	query := `
		SELECT user_id, display_name, last_seen_at, created_at, updated_at
		FROM participants WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var p domain.Participant
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&p.UserID, &p.DisplayName, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan participant row: %w", err)
	}

	p.LastSeenAt = time.Unix(lastSeen, 0)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)

	return &p, nil
}

// UpsertParticipant creates or updates a participant record.
func (s *SQLiteStore) UpsertParticipant(ctx context.Context, p *domain.Participant) error {
	query := `
	INSERT INTO participants (user_id, display_name, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		display_name = excluded.display_name,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		p.UserID, p.DisplayName,
		p.LastSeenAt.Unix(), p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return classify(fmt.Errorf("upsert participant: %w", err))
	}
	return nil
}

// TouchParticipant updates the last_seen_at timestamp for a participant.
func (s *SQLiteStore) TouchParticipant(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE participants SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return classify(fmt.Errorf("update last_seen: %w", err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchParticipant affected 0 rows", "user_id", userID)
	}

	return nil
}

// AddSession stores a session document in the sessions collection.
func (s *SQLiteStore) AddSession(ctx context.Context, doc domain.SessionDocument) (string, error) {
	data, err := encodeSessionDocument(doc)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	query := `INSERT INTO documents (id, collection, data, ts) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, id, SessionsCollection, string(data), doc.Timestamp.UnixMilli()); err != nil {
		return "", classify(fmt.Errorf("insert session document: %w", err))
	}
	return id, nil
}

// ListSessions returns all session documents, newest first. Documents
// without a timestamp sort last.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.SessionRecord, error) {
	query := `
		SELECT id, data FROM documents
		WHERE collection = ?
		ORDER BY ts IS NULL, ts DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, SessionsCollection)
	if err != nil {
		return nil, classify(fmt.Errorf("query sessions: %w", err))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	records := make([]domain.SessionRecord, 0)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		records = append(records, decodeSessionJSON(id, []byte(data)))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// classify tags busy/locked failures as ErrUnavailable.
func classify(err error) error {
	if shared.IsStoreConflictError(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
