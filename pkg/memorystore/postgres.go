package memorystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// postgresSchema creates the memory_entries table and the indexes backing
// the query paths.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	content        JSONB NOT NULL,
	metadata       JSONB,
	user_id        TEXT,
	session_id     TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	expires_at     TIMESTAMPTZ,
	accessed_count BIGINT NOT NULL DEFAULT 0,
	last_accessed  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_memory_entries_type ON memory_entries (type);
CREATE INDEX IF NOT EXISTS idx_memory_entries_user_id ON memory_entries (user_id);
CREATE INDEX IF NOT EXISTS idx_memory_entries_session_id ON memory_entries (session_id);
CREATE INDEX IF NOT EXISTS idx_memory_entries_created_at ON memory_entries (created_at);
CREATE INDEX IF NOT EXISTS idx_memory_entries_expires_at ON memory_entries (expires_at);
`

// PostgresTier is the durable tier backed by PostgreSQL via a pgx connection
// pool.
type PostgresTier struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresTier connects a pool, verifies connectivity, and ensures the
// memory_entries schema exists.
func NewPostgresTier(ctx context.Context, databaseURL string, logger zerolog.Logger) (*PostgresTier, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure memory_entries schema: %w", err)
	}
	logger.Info().Msg("Successfully connected to Postgres.")
	return &PostgresTier{
		pool:   pool,
		logger: logger.With().Str("component", "PostgresTier").Logger(),
	}, nil
}

// Insert writes a full entry row.
func (t *PostgresTier) Insert(ctx context.Context, entry *Entry) error {
	content, metadata, err := marshalPayloads(entry)
	if err != nil {
		return err
	}
	_, err = t.pool.Exec(ctx, `
		INSERT INTO memory_entries
			(id, type, content, metadata, user_id, session_id, created_at, expires_at, accessed_count, last_accessed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, string(entry.Type), content, metadata, entry.UserID, entry.SessionID,
		entry.CreatedAt, entry.ExpiresAt, entry.AccessedCount, entry.LastAccessed)
	if err != nil {
		return fmt.Errorf("failed to insert entry %s: %w", entry.ID, err)
	}
	return nil
}

// Get returns the raw row for an ID; expiry filtering is the store's
// concern.
func (t *PostgresTier) Get(ctx context.Context, id string) (*Entry, error) {
	row := t.pool.QueryRow(ctx, `
		SELECT id, type, content, metadata, user_id, session_id, created_at, expires_at, accessed_count, last_accessed
		FROM memory_entries WHERE id = $1
	`, id)
	entry, err := scanPostgresEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	return entry, nil
}

// Query selects live entries matching the filter, newest first, with
// LIMIT/OFFSET pagination.
func (t *PostgresTier) Query(ctx context.Context, f Filter, now time.Time) ([]*Entry, error) {
	query := `
		SELECT id, type, content, metadata, user_id, session_id, created_at, expires_at, accessed_count, last_accessed
		FROM memory_entries
		WHERE (expires_at IS NULL OR expires_at > $1)`
	args := []any{now}

	if f.Type != "" {
		args = append(args, string(f.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := t.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating entry rows: %w", err)
	}
	return entries, nil
}

// TouchAccess bumps the access stats for a successful read.
func (t *PostgresTier) TouchAccess(ctx context.Context, id string, at time.Time) error {
	tag, err := t.pool.Exec(ctx, `
		UPDATE memory_entries
		SET accessed_count = accessed_count + 1, last_accessed = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a row, reporting whether one existed.
func (t *PostgresTier) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := t.pool.Exec(ctx, `DELETE FROM memory_entries WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired sweeps rows whose expiry has passed.
func (t *PostgresTier) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := t.pool.Exec(ctx,
		`DELETE FROM memory_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close closes the connection pool.
func (t *PostgresTier) Close() error {
	t.logger.Info().Msg("Closing Postgres connection pool...")
	t.pool.Close()
	return nil
}

// marshalPayloads serializes the opaque content and metadata for storage.
func marshalPayloads(entry *Entry) (content, metadata []byte, err error) {
	content, err = json.Marshal(entry.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal content for entry %s: %w", entry.ID, err)
	}
	if entry.Metadata != nil {
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal metadata for entry %s: %w", entry.ID, err)
		}
	}
	return content, metadata, nil
}

// scanPostgresEntry reads one row into an Entry, deserializing the JSON
// payload columns.
func scanPostgresEntry(row pgx.Row) (*Entry, error) {
	var (
		entry        Entry
		entryType    string
		content      []byte
		metadata     []byte
		expiresAt    *time.Time
		lastAccessed *time.Time
	)
	err := row.Scan(&entry.ID, &entryType, &content, &metadata, &entry.UserID, &entry.SessionID,
		&entry.CreatedAt, &expiresAt, &entry.AccessedCount, &lastAccessed)
	if err != nil {
		return nil, err
	}
	entry.Type = EntryType(entryType)
	entry.ExpiresAt = expiresAt
	entry.LastAccessed = lastAccessed
	if err := json.Unmarshal(content, &entry.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content for entry %s: %w", entry.ID, err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for entry %s: %w", entry.ID, err)
		}
	}
	return &entry, nil
}
