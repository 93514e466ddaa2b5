package memorystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// sqliteSchema mirrors the Postgres schema. Timestamps are stored as Unix
// nanoseconds so created_at ordering never depends on text collation.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	content        TEXT NOT NULL,
	metadata       TEXT,
	user_id        TEXT,
	session_id     TEXT,
	created_at     INTEGER NOT NULL,
	expires_at     INTEGER,
	accessed_count INTEGER NOT NULL DEFAULT 0,
	last_accessed  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_memory_entries_type ON memory_entries (type);
CREATE INDEX IF NOT EXISTS idx_memory_entries_user_id ON memory_entries (user_id);
CREATE INDEX IF NOT EXISTS idx_memory_entries_session_id ON memory_entries (session_id);
CREATE INDEX IF NOT EXISTS idx_memory_entries_created_at ON memory_entries (created_at);
CREATE INDEX IF NOT EXISTS idx_memory_entries_expires_at ON memory_entries (expires_at);
`

// SQLiteTier is the durable tier backed by a local SQLite database. It keeps
// single-node deployments and tests independent of a Postgres instance while
// honouring the same query contract.
type SQLiteTier struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteTier opens (creating if necessary) the database at dbPath and
// ensures the memory_entries schema. ":memory:" gives a private in-memory
// database.
func NewSQLiteTier(ctx context.Context, dbPath string, logger zerolog.Logger) (*SQLiteTier, error) {
	inMemory := dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
	if !inMemory && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if inMemory {
		// Each pooled connection would otherwise see its own private
		// in-memory database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure memory_entries schema: %w", err)
	}
	logger.Info().Str("db_path", dbPath).Msg("SQLite database opened.")
	return &SQLiteTier{
		db:     db,
		logger: logger.With().Str("component", "SQLiteTier").Logger(),
	}, nil
}

// Insert writes a full entry row.
func (t *SQLiteTier) Insert(ctx context.Context, entry *Entry) error {
	content, metadata, err := marshalPayloads(entry)
	if err != nil {
		return err
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO memory_entries
			(id, type, content, metadata, user_id, session_id, created_at, expires_at, accessed_count, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, string(entry.Type), string(content), nullableString(metadata),
		entry.UserID, entry.SessionID, entry.CreatedAt.UnixNano(),
		nullableNanos(entry.ExpiresAt), entry.AccessedCount, nullableNanos(entry.LastAccessed))
	if err != nil {
		return fmt.Errorf("failed to insert entry %s: %w", entry.ID, err)
	}
	return nil
}

// Get returns the raw row for an ID; expiry filtering is the store's
// concern.
func (t *SQLiteTier) Get(ctx context.Context, id string) (*Entry, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT id, type, content, metadata, user_id, session_id, created_at, expires_at, accessed_count, last_accessed
		FROM memory_entries WHERE id = ?
	`, id)
	entry, err := scanSQLiteEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	return entry, nil
}

// Query selects live entries matching the filter, newest first, with
// LIMIT/OFFSET pagination.
func (t *SQLiteTier) Query(ctx context.Context, f Filter, now time.Time) ([]*Entry, error) {
	query := `
		SELECT id, type, content, metadata, user_id, session_id, created_at, expires_at, accessed_count, last_accessed
		FROM memory_entries
		WHERE (expires_at IS NULL OR expires_at > ?)`
	args := []any{now.UnixNano()}

	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}
	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 || f.Offset > 0 {
		// SQLite requires a LIMIT clause to use OFFSET; -1 means unlimited.
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, f.Offset)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanSQLiteEntry(rows.Scan)
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
func (t *SQLiteTier) TouchAccess(ctx context.Context, id string, at time.Time) error {
	res, err := t.db.ExecContext(ctx, `
		UPDATE memory_entries
		SET accessed_count = accessed_count + 1, last_accessed = ?
		WHERE id = ?
	`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to touch entry %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for entry %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a row, reporting whether one existed.
func (t *SQLiteTier) Delete(ctx context.Context, id string) (bool, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for entry %s: %w", id, err)
	}
	return affected > 0, nil
}

// DeleteExpired sweeps rows whose expiry has passed.
func (t *SQLiteTier) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := t.db.ExecContext(ctx,
		`DELETE FROM memory_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database handle.
func (t *SQLiteTier) Close() error {
	t.logger.Info().Msg("Closing SQLite database...")
	return t.db.Close()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableNanos(ts *time.Time) any {
	if ts == nil {
		return nil
	}
	return ts.UnixNano()
}

// scanSQLiteEntry reads one row into an Entry, converting nanosecond
// timestamps back to time.Time in UTC.
func scanSQLiteEntry(scan func(dest ...any) error) (*Entry, error) {
	var (
		entry        Entry
		entryType    string
		content      string
		metadata     sql.NullString
		createdAt    int64
		expiresAt    sql.NullInt64
		lastAccessed sql.NullInt64
	)
	err := scan(&entry.ID, &entryType, &content, &metadata, &entry.UserID, &entry.SessionID,
		&createdAt, &expiresAt, &entry.AccessedCount, &lastAccessed)
	if err != nil {
		return nil, err
	}
	entry.Type = EntryType(entryType)
	entry.CreatedAt = time.Unix(0, createdAt).UTC()
	if expiresAt.Valid {
		ts := time.Unix(0, expiresAt.Int64).UTC()
		entry.ExpiresAt = &ts
	}
	if lastAccessed.Valid {
		ts := time.Unix(0, lastAccessed.Int64).UTC()
		entry.LastAccessed = &ts
	}
	if err := json.Unmarshal([]byte(content), &entry.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content for entry %s: %w", entry.ID, err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for entry %s: %w", entry.ID, err)
		}
	}
	return &entry, nil
}
