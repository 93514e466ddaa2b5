package memorystore

import (
	"context"
	"time"
)

// CacheTier is the fast tier: a key-value protocol with native per-key
// expiry. Misses and expired keys surface as ErrNotFound.
type CacheTier interface {
	// Put writes the full serialized entry. A positive ttl becomes the
	// key's native expiry; zero means no expiry.
	Put(ctx context.Context, entry *Entry, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Entry, error)
	// Delete reports whether a key was actually removed.
	Delete(ctx context.Context, id string) (bool, error)
	Close() error
}

// DurableTier is the relational tier: structured filtering, pagination, and
// access-stat bookkeeping over the memory_entries table.
type DurableTier interface {
	Insert(ctx context.Context, entry *Entry) error
	// Get returns the raw row; expiry filtering is the store's concern.
	Get(ctx context.Context, id string) (*Entry, error)
	// Query excludes entries expired at the given instant and returns
	// results ordered by creation time descending.
	Query(ctx context.Context, f Filter, now time.Time) ([]*Entry, error)
	// TouchAccess increments accessed_count and stamps last_accessed.
	TouchAccess(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) (bool, error)
	// DeleteExpired removes entries expired at the given instant,
	// returning how many were swept.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Close() error
}
