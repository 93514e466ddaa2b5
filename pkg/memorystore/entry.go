// Package memorystore persists agent context entries across three storage
// tiers: a fast Redis cache with native TTL, a relational durable tier, and
// an in-process fallback used when the external tiers are unreachable.
package memorystore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports that an entry is absent or logically expired. It is a
// normal outcome, not a failure.
var ErrNotFound = errors.New("memory entry not found")

// ErrMissingType reports a store request without an entry type. A
// programming error at the call site; never retried.
var ErrMissingType = errors.New("store request requires an entry type")

// EntryType classifies an entry. The set is open: these constants cover the
// common classes, but callers may define their own.
type EntryType string

const (
	TypeConversation   EntryType = "conversation"
	TypeContext        EntryType = "context"
	TypeUserPreference EntryType = "user_preference"
	TypeSystemState    EntryType = "system_state"
)

// Entry is one persisted unit of agent context. The content payload is
// opaque to the store.
type Entry struct {
	// ID is derived deterministically from (type, created_at, content) at
	// creation and never reassigned.
	ID string `json:"id"`

	Type EntryType `json:"type"`

	// Content is an arbitrary structured payload, serialized as JSON when
	// an external tier holds the entry.
	Content any `json:"content"`

	// Metadata always carries user_id/session_id when they were supplied
	// at creation, alongside any caller-provided keys.
	Metadata map[string]any `json:"metadata,omitempty"`

	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt marks the entry logically dead once past, even while still
	// physically present in a tier.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// AccessedCount and LastAccessed are mutated only by successful reads.
	AccessedCount int64      `json:"accessed_count"`
	LastAccessed  *time.Time `json:"last_accessed,omitempty"`
}

// Expired reports whether the entry is logically dead at the given instant.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// clone returns a shallow copy with its own metadata map, so callers cannot
// mutate tier-held state through a returned entry.
func (e *Entry) clone() *Entry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// NewEntryID derives the deterministic entry ID from the type, creation
// time, and a content digest.
func NewEntryID(t EntryType, createdAt time.Time, content any) (string, error) {
	payload, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to marshal content for ID derivation: %w", err)
	}
	digest := sha256.Sum256(payload)
	return fmt.Sprintf("%s_%d_%s", t, createdAt.UnixNano(), hex.EncodeToString(digest[:])[:12]), nil
}

// StoreRequest describes a new entry to persist. Updates are modeled as a
// fresh Store producing a new ID, not in-place mutation.
type StoreRequest struct {
	Type      EntryType
	Content   any
	Metadata  map[string]any
	UserID    string
	SessionID string

	// TTL, when positive, sets the entry's expiry. The Redis tier also
	// receives it as a native per-key TTL.
	TTL time.Duration
}

// Filter selects entries for Query. Zero-valued fields match everything;
// Limit <= 0 means no limit. Results are always ordered by creation time
// descending and never include expired entries.
type Filter struct {
	Type      EntryType
	UserID    string
	SessionID string
	Limit     int
	Offset    int
}

// matches reports whether a live entry satisfies the filter predicates.
// Used by the fallback tier; the durable tiers express the same predicates
// in SQL.
func (f Filter) matches(e *Entry) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	return f.SessionID == "" || e.SessionID == f.SessionID
}
