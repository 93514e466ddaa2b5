package memorystore

import (
	"sort"
	"sync"
	"time"
)

// FallbackTier is the in-process tier of last resort: authoritative local
// state used when Redis and the durable tier are unreachable. It is not
// shared across processes and is lost on restart.
//
// All methods are safe for concurrent use. Entries are cloned on the way in
// and out so callers never alias tier-held state.
type FallbackTier struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewFallbackTier creates an empty in-process tier.
func NewFallbackTier() *FallbackTier {
	return &FallbackTier{
		entries: make(map[string]*Entry),
	}
}

// Put stores a copy of the entry.
func (t *FallbackTier) Put(entry *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[entry.ID] = entry.clone()
}

// Get returns a copy of the entry, or ErrNotFound. Expiry filtering is the
// store's concern, matching the durable tier's Get contract.
func (t *FallbackTier) Get(id string) (*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.clone(), nil
}

// Touch bumps the access stats of a held entry. Touching an absent entry is
// a no-op.
func (t *FallbackTier) Touch(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[id]; ok {
		entry.AccessedCount++
		ts := at
		entry.LastAccessed = &ts
	}
}

// Query filters live entries in memory, ordered by creation time descending
// with offset/limit pagination, matching the durable tier's ordering
// exactly.
func (t *FallbackTier) Query(f Filter, now time.Time) []*Entry {
	t.mu.RLock()
	matched := make([]*Entry, 0)
	for _, entry := range t.entries {
		if entry.Expired(now) || !f.matches(entry) {
			continue
		}
		matched = append(matched, entry.clone())
	}
	t.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []*Entry{}
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched
}

// Delete removes an entry, reporting whether it was present.
func (t *FallbackTier) Delete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

// DeleteExpired sweeps entries whose expiry has passed, returning how many
// were removed.
func (t *FallbackTier) DeleteExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, entry := range t.entries {
		if entry.Expired(now) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of physically held entries, expired or not.
func (t *FallbackTier) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
