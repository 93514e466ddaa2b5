package memorystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TieredStore reads and writes entries across the three tiers, preferring
// faster tiers for reads and writing through to every reachable tier. A
// failing external tier degrades the operation to the remaining tiers; only
// total failure surfaces to the caller. The store holds no long-lived locks
// and no cross-tier transaction: tier state is the source of truth.
type TieredStore struct {
	cache    CacheTier   // tier 1; nil when not configured
	durable  DurableTier // tier 2; nil when not configured
	fallback *FallbackTier
	logger   zerolog.Logger
}

// NewTieredStore assembles a store. Either external tier may be nil; the
// in-process fallback tier always exists, so a store with no external tiers
// still satisfies the full operation set within one process.
func NewTieredStore(cache CacheTier, durable DurableTier, logger zerolog.Logger) *TieredStore {
	return &TieredStore{
		cache:    cache,
		durable:  durable,
		fallback: NewFallbackTier(),
		logger:   logger.With().Str("component", "TieredStore").Logger(),
	}
}

// Store persists a new entry, deriving its ID from (type, creation time,
// content digest), and writes it to each tier independently: a failure in
// one tier is logged and does not abort the others. The fallback write is
// the floor for success.
func (s *TieredStore) Store(ctx context.Context, req StoreRequest) (string, error) {
	if req.Type == "" {
		return "", ErrMissingType
	}

	now := time.Now().UTC()
	id, err := NewEntryID(req.Type, now, req.Content)
	if err != nil {
		return "", err
	}

	entry := &Entry{
		ID:        id,
		Type:      req.Type,
		Content:   req.Content,
		Metadata:  buildMetadata(req),
		UserID:    req.UserID,
		SessionID: req.SessionID,
		CreatedAt: now,
	}
	if req.TTL > 0 {
		expires := now.Add(req.TTL)
		entry.ExpiresAt = &expires
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, entry, req.TTL); err != nil {
			s.logger.Error().Err(err).Str("memory_id", id).Msg("Cache tier write failed; continuing.")
		}
	}
	if s.durable != nil {
		if err := s.durable.Insert(ctx, entry); err != nil {
			s.logger.Error().Err(err).Str("memory_id", id).Msg("Durable tier write failed; continuing.")
		}
	}
	s.fallback.Put(entry)

	s.logger.Debug().Str("memory_id", id).Str("type", string(req.Type)).Msg("Entry stored.")
	return id, nil
}

// Retrieve fetches an entry by ID, trying the cache tier, then the durable
// tier, then the fallback. Expired entries are filtered on every path, and
// an expired fallback entry is purged lazily on read. A hit bumps the access
// stats (see bumpAccess) and the returned entry carries the bumped counters.
func (s *TieredStore) Retrieve(ctx context.Context, id string) (*Entry, error) {
	now := time.Now().UTC()

	if s.cache != nil {
		entry, err := s.cache.Get(ctx, id)
		switch {
		case err == nil:
			if !entry.Expired(now) {
				return s.bumpAccess(ctx, entry, now), nil
			}
		case !errors.Is(err, ErrNotFound):
			s.logger.Error().Err(err).Str("memory_id", id).Msg("Cache tier read failed; trying durable tier.")
		}
	}

	if s.durable != nil {
		entry, err := s.durable.Get(ctx, id)
		switch {
		case err == nil:
			if !entry.Expired(now) {
				return s.bumpAccess(ctx, entry, now), nil
			}
		case !errors.Is(err, ErrNotFound):
			s.logger.Error().Err(err).Str("memory_id", id).Msg("Durable tier read failed; trying fallback tier.")
		}
	}

	entry, err := s.fallback.Get(id)
	if err != nil {
		return nil, ErrNotFound
	}
	if entry.Expired(now) {
		s.fallback.Delete(id)
		return nil, ErrNotFound
	}
	return s.bumpAccess(ctx, entry, now), nil
}

// Query returns live entries matching the filter, newest first. The durable
// tier answers with server-side filtering and pagination; when it is absent
// or unreachable the fallback tier filters in memory with identical
// ordering, so callers cannot tell the paths apart.
func (s *TieredStore) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	now := time.Now().UTC()

	if s.durable != nil {
		entries, err := s.durable.Query(ctx, f, now)
		if err == nil {
			return entries, nil
		}
		s.logger.Error().Err(err).Msg("Durable tier query failed; falling back to in-process tier.")
	}
	return s.fallback.Query(f, now), nil
}

// Delete removes the entry from every tier independently and reports true if
// at least one tier actually held it. A second delete of the same ID
// therefore reports false.
func (s *TieredStore) Delete(ctx context.Context, id string) (bool, error) {
	removed := false

	if s.cache != nil {
		ok, err := s.cache.Delete(ctx, id)
		if err != nil {
			s.logger.Error().Err(err).Str("memory_id", id).Msg("Cache tier delete failed; continuing.")
		}
		removed = removed || ok
	}
	if s.durable != nil {
		ok, err := s.durable.Delete(ctx, id)
		if err != nil {
			s.logger.Error().Err(err).Str("memory_id", id).Msg("Durable tier delete failed; continuing.")
		}
		removed = removed || ok
	}
	removed = s.fallback.Delete(id) || removed

	return removed, nil
}

// CleanupExpired sweeps expired entries from the durable and fallback tiers.
// The cache tier relies on native key expiry and needs no sweep. The sweep
// is idempotent and safe to run concurrently with reads and writes.
func (s *TieredStore) CleanupExpired(ctx context.Context) error {
	now := time.Now().UTC()

	var durableErr error
	if s.durable != nil {
		swept, err := s.durable.DeleteExpired(ctx, now)
		if err != nil {
			durableErr = err
			s.logger.Error().Err(err).Msg("Durable tier cleanup failed.")
		} else if swept > 0 {
			s.logger.Debug().Int64("swept", swept).Msg("Durable tier cleanup removed expired entries.")
		}
	}

	if swept := s.fallback.DeleteExpired(now); swept > 0 {
		s.logger.Debug().Int("swept", swept).Msg("Fallback tier cleanup removed expired entries.")
	}
	return durableErr
}

// StartCleanup runs CleanupExpired on the given interval until the context
// is cancelled. The returned channel closes when the loop has exited.
func (s *TieredStore) StartCleanup(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.CleanupExpired(ctx); err != nil {
					s.logger.Error().Err(err).Msg("Periodic cleanup pass failed.")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

// Close releases the external tier connections.
func (s *TieredStore) Close() error {
	var errs []error
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close cache tier: %w", err))
		}
	}
	if s.durable != nil {
		if err := s.durable.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close durable tier: %w", err))
		}
	}
	return errors.Join(errs...)
}

// bumpAccess applies the read-then-bump-access contract: the returned entry
// carries the incremented counters, the durable tier records the hit, and
// the fallback tier keeps its in-process copy aligned. The cached copy in
// the fast tier is not rewritten, so counters read straight from the cache
// lag the durable tier's.
func (s *TieredStore) bumpAccess(ctx context.Context, entry *Entry, now time.Time) *Entry {
	bumped := entry.clone()
	bumped.AccessedCount++
	ts := now
	bumped.LastAccessed = &ts

	if s.durable != nil {
		if err := s.durable.TouchAccess(ctx, entry.ID, now); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Error().Err(err).Str("memory_id", entry.ID).Msg("Failed to record access on durable tier.")
		}
	}
	s.fallback.Touch(entry.ID, now)
	return bumped
}

// buildMetadata merges the caller's metadata with the identifying fields the
// store guarantees are present when supplied.
func buildMetadata(req StoreRequest) map[string]any {
	if req.Metadata == nil && req.UserID == "" && req.SessionID == "" {
		return nil
	}
	metadata := make(map[string]any, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.UserID != "" {
		metadata["user_id"] = req.UserID
	}
	if req.SessionID != "" {
		metadata["session_id"] = req.SessionID
	}
	return metadata
}
