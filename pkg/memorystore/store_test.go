package memorystore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-agent-substrate/pkg/memorystore"
)

// fakeCacheTier emulates the fast tier, including native per-key expiry.
type fakeCacheTier struct {
	entries     map[string]*memorystore.Entry
	deadlines   map[string]time.Time
	puts        int
	unreachable bool
}

func newFakeCacheTier() *fakeCacheTier {
	return &fakeCacheTier{
		entries:   make(map[string]*memorystore.Entry),
		deadlines: make(map[string]time.Time),
	}
}

func (f *fakeCacheTier) Put(_ context.Context, entry *memorystore.Entry, ttl time.Duration) error {
	if f.unreachable {
		return errors.New("cache tier is down")
	}
	f.puts++
	f.entries[entry.ID] = entry
	if ttl > 0 {
		f.deadlines[entry.ID] = time.Now().Add(ttl)
	}
	return nil
}

func (f *fakeCacheTier) Get(_ context.Context, id string) (*memorystore.Entry, error) {
	if f.unreachable {
		return nil, errors.New("cache tier is down")
	}
	if deadline, ok := f.deadlines[id]; ok && time.Now().After(deadline) {
		delete(f.entries, id)
		delete(f.deadlines, id)
	}
	entry, ok := f.entries[id]
	if !ok {
		return nil, memorystore.ErrNotFound
	}
	return entry, nil
}

func (f *fakeCacheTier) Delete(_ context.Context, id string) (bool, error) {
	if f.unreachable {
		return false, errors.New("cache tier is down")
	}
	_, ok := f.entries[id]
	delete(f.entries, id)
	delete(f.deadlines, id)
	return ok, nil
}

func (f *fakeCacheTier) Close() error { return nil }

// fakeDurableTier emulates the relational tier on top of the in-process
// tier, which shares the exact ordering contract.
type fakeDurableTier struct {
	state       *memorystore.FallbackTier
	inserts     int
	queries     int
	unreachable bool
}

func newFakeDurableTier() *fakeDurableTier {
	return &fakeDurableTier{state: memorystore.NewFallbackTier()}
}

func (f *fakeDurableTier) Insert(_ context.Context, entry *memorystore.Entry) error {
	if f.unreachable {
		return errors.New("durable tier is down")
	}
	f.inserts++
	f.state.Put(entry)
	return nil
}

func (f *fakeDurableTier) Get(_ context.Context, id string) (*memorystore.Entry, error) {
	if f.unreachable {
		return nil, errors.New("durable tier is down")
	}
	return f.state.Get(id)
}

func (f *fakeDurableTier) Query(_ context.Context, filter memorystore.Filter, now time.Time) ([]*memorystore.Entry, error) {
	if f.unreachable {
		return nil, errors.New("durable tier is down")
	}
	f.queries++
	return f.state.Query(filter, now), nil
}

func (f *fakeDurableTier) TouchAccess(_ context.Context, id string, at time.Time) error {
	if f.unreachable {
		return errors.New("durable tier is down")
	}
	if _, err := f.state.Get(id); err != nil {
		return err
	}
	f.state.Touch(id, at)
	return nil
}

func (f *fakeDurableTier) Delete(_ context.Context, id string) (bool, error) {
	if f.unreachable {
		return false, errors.New("durable tier is down")
	}
	return f.state.Delete(id), nil
}

func (f *fakeDurableTier) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	if f.unreachable {
		return 0, errors.New("durable tier is down")
	}
	return int64(f.state.DeleteExpired(now)), nil
}

func (f *fakeDurableTier) Close() error { return nil }

func TestTieredStore_StoreAndRetrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("Round-trip preserves content, metadata, and type", func(t *testing.T) {
		cache := newFakeCacheTier()
		durable := newFakeDurableTier()
		store := memorystore.NewTieredStore(cache, durable, zerolog.Nop())

		id, err := store.Store(ctx, memorystore.StoreRequest{
			Type:      memorystore.TypeConversation,
			Content:   map[string]any{"turn": "hello"},
			Metadata:  map[string]any{"channel": "dm"},
			UserID:    "u1",
			SessionID: "s1",
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		got, err := store.Retrieve(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, memorystore.TypeConversation, got.Type)
		assert.Equal(t, map[string]any{"turn": "hello"}, got.Content)
		assert.Equal(t, "dm", got.Metadata["channel"])
		assert.Equal(t, "u1", got.Metadata["user_id"], "supplied user_id is always carried in metadata")
		assert.Equal(t, "s1", got.Metadata["session_id"])
		assert.Equal(t, int64(1), got.AccessedCount)
		require.NotNil(t, got.LastAccessed)
	})

	t.Run("Writes through to every tier independently", func(t *testing.T) {
		cache := newFakeCacheTier()
		durable := newFakeDurableTier()
		store := memorystore.NewTieredStore(cache, durable, zerolog.Nop())

		_, err := store.Store(ctx, memorystore.StoreRequest{Type: memorystore.TypeContext, Content: "c"})
		require.NoError(t, err)

		assert.Equal(t, 1, cache.puts)
		assert.Equal(t, 1, durable.inserts)
	})

	t.Run("Survives both external tiers being down", func(t *testing.T) {
		cache := newFakeCacheTier()
		cache.unreachable = true
		durable := newFakeDurableTier()
		durable.unreachable = true
		store := memorystore.NewTieredStore(cache, durable, zerolog.Nop())

		id, err := store.Store(ctx, memorystore.StoreRequest{Type: memorystore.TypeContext, Content: "resilient"})
		require.NoError(t, err, "fallback write is the success floor")

		got, err := store.Retrieve(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "resilient", got.Content)
	})

	t.Run("Cache failure degrades the read to the durable tier", func(t *testing.T) {
		cache := newFakeCacheTier()
		durable := newFakeDurableTier()
		store := memorystore.NewTieredStore(cache, durable, zerolog.Nop())

		id, err := store.Store(ctx, memorystore.StoreRequest{Type: memorystore.TypeContext, Content: "degraded"})
		require.NoError(t, err)

		cache.unreachable = true
		got, err := store.Retrieve(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "degraded", got.Content)
	})

	t.Run("Missing type is a configuration error", func(t *testing.T) {
		store := memorystore.NewTieredStore(nil, nil, zerolog.Nop())
		_, err := store.Store(ctx, memorystore.StoreRequest{Content: "typeless"})
		assert.ErrorIs(t, err, memorystore.ErrMissingType)
	})

	t.Run("Unknown ID is ErrNotFound", func(t *testing.T) {
		store := memorystore.NewTieredStore(newFakeCacheTier(), newFakeDurableTier(), zerolog.Nop())
		_, err := store.Retrieve(ctx, "context_0_ffffffffffff")
		assert.ErrorIs(t, err, memorystore.ErrNotFound)
	})
}

func TestTieredStore_AccessCounting(t *testing.T) {
	ctx := context.Background()

	// No cache tier: every read is served by the durable tier, which also
	// records the hit, so counters advance monotonically across reads.
	durable := newFakeDurableTier()
	store := memorystore.NewTieredStore(nil, durable, zerolog.Nop())

	id, err := store.Store(ctx, memorystore.StoreRequest{Type: memorystore.TypeUserPreference, Content: "dark-mode"})
	require.NoError(t, err)

	first, err := store.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.AccessedCount)

	second, err := store.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.AccessedCount)
}

func TestTieredStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewTieredStore(newFakeCacheTier(), newFakeDurableTier(), zerolog.Nop())

	id, err := store.Store(ctx, memorystore.StoreRequest{Type: memorystore.TypeContext, Content: "to-delete"})
	require.NoError(t, err)

	removed, err := store.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, removed, "second delete reports not-found")

	_, err = store.Retrieve(ctx, id)
	assert.ErrorIs(t, err, memorystore.ErrNotFound)
}

func TestTieredStore_Expiry(t *testing.T) {
	ctx := context.Background()

	t.Run("Entry dies after its TTL regardless of tier", func(t *testing.T) {
		store := memorystore.NewTieredStore(newFakeCacheTier(), newFakeDurableTier(), zerolog.Nop())

		id, err := store.Store(ctx, memorystore.StoreRequest{
			Type:    memorystore.TypeContext,
			Content: "short-lived",
			TTL:     40 * time.Millisecond,
		})
		require.NoError(t, err)

		got, err := store.Retrieve(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "short-lived", got.Content)

		time.Sleep(60 * time.Millisecond)

		_, err = store.Retrieve(ctx, id)
		assert.ErrorIs(t, err, memorystore.ErrNotFound)
	})

	t.Run("CleanupExpired sweeps the durable and fallback tiers", func(t *testing.T) {
		durable := newFakeDurableTier()
		store := memorystore.NewTieredStore(nil, durable, zerolog.Nop())

		_, err := store.Store(ctx, memorystore.StoreRequest{
			Type:    memorystore.TypeContext,
			Content: "sweep-me",
			TTL:     20 * time.Millisecond,
		})
		require.NoError(t, err)
		_, err = store.Store(ctx, memorystore.StoreRequest{Type: memorystore.TypeContext, Content: "keep-me"})
		require.NoError(t, err)

		time.Sleep(40 * time.Millisecond)
		require.NoError(t, store.CleanupExpired(ctx))

		assert.Equal(t, 1, durable.state.Len())
		entries, err := store.Query(ctx, memorystore.Filter{Type: memorystore.TypeContext})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "keep-me", entries[0].Content)
	})
}

func TestTieredStore_Query(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, store *memorystore.TieredStore) []string {
		t.Helper()
		var ids []string
		for _, content := range []string{"first", "second", "third"} {
			id, err := store.Store(ctx, memorystore.StoreRequest{
				Type:    memorystore.TypeContext,
				Content: content,
				UserID:  "u1",
			})
			require.NoError(t, err)
			ids = append(ids, id)
			// Distinct creation times keep the expected ordering unambiguous.
			time.Sleep(2 * time.Millisecond)
		}
		return ids
	}

	t.Run("Durable tier answers with newest-first pagination", func(t *testing.T) {
		durable := newFakeDurableTier()
		store := memorystore.NewTieredStore(newFakeCacheTier(), durable, zerolog.Nop())
		ids := seed(t, store)

		entries, err := store.Query(ctx, memorystore.Filter{
			Type:   memorystore.TypeContext,
			UserID: "u1",
			Limit:  2,
		})

		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, ids[2], entries[0].ID)
		assert.Equal(t, ids[1], entries[1].ID)
		assert.Equal(t, 1, durable.queries)
	})

	t.Run("Fallback path returns identical ordering when the durable tier is down", func(t *testing.T) {
		durable := newFakeDurableTier()
		store := memorystore.NewTieredStore(nil, durable, zerolog.Nop())
		ids := seed(t, store)

		durable.unreachable = true
		entries, err := store.Query(ctx, memorystore.Filter{
			Type:   memorystore.TypeContext,
			UserID: "u1",
			Limit:  2,
		})

		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, ids[2], entries[0].ID)
		assert.Equal(t, ids[1], entries[1].ID)
	})

	t.Run("Filter predicates are conjunctive", func(t *testing.T) {
		store := memorystore.NewTieredStore(nil, newFakeDurableTier(), zerolog.Nop())

		_, err := store.Store(ctx, memorystore.StoreRequest{Type: memorystore.TypeConversation, Content: "match", UserID: "u1"})
		require.NoError(t, err)
		_, err = store.Store(ctx, memorystore.StoreRequest{Type: memorystore.TypeConversation, Content: "wrong-user", UserID: "u2"})
		require.NoError(t, err)
		_, err = store.Store(ctx, memorystore.StoreRequest{Type: memorystore.TypeContext, Content: "wrong-type", UserID: "u1"})
		require.NoError(t, err)

		entries, err := store.Query(ctx, memorystore.Filter{Type: memorystore.TypeConversation, UserID: "u1"})

		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "match", entries[0].Content)
	})
}

func TestTieredStore_StartCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := memorystore.NewTieredStore(nil, nil, zerolog.Nop())

	_, err := store.Store(ctx, memorystore.StoreRequest{
		Type:    memorystore.TypeContext,
		Content: "ticking away",
		TTL:     10 * time.Millisecond,
	})
	require.NoError(t, err)

	done := store.StartCleanup(ctx, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		entries, qErr := store.Query(ctx, memorystore.Filter{Type: memorystore.TypeContext})
		return qErr == nil && len(entries) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop on context cancellation")
	}
}
