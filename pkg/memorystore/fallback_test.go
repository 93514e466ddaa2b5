package memorystore

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackTier(t *testing.T) {
	now := time.Now().UTC()

	t.Run("Put and Get round-trip with isolation", func(t *testing.T) {
		tier := NewFallbackTier()
		entry := &Entry{ID: "e1", Type: TypeContext, Content: "payload", CreatedAt: now}

		tier.Put(entry)
		got, err := tier.Get("e1")
		require.NoError(t, err)
		assert.Equal(t, "payload", got.Content)

		// Mutating the returned copy must not reach tier state.
		got.Content = "tampered"
		again, err := tier.Get("e1")
		require.NoError(t, err)
		assert.Equal(t, "payload", again.Content)
	})

	t.Run("Get miss is ErrNotFound", func(t *testing.T) {
		tier := NewFallbackTier()
		_, err := tier.Get("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Touch bumps access stats in place", func(t *testing.T) {
		tier := NewFallbackTier()
		tier.Put(&Entry{ID: "e1", Type: TypeContext, CreatedAt: now})

		tier.Touch("e1", now)
		tier.Touch("e1", now.Add(time.Second))
		tier.Touch("absent", now) // no-op

		got, err := tier.Get("e1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.AccessedCount)
		require.NotNil(t, got.LastAccessed)
		assert.Equal(t, now.Add(time.Second), *got.LastAccessed)
	})

	t.Run("Query filters, orders newest first, and paginates", func(t *testing.T) {
		tier := NewFallbackTier()
		for i := 0; i < 5; i++ {
			tier.Put(&Entry{
				ID:        fmt.Sprintf("e%d", i),
				Type:      TypeContext,
				UserID:    "u1",
				CreatedAt: now.Add(time.Duration(i) * time.Second),
			})
		}
		tier.Put(&Entry{ID: "other-user", Type: TypeContext, UserID: "u2", CreatedAt: now.Add(time.Hour)})
		tier.Put(&Entry{ID: "other-type", Type: TypeConversation, UserID: "u1", CreatedAt: now.Add(time.Hour)})

		got := tier.Query(Filter{Type: TypeContext, UserID: "u1", Limit: 2, Offset: 1}, now)

		require.Len(t, got, 2)
		assert.Equal(t, "e3", got[0].ID)
		assert.Equal(t, "e2", got[1].ID)
	})

	t.Run("Query excludes expired entries", func(t *testing.T) {
		tier := NewFallbackTier()
		past := now.Add(-time.Minute)
		tier.Put(&Entry{ID: "dead", Type: TypeContext, CreatedAt: now.Add(-time.Hour), ExpiresAt: &past})
		tier.Put(&Entry{ID: "live", Type: TypeContext, CreatedAt: now})

		got := tier.Query(Filter{Type: TypeContext}, now)

		require.Len(t, got, 1)
		assert.Equal(t, "live", got[0].ID)
	})

	t.Run("Offset past the result set is empty", func(t *testing.T) {
		tier := NewFallbackTier()
		tier.Put(&Entry{ID: "e1", Type: TypeContext, CreatedAt: now})

		assert.Empty(t, tier.Query(Filter{Offset: 5}, now))
	})

	t.Run("Delete reports presence", func(t *testing.T) {
		tier := NewFallbackTier()
		tier.Put(&Entry{ID: "e1", Type: TypeContext, CreatedAt: now})

		assert.True(t, tier.Delete("e1"))
		assert.False(t, tier.Delete("e1"))
	})

	t.Run("DeleteExpired sweeps only dead entries", func(t *testing.T) {
		tier := NewFallbackTier()
		past := now.Add(-time.Minute)
		future := now.Add(time.Minute)
		tier.Put(&Entry{ID: "dead", Type: TypeContext, CreatedAt: now, ExpiresAt: &past})
		tier.Put(&Entry{ID: "live", Type: TypeContext, CreatedAt: now, ExpiresAt: &future})
		tier.Put(&Entry{ID: "forever", Type: TypeContext, CreatedAt: now})

		swept := tier.DeleteExpired(now)

		assert.Equal(t, 1, swept)
		assert.Equal(t, 2, tier.Len())
		_, err := tier.Get("dead")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
