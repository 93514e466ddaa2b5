//go:build integration

package memorystore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-agent-substrate/pkg/memorystore"
)

func TestRedisTier_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping Redis tier integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	tier, err := memorystore.NewRedisTier(ctx, &memorystore.RedisTierConfig{Addr: addr}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tier.Close() })

	t.Run("Put and Get round-trip", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		entry := &memorystore.Entry{
			ID:        "it-redis-1",
			Type:      memorystore.TypeContext,
			Content:   map[string]any{"note": "cached"},
			CreatedAt: now,
		}

		require.NoError(t, tier.Put(ctx, entry, time.Minute))

		got, err := tier.Get(ctx, "it-redis-1")
		require.NoError(t, err)
		assert.Equal(t, entry.ID, got.ID)
		assert.Equal(t, map[string]any{"note": "cached"}, got.Content)
	})

	t.Run("Miss is ErrNotFound", func(t *testing.T) {
		_, err := tier.Get(ctx, "it-redis-absent")
		assert.ErrorIs(t, err, memorystore.ErrNotFound)
	})

	t.Run("Native TTL expires the key", func(t *testing.T) {
		entry := &memorystore.Entry{
			ID:        "it-redis-ttl",
			Type:      memorystore.TypeContext,
			Content:   "short-lived",
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, tier.Put(ctx, entry, 100*time.Millisecond))

		_, err := tier.Get(ctx, "it-redis-ttl")
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			_, err := tier.Get(ctx, "it-redis-ttl")
			return err != nil
		}, 2*time.Second, 50*time.Millisecond)
	})

	t.Run("Delete reports presence", func(t *testing.T) {
		entry := &memorystore.Entry{ID: "it-redis-del", Type: memorystore.TypeContext, Content: "x", CreatedAt: time.Now().UTC()}
		require.NoError(t, tier.Put(ctx, entry, time.Minute))

		removed, err := tier.Delete(ctx, "it-redis-del")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = tier.Delete(ctx, "it-redis-del")
		require.NoError(t, err)
		assert.False(t, removed)
	})
}
