package memorystore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntryID(t *testing.T) {
	createdAt := time.Date(2025, 5, 1, 10, 0, 0, 123456789, time.UTC)

	t.Run("Deterministic for identical inputs", func(t *testing.T) {
		a, err := NewEntryID(TypeContext, createdAt, map[string]any{"k": "v"})
		require.NoError(t, err)
		b, err := NewEntryID(TypeContext, createdAt, map[string]any{"k": "v"})
		require.NoError(t, err)

		assert.Equal(t, a, b)
		assert.Contains(t, a, "context_")
	})

	t.Run("Distinct content yields distinct IDs", func(t *testing.T) {
		a, err := NewEntryID(TypeContext, createdAt, "one")
		require.NoError(t, err)
		b, err := NewEntryID(TypeContext, createdAt, "two")
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
	})

	t.Run("Unmarshalable content is rejected", func(t *testing.T) {
		_, err := NewEntryID(TypeContext, createdAt, make(chan int))
		require.Error(t, err)
	})
}

func TestEntryExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&Entry{}).Expired(now), "no expiry never expires")
	assert.False(t, (&Entry{ExpiresAt: &future}).Expired(now))
	assert.True(t, (&Entry{ExpiresAt: &past}).Expired(now))
}

func TestEntryCloneIsolation(t *testing.T) {
	entry := &Entry{
		ID:       "e1",
		Type:     TypeConversation,
		Metadata: map[string]any{"user_id": "u1"},
	}

	c := entry.clone()
	c.Metadata["user_id"] = "someone-else"
	c.AccessedCount = 99

	assert.Equal(t, "u1", entry.Metadata["user_id"])
	assert.Equal(t, int64(0), entry.AccessedCount)
}

func TestFilterMatches(t *testing.T) {
	entry := &Entry{Type: TypeConversation, UserID: "u1", SessionID: "s1"}

	assert.True(t, Filter{}.matches(entry), "empty filter matches everything")
	assert.True(t, Filter{Type: TypeConversation, UserID: "u1"}.matches(entry))
	assert.False(t, Filter{Type: TypeContext}.matches(entry))
	assert.False(t, Filter{UserID: "u2"}.matches(entry))
	assert.False(t, Filter{SessionID: "s2"}.matches(entry))
}
