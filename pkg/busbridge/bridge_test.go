package busbridge

import (
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-agent-substrate/pkg/envelope"
)

func TestEncodeDecodeMessage(t *testing.T) {
	t.Run("Round-trips an envelope through the wire format", func(t *testing.T) {
		env, err := envelope.New("planner", "worker",
			envelope.Task{TaskType: "summarise", Parameters: map[string]any{"doc": "a.txt"}},
			envelope.WithCorrelationID("corr-1"))
		require.NoError(t, err)

		msg, err := encodeMessage(env, "proc-1")
		require.NoError(t, err)
		assert.Equal(t, "task", msg.Attributes[attrMessageType])
		assert.Equal(t, "planner", msg.Attributes[attrSenderID])
		assert.Equal(t, "worker", msg.Attributes[attrRecipientID])
		assert.Equal(t, "corr-1", msg.Attributes[attrCorrelationID])
		assert.Equal(t, "proc-1", messageOrigin(msg))

		got, err := decodeMessage(msg)
		require.NoError(t, err)
		assert.Equal(t, env.MessageID, got.MessageID)
		assert.Equal(t, env.Type, got.Type)
		task, ok := got.Content.(envelope.Task)
		require.True(t, ok)
		assert.Equal(t, "summarise", task.TaskType)
	})

	t.Run("Broadcast envelopes omit the recipient attribute", func(t *testing.T) {
		env, err := envelope.New("announcer", "", envelope.Notification{Event: "tick"})
		require.NoError(t, err)

		msg, err := encodeMessage(env, "proc-1")
		require.NoError(t, err)

		_, present := msg.Attributes[attrRecipientID]
		assert.False(t, present)
	})

	t.Run("Refuses to bridge an invalid envelope", func(t *testing.T) {
		invalid := &envelope.Envelope{
			MessageID: "m1",
			SenderID:  "a",
			Type:      envelope.TypeQuery,
			Content:   envelope.Response{Response: "mismatched"},
			Timestamp: time.Now().UTC(),
		}

		_, err := encodeMessage(invalid, "proc-1")
		require.Error(t, err)
	})

	t.Run("Rejects undecodable bodies", func(t *testing.T) {
		_, err := decodeMessage(&pubsub.Message{Data: []byte("not-json")})
		require.Error(t, err)

		_, err = decodeMessage(&pubsub.Message{
			Data: []byte(`{"message_id":"m1","sender_id":"a","message_type":"gossip","content":{},"timestamp":"2025-06-01T00:00:00Z"}`),
		})
		require.Error(t, err)
	})
}
