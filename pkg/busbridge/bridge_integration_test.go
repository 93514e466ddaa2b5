//go:build integration

package busbridge_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-agent-substrate/pkg/busbridge"
	"github.com/illmade-knight/go-agent-substrate/pkg/envelope"
	"github.com/illmade-knight/go-agent-substrate/pkg/messagebus"
)

// Requires a Pub/Sub emulator, e.g.
//
//	gcloud beta emulators pubsub start --project=test-project
//	export PUBSUB_EMULATOR_HOST=localhost:8085
func TestBridge_Integration(t *testing.T) {
	if os.Getenv("PUBSUB_EMULATOR_HOST") == "" {
		t.Skip("PUBSUB_EMULATOR_HOST not set; skipping bridge integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	client, err := pubsub.NewClient(ctx, "test-project")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "bridge-test-topic")
	require.NoError(t, err)
	t.Cleanup(func() { _ = topic.Delete(context.Background()) })

	sub, err := client.CreateSubscription(ctx, "bridge-test-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Delete(context.Background()) })

	// Sender side: a publisher in "process A".
	pub, err := busbridge.NewPublisher(ctx, busbridge.NewPublisherDefaults("bridge-test-topic", "process-a"), client, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(pub.Stop)

	// Receiver side: a bus and injector in "process B".
	remoteBus := messagebus.New(nil, zerolog.Nop())
	inj, err := busbridge.NewInjector(ctx, busbridge.NewInjectorDefaults("bridge-test-sub", "process-b"), client, remoteBus, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, inj.Start(ctx))
	t.Cleanup(func() { _ = inj.Stop() })

	env, err := envelope.New("planner", "remote-worker", envelope.Task{TaskType: "replicate"})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, env))

	got, err := remoteBus.Receive(ctx, "remote-worker", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, env.MessageID, got.MessageID)
	task, ok := got.Content.(envelope.Task)
	require.True(t, ok)
	assert.Equal(t, "replicate", task.TaskType)
}
