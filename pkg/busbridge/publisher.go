package busbridge

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-agent-substrate/pkg/envelope"
	"github.com/illmade-knight/go-agent-substrate/pkg/messagebus"
)

// PublisherConfig holds configuration for the outbound side of the bridge.
type PublisherConfig struct {
	TopicID string

	// OriginID identifies this process's bridge so its own traffic is not
	// re-injected. Typically the local agent or service instance ID.
	OriginID string

	BatchSize  int           // Corresponds to Pub/Sub's CountThreshold.
	BatchDelay time.Duration // Corresponds to Pub/Sub's DelayThreshold.

	TopicExistsTimeout         time.Duration
	PublishConfirmationTimeout time.Duration
}

// NewPublisherDefaults provides a config with sensible defaults.
func NewPublisherDefaults(topicID, originID string) *PublisherConfig {
	return &PublisherConfig{
		TopicID:                    topicID,
		OriginID:                   originID,
		BatchSize:                  100,
		BatchDelay:                 100 * time.Millisecond,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
}

// Publisher mirrors envelopes from the local bus to a Pub/Sub topic. It
// validates the topic's existence before returning a functional publisher.
type Publisher struct {
	topic    *pubsub.Topic
	logger   zerolog.Logger
	originID string

	publishConfirmationTimeout time.Duration
}

// NewPublisher creates a Publisher on an existing topic.
func NewPublisher(ctx context.Context, cfg *PublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for publisher")
	}

	topic := client.Topic(cfg.TopicID)
	topic.PublishSettings.DelayThreshold = cfg.BatchDelay
	topic.PublishSettings.CountThreshold = cfg.BatchSize

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("Bridge publisher initialized successfully.")
	return &Publisher{
		topic:                      topic,
		logger:                     logger.With().Str("component", "BridgePublisher").Str("topic_id", cfg.TopicID).Logger(),
		originID:                   cfg.OriginID,
		publishConfirmationTimeout: cfg.PublishConfirmationTimeout,
	}, nil
}

// Publish mirrors one envelope to the topic and waits for confirmation.
func (p *Publisher) Publish(ctx context.Context, env *envelope.Envelope) error {
	msg, err := encodeMessage(env, p.originID)
	if err != nil {
		return err
	}

	result := p.topic.Publish(ctx, msg)
	confirmCtx, cancel := context.WithTimeout(ctx, p.publishConfirmationTimeout)
	defer cancel()
	if _, err := result.Get(confirmCtx); err != nil {
		return fmt.Errorf("failed to publish envelope %s: %w", env.MessageID, err)
	}

	p.logger.Debug().Str("message_id", env.MessageID).Msg("Envelope mirrored to Pub/Sub.")
	return nil
}

// Handler adapts the publisher for registration on the bus, so broadcasts
// (and any agent's deliveries the caller chooses) are mirrored out. Bridge
// failures surface as handler errors, which the bus logs and isolates.
func (p *Publisher) Handler() messagebus.Handler {
	return func(ctx context.Context, env *envelope.Envelope) error {
		return p.Publish(ctx, env)
	}
}

// Stop flushes pending batches and releases the topic's publish goroutines.
func (p *Publisher) Stop() {
	p.logger.Info().Msg("Stopping bridge publisher...")
	p.topic.Stop()
}
