package busbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-agent-substrate/pkg/messagebus"
)

// InjectorConfig holds configuration for the inbound side of the bridge.
type InjectorConfig struct {
	SubscriptionID string

	// OriginID must match the local Publisher's origin so the injector can
	// skip traffic this process mirrored out itself.
	OriginID string

	MaxOutstandingMessages int
	NumGoroutines          int

	SubscriptionExistsTimeout time.Duration
	StopTimeout               time.Duration
}

// NewInjectorDefaults provides a config with sensible defaults.
func NewInjectorDefaults(subscriptionID, originID string) *InjectorConfig {
	return &InjectorConfig{
		SubscriptionID:            subscriptionID,
		OriginID:                  originID,
		MaxOutstandingMessages:    100,
		NumGoroutines:             5,
		SubscriptionExistsTimeout: 20 * time.Second,
		StopTimeout:               30 * time.Second,
	}
}

// Injector consumes bridged envelopes from a subscription and sends them
// into the local bus. Decode or routing failures Nack the message for
// redelivery; successfully routed envelopes are Acked.
type Injector struct {
	subscription *pubsub.Subscription
	bus          *messagebus.Bus
	logger       zerolog.Logger
	originID     string
	stopTimeout  time.Duration

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewInjector creates an Injector on an existing subscription.
func NewInjector(ctx context.Context, cfg *InjectorConfig, client *pubsub.Client, bus *messagebus.Bus, logger zerolog.Logger) (*Injector, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for injector")
	}

	sub := client.Subscription(cfg.SubscriptionID)
	existsCtx, cancel := context.WithTimeout(ctx, cfg.SubscriptionExistsTimeout)
	defer cancel()
	exists, err := sub.Exists(existsCtx)
	if err != nil || !exists {
		return nil, fmt.Errorf("subscription %s does not exist: %w", cfg.SubscriptionID, err)
	}

	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	return &Injector{
		subscription: sub,
		bus:          bus,
		logger:       logger.With().Str("component", "BridgeInjector").Str("subscription_id", cfg.SubscriptionID).Logger(),
		originID:     cfg.OriginID,
		stopTimeout:  cfg.StopTimeout,
		done:         make(chan struct{}),
	}, nil
}

// Start begins pulling bridged envelopes in a background goroutine.
func (i *Injector) Start(ctx context.Context) error {
	i.logger.Info().Msg("Starting bridge injector...")
	receiveCtx, cancel := context.WithCancel(ctx)
	i.cancel = cancel

	go func() {
		defer close(i.done)
		err := i.subscription.Receive(receiveCtx, i.handleMessage)
		if err != nil && !errors.Is(err, context.Canceled) {
			i.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
		i.logger.Info().Msg("Bridge injector receive goroutine stopped.")
	}()
	return nil
}

func (i *Injector) handleMessage(ctx context.Context, msg *pubsub.Message) {
	if i.originID != "" && messageOrigin(msg) == i.originID {
		// Our own mirrored traffic coming back around.
		msg.Ack()
		return
	}

	env, err := decodeMessage(msg)
	if err != nil {
		i.logger.Error().Err(err).Str("pubsub_id", msg.ID).Msg("Dropping undecodable bridged message.")
		// Redelivery cannot fix a malformed body.
		msg.Ack()
		return
	}

	if _, err := i.bus.Send(ctx, env); err != nil {
		i.logger.Error().Err(err).Str("message_id", env.MessageID).Msg("Failed to route bridged envelope; Nacking.")
		msg.Nack()
		return
	}
	msg.Ack()
}

// Stop ceases consumption and waits for the receive goroutine to finish.
func (i *Injector) Stop() error {
	var err error
	i.stopOnce.Do(func() {
		i.logger.Info().Msg("Stopping bridge injector...")
		if i.cancel != nil {
			i.cancel()
		}
		select {
		case <-i.done:
		case <-time.After(i.stopTimeout):
			err = fmt.Errorf("timeout waiting for bridge injector to stop")
		}
	})
	return err
}

// Done returns a channel closed when the injector has fully stopped.
func (i *Injector) Done() <-chan struct{} {
	return i.done
}
