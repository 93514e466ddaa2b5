// Package agent provides the runtime adapter that connects an agent process
// to the coordination substrate. The adapter composes a bus reference and a
// background mailbox pump; agents register typed handlers rather than
// inheriting bus behaviour.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-agent-substrate/pkg/envelope"
	"github.com/illmade-knight/go-agent-substrate/pkg/memorystore"
	"github.com/illmade-knight/go-agent-substrate/pkg/messagebus"
)

// TypedHandler processes one inbound envelope of a given message type.
// Returning non-nil content sends it back as a reply correlated to the
// inbound envelope's message ID.
type TypedHandler func(ctx context.Context, env *envelope.Envelope) (envelope.Content, error)

// Config holds the adapter's identity and pump tuning.
type Config struct {
	// AgentID is the mailbox the adapter pumps.
	AgentID string

	// PollTimeout bounds each blocking receive so shutdown is responsive.
	PollTimeout time.Duration
}

// NewConfigDefaults provides a config with sensible defaults.
func NewConfigDefaults(agentID string) *Config {
	return &Config{
		AgentID:     agentID,
		PollTimeout: 250 * time.Millisecond,
	}
}

// Adapter pulls envelopes from its agent's mailbox in a background goroutine
// and dispatches them by message type. The memory store reference is the
// agent's context persistence surface; the adapter itself never interprets
// stored content.
type Adapter struct {
	cfg    Config
	bus    *messagebus.Bus
	store  *memorystore.TieredStore
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[envelope.MessageType]TypedHandler

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates an adapter bound to an agent ID. The store may be nil for
// agents that keep no context.
func New(cfg *Config, bus *messagebus.Bus, store *memorystore.TieredStore, logger zerolog.Logger) *Adapter {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 250 * time.Millisecond
	}
	return &Adapter{
		cfg:      *cfg,
		bus:      bus,
		store:    store,
		logger:   logger.With().Str("component", "AgentAdapter").Str("agent_id", cfg.AgentID).Logger(),
		handlers: make(map[envelope.MessageType]TypedHandler),
		done:     make(chan struct{}),
	}
}

// On registers the handler for a message type, replacing any previous one.
func (a *Adapter) On(t envelope.MessageType, h TypedHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[t] = h
}

// Store returns the adapter's memory store reference; nil when the agent
// keeps no context.
func (a *Adapter) Store() *memorystore.TieredStore {
	return a.store
}

// Send forwards an envelope through the bus on the agent's behalf.
func (a *Adapter) Send(ctx context.Context, env *envelope.Envelope) (string, error) {
	return a.bus.Send(ctx, env)
}

// Request sends a request envelope from this agent and awaits the
// correlated reply.
func (a *Adapter) Request(ctx context.Context, recipientID string, content envelope.Content, timeout time.Duration) (*envelope.Envelope, error) {
	req, err := envelope.New(a.cfg.AgentID, recipientID, content)
	if err != nil {
		return nil, err
	}
	return a.bus.Request(ctx, req, timeout)
}

// Start launches the mailbox pump. Starting twice is a no-op.
func (a *Adapter) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		pumpCtx, cancel := context.WithCancel(ctx)
		a.cancel = cancel
		go a.pump(pumpCtx)
		a.logger.Info().Msg("Agent adapter started.")
	})
}

// Stop halts the pump and waits for it to drain, respecting the context's
// deadline.
func (a *Adapter) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		select {
		case <-a.done:
			a.logger.Info().Msg("Agent adapter stopped.")
		case <-ctx.Done():
			err = fmt.Errorf("timed out waiting for agent adapter to stop: %w", ctx.Err())
		}
	})
	return err
}

// pump is the background receive loop: pull, dispatch, reply.
func (a *Adapter) pump(ctx context.Context) {
	defer close(a.done)
	for {
		env, err := a.bus.Receive(ctx, a.cfg.AgentID, a.cfg.PollTimeout)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			a.logger.Error().Err(err).Msg("Mailbox receive failed.")
			continue
		}
		if env == nil {
			continue
		}
		a.dispatch(ctx, env)
	}
}

func (a *Adapter) dispatch(ctx context.Context, env *envelope.Envelope) {
	if env.Expired(time.Now().UTC()) {
		a.logger.Debug().Str("message_id", env.MessageID).Msg("Dropping envelope past its advisory TTL.")
		return
	}

	a.mu.RLock()
	handler, ok := a.handlers[env.Type]
	a.mu.RUnlock()
	if !ok {
		a.logger.Debug().
			Str("message_id", env.MessageID).
			Str("message_type", string(env.Type)).
			Msg("No handler registered for message type.")
		return
	}

	reply, err := handler(ctx, env)
	if err != nil {
		a.logger.Error().Err(err).Str("message_id", env.MessageID).Msg("Typed handler failed.")
		a.replyWith(ctx, env, envelope.ErrorReport{
			Code:    "handler_error",
			Message: err.Error(),
		})
		return
	}
	if reply != nil {
		a.replyWith(ctx, env, reply)
	}
}

// replyWith addresses a reply to the inbound envelope's ReplyTo (falling
// back to its sender) and correlates it to the inbound message ID.
func (a *Adapter) replyWith(ctx context.Context, inbound *envelope.Envelope, content envelope.Content) {
	recipient := inbound.ReplyTo
	if recipient == "" {
		recipient = inbound.SenderID
	}
	if recipient == "" {
		a.logger.Debug().Str("message_id", inbound.MessageID).Msg("Inbound envelope has no reply address.")
		return
	}

	reply, err := envelope.New(a.cfg.AgentID, recipient, content,
		envelope.WithCorrelationID(inbound.MessageID))
	if err != nil {
		a.logger.Error().Err(err).Str("message_id", inbound.MessageID).Msg("Failed to build reply envelope.")
		return
	}
	if _, err := a.bus.Send(ctx, reply); err != nil {
		a.logger.Error().Err(err).Str("message_id", inbound.MessageID).Msg("Failed to send reply envelope.")
	}
}
