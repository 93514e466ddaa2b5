// Package messagebus routes envelopes between agents inside one process. It
// maintains a FIFO mailbox per agent, a registry of broadcast/observer
// handlers, timed receive, and a correlation-based request/response helper.
package messagebus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-agent-substrate/pkg/envelope"
)

var (
	// ErrMissingSender is returned by Request when the request envelope has
	// no sender to route the reply back to. A programming error at the call
	// site; never retried.
	ErrMissingSender = errors.New("request envelope requires a sender_id")

	// ErrMissingRecipient is returned by Request when the request envelope
	// has no recipient.
	ErrMissingRecipient = errors.New("request envelope requires a recipient_id")

	// ErrNilEnvelope is returned by Send for a nil envelope.
	ErrNilEnvelope = errors.New("cannot send a nil envelope")
)

// Handler observes envelopes. Direct handlers registered for an agent are
// invoked for every envelope delivered to that agent's mailbox; all handlers
// are invoked, in registration order, for broadcasts. A handler error is
// logged and isolated: it never fails the sender's Send call and never stops
// delivery to the remaining handlers.
type Handler func(ctx context.Context, env *envelope.Envelope) error

// AuditFunc receives best-effort audit events ("message sent",
// "handler failed"). A panicking audit hook is recovered and logged; it can
// never block or fail delivery.
type AuditFunc func(event string, env *envelope.Envelope)

// Registration identifies a registered handler so it can be removed again.
// Handlers are funcs and not comparable, so registration is token-based.
type Registration struct {
	id      string
	agentID string
	fn      Handler
}

// AgentID returns the agent the handler was registered for.
func (r *Registration) AgentID() string { return r.agentID }

// Config holds tunables for the bus.
type Config struct {
	// WarnDepth logs a warning when a mailbox grows past this depth.
	// Zero disables the check.
	WarnDepth int

	// Audit, when set, receives best-effort audit events alongside the
	// bus's own structured logging.
	Audit AuditFunc
}

// NewConfigDefaults provides a config with sensible defaults.
func NewConfigDefaults() *Config {
	return &Config{WarnDepth: 1000}
}

// Bus is the in-process message bus. Construct one per process and inject it
// into agent adapters; the bus holds no global state.
type Bus struct {
	logger zerolog.Logger
	cfg    Config

	mu            sync.RWMutex
	mailboxes     map[string]*mailbox
	registrations []*Registration // registration order, preserved for broadcast
}

// New creates a Bus. A nil cfg uses defaults.
func New(cfg *Config, logger zerolog.Logger) *Bus {
	if cfg == nil {
		cfg = NewConfigDefaults()
	}
	return &Bus{
		logger:    logger.With().Str("component", "MessageBus").Logger(),
		cfg:       *cfg,
		mailboxes: make(map[string]*mailbox),
	}
}

// Send routes an envelope. With a recipient set, the envelope is appended to
// that agent's mailbox (created on first use) and the agent's registered
// handlers observe it; without one, every registered handler is invoked in
// registration order. Send returns the envelope's message ID, minting one
// when absent. Handler failures are logged, never propagated.
func (b *Bus) Send(ctx context.Context, env *envelope.Envelope) (string, error) {
	if env == nil {
		return "", ErrNilEnvelope
	}
	if err := env.Validate(); err != nil {
		return "", fmt.Errorf("invalid envelope: %w", err)
	}
	if env.MessageID == "" {
		env.MessageID = envelope.NewID()
	}

	if env.IsBroadcast() {
		b.dispatch(ctx, env, b.snapshotHandlers(""))
	} else {
		depth := b.getMailbox(env.RecipientID).enqueue(env)
		if b.cfg.WarnDepth > 0 && depth > b.cfg.WarnDepth {
			b.logger.Warn().
				Str("recipient_id", env.RecipientID).
				Int("depth", depth).
				Msg("Mailbox depth exceeds warn threshold.")
		}
		b.dispatch(ctx, env, b.snapshotHandlers(env.RecipientID))
	}

	b.audit("message sent", env)
	return env.MessageID, nil
}

// Receive blocks until an envelope is available in the agent's mailbox or
// the timeout elapses. A timeout is a normal outcome and returns (nil, nil).
// Receiving for an unknown agent creates its empty mailbox rather than
// failing. Envelopes from one sender are received in send order.
func (b *Bus) Receive(ctx context.Context, agentID string, timeout time.Duration) (*envelope.Envelope, error) {
	return b.getMailbox(agentID).receive(ctx, timeout)
}

// RegisterHandler adds a handler observing the given agent's deliveries (and
// all broadcasts). The returned Registration is the token for removal.
func (b *Bus) RegisterHandler(agentID string, h Handler) *Registration {
	reg := &Registration{
		id:      uuid.NewString(),
		agentID: agentID,
		fn:      h,
	}
	b.mu.Lock()
	b.registrations = append(b.registrations, reg)
	b.mu.Unlock()

	b.logger.Debug().Str("agent_id", agentID).Str("registration_id", reg.id).Msg("Handler registered.")
	return reg
}

// UnregisterHandler removes a previously registered handler. Removing an
// unknown or already-removed registration reports false; it never fails.
func (b *Bus) UnregisterHandler(reg *Registration) bool {
	if reg == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.registrations {
		if r.id == reg.id {
			b.registrations = append(b.registrations[:i], b.registrations[i+1:]...)
			return true
		}
	}
	return false
}

// MailboxDepth reports the number of undelivered envelopes queued for an
// agent. Unknown agents have depth zero.
func (b *Bus) MailboxDepth(agentID string) int {
	b.mu.RLock()
	mb, ok := b.mailboxes[agentID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return mb.depth()
}

// getMailbox returns the agent's mailbox, creating it on first use.
func (b *Bus) getMailbox(agentID string) *mailbox {
	b.mu.RLock()
	mb, ok := b.mailboxes[agentID]
	b.mu.RUnlock()
	if ok {
		return mb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if mb, ok = b.mailboxes[agentID]; ok {
		return mb
	}
	mb = newMailbox()
	b.mailboxes[agentID] = mb
	return mb
}

// snapshotHandlers copies the matching registrations so dispatch runs
// without holding the registry lock. An empty agentID matches everything
// (broadcast).
func (b *Bus) snapshotHandlers(agentID string) []*Registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if agentID == "" {
		return append([]*Registration(nil), b.registrations...)
	}
	var regs []*Registration
	for _, r := range b.registrations {
		if r.agentID == agentID {
			regs = append(regs, r)
		}
	}
	return regs
}

// dispatch invokes handlers synchronously in registration order, isolating
// each failure or panic to the handler that caused it.
func (b *Bus) dispatch(ctx context.Context, env *envelope.Envelope, regs []*Registration) {
	for _, reg := range regs {
		if err := b.invoke(ctx, reg, env); err != nil {
			b.logger.Error().
				Err(err).
				Str("agent_id", reg.agentID).
				Str("message_id", env.MessageID).
				Msg("Handler failed during dispatch.")
			b.audit("handler failed", env)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, reg *Registration, env *envelope.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return reg.fn(ctx, env)
}

// audit emits a best-effort audit event. A failing hook must never block a
// send, so panics are swallowed into the log.
func (b *Bus) audit(event string, env *envelope.Envelope) {
	b.logger.Debug().
		Str("event", event).
		Str("message_id", env.MessageID).
		Str("sender_id", env.SenderID).
		Str("recipient_id", env.RecipientID).
		Str("message_type", string(env.Type)).
		Msg("Audit event.")

	if b.cfg.Audit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("Audit hook panicked.")
		}
	}()
	b.cfg.Audit(event, env)
}
