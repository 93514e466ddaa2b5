// Package envelope defines the addressed, typed message unit agents exchange
// over the message bus, along with its JSON wire codec.
package envelope

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNilContent is returned when an envelope is built without a payload.
var ErrNilContent = errors.New("envelope content cannot be nil")

// Envelope is the unit of exchange on the bus. An envelope is immutable once
// sent: the bus never modifies a delivered envelope, and the request/response
// helper only sets ReplyTo before handing it to Send.
type Envelope struct {
	// MessageID uniquely identifies the envelope. Minted as a ULID at
	// construction when the caller does not supply one.
	MessageID string `json:"message_id"`

	// SenderID identifies the originating agent.
	SenderID string `json:"sender_id"`

	// RecipientID identifies the target agent's mailbox. Empty means the
	// envelope is broadcast to every registered handler instead.
	RecipientID string `json:"recipient_id,omitempty"`

	// Type is always derived from the concrete Content variant.
	Type MessageType `json:"message_type"`

	// Content is the typed payload. Its shape is determined by Type.
	Content Content `json:"content"`

	// CorrelationID links a response back to its originating request.
	CorrelationID string `json:"correlation_id,omitempty"`

	// ReplyTo overrides the agent a response should be addressed to, for
	// multi-hop delegation.
	ReplyTo string `json:"reply_to,omitempty"`

	// Timestamp is the creation time of the envelope.
	Timestamp time.Time `json:"timestamp"`

	// TTLSeconds is advisory: the bus does not drop expired envelopes, but
	// consumers can check Expired before acting on one.
	TTLSeconds int `json:"ttl,omitempty"`
}

// NewID mints a message ID. ULIDs keep IDs sortable by creation time, which
// makes bus audit trails easy to read.
func NewID() string {
	return ulid.Make().String()
}

// Option customises an envelope at construction time.
type Option func(*Envelope)

// WithMessageID supplies an explicit message ID instead of a minted ULID.
func WithMessageID(id string) Option {
	return func(e *Envelope) { e.MessageID = id }
}

// WithCorrelationID links the envelope to a prior request.
func WithCorrelationID(id string) Option {
	return func(e *Envelope) { e.CorrelationID = id }
}

// WithReplyTo sets the agent a response should be addressed to.
func WithReplyTo(agentID string) Option {
	return func(e *Envelope) { e.ReplyTo = agentID }
}

// WithTTL sets the advisory time-to-live in seconds.
func WithTTL(seconds int) Option {
	return func(e *Envelope) { e.TTLSeconds = seconds }
}

// New builds an envelope around a content variant, deriving the message type
// from the variant's concrete shape. An empty recipientID makes the envelope
// a broadcast.
func New(senderID, recipientID string, content Content, opts ...Option) (*Envelope, error) {
	if content == nil {
		return nil, ErrNilContent
	}

	e := &Envelope{
		SenderID:    senderID,
		RecipientID: recipientID,
		Type:        content.messageType(),
		Content:     content,
		Timestamp:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.MessageID == "" {
		e.MessageID = ulid.Make().String()
	}
	return e, nil
}

// Validate checks the envelope's type/content consistency. Envelopes built
// via New are always valid; Validate guards envelopes decoded from the wire
// or assembled by hand.
func (e *Envelope) Validate() error {
	if e.Content == nil {
		return ErrNilContent
	}
	if got := e.Content.messageType(); got != e.Type {
		return fmt.Errorf("message type %q does not match content shape %q", e.Type, got)
	}
	return nil
}

// Expired reports whether the advisory TTL has elapsed at the given instant.
// Envelopes without a TTL never expire.
func (e *Envelope) Expired(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return now.After(e.Timestamp.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// IsBroadcast reports whether the envelope has no direct recipient.
func (e *Envelope) IsBroadcast() bool {
	return e.RecipientID == ""
}
