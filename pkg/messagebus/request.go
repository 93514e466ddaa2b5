package messagebus

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/go-agent-substrate/pkg/envelope"
)

// Request sends an envelope and waits for a correlated reply.
//
// The request must carry both a sender and a recipient; the sender is also
// stamped as ReplyTo so multi-hop responders know where to address the
// reply. A scoped single-use handler is registered on the sender's own
// channel for the duration of the call and removed on every exit path:
// success, timeout, or cancellation. A reply matches when its correlation ID
// equals the request's message ID, or the request's own correlation ID when
// it has one.
//
// A timeout is a normal outcome and returns (nil, nil). If two matching
// replies race in before the handler is removed, only the first is observed
// by this call; responses are expected to be singular, but callers retrying
// a request must not assume exactly-once delivery.
func (b *Bus) Request(ctx context.Context, req *envelope.Envelope, timeout time.Duration) (*envelope.Envelope, error) {
	if req == nil {
		return nil, ErrNilEnvelope
	}
	if req.SenderID == "" {
		return nil, ErrMissingSender
	}
	if req.RecipientID == "" {
		return nil, ErrMissingRecipient
	}

	if req.MessageID == "" {
		req.MessageID = envelope.NewID()
	}
	req.ReplyTo = req.SenderID

	result := make(chan *envelope.Envelope, 1)
	var once sync.Once
	reg := b.RegisterHandler(req.SenderID, func(_ context.Context, in *envelope.Envelope) error {
		if !correlates(req, in) {
			return nil
		}
		// Single-use: a second matching reply is dropped here.
		once.Do(func() { result <- in })
		return nil
	})
	defer b.UnregisterHandler(reg)

	if _, err := b.Send(ctx, req); err != nil {
		return nil, err
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case reply := <-result:
		return reply, nil
	case <-timeoutC:
		b.logger.Debug().
			Str("message_id", req.MessageID).
			Str("recipient_id", req.RecipientID).
			Dur("timeout", timeout).
			Msg("Request timed out without a reply.")
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// correlates reports whether an incoming envelope is the reply to req.
func correlates(req, in *envelope.Envelope) bool {
	if in.CorrelationID == "" {
		return false
	}
	if in.CorrelationID == req.MessageID {
		return true
	}
	return req.CorrelationID != "" && in.CorrelationID == req.CorrelationID
}
