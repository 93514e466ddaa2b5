package messagebus

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/go-agent-substrate/pkg/envelope"
)

// mailbox is one agent's ordered inbox of undelivered envelopes. The queue
// is unbounded; depth monitoring is the bus's concern (see Config.WarnDepth).
//
// The notify channel has capacity one: enqueue posts a wakeup without
// blocking, and receivers re-check the queue in a loop, so a coalesced
// notification can never strand an envelope. After popping, a receiver
// re-posts the wakeup if envelopes remain, which keeps multiple concurrent
// receivers on the same mailbox live. The mutex is never held across a
// suspension point.
type mailbox struct {
	mu     sync.Mutex
	queue  []*envelope.Envelope
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		notify: make(chan struct{}, 1),
	}
}

// enqueue appends an envelope, wakes at most one waiting receiver, and
// returns the resulting queue depth.
func (m *mailbox) enqueue(env *envelope.Envelope) int {
	m.mu.Lock()
	m.queue = append(m.queue, env)
	depth := len(m.queue)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return depth
}

// receive blocks until an envelope is available, the timeout elapses, or the
// context is cancelled. A timeout is a normal outcome and yields (nil, nil).
// A timeout <= 0 blocks until an envelope arrives or the context ends.
func (m *mailbox) receive(ctx context.Context, timeout time.Duration) (*envelope.Envelope, error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		if env := m.pop(); env != nil {
			return env, nil
		}

		select {
		case <-m.notify:
		case <-timeoutC:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// pop removes and returns the oldest envelope, or nil when the queue is
// empty. If envelopes remain after the pop, the wakeup is re-posted for the
// next receiver.
func (m *mailbox) pop() *envelope.Envelope {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return nil
	}
	env := m.queue[0]
	m.queue = m.queue[1:]
	remaining := len(m.queue)
	m.mu.Unlock()

	if remaining > 0 {
		select {
		case m.notify <- struct{}{}:
		default:
		}
	}
	return env
}

// depth reports the current queue length.
func (m *mailbox) depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
