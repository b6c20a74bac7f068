// Package queue provides the stage-message transport. The production
// implementation is a Redis reliable queue (queue list + processing list,
// claim via BRPopLPush, ack via LREM) giving at-least-once delivery; the
// memory queue backs unit tests and single-process dev runs.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cartloom/conveyor/internal/pipeline"
)

// Queue is the full consumer-side contract. It extends pipeline.Enqueuer
// with claiming, acknowledging and stale-message recovery.
type Queue interface {
	pipeline.Enqueuer

	// ClaimBlocking waits up to timeout for an envelope and moves it to the
	// processing set. ok is false when the wait elapsed empty.
	ClaimBlocking(ctx context.Context, timeout time.Duration) (env pipeline.Envelope, ok bool, err error)

	// Ack removes a claimed envelope from the processing set.
	Ack(ctx context.Context, env pipeline.Envelope) error

	// RequeueStale moves up to max claimed-but-unacked envelopes back to the
	// queue. Run periodically; this is what makes delivery at-least-once
	// across worker crashes.
	RequeueStale(ctx context.Context, max int64) (int64, error)
}

// Memory is an in-process Queue. Claimed envelopes are tracked so
// RequeueStale behaves like the Redis implementation.
type Memory struct {
	mu      sync.Mutex
	items   []pipeline.Envelope
	claimed []pipeline.Envelope
	wake    chan struct{}
}

// NewMemory creates an empty in-process queue.
func NewMemory() *Memory {
	return &Memory{wake: make(chan struct{}, 1)}
}

// Enqueue appends an envelope.
func (q *Memory) Enqueue(_ context.Context, env pipeline.Envelope) error {
	q.mu.Lock()
	q.items = append(q.items, env)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// ClaimBlocking pops the oldest envelope, waiting up to timeout.
func (q *Memory) ClaimBlocking(ctx context.Context, timeout time.Duration) (pipeline.Envelope, bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items = q.items[1:]
			q.claimed = append(q.claimed, env)
			q.mu.Unlock()
			return env, true, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return pipeline.Envelope{}, false, ctx.Err()
		case <-deadline.C:
			return pipeline.Envelope{}, false, nil
		case <-q.wake:
		}
	}
}

// Ack drops the envelope from the claimed set.
func (q *Memory) Ack(_ context.Context, env pipeline.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, c := range q.claimed {
		if c.Message == env.Message {
			q.claimed = append(q.claimed[:i], q.claimed[i+1:]...)
			return nil
		}
	}
	return nil
}

// RequeueStale moves claimed envelopes back to the queue.
func (q *Memory) RequeueStale(_ context.Context, max int64) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	moved := int64(0)
	for len(q.claimed) > 0 && moved < max {
		q.items = append(q.items, q.claimed[0])
		q.claimed = q.claimed[1:]
		moved++
	}
	return moved, nil
}

// Len returns the number of waiting envelopes. Tests only.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
