package queue

// redis.go implements the reliable queue on Redis lists. Enqueue LPUSHes the
// JSON envelope; ClaimBlocking atomically moves it to the processing list
// with BRPopLPush; Ack LREMs it once handled. A reaper periodically moves
// claimed-but-unacked envelopes back (RequeueStale), so a worker crash
// results in redelivery rather than loss.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cartloom/conveyor/internal/pipeline"
)

// Redis is a Queue backed by a Redis list pair.
type Redis struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
}

// NewRedis creates a Redis queue. baseKey names the list pair, e.g.
// "conveyor:messages" and "conveyor:messages:processing".
func NewRedis(rdb *redis.Client, baseKey string) *Redis {
	return &Redis{
		rdb:           rdb,
		queueKey:      baseKey,
		processingKey: baseKey + ":processing",
	}
}

// Enqueue pushes the envelope onto the queue list.
func (q *Redis) Enqueue(ctx context.Context, env pipeline.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return q.rdb.LPush(ctx, q.queueKey, payload).Err()
}

// ClaimBlocking moves the oldest envelope to the processing list, waiting up
// to timeout.
func (q *Redis) ClaimBlocking(ctx context.Context, timeout time.Duration) (pipeline.Envelope, bool, error) {
	payload, err := q.rdb.BRPopLPush(ctx, q.queueKey, q.processingKey, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return pipeline.Envelope{}, false, nil
	}
	if err != nil {
		return pipeline.Envelope{}, false, err
	}

	var env pipeline.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		// Drop the malformed payload so it cannot wedge the processing list.
		_ = q.rdb.LRem(ctx, q.processingKey, 1, payload).Err()
		return pipeline.Envelope{}, false, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, true, nil
}

// Ack removes the envelope from the processing list.
func (q *Redis) Ack(ctx context.Context, env pipeline.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return q.rdb.LRem(ctx, q.processingKey, 1, payload).Err()
}

// RequeueStale moves up to max envelopes from processing back to the queue.
func (q *Redis) RequeueStale(ctx context.Context, max int64) (int64, error) {
	var moved int64
	for i := int64(0); i < max; i++ {
		_, err := q.rdb.RPopLPush(ctx, q.processingKey, q.queueKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}
