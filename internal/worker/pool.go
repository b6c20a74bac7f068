// Package worker consumes stage messages from the queue and feeds them to
// the pipeline scheduler. One claim loop distributes envelopes to a fixed
// set of workers; every envelope is acked after handling because the
// scheduler absorbs all stage-level failures into the job record, and a
// worker crash before ack is recovered by the reaper.
package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cartloom/conveyor/internal/pipeline"
	"github.com/cartloom/conveyor/internal/queue"
)

// Pool runs a fixed number of message-handling workers over a queue.
type Pool struct {
	queue     queue.Queue
	sched     *pipeline.Scheduler
	workers   int
	claimWait time.Duration
}

// NewPool creates a pool with the given concurrency.
func NewPool(q queue.Queue, sched *pipeline.Scheduler, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:     q,
		sched:     sched,
		workers:   workers,
		claimWait: 5 * time.Second,
	}
}

// Run claims and handles messages until the context is cancelled. It returns
// once all in-flight handlers have finished.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("worker pool started", "workers", p.workers)

	envCh := make(chan pipeline.Envelope)
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		worker := i + 1
		g.Go(func() error {
			for env := range envCh {
				p.handle(ctx, worker, env)
			}
			return nil
		})
	}

	// Claim loop: queue -> processing -> workers.
	for {
		select {
		case <-ctx.Done():
			close(envCh)
			err := g.Wait()
			slog.Info("worker pool stopped")
			return err
		default:
		}

		env, ok, err := p.queue.ClaimBlocking(ctx, p.claimWait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			slog.Error("claim failed", "error", err)
			continue
		}
		if !ok {
			continue
		}

		select {
		case envCh <- env:
		case <-ctx.Done():
			// Hand the unprocessed claim back for the reaper.
		}
	}
}

func (p *Pool) handle(ctx context.Context, worker int, env pipeline.Envelope) {
	start := time.Now()
	err := p.sched.Handle(ctx, env.Message)
	if err != nil {
		slog.Error("message handling failed",
			"worker", worker,
			"job_id", env.Message.JobID,
			"stage", env.Message.Stage,
			"error", err,
		)
	} else {
		slog.Debug("message handled",
			"worker", worker,
			"job_id", env.Message.JobID,
			"stage", env.Message.Stage,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	// Ack in every case: stage failures are already persisted on the job and
	// a failed job is never auto-retried.
	if ackErr := p.queue.Ack(ctx, env); ackErr != nil {
		slog.Error("ack failed", "job_id", env.Message.JobID, "error", ackErr)
	}
}

// RunReaper periodically requeues claimed-but-unacked envelopes left behind
// by crashed workers. Blocks until the context is cancelled.
func RunReaper(ctx context.Context, q queue.Queue, interval time.Duration, batch int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := q.RequeueStale(ctx, batch)
			if err != nil {
				slog.Error("requeue stale failed", "error", err)
				continue
			}
			if moved > 0 {
				slog.Info("requeued stale messages", "count", moved)
			}
		}
	}
}
