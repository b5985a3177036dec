package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/task"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", workerName))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-w.stopChan:
			logger.Debug("Worker goroutine stopping - stopChan closed")
			return

		case <-ctx.Done():
			logger.Debug("Worker goroutine stopping - context canceled")
			return

		case msg := <-w.jobsChan:
			w.inFlight.Add(1)
			w.process(ctx, msg, logger)
			w.inFlight.Add(-1)
		}
	}
}

// process runs the handler and settles the delivery according to the retry policy.
// A task that already started is allowed to finish after shutdown begins.
func (w *Worker) process(ctx context.Context, msg *message, logger *slog.Logger) {
	t := msg.task
	logger = logger.With(
		slog.String("task_type", string(t.Type)),
		slog.Int("attempt", t.Attempt),
		slog.Uint64("delivery_tag", msg.delivery.DeliveryTag),
	)

	taskCtx := context.WithoutCancel(ctx)
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, w.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.handler.Handle(taskCtx, t)
	disposition := w.policy.Decide(t, err)

	// Settling uses a fresh context so a timed-out handler can still be rescheduled
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	switch disposition.Action {
	case task.ActionAck:
		w.ack(msg, logger)
		logger.Info("Task processed",
			slog.Duration("duration", time.Since(start)),
		)

	case task.ActionRetry:
		logger.Warn("Task failed, scheduling retry",
			slog.Duration("retry_after", disposition.Delay),
			slog.String("error", err.Error()),
		)
		if retryErr := w.rescheduler.Retry(settleCtx, t.Next(), disposition.Delay); retryErr != nil {
			logger.Error("Failed to schedule retry, requeueing",
				slog.String("error", retryErr.Error()),
			)
			w.nack(msg, true, logger)
			return
		}
		w.ack(msg, logger)

	case task.ActionDeadLetter:
		logger.Error("Task dead-lettered",
			slog.String("reason", disposition.Reason),
		)
		if dlErr := w.rescheduler.DeadLetter(settleCtx, t, disposition.Reason); dlErr != nil {
			logger.Error("Failed to publish to dead-letter queue, rejecting",
				slog.String("error", dlErr.Error()),
			)
			// The work queue's dead-letter exchange still catches rejected messages
			w.nack(msg, false, logger)
			return
		}
		w.ack(msg, logger)
	}
}

func (w *Worker) ack(msg *message, logger *slog.Logger) {
	if err := msg.delivery.Ack(false); err != nil {
		logger.Error("Failed to ACK message",
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) nack(msg *message, requeue bool, logger *slog.Logger) {
	if err := msg.delivery.Nack(false, requeue); err != nil {
		logger.Error("Failed to NACK message",
			slog.String("error", err.Error()),
			slog.Bool("requeue", requeue),
		)
	}
}
