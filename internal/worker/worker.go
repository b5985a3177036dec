package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/queue"
	"github.com/cuongbtq/transform-pipeline/internal/task"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Source delivers task messages from the broker
type Source interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Cancel(consumerTag string) error
}

// Rescheduler moves a handled task to the retry or dead-letter path
type Rescheduler interface {
	Retry(ctx context.Context, t task.Task, delay time.Duration) error
	DeadLetter(ctx context.Context, t task.Task, reason string) error
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Source            Source
	Rescheduler       Rescheduler
	Handler           queue.Handler
	Policy            task.RetryPolicy
	Concurrency       int
	BufferSize        int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	WorkerID          string
}

// message is one delivery handed from the dispatcher to the pool
type message struct {
	task     task.Task
	delivery amqp.Delivery
}

// Worker consumes task deliveries and runs them on a fixed pool of goroutines
type Worker struct {
	logger            *slog.Logger
	source            Source
	rescheduler       Rescheduler
	handler           queue.Handler
	policy            task.RetryPolicy
	concurrency       int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	workerID          string
	jobsChan          chan *message
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
	inFlight          atomic.Int64
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	return &Worker{
		logger:            cfg.Logger.With(slog.String("worker_id", workerID)),
		source:            cfg.Source,
		rescheduler:       cfg.Rescheduler,
		handler:           cfg.Handler,
		policy:            cfg.Policy.WithDefaults(),
		concurrency:       max(cfg.Concurrency, 1),
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		workerID:          workerID,
		jobsChan:          make(chan *message, max(cfg.BufferSize, 0)),
		stopChan:          make(chan struct{}),
	}
}

// Start consumes deliveries until ctx is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Int("max_attempts", w.policy.MaxAttempts),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)

	if w.heartbeatInterval > 0 {
		w.wg.Add(1)
		go w.heartbeat(ctx)
	}

	w.startMessageDispatcher(ctx, deliveries)

	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker, letting in-flight tasks finish
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		if err := w.source.Cancel(w.workerID); err != nil {
			w.logger.Warn("Failed to cancel consumer",
				slog.String("error", err.Error()),
			)
		}
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// heartbeat periodically reports how many tasks are being processed
func (w *Worker) heartbeat(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.logger.Debug("Worker heartbeat",
				slog.Int64("in_flight", w.inFlight.Load()),
				slog.Int("queued", len(w.jobsChan)),
			)
		}
	}
}
