package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/task"
)

// Memory defaults
const (
	DefaultMemoryCapacity = 256
	DefaultMemoryWorkers  = 4
)

// DeadLetter is a task the memory queue gave up on
type DeadLetter struct {
	Task   task.Task
	Reason string
	At     time.Time
}

// MemoryOptions configures a Memory queue
type MemoryOptions struct {
	Capacity   int
	Workers    int
	JobTimeout time.Duration
	Policy     task.RetryPolicy
}

// Memory is an in-process bounded task queue with a worker pool. It applies the
// same retry and dead-letter decisions as the broker-backed worker, delaying
// retries with timers instead of a TTL queue.
type Memory struct {
	log        *slog.Logger
	ch         chan task.Task
	quit       chan struct{}
	workers    int
	jobTimeout time.Duration
	policy     task.RetryPolicy

	wg       sync.WaitGroup // worker goroutines
	inflight sync.WaitGroup // enqueued or scheduled tasks not yet settled

	mu          sync.Mutex
	started     bool
	stopped     bool
	timers      map[*time.Timer]struct{}
	deadLetters []DeadLetter
}

// NewMemory creates a Memory queue; call Start before enqueueing
func NewMemory(logger *slog.Logger, opts MemoryOptions) *Memory {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultMemoryCapacity
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultMemoryWorkers
	}
	return &Memory{
		log:        logger,
		ch:         make(chan task.Task, opts.Capacity),
		quit:       make(chan struct{}),
		workers:    opts.Workers,
		jobTimeout: opts.JobTimeout,
		policy:     opts.Policy.WithDefaults(),
		timers:     make(map[*time.Timer]struct{}),
	}
}

// Start launches the workers that feed tasks to h
func (q *Memory) Start(ctx context.Context, h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrClosed
	}
	if q.started {
		return errors.New("queue already started")
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, h, i)
	}
	q.started = true
	return nil
}

// Enqueue adds a task without blocking; it fails when the queue is full
func (q *Memory) Enqueue(_ context.Context, t task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrClosed
	}

	q.inflight.Add(1)
	select {
	case q.ch <- t:
		return nil
	default:
		q.inflight.Done()
		return errors.New("queue is full")
	}
}

func (q *Memory) worker(ctx context.Context, h Handler, idx int) {
	defer q.wg.Done()
	log := q.log.With(slog.Int("worker", idx))

	for {
		select {
		case <-q.quit:
			return
		case <-ctx.Done():
			return
		case t := <-q.ch:
			q.process(ctx, h, t, log)
		}
	}
}

func (q *Memory) process(ctx context.Context, h Handler, t task.Task, log *slog.Logger) {
	defer q.inflight.Done()

	taskCtx := ctx
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := h.Handle(taskCtx, t)
	d := q.policy.Decide(t, err)

	log = log.With(
		slog.String("task_type", string(t.Type)),
		slog.Int("attempt", t.Attempt),
		slog.Duration("duration", time.Since(start)),
	)

	switch d.Action {
	case task.ActionAck:
		log.Debug("Task processed")
	case task.ActionRetry:
		log.Warn("Task failed, scheduling retry",
			slog.Duration("retry_after", d.Delay),
			slog.Any("error", err),
		)
		q.schedule(t.Next(), d.Delay)
	case task.ActionDeadLetter:
		log.Error("Task dead-lettered",
			slog.String("reason", d.Reason),
		)
		q.mu.Lock()
		q.deadLetters = append(q.deadLetters, DeadLetter{Task: t, Reason: d.Reason, At: time.Now()})
		q.mu.Unlock()
	}
}

// schedule redelivers t after delay. The inflight count is taken before the
// current delivery settles so Wait never observes a gap.
func (q *Memory) schedule(t task.Task, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}

	q.inflight.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()

		select {
		case q.ch <- t:
		case <-q.quit:
			q.inflight.Done()
		}
	})
	q.timers[timer] = struct{}{}
}

// Wait blocks until every enqueued task, including scheduled retries, has settled
func (q *Memory) Wait() {
	q.inflight.Wait()
}

// DeadLetters returns a copy of the tasks given up on so far
func (q *Memory) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.deadLetters...)
}

// Stop stops accepting work, cancels pending retries and waits for workers to
// finish their current task
func (q *Memory) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for timer := range q.timers {
		if timer.Stop() {
			q.inflight.Done()
		}
	}
	q.timers = nil
	close(q.quit)
	q.mu.Unlock()

	q.wg.Wait()

	if n := len(q.ch); n > 0 {
		q.log.Warn("Memory queue stopped with undelivered tasks",
			slog.Int("count", n),
		)
	}
}
