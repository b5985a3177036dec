package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/task"
	"github.com/cuongbtq/transform-pipeline/shared/logger"
	"github.com/cuongbtq/transform-pipeline/shared/rabbitmq"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu          sync.Mutex
	published   []rabbitmq.Message
	retried     []rabbitmq.Message
	deadLetters []rabbitmq.Message
	err         error
}

func (p *recordingPublisher) Publish(_ context.Context, msg rabbitmq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	return p.err
}

func (p *recordingPublisher) PublishRetry(_ context.Context, msg rabbitmq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retried = append(p.retried, msg)
	return p.err
}

func (p *recordingPublisher) PublishDeadLetter(_ context.Context, msg rabbitmq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deadLetters = append(p.deadLetters, msg)
	return p.err
}

func mustTask(t *testing.T, payload any) task.Task {
	t.Helper()
	tsk, err := task.New(payload)
	require.NoError(t, err)
	return tsk
}

func TestMux(t *testing.T) {
	mux := NewMux()

	var got task.Type
	mux.Register(task.TypeCheckNotification, HandlerFunc(func(_ context.Context, tsk task.Task) error {
		got = tsk.Type
		return nil
	}))

	require.NoError(t, mux.Handle(context.Background(), mustTask(t, task.CheckNotification{SessionID: "s", ProjectID: "p"})))
	assert.Equal(t, task.TypeCheckNotification, got)

	err := mux.Handle(context.Background(), mustTask(t, task.ExecuteTransform{JobID: uuid.NewString()}))
	assert.ErrorIs(t, err, task.ErrUnknownType)
}

func TestRabbitQueue_Enqueue(t *testing.T) {
	pub := &recordingPublisher{}
	q := NewRabbitQueue(pub, logger.NewNop().Logger)

	jobID := uuid.NewString()
	require.NoError(t, EnqueueNew(context.Background(), q, task.ExecuteTransform{JobID: jobID}))

	require.Len(t, pub.published, 1)
	msg := pub.published[0]
	assert.Equal(t, string(task.TypeExecuteTransform), msg.RoutingKey)
	assert.Equal(t, string(task.TypeExecuteTransform), msg.Type)
	assert.JSONEq(t, `{"job_id":"`+jobID+`"}`, string(msg.Body))
	assert.Equal(t, int32(1), msg.Headers[HeaderAttempt])
	assert.Zero(t, msg.Expiration)

	err := q.Enqueue(context.Background(), task.Task{Type: task.TypeExecuteTransform, Payload: []byte(`{"job_id":"nope"}`), Attempt: 1})
	assert.ErrorIs(t, err, task.ErrInvalidPayload)
	assert.Len(t, pub.published, 1, "invalid tasks are never published")

	pub.err = errors.New("channel closed")
	assert.Error(t, EnqueueNew(context.Background(), q, task.ExecuteTransform{JobID: jobID}))
}

func TestRabbitQueue_RetryAndDeadLetter(t *testing.T) {
	pub := &recordingPublisher{}
	q := NewRabbitQueue(pub, logger.NewNop().Logger)
	tsk := mustTask(t, task.CheckNotification{SessionID: "s", ProjectID: "p"})

	require.NoError(t, q.Retry(context.Background(), tsk.Next(), 4*time.Second))
	require.Len(t, pub.retried, 1)
	assert.Equal(t, 4*time.Second, pub.retried[0].Expiration)
	assert.Equal(t, int32(2), pub.retried[0].Headers[HeaderAttempt])

	require.NoError(t, q.DeadLetter(context.Background(), tsk, "retries exhausted"))
	require.Len(t, pub.deadLetters, 1)
	assert.Equal(t, "retries exhausted", pub.deadLetters[0].Headers[HeaderError])
}

func TestTaskFromDelivery(t *testing.T) {
	tests := []struct {
		name     string
		delivery amqp.Delivery
		want     task.Task
	}{
		{
			name: "type and attempt header",
			delivery: amqp.Delivery{
				Type:       string(task.TypeDispatchExport),
				RoutingKey: string(task.TypeDispatchExport),
				Headers:    amqp.Table{HeaderAttempt: int32(3)},
				Body:       []byte(`{}`),
			},
			want: task.Task{Type: task.TypeDispatchExport, Attempt: 3, Payload: []byte(`{}`)},
		},
		{
			name: "routing key fallback and missing header",
			delivery: amqp.Delivery{
				RoutingKey:  string(task.TypeExecuteTransform),
				Redelivered: true,
				Body:        []byte(`{}`),
			},
			want: task.Task{Type: task.TypeExecuteTransform, Attempt: 1, Redelivered: true, Payload: []byte(`{}`)},
		},
		{
			name: "int64 header",
			delivery: amqp.Delivery{
				Type:    string(task.TypeCheckNotification),
				Headers: amqp.Table{HeaderAttempt: int64(2)},
			},
			want: task.Task{Type: task.TypeCheckNotification, Attempt: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TaskFromDelivery(tt.delivery)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.Equal(t, tt.want.Attempt, got.Attempt)
			assert.Equal(t, tt.want.Redelivered, got.Redelivered)
			assert.Equal(t, []byte(tt.want.Payload), []byte(got.Payload))
		})
	}
}

func newMemory(t *testing.T, h Handler, policy task.RetryPolicy) *Memory {
	t.Helper()
	q := NewMemory(logger.NewNop().Logger, MemoryOptions{Capacity: 16, Workers: 2, Policy: policy})
	require.NoError(t, q.Start(context.Background(), h))
	t.Cleanup(q.Stop)
	return q
}

func fastPolicy(maxAttempts int) task.RetryPolicy {
	return task.RetryPolicy{
		MaxAttempts:       maxAttempts,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestMemory_ProcessesTasks(t *testing.T) {
	var handled atomic.Int32
	q := newMemory(t, HandlerFunc(func(context.Context, task.Task) error {
		handled.Add(1)
		return nil
	}), fastPolicy(3))

	for range 5 {
		require.NoError(t, EnqueueNew(context.Background(), q, task.ExecuteTransform{JobID: uuid.NewString()}))
	}
	q.Wait()

	assert.Equal(t, int32(5), handled.Load())
	assert.Empty(t, q.DeadLetters())
}

func TestMemory_RetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	var attempts []int
	q := newMemory(t, HandlerFunc(func(_ context.Context, tsk task.Task) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, tsk.Attempt)
		if tsk.Attempt < 3 {
			return task.NewRetryableError(errors.New("executor busy"))
		}
		return nil
	}), fastPolicy(5))

	require.NoError(t, EnqueueNew(context.Background(), q, task.ExecuteTransform{JobID: uuid.NewString()}))
	q.Wait()

	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Empty(t, q.DeadLetters())
}

func TestMemory_DeadLetters(t *testing.T) {
	var calls atomic.Int32
	q := newMemory(t, HandlerFunc(func(_ context.Context, tsk task.Task) error {
		calls.Add(1)
		if tsk.Type == task.TypeCheckNotification {
			return errors.New("unclassified")
		}
		return task.NewRetryableError(errors.New("still down"))
	}), fastPolicy(2))

	require.NoError(t, EnqueueNew(context.Background(), q, task.ExecuteTransform{JobID: uuid.NewString()}))
	require.NoError(t, EnqueueNew(context.Background(), q, task.CheckNotification{SessionID: "s", ProjectID: "p"}))
	q.Wait()

	assert.Equal(t, int32(3), calls.Load(), "two attempts plus one non-retryable call")

	dead := q.DeadLetters()
	require.Len(t, dead, 2)
	byType := map[task.Type]DeadLetter{}
	for _, d := range dead {
		byType[d.Task.Type] = d
		assert.NotEmpty(t, d.Reason)
	}
	assert.Equal(t, 2, byType[task.TypeExecuteTransform].Task.Attempt)
	assert.Equal(t, 1, byType[task.TypeCheckNotification].Task.Attempt)
}

func TestMemory_EnqueueRejections(t *testing.T) {
	block := make(chan struct{})
	q := NewMemory(logger.NewNop().Logger, MemoryOptions{Capacity: 1, Workers: 1, Policy: fastPolicy(1)})
	require.NoError(t, q.Start(context.Background(), HandlerFunc(func(context.Context, task.Task) error {
		<-block
		return nil
	})))

	err := q.Enqueue(context.Background(), task.Task{Type: "resize", Payload: []byte(`{}`), Attempt: 1})
	assert.ErrorIs(t, err, task.ErrUnknownType)

	// One task held by the worker, one in the buffer, the next does not fit
	require.NoError(t, EnqueueNew(context.Background(), q, task.ExecuteTransform{JobID: uuid.NewString()}))
	require.Eventually(t, func() bool { return len(q.ch) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, EnqueueNew(context.Background(), q, task.ExecuteTransform{JobID: uuid.NewString()}))
	assert.Error(t, EnqueueNew(context.Background(), q, task.ExecuteTransform{JobID: uuid.NewString()}))

	close(block)
	q.Wait()
	q.Stop()

	assert.ErrorIs(t, EnqueueNew(context.Background(), q, task.ExecuteTransform{JobID: uuid.NewString()}), ErrClosed)
	assert.ErrorIs(t, q.Start(context.Background(), NewMux()), ErrClosed)
}
