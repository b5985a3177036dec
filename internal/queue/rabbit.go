package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/task"
	"github.com/cuongbtq/transform-pipeline/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP headers carried on every task message
const (
	HeaderAttempt = "x-attempt"
	HeaderError   = "x-error"
)

// Publisher is the subset of the RabbitMQ client used to publish tasks
type Publisher interface {
	Publish(ctx context.Context, msg rabbitmq.Message) error
	PublishRetry(ctx context.Context, msg rabbitmq.Message) error
	PublishDeadLetter(ctx context.Context, msg rabbitmq.Message) error
}

// RabbitQueue publishes tasks to the work, retry and dead-letter exchanges
type RabbitQueue struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewRabbitQueue creates a RabbitMQ backed Enqueuer
func NewRabbitQueue(publisher Publisher, logger *slog.Logger) *RabbitQueue {
	return &RabbitQueue{publisher: publisher, logger: logger}
}

// Enqueue publishes t to the work exchange, routed by its type
func (q *RabbitQueue) Enqueue(ctx context.Context, t task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	if err := q.publisher.Publish(ctx, message(t)); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", t.Type, err)
	}

	q.logger.Debug("Task enqueued",
		slog.String("task_type", string(t.Type)),
		slog.Int("attempt", t.Attempt),
	)
	return nil
}

// Retry parks t in the retry queue; the broker routes it back to the work queue after delay
func (q *RabbitQueue) Retry(ctx context.Context, t task.Task, delay time.Duration) error {
	msg := message(t)
	msg.Expiration = max(delay, time.Millisecond)

	if err := q.publisher.PublishRetry(ctx, msg); err != nil {
		return fmt.Errorf("failed to schedule retry of %s: %w", t.Type, err)
	}
	return nil
}

// DeadLetter moves t to the dead-letter queue with the reason in the x-error header
func (q *RabbitQueue) DeadLetter(ctx context.Context, t task.Task, reason string) error {
	msg := message(t)
	msg.Headers[HeaderError] = reason

	if err := q.publisher.PublishDeadLetter(ctx, msg); err != nil {
		return fmt.Errorf("failed to dead-letter %s: %w", t.Type, err)
	}
	return nil
}

func message(t task.Task) rabbitmq.Message {
	return rabbitmq.Message{
		RoutingKey: string(t.Type),
		Type:       string(t.Type),
		Body:       t.Payload,
		Headers: amqp.Table{
			HeaderAttempt: int32(t.Attempt),
		},
	}
}

// TaskFromDelivery rebuilds the task envelope of a broker delivery. The payload is
// not validated here.
func TaskFromDelivery(d amqp.Delivery) task.Task {
	taskType := d.Type
	if taskType == "" {
		taskType = d.RoutingKey
	}

	return task.Task{
		Type:        task.Type(taskType),
		Payload:     d.Body,
		Attempt:     attemptHeader(d.Headers),
		Redelivered: d.Redelivered,
	}
}

func attemptHeader(headers amqp.Table) int {
	var attempt int
	switch v := headers[HeaderAttempt].(type) {
	case int32:
		attempt = int(v)
	case int64:
		attempt = int(v)
	case int16:
		attempt = int(v)
	case int:
		attempt = v
	}
	return max(attempt, 1)
}
