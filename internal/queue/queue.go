// Package queue carries tasks from producers to handlers, either through RabbitMQ
// or through an in-process memory queue with the same retry and dead-letter policy.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuongbtq/transform-pipeline/internal/task"
)

// ErrClosed is returned by Enqueue after the queue has been stopped
var ErrClosed = errors.New("queue closed")

// Enqueuer publishes tasks for asynchronous processing
type Enqueuer interface {
	Enqueue(ctx context.Context, t task.Task) error
}

// Handler processes one delivered task. A nil return acknowledges the task; errors
// are classified by task.RetryPolicy.Decide.
type Handler interface {
	Handle(ctx context.Context, t task.Task) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, t task.Task) error

// Handle calls f(ctx, t)
func (f HandlerFunc) Handle(ctx context.Context, t task.Task) error {
	return f(ctx, t)
}

// Mux routes tasks to handlers by type
type Mux struct {
	handlers map[task.Type]Handler
}

// NewMux creates an empty Mux
func NewMux() *Mux {
	return &Mux{handlers: make(map[task.Type]Handler)}
}

// Register binds h to a task type, replacing any previous binding
func (m *Mux) Register(t task.Type, h Handler) {
	m.handlers[t] = h
}

// Handle dispatches t to its registered handler
func (m *Mux) Handle(ctx context.Context, t task.Task) error {
	h, ok := m.handlers[t.Type]
	if !ok {
		return fmt.Errorf("%w: no handler for %q", task.ErrUnknownType, t.Type)
	}
	return h.Handle(ctx, t)
}

// EnqueueNew builds a task from payload and publishes it
func EnqueueNew(ctx context.Context, q Enqueuer, payload any) error {
	t, err := task.New(payload)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, t)
}
