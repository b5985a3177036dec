// Package task defines the work items carried by the queue: their types, payload
// schemas, retry policy and the disposition of a handled task.
package task

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Type names a kind of queued work. It doubles as the broker routing key.
type Type string

const (
	TypeExecuteTransform  Type = "execute-transform"
	TypeCheckNotification Type = "check-notification"
	TypeDispatchExport    Type = "dispatch-export"
)

// Types lists every task type the pipeline handles
var Types = []Type{TypeExecuteTransform, TypeCheckNotification, TypeDispatchExport}

var (
	// ErrUnknownType is returned for a task type no payload schema exists for
	ErrUnknownType = errors.New("unknown task type")

	// ErrInvalidPayload is returned when a payload fails to decode or validate
	ErrInvalidPayload = errors.New("invalid task payload")
)

// ExecuteTransform asks the executor to run one job
type ExecuteTransform struct {
	JobID string `json:"job_id" validate:"required,uuid"`
}

// CheckNotification asks the convergence controller to evaluate one session
type CheckNotification struct {
	SessionID string `json:"session_id" validate:"required"`
	ProjectID string `json:"project_id" validate:"required"`
}

// DispatchExport asks the export dispatcher to publish a completed job's output
type DispatchExport struct {
	JobID     string `json:"job_id" validate:"required,uuid"`
	SessionID string `json:"session_id" validate:"required"`
	ProjectID string `json:"project_id" validate:"required"`
}

// Task is one delivery of queued work
type Task struct {
	Type    Type
	Payload json.RawMessage
	// Attempt is 1 on first delivery and incremented on each scheduled retry
	Attempt int
	// Redelivered is set when the broker hands back a delivery that was never acknowledged
	Redelivered bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func payloadFor(t Type) (any, error) {
	switch t {
	case TypeExecuteTransform:
		return &ExecuteTransform{}, nil
	case TypeCheckNotification:
		return &CheckNotification{}, nil
	case TypeDispatchExport:
		return &DispatchExport{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func typeOf(payload any) (Type, error) {
	switch payload.(type) {
	case ExecuteTransform, *ExecuteTransform:
		return TypeExecuteTransform, nil
	case CheckNotification, *CheckNotification:
		return TypeCheckNotification, nil
	case DispatchExport, *DispatchExport:
		return TypeDispatchExport, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownType, payload)
	}
}

// New validates payload and wraps it as a first-attempt task
func New(payload any) (Task, error) {
	t, err := typeOf(payload)
	if err != nil {
		return Task{}, err
	}
	if err := validate.Struct(payload); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Task{Type: t, Payload: body, Attempt: 1}, nil
}

// Decode parses and validates a raw payload of the given type
func Decode(t Type, body []byte) (any, error) {
	payload, err := payloadFor(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return payload, nil
}

// Validate checks that the task carries a well-formed payload for its type
func (t Task) Validate() error {
	_, err := Decode(t.Type, t.Payload)
	return err
}

// Bind decodes the task payload into dst, which must point at the payload struct of t.Type
func (t Task) Bind(dst any) error {
	expected, err := typeOf(dst)
	if err != nil {
		return err
	}
	if expected != t.Type {
		return fmt.Errorf("%w: cannot bind %s payload into %T", ErrInvalidPayload, t.Type, dst)
	}
	if err := json.Unmarshal(t.Payload, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Next returns the task as it should be delivered on its following attempt
func (t Task) Next() Task {
	next := t
	next.Attempt++
	next.Redelivered = false
	return next
}
