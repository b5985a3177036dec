package task

import (
	"errors"
	"math"
	"time"
)

// RetryableError wraps transient errors that should trigger a delayed redelivery
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err asks the queue for another attempt
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// Default retry policy values
const (
	DefaultMaxAttempts       = 5
	DefaultBaseDelay         = 2 * time.Second
	DefaultMaxDelay          = 5 * time.Minute
	DefaultBackoffMultiplier = 2.0
)

// RetryPolicy bounds redelivery of failed tasks
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy returns the policy used when configuration leaves values unset
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       DefaultMaxAttempts,
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// WithDefaults fills zero fields from DefaultRetryPolicy
func (p RetryPolicy) WithDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = def.BackoffMultiplier
	}
	return p
}

// Backoff returns the delay before redelivering the attempt after `attempt`
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.WithDefaults()
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Exhausted reports whether attempt is the last one the policy allows
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.WithDefaults().MaxAttempts
}

// Action is what the queue does with a handled task
type Action int

const (
	ActionAck Action = iota
	ActionRetry
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead-letter"
	default:
		return "unknown"
	}
}

// Disposition is the queue's decision for one handled task
type Disposition struct {
	Action Action
	Delay  time.Duration
	Reason string
}

// Decide maps a handler result onto ack, delayed retry or dead-letter
func (p RetryPolicy) Decide(t Task, err error) Disposition {
	if err == nil {
		return Disposition{Action: ActionAck}
	}

	// Malformed work can never succeed
	if errors.Is(err, ErrInvalidPayload) || errors.Is(err, ErrUnknownType) {
		return Disposition{Action: ActionDeadLetter, Reason: err.Error()}
	}

	if IsRetryable(err) {
		if p.Exhausted(t.Attempt) {
			return Disposition{Action: ActionDeadLetter, Reason: "max attempts exceeded: " + err.Error()}
		}
		return Disposition{Action: ActionRetry, Delay: p.Backoff(t.Attempt), Reason: err.Error()}
	}

	// Unclassified handler errors are not retried but must not vanish either
	return Disposition{Action: ActionDeadLetter, Reason: err.Error()}
}
