// Package transform talks to the external transform executor. The executor is
// opaque: it receives a job's frozen outcome configuration and returns one media
// reference.
package transform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/shared/webhook"
)

// Request is everything the executor receives. It is built from the job snapshot only.
type Request struct {
	JobID         string               `json:"job_id"`
	ConfigVersion int                  `json:"config_version"`
	Outcome       domain.OutcomeConfig `json:"outcome"`
	Overlay       *domain.MediaRef     `json:"overlay,omitempty"`
	Responses     map[string]any       `json:"responses"`
}

// NewRequest builds the executor request of a job
func NewRequest(job *domain.Job) Request {
	return Request{
		JobID:         job.ID,
		ConfigVersion: job.Snapshot.ConfigVersion,
		Outcome:       job.Snapshot.Outcome,
		Overlay:       job.Snapshot.OverlayChoice,
		Responses:     job.Snapshot.Responses,
	}
}

// Executor runs one transform. Errors are classified with domain.NewTransientError
// and domain.NewFatalError.
type Executor interface {
	Execute(ctx context.Context, req Request) (*domain.MediaRef, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, req Request) (*domain.MediaRef, error)

// Execute calls f(ctx, req)
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (*domain.MediaRef, error) {
	return f(ctx, req)
}

type response struct {
	Output *domain.MediaRef `json:"output"`
	Error  string           `json:"error,omitempty"`
}

// HTTPClient calls the executor over HTTP JSON
type HTTPClient struct {
	client *webhook.Client
}

// NewHTTPClient creates an executor client posting to url
func NewHTTPClient(url, apiKey string, timeout time.Duration, opts ...webhook.Option) *HTTPClient {
	if key := strings.TrimSpace(apiKey); key != "" {
		opts = append(opts, webhook.WithHeader("Authorization", "Bearer "+key))
	}
	return &HTTPClient{client: webhook.New(url, timeout, opts...)}
}

// Execute posts the request and classifies failures
func (c *HTTPClient) Execute(ctx context.Context, req Request) (*domain.MediaRef, error) {
	var resp response
	if err := c.client.Post(ctx, req, &resp); err != nil {
		return nil, classify(err)
	}

	if resp.Error != "" {
		return nil, domain.NewFatalError(fmt.Errorf("executor rejected job %s: %s", req.JobID, resp.Error))
	}
	if resp.Output == nil || strings.TrimSpace(resp.Output.URL) == "" {
		return nil, domain.NewFatalError(fmt.Errorf("executor returned no output for job %s", req.JobID))
	}

	return resp.Output, nil
}

// classify maps transport failures onto the transient/fatal taxonomy
func classify(err error) error {
	var statusErr *webhook.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Temporary() {
			return domain.NewTransientError(err)
		}
		return domain.NewFatalError(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return domain.NewTransientError(err)
	}

	// Undecodable responses will not improve on retry
	return domain.NewFatalError(err)
}
