// Package inference provides the text-generation capability used by pipeline stages.
//
// Stages send a prompt plus a template ID and receive raw text; parsing and schema
// checks happen in the stages. Adapters exist for the Anthropic Messages API, for
// OpenAI-compatible models through langchaingo, and a scripted stub for tests and
// offline runs.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable means the capability cannot serve requests: bad credentials, an
// unreachable endpoint, or persistent server errors after retries.
var ErrUnavailable = errors.New("inference capability unavailable")

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
	defaultRateLimit   = 50.0 / 60.0 // requests per second
	defaultBurst       = 5
	defaultMaxTokens   = 4096
)

// Request is one inference call.
type Request struct {
	// TemplateID names the prompt template, e.g. "analyze.structure".
	TemplateID string `json:"template_id"`

	// System is the system instruction.
	System string `json:"system,omitempty"`

	// Prompt is the rendered user prompt.
	Prompt string `json:"prompt"`

	// Input carries the structured values the prompt was rendered from.
	Input map[string]any `json:"input,omitempty"`

	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

// Response is the raw generated content.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// Client generates content for a request.
type Client interface {
	Infer(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Infer calls f(ctx, req).
func (f ClientFunc) Infer(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// retryableError marks errors that may succeed on retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError checks if an error should trigger a retry.
func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// withRetries calls fn until it succeeds, returns a non-retryable error, or maxRetries
// retries are used up. Exhausted retries are reported as ErrUnavailable.
func withRetries(ctx context.Context, maxRetries int, backoff time.Duration, fn func() (*Response, error)) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: max retries exceeded: %v", ErrUnavailable, lastErr)
}
