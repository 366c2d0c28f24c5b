package inference

import (
	"context"
	"fmt"
	"sync"
)

// Responder produces the response for one stubbed call.
type Responder func(ctx context.Context, req Request) (*Response, error)

// Text returns a Responder that always answers with s.
func Text(s string) Responder {
	return func(context.Context, Request) (*Response, error) {
		return &Response{Text: s, Model: ProviderStub}, nil
	}
}

// Fail returns a Responder that always fails with err.
func Fail(err error) Responder {
	return func(context.Context, Request) (*Response, error) {
		return nil, err
	}
}

// Stub is a scripted Client keyed by template ID. It is safe for concurrent use.
type Stub struct {
	mu        sync.Mutex
	responses map[string]Responder
	fallback  Responder
	calls     map[string]int
	requests  []Request
}

// NewStub creates a Stub with no responses; unscripted templates fail.
func NewStub() *Stub {
	return &Stub{
		responses: make(map[string]Responder),
		calls:     make(map[string]int),
	}
}

// On sets the responder for templateID and returns the stub for chaining.
func (s *Stub) On(templateID string, r Responder) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[templateID] = r
	return s
}

// Otherwise sets the responder used for templates without their own.
func (s *Stub) Otherwise(r Responder) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = r
	return s
}

// Infer dispatches to the responder registered for req.TemplateID.
func (s *Stub) Infer(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	s.calls[req.TemplateID]++
	s.requests = append(s.requests, req)
	r, ok := s.responses[req.TemplateID]
	if !ok {
		r = s.fallback
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("stub: no response scripted for template %q", req.TemplateID)
	}
	return r(ctx, req)
}

// Calls returns how many times templateID was requested.
func (s *Stub) Calls(templateID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[templateID]
}

// TotalCalls returns the number of requests served.
func (s *Stub) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of every request received, in arrival order.
func (s *Stub) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

var _ Client = (*Stub)(nil)
