// Package mock provides a mock implementation of the llm.Provider interface
// for testing.
package mock

import (
	"context"
	"sync"

	"github.com/echoloom/echoloom/pkg/provider/llm"
)

// Compile-time assertion.
var _ llm.Provider = (*Provider)(nil)

// Provider is a mock llm.Provider that records calls and returns configurable
// results.
type Provider struct {
	mu sync.Mutex

	// GenerateFunc, if set, is called by Generate instead of the default.
	GenerateFunc func(ctx context.Context, req llm.Request) (string, error)

	// Response and Err are returned by Generate when GenerateFunc is nil.
	Response string
	Err      error

	// Calls records every Generate request.
	Calls []llm.Request
}

// Generate records the call and returns the configured response.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn := p.GenerateFunc
	resp, errVal := p.Response, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, errVal
}

// CallCount returns the number of Generate calls recorded.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastRequest returns the most recent request, or a zero Request.
func (p *Provider) LastRequest() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return llm.Request{}
	}
	return p.Calls[len(p.Calls)-1]
}
