// Package mock provides a mock implementation of the stt.Provider interface
// for testing.
package mock

import (
	"context"
	"sync"

	"github.com/echoloom/echoloom/pkg/provider/stt"
)

// Compile-time assertion.
var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records the arguments of one Transcribe invocation.
type TranscribeCall struct {
	PCM      []byte
	Language string
}

// Provider is a mock stt.Provider that records calls and returns configurable
// results.
type Provider struct {
	mu sync.Mutex

	// NameResult is returned by Name. Defaults to "mock".
	NameResult string

	// TranscribeFunc, if set, is called by Transcribe instead of the default.
	TranscribeFunc func(ctx context.Context, pcm []byte, language string) (stt.Result, error)

	// Result and Err are returned by Transcribe when TranscribeFunc is nil.
	Result stt.Result
	Err    error

	// Calls records every Transcribe invocation.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, language string) (stt.Result, error) {
	p.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.Calls = append(p.Calls, TranscribeCall{PCM: cp, Language: language})
	fn := p.TranscribeFunc
	res, errVal := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, pcm, language)
	}
	return res, errVal
}

// Name returns the configured provider name.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NameResult == "" {
		return "mock"
	}
	return p.NameResult
}

// CallCount returns the number of Transcribe calls recorded.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
