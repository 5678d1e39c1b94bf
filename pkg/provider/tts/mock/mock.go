// Package mock provides a mock implementation of the tts.Provider interface
// for testing.
package mock

import (
	"context"
	"sync"

	"github.com/echoloom/echoloom/pkg/provider/tts"
	"github.com/echoloom/echoloom/pkg/types"
)

// Compile-time assertion.
var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records the arguments of one Synthesize invocation.
type SynthesizeCall struct {
	Text     string
	Language string
	Voice    types.VoiceProfile
}

// Provider is a mock tts.Provider that records calls and returns configurable
// results.
type Provider struct {
	mu sync.Mutex

	// SynthesizeFunc, if set, is called by Synthesize instead of the default.
	SynthesizeFunc func(ctx context.Context, text, language string, voice types.VoiceProfile) ([]byte, error)

	// Audio and Err are returned by Synthesize when SynthesizeFunc is nil.
	Audio []byte
	Err   error

	// Voices is returned by ListVoices.
	Voices []types.VoiceProfile

	// Calls records every Synthesize invocation.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns the configured audio.
func (p *Provider) Synthesize(ctx context.Context, text, language string, voice types.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Language: language, Voice: voice})
	fn := p.SynthesizeFunc
	audio, errVal := p.Audio, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, language, voice)
	}
	return audio, errVal
}

// ListVoices returns the configured voices.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, nil
}

// CallCount returns the number of Synthesize calls recorded.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent call, or a zero SynthesizeCall.
func (p *Provider) LastCall() SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return SynthesizeCall{}
	}
	return p.Calls[len(p.Calls)-1]
}
