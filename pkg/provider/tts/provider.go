// Package tts defines the Provider interface for speech synthesis in the
// transcribe-then-synthesize pipeline and for synthesized fallback utterances.
//
// Pipeline responses are single short texts, so the interface is one-shot:
// Synthesize returns the complete PCM buffer for a text. Implementations that
// stream internally drain their stream into the buffer before returning.
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/echoloom/echoloom/pkg/types"
)

// Provider converts text to speech audio.
type Provider interface {
	// Synthesize renders text as 16-bit signed little-endian PCM. language is
	// a BCP-47 tag; voice selects the synthesis voice, with a zero value
	// meaning the provider default.
	Synthesize(ctx context.Context, text, language string, voice types.VoiceProfile) ([]byte, error)

	// ListVoices returns the voices available to this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
