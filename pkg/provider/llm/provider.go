// Package llm defines the Provider interface for text generation in the
// transcribe-then-synthesize pipeline.
//
// Pipeline responses are short spoken sentences, so the interface is a
// single-shot Generate rather than a streaming API: the whole response is
// needed before synthesis and quality analysis anyway. Implementations must
// be safe for concurrent use.
package llm

import (
	"context"

	"github.com/echoloom/echoloom/pkg/types"
)

// Request describes one generation call.
type Request struct {
	// SystemPrompt is prepended as the system message.
	SystemPrompt string

	// Messages is the conversation history, oldest first.
	Messages []types.Message

	// Temperature controls randomness. Zero means backend default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int
}

// Provider generates one response text for a conversation.
type Provider interface {
	// Generate produces the assistant's next reply.
	Generate(ctx context.Context, req Request) (string, error)
}
