// Package types defines the shared types used across all Echoloom packages.
//
// These types form the lingua franca between providers, the session engine,
// the audio pipeline, and the transport layer. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// AudioFrame represents a single frame of audio data flowing through the engine.
// Frames are the atomic unit of audio transport — received from the client
// channel, decoded by an AudioFrameTransform, forwarded to the upstream
// service or accumulated by the pipeline orchestrator.
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for upstream input, 24000 for upstream output).
	SampleRate int

	// Channels: 1 for mono (the only layout the upstream accepts), 2 for stereo.
	Channels int

	// Timestamp marks when this frame was received, relative to session start.
	Timestamp time.Duration
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// VoiceProfile describes a synthesis voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which backend this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string
}

// Usage holds token accounting reported by the upstream service or an LLM
// backend. Counts are in the model's native token unit.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input.
	PromptTokens int

	// ResponseTokens is the number of tokens generated in the response.
	ResponseTokens int

	// TotalTokens is PromptTokens + ResponseTokens. Some backends report it
	// directly rather than computing it from the parts.
	TotalTokens int
}

// Add merges another Usage into u, field by field.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.ResponseTokens += other.ResponseTokens
	u.TotalTokens += other.TotalTokens
}

// ResponseStyle selects how verbose generated responses should be. It is
// chosen per session and adjusted mid-session by adaptation directives.
type ResponseStyle string

const (
	StyleConcise  ResponseStyle = "concise"
	StyleDetailed ResponseStyle = "detailed"
	StyleSimple   ResponseStyle = "simple"
	StyleNormal   ResponseStyle = "normal"
)

// IsValid reports whether s is a recognised response style.
func (s ResponseStyle) IsValid() bool {
	switch s {
	case StyleConcise, StyleDetailed, StyleSimple, StyleNormal:
		return true
	}
	return false
}

// TokenBudget returns the completion-token ceiling for this style.
func (s ResponseStyle) TokenBudget() int {
	switch s {
	case StyleConcise:
		return 100
	case StyleSimple:
		return 150
	case StyleDetailed:
		return 300
	default:
		return 200
	}
}
