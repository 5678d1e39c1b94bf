// Package live defines the Provider interface for upstream
// conversational-audio backends.
//
// A live provider wraps a real-time voice AI service that accepts streamed
// audio and text over a persistent bidirectional channel and returns
// synthesised audio, response text, tool invocations, and usage metadata.
// The central abstraction is SessionHandle: a multiplexed channel whose
// inbound traffic is demultiplexed into a single ordered [Event] stream.
// Sessions are long-lived (seconds to minutes).
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"

	"github.com/echoloom/echoloom/pkg/types"
)

// ToolDeclaration describes one function the upstream model may invoke
// during a session. Declarations are fixed at session creation.
type ToolDeclaration struct {
	// Name is the function's unique identifier.
	Name string

	// Description explains what the function does.
	Description string

	// Parameters is the JSON Schema describing the function's arguments.
	Parameters map[string]any
}

// ToolInvocation is a function call requested by the upstream model.
type ToolInvocation struct {
	// ID is the provider-assigned call identifier, echoed back in the response.
	ID string

	// Name is the invoked function's name.
	Name string

	// Args holds the decoded call arguments.
	Args map[string]any
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Language is the BCP-47 tag for recognition and synthesis (e.g., "en-US").
	Language string

	// Voice selects the synthesis voice for the model's spoken output.
	Voice types.VoiceProfile

	// SystemInstruction is the system-level prompt for the session.
	SystemInstruction string

	// Tools is the fixed set of function declarations offered to the model.
	Tools []ToolDeclaration

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxOutputTokens caps response length per turn. Zero means provider default.
	MaxOutputTokens int
}

// EventType discriminates the inbound event stream.
type EventType int

const (
	// EventAudio carries a chunk of synthesised response audio.
	EventAudio EventType = iota

	// EventText carries an incremental chunk of response text.
	EventText

	// EventInputTranscript carries the model's recognition of user speech.
	EventInputTranscript

	// EventToolCall carries a function invocation requested by the model.
	EventToolCall

	// EventUsage carries token accounting metadata.
	EventUsage

	// EventTurnComplete marks the end of one model response turn.
	EventTurnComplete

	// EventInterrupted signals that user speech cut off the model's response.
	EventInterrupted

	// EventError carries a non-fatal error reported by the provider.
	EventError
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventText:
		return "text"
	case EventInputTranscript:
		return "input_transcript"
	case EventToolCall:
		return "tool_call"
	case EventUsage:
		return "usage"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one demultiplexed inbound message. Exactly the fields implied by
// Type are populated.
type Event struct {
	Type  EventType
	Audio []byte
	Text  string
	Tool  *ToolInvocation
	Usage *types.Usage
	Err   error
}

// Capabilities describes static properties of a live provider. The values
// are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// MaxSessionDuration is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the voice profiles available for this provider.
	Voices []types.VoiceProfile
}

// SessionHandle represents an open live session.
//
// The session is the hot path of the voice engine — every method must return
// quickly. Inbound traffic is channel-based so the caller's demux loop never
// blocks the provider's receive loop. All methods must be safe for
// concurrent use. Callers must call Close when the session is no longer
// needed.
type SessionHandle interface {
	// AwaitReady blocks until the provider acknowledges setup completion or
	// ctx expires. It must be called once after Connect, before any audio is
	// sent. A ctx expiry leaves the session unusable; callers should Close it.
	AwaitReady(ctx context.Context) error

	// SendAudio delivers one raw PCM audio chunk to the model. The chunk must
	// match the format negotiated at session creation.
	SendAudio(chunk []byte) error

	// SendText injects a text turn into the conversation. endTurn marks the
	// turn complete so the model responds immediately.
	SendText(text string, endTurn bool) error

	// SendTurnComplete signals the explicit end of the user's turn. Required
	// because not every transport infers turn boundaries from silence alone.
	SendTurnComplete() error

	// RespondTool returns a structured result for a previously received
	// EventToolCall so the model can continue generating.
	RespondTool(id, name string, response map[string]any) error

	// Events returns the ordered inbound event stream. The channel is closed
	// when the session ends; call Err afterwards to check for a dirty close.
	// Consumers must drain promptly to avoid stalling the receive loop.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil after a clean
	// close.
	Err() error

	// Close terminates the session and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any upstream conversational-audio backend.
//
// Implementations must be safe for concurrent use; the engine opens one
// session per concurrent voice conversation.
type Provider interface {
	// Connect establishes the transport channel and sends the setup message.
	// The returned handle is NOT ready for audio until AwaitReady succeeds.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider's model.
	Capabilities() Capabilities
}
