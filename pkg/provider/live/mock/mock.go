// Package mock provides a mock implementation of the live.Provider interface
// for testing.
package mock

import (
	"context"
	"sync"

	"github.com/echoloom/echoloom/pkg/provider/live"
)

// Compile-time assertions.
var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*Session)(nil)

// Provider is a mock live.Provider that records calls and returns
// configurable results.
type Provider struct {
	mu sync.Mutex

	// ConnectFunc, if set, is called by Connect instead of the default.
	ConnectFunc func(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error)

	// ConnectErr is returned by Connect when ConnectFunc is nil.
	ConnectErr error

	// Session is returned by Connect when ConnectFunc is nil and ConnectErr
	// is nil. When nil, a fresh Session is created per call.
	Session *Session

	// CapabilitiesResult is returned by Capabilities.
	CapabilitiesResult live.Capabilities

	// ConnectCalls records the config of every Connect call.
	ConnectCalls []live.SessionConfig
}

// Connect records the call and returns the configured session or error.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, cfg)
	fn := p.ConnectFunc
	errVal := p.ConnectErr
	sess := p.Session
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, cfg)
	}
	if errVal != nil {
		return nil, errVal
	}
	if sess == nil {
		sess = NewSession()
	}
	return sess, nil
}

// Capabilities returns the configured capabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CapabilitiesResult
}

// ConnectCount returns the number of Connect calls recorded.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Session is a mock live.SessionHandle. Tests drive the inbound side by
// pushing events with Emit and complete the handshake with Ready.
type Session struct {
	mu sync.Mutex

	// AwaitReadyErr is returned by AwaitReady after the ready signal, letting
	// tests simulate a setup rejection.
	AwaitReadyErr error

	// SendAudioErr, SendTextErr, SendTurnCompleteErr, and RespondToolErr are
	// returned by the corresponding send methods.
	SendAudioErr        error
	SendTextErr         error
	SendTurnCompleteErr error
	RespondToolErr      error

	// ErrResult is returned by Err.
	ErrResult error

	// Recorded calls.
	AudioChunks   [][]byte
	TextCalls     []TextCall
	TurnCompletes int
	ToolResponses []ToolResponse
	CloseCalls    int

	events chan live.Event
	ready  chan struct{}

	readyOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

// TextCall records one SendText invocation.
type TextCall struct {
	Text    string
	EndTurn bool
}

// ToolResponse records one RespondTool invocation.
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// NewSession creates a mock session with a buffered event channel.
func NewSession() *Session {
	return &Session{
		events: make(chan live.Event, 64),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Ready signals setup completion, unblocking AwaitReady. Safe to call more
// than once.
func (s *Session) Ready() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Emit pushes an event onto the inbound stream.
func (s *Session) Emit(ev live.Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

// Finish closes the inbound event stream, simulating session end.
func (s *Session) Finish() {
	s.closeOnce.Do(func() {
		close(s.closed)
		close(s.events)
	})
}

// AwaitReady blocks until Ready is called, the session is finished, or ctx
// expires.
func (s *Session) AwaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.AwaitReadyErr
	case <-s.closed:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.AudioChunks = append(s.AudioChunks, cp)
	return s.SendAudioErr
}

// SendText records the call.
func (s *Session) SendText(text string, endTurn bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TextCalls = append(s.TextCalls, TextCall{Text: text, EndTurn: endTurn})
	return s.SendTextErr
}

// SendTurnComplete records the call.
func (s *Session) SendTurnComplete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TurnCompletes++
	return s.SendTurnCompleteErr
}

// RespondTool records the call.
func (s *Session) RespondTool(id, name string, response map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolResponses = append(s.ToolResponses, ToolResponse{ID: id, Name: name, Response: response})
	return s.RespondToolErr
}

// Events returns the inbound event stream.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err returns the configured terminal error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrResult
}

// Close records the call and finishes the event stream.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()
	s.Finish()
	return nil
}

// LastToolResponse returns the most recent RespondTool call, or a zero
// ToolResponse.
func (s *Session) LastToolResponse() ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ToolResponses) == 0 {
		return ToolResponse{}
	}
	return s.ToolResponses[len(s.ToolResponses)-1]
}

// SentAudio returns a copy of all recorded audio chunks.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.AudioChunks))
	copy(out, s.AudioChunks)
	return out
}
