// Package session owns the per-conversation state record, the process-wide
// registry of live sessions, and the lifecycle supervisor that drives
// duration warnings, inactivity timeouts, and graceful closure.
package session

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echoloom/echoloom/internal/adaptive"
	"github.com/echoloom/echoloom/internal/config"
	"github.com/echoloom/echoloom/internal/interrupt"
	"github.com/echoloom/echoloom/pkg/types"
)

// State is the session lifecycle state.
type State string

const (
	StateConnecting     State = "CONNECTING"
	StateHandshaking    State = "HANDSHAKING"
	StatePriming        State = "PRIMING"
	StateActive         State = "ACTIVE"
	StateDurationWarned State = "DURATION_WARNED"
	StateClosing        State = "CLOSING"
	StateClosed         State = "CLOSED"
)

// CloseReason labels why a session ended, for logs and metrics.
type CloseReason string

const (
	CloseClientRequested CloseReason = "client_requested"
	CloseInactivity      CloseReason = "inactivity_timeout"
	CloseWarningExpired  CloseReason = "warning_timeout"
	CloseError           CloseReason = "error"
	CloseShutdown        CloseReason = "server_shutdown"
)

// Session is one live conversation. All mutable state is guarded by mu; the
// owned sub-objects (Interrupts, Adaptive) carry their own synchronisation.
type Session struct {
	id     string
	userID string

	mu           sync.Mutex
	state        State
	createdAt    time.Time
	lastActivity time.Time
	warnedAt     *time.Time
	language     string
	systemPrompt string
	mode         config.Mode
	style        types.ResponseStyle
	voice        types.VoiceProfile
	usage        types.Usage
	transcript   strings.Builder
	response     strings.Builder

	// channel is the canonical handle to the upstream connection. Exactly
	// one field refers to it; every cleanup path closes this and nothing
	// else.
	channel io.Closer

	closeOnce sync.Once
	now       func() time.Time

	// Interrupts is the session's bounded interruption-context stack.
	Interrupts *interrupt.Store

	// Adaptive is the session's rolling adaptation profile.
	Adaptive *adaptive.Manager
}

// Settings carries the client-selected parameters for a new session.
type Settings struct {
	UserID       string
	Language     string
	SystemPrompt string
	Mode         config.Mode
	Style        types.ResponseStyle
	Voice        types.VoiceProfile
	StackSize    int
	Window       time.Duration
}

// Option customises session construction.
type Option func(*Session)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a session in CONNECTING state with a fresh unique id. Ids are
// random UUIDs and are never reused after closure.
func New(st Settings, opts ...Option) *Session {
	s := &Session{
		id:           uuid.NewString(),
		userID:       st.UserID,
		state:        StateConnecting,
		language:     st.Language,
		systemPrompt: st.SystemPrompt,
		mode:         st.Mode,
		style:        st.Style,
		voice:        st.Voice,
		now:          time.Now,
		Interrupts:   interrupt.NewStore(st.StackSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.style == "" {
		s.style = types.StyleNormal
	}
	var adaptiveOpts []adaptive.Option
	if st.Window > 0 {
		adaptiveOpts = append(adaptiveOpts, adaptive.WithWindow(st.Window))
	}
	adaptiveOpts = append(adaptiveOpts, adaptive.WithClock(s.now))
	s.Adaptive = adaptive.NewManager(adaptiveOpts...)

	s.createdAt = s.now()
	s.lastActivity = s.createdAt
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the optional cross-session user identifier.
func (s *Session) UserID() string { return s.userID }

// Language returns the session's BCP-47 language tag.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// SystemPrompt returns the session's system instruction.
func (s *Session) SystemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemPrompt
}

// Mode returns the session's processing mode.
func (s *Session) Mode() config.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Style returns the current response style.
func (s *Session) Style() types.ResponseStyle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.style
}

// SetStyle changes the response style, driven by adaptation directives.
func (s *Session) SetStyle(style types.ResponseStyle) {
	if !style.IsValid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.style = style
}

// Voice returns the synthesis voice for this session.
func (s *Session) Voice() types.VoiceProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the lifecycle state. Transitions out of CLOSED are
// ignored.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = st
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// LastActivity returns the time of the most recent inbound or outbound
// traffic.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// WarnedAt returns when the duration warning was sent, or nil if no warning
// is pending.
func (s *Session) WarnedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warnedAt == nil {
		return nil
	}
	t := *s.warnedAt
	return &t
}

// Touch records traffic on the session. Any bidirectional traffic counts as
// liveness: it refreshes the activity clock and downgrades a pending
// duration warning back to ACTIVE.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
	if s.state == StateDurationWarned {
		s.state = StateActive
		s.warnedAt = nil
	}
}

// MarkWarned records that the duration warning was sent and moves the
// session to DURATION_WARNED.
func (s *Session) MarkWarned() {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now()
	s.warnedAt = &t
	s.state = StateDurationWarned
}

// BindChannel attaches the upstream connection handle. The session takes
// ownership: Close closes it exactly once.
func (s *Session) BindChannel(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel = c
}

// AppendTranscript accumulates recognised user speech for the current turn.
func (s *Session) AppendTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript.WriteString(text)
}

// AppendResponse accumulates model response text for the current turn.
func (s *Session) AppendResponse(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.response.WriteString(text)
}

// TakeResponse returns the accumulated response text and resets the buffer.
// Called at turn completion.
func (s *Session) TakeResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.response.String()
	s.response.Reset()
	return out
}

// TakeTranscript returns the accumulated user transcript and resets the
// buffer.
func (s *Session) TakeTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.transcript.String()
	s.transcript.Reset()
	return out
}

// AddUsage merges token accounting into the session counters.
func (s *Session) AddUsage(u types.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.Add(u)
}

// Usage returns the accumulated token counters.
func (s *Session) Usage() types.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Close releases the session: it transitions through CLOSING to CLOSED and
// closes the upstream channel. Safe to call more than once; only the first
// call does work. Buffers are discarded so a closed session holds no audio.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		ch := s.channel
		s.channel = nil
		s.transcript.Reset()
		s.response.Reset()
		s.mu.Unlock()

		if ch != nil {
			err = ch.Close()
		}

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
	})
	return err
}
