package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/echoloom/echoloom/internal/config"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSpeaker struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingSpeaker) Speak(ctx context.Context, s *Session, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, text)
	return nil
}

func (r *recordingSpeaker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func testLifecycleConfig() config.SessionConfig {
	return config.SessionConfig{
		DurationWarningSeconds:        120,
		WarningTimeoutSeconds:         60,
		InactivityTimeoutSeconds:      45,
		LifecycleCheckIntervalSeconds: 5,
	}
}

func newTestSupervisor(clock *fakeClock) (*Supervisor, *Registry, *recordingSpeaker) {
	r := NewRegistry(nil)
	sp := &recordingSpeaker{}
	sv := NewSupervisor(r, sp, testLifecycleConfig(),
		WithSupervisorClock(clock.now), WithGraceDelay(0))
	return sv, r, sp
}

// Idle session with no warning pending: goodbye, then CLOSED and removed.
func TestSupervisor_InactivityClosesSession(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	sv, r, sp := newTestSupervisor(clock)

	s := New(Settings{Language: "en-US"}, WithClock(clock.now))
	s.SetState(StateActive)
	if err := r.Add(s); err != nil {
		t.Fatal(err)
	}

	clock.advance(46 * time.Second)
	sv.CheckOnce(context.Background())

	if s.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED", s.State())
	}
	if r.Get(s.ID()) != nil {
		t.Error("closed session still in registry")
	}
	if sp.count() != 1 {
		t.Errorf("speaker calls = %d, want 1 goodbye", sp.count())
	}
	if sp.calls[0] != goodbyePhrases["en"] {
		t.Errorf("goodbye = %q", sp.calls[0])
	}
}

// closingSpeaker also implements Closer, standing in for the transport.
type closingSpeaker struct {
	recordingSpeaker

	cmu    sync.Mutex
	closed []CloseReason
	err    error
}

func (c *closingSpeaker) CloseSession(ctx context.Context, s *Session, reason CloseReason) error {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.closed = append(c.closed, reason)
	return s.Close()
}

func (c *closingSpeaker) closedReasons() []CloseReason {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	return append([]CloseReason(nil), c.closed...)
}

// Timeout closes delegate to the transport when the speaker can close
// connections; registry removal is then the transport's responsibility.
func TestSupervisor_DelegatesCloseToTransport(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	r := NewRegistry(nil)
	sp := &closingSpeaker{}
	sv := NewSupervisor(r, sp, testLifecycleConfig(),
		WithSupervisorClock(clock.now), WithGraceDelay(0))

	s := New(Settings{Language: "en-US"}, WithClock(clock.now))
	s.SetState(StateActive)
	if err := r.Add(s); err != nil {
		t.Fatal(err)
	}

	clock.advance(46 * time.Second)
	sv.CheckOnce(context.Background())

	if got := sp.closedReasons(); len(got) != 1 || got[0] != CloseInactivity {
		t.Fatalf("closer calls = %v, want one inactivity close", got)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED", s.State())
	}
	if r.Get(s.ID()) == nil {
		t.Error("supervisor removed the session; delegated closes leave that to the transport")
	}
}

// A failing transport close falls back to closing the session directly.
func TestSupervisor_FallsBackWhenTransportCloseFails(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	r := NewRegistry(nil)
	sp := &closingSpeaker{err: context.DeadlineExceeded}
	sv := NewSupervisor(r, sp, testLifecycleConfig(),
		WithSupervisorClock(clock.now), WithGraceDelay(0))

	s := New(Settings{Language: "en-US"}, WithClock(clock.now))
	s.SetState(StateActive)
	if err := r.Add(s); err != nil {
		t.Fatal(err)
	}

	clock.advance(46 * time.Second)
	sv.CheckOnce(context.Background())

	if s.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED", s.State())
	}
	if r.Get(s.ID()) != nil {
		t.Error("closed session still in registry")
	}
}

// Session crosses 120 s: exactly one warning, and a user frame resets it.
func TestSupervisor_DurationWarningThenReset(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	sv, r, sp := newTestSupervisor(clock)

	s := New(Settings{Language: "de-DE"}, WithClock(clock.now))
	s.SetState(StateActive)
	if err := r.Add(s); err != nil {
		t.Fatal(err)
	}

	// Keep the session active so only the duration rule can fire.
	clock.advance(121 * time.Second)
	s.Touch()
	sv.CheckOnce(context.Background())

	if s.State() != StateDurationWarned {
		t.Fatalf("state = %s, want DURATION_WARNED", s.State())
	}
	if sp.count() != 1 {
		t.Fatalf("speaker calls = %d, want exactly 1 warning", sp.count())
	}
	if sp.calls[0] != warningPhrases["de"] {
		t.Errorf("warning not localized: %q", sp.calls[0])
	}

	// A warned session gets no second warning on the next sweep.
	clock.advance(5 * time.Second)
	sv.CheckOnce(context.Background())
	if sp.count() != 1 {
		t.Errorf("second sweep re-warned: %d calls", sp.count())
	}

	// User audio arriving resets the warning.
	s.Touch()
	if s.State() != StateActive || s.WarnedAt() != nil {
		t.Error("traffic did not reset the duration warning")
	}
}

// Unanswered warning times out: goodbye and close.
func TestSupervisor_WarningTimeoutCloses(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	sv, r, sp := newTestSupervisor(clock)

	s := New(Settings{Language: "en-US"}, WithClock(clock.now))
	s.SetState(StateActive)
	if err := r.Add(s); err != nil {
		t.Fatal(err)
	}

	clock.advance(121 * time.Second)
	s.Touch()
	sv.CheckOnce(context.Background()) // issues the warning

	// Well past the inactivity timeout too; the unanswered warning takes
	// precedence and the session closes exactly once.
	clock.advance(61 * time.Second)
	sv.CheckOnce(context.Background())

	if s.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED", s.State())
	}
	if sp.count() != 2 { // warning + goodbye
		t.Errorf("speaker calls = %d, want warning then goodbye", sp.count())
	}
}

// A pending duration warning suppresses the inactivity rule.
func TestSupervisor_WarningSuppressesInactivity(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	sv, r, _ := newTestSupervisor(clock)

	s := New(Settings{Language: "en-US"}, WithClock(clock.now))
	s.SetState(StateActive)
	if err := r.Add(s); err != nil {
		t.Fatal(err)
	}

	clock.advance(121 * time.Second)
	s.Touch()
	sv.CheckOnce(context.Background())
	if s.State() != StateDurationWarned {
		t.Fatalf("state = %s, want DURATION_WARNED", s.State())
	}

	// 50 s idle exceeds the 45 s inactivity timeout but not the 60 s
	// warning timeout; the session must stay open.
	clock.advance(50 * time.Second)
	sv.CheckOnce(context.Background())
	if s.State() != StateDurationWarned {
		t.Errorf("state = %s, want still DURATION_WARNED", s.State())
	}
}

func TestSupervisor_IgnoresNonActiveStates(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	sv, r, sp := newTestSupervisor(clock)

	s := New(Settings{Language: "en-US"}, WithClock(clock.now))
	// Still CONNECTING: handshake timeouts are the connection manager's
	// job, not the supervisor's.
	if err := r.Add(s); err != nil {
		t.Fatal(err)
	}

	clock.advance(10 * time.Minute)
	sv.CheckOnce(context.Background())
	if s.State() != StateConnecting || sp.count() != 0 {
		t.Errorf("supervisor acted on a CONNECTING session: state=%s calls=%d",
			s.State(), sp.count())
	}
}
