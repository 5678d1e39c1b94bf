package session

import (
	"errors"
	"testing"
	"time"

	"github.com/echoloom/echoloom/internal/config"
	"github.com/echoloom/echoloom/pkg/types"
)

type recordingCloser struct {
	closed int
	err    error
}

func (c *recordingCloser) Close() error {
	c.closed++
	return c.err
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	s := New(Settings{Language: "en-US", Mode: config.ModeNative})

	if s.ID() == "" {
		t.Error("empty session id")
	}
	if s.State() != StateConnecting {
		t.Errorf("state = %s, want CONNECTING", s.State())
	}
	if s.Style() != types.StyleNormal {
		t.Errorf("style = %s, want normal default", s.Style())
	}
	if s.Interrupts == nil || s.Adaptive == nil {
		t.Error("owned sub-objects not initialised")
	}

	// Ids are unique across sessions.
	if other := New(Settings{}); other.ID() == s.ID() {
		t.Error("two sessions share an id")
	}
}

func TestTouch_ResetsDurationWarning(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	s := New(Settings{Language: "en-US"}, WithClock(clock.now))
	s.SetState(StateActive)

	s.MarkWarned()
	if s.State() != StateDurationWarned || s.WarnedAt() == nil {
		t.Fatal("MarkWarned did not set the warning")
	}

	clock.advance(5 * time.Second)
	s.Touch()
	if s.State() != StateActive {
		t.Errorf("state after traffic = %s, want ACTIVE", s.State())
	}
	if s.WarnedAt() != nil {
		t.Error("warning timestamp not cleared by traffic")
	}
	if !s.LastActivity().Equal(clock.now()) {
		t.Error("activity clock not refreshed")
	}
}

func TestClose_IdempotentAndReleasesChannel(t *testing.T) {
	t.Parallel()
	s := New(Settings{})
	ch := &recordingCloser{}
	s.BindChannel(ch)
	s.AppendResponse("partial response text")

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED", s.State())
	}
	if ch.closed != 1 {
		t.Errorf("channel closed %d times, want 1", ch.closed)
	}
	if s.TakeResponse() != "" {
		t.Error("response buffer survived close")
	}

	// Second close is a no-op, even if the first returned an error path.
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if ch.closed != 1 {
		t.Errorf("channel closed %d times after double close", ch.closed)
	}

	// CLOSED is terminal.
	s.SetState(StateActive)
	if s.State() != StateClosed {
		t.Error("state transition out of CLOSED was allowed")
	}
}

func TestClose_PropagatesChannelError(t *testing.T) {
	t.Parallel()
	s := New(Settings{})
	s.BindChannel(&recordingCloser{err: errors.New("already gone")})

	if err := s.Close(); err == nil {
		t.Error("expected channel close error")
	}
}

func TestAccumulators(t *testing.T) {
	t.Parallel()
	s := New(Settings{})

	s.AppendTranscript("hello ")
	s.AppendTranscript("there")
	if got := s.TakeTranscript(); got != "hello there" {
		t.Errorf("transcript = %q", got)
	}
	if got := s.TakeTranscript(); got != "" {
		t.Errorf("transcript not reset: %q", got)
	}

	s.AddUsage(types.Usage{PromptTokens: 10, ResponseTokens: 5, TotalTokens: 15})
	s.AddUsage(types.Usage{PromptTokens: 1, ResponseTokens: 2, TotalTokens: 3})
	if got := s.Usage(); got.TotalTokens != 18 {
		t.Errorf("usage total = %d, want 18", got.TotalTokens)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	s := New(Settings{})

	if err := r.Add(s); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(s); err == nil {
		t.Error("duplicate add accepted")
	}
	if r.Get(s.ID()) != s {
		t.Error("get returned wrong session")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}

	r.Remove(s.ID())
	if r.Get(s.ID()) != nil {
		t.Error("removed session still resolvable")
	}
	r.Remove(s.ID()) // unknown id is a no-op
}
