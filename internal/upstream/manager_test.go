package upstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/echoloom/echoloom/internal/config"
	"github.com/echoloom/echoloom/internal/interrupt"
	"github.com/echoloom/echoloom/internal/session"
	"github.com/echoloom/echoloom/pkg/provider/live"
	livemock "github.com/echoloom/echoloom/pkg/provider/live/mock"
	"github.com/echoloom/echoloom/pkg/types"
)

type recordingSink struct {
	mu    sync.Mutex
	audio [][]byte
	texts []string
}

func (r *recordingSink) WriteAudio(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	r.audio = append(r.audio, cp)
	return nil
}

func (r *recordingSink) WriteText(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingSink) audioCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.audio)
}

func (r *recordingSink) lastText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		ConnectTimeoutSeconds: 5,
		SetupTimeoutSeconds:   5,
		PrimingSettleDelayMs:  60000, // tests end priming explicitly
	}
}

func newTestSession() *session.Session {
	s := session.New(session.Settings{
		Language:     "en-US",
		SystemPrompt: "be brief",
		Mode:         config.ModeNative,
	})
	return s
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func openTestLink(t *testing.T) (*Link, *livemock.Session, *recordingSink, *session.Session) {
	t.Helper()
	handle := livemock.NewSession()
	handle.Ready()
	provider := &livemock.Provider{Session: handle}
	sink := &recordingSink{}
	sess := newTestSession()

	m := NewManager(provider, testConfig())
	link, err := m.Open(context.Background(), sess, sink)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = link.Close() })
	return link, handle, sink, sess
}

func TestOpen_ConnectFailure(t *testing.T) {
	t.Parallel()
	provider := &livemock.Provider{ConnectErr: errors.New("dns failure")}
	m := NewManager(provider, testConfig())

	_, err := m.Open(context.Background(), newTestSession(), &recordingSink{})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *ConnectionError", err)
	}
}

func TestOpen_SetupFailureClosesHandle(t *testing.T) {
	t.Parallel()
	handle := livemock.NewSession()
	handle.AwaitReadyErr = errors.New("setup rejected")
	handle.Ready()
	m := NewManager(&livemock.Provider{Session: handle}, testConfig())

	_, err := m.Open(context.Background(), newTestSession(), &recordingSink{})
	var setupErr *SetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("err = %v, want *SetupError", err)
	}
	if handle.CloseCalls != 1 {
		t.Errorf("handle close calls = %d, want 1", handle.CloseCalls)
	}
}

func TestOpen_SendsSetupConfigAndGreeting(t *testing.T) {
	t.Parallel()
	handle := livemock.NewSession()
	handle.Ready()
	provider := &livemock.Provider{Session: handle}
	m := NewManager(provider, testConfig())

	sess := newTestSession()
	link, err := m.Open(context.Background(), sess, &recordingSink{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer link.Close()

	cfg := provider.ConnectCalls[0]
	if cfg.Language != "en-US" || cfg.SystemInstruction != "be brief" {
		t.Errorf("setup config = %+v", cfg)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].Name != "display_text" {
		t.Errorf("tools = %+v, want the display_text declaration", cfg.Tools)
	}
	if len(handle.TextCalls) != 1 || handle.TextCalls[0].Text != greetings["en"] || !handle.TextCalls[0].EndTurn {
		t.Errorf("priming greeting = %+v", handle.TextCalls)
	}
	if sess.State() != session.StatePriming {
		t.Errorf("state = %s, want PRIMING", sess.State())
	}
	if !link.Priming() {
		t.Error("link not in priming")
	}
}

func TestDemux_PrimingSuppressesAudioUntilTurnComplete(t *testing.T) {
	t.Parallel()
	link, handle, sink, sess := openTestLink(t)

	// Response produced by the greeting: must never reach the client.
	handle.Emit(live.Event{Type: live.EventAudio, Audio: []byte{1, 2}})
	handle.Emit(live.Event{Type: live.EventText, Text: "Hello there!"})
	handle.Emit(live.Event{Type: live.EventTurnComplete})

	waitFor(t, func() bool { return !link.Priming() })
	if sess.State() != session.StateActive {
		t.Errorf("state = %s, want ACTIVE after priming", sess.State())
	}
	if sink.audioCount() != 0 {
		t.Errorf("priming audio leaked to the client: %d chunks", sink.audioCount())
	}

	// Post-priming audio flows through.
	handle.Emit(live.Event{Type: live.EventAudio, Audio: []byte{3, 4}})
	waitFor(t, func() bool { return sink.audioCount() == 1 })
}

func TestDemux_PrimingSettleDelayFallback(t *testing.T) {
	t.Parallel()
	handle := livemock.NewSession()
	handle.Ready()
	cfg := testConfig()
	cfg.PrimingSettleDelayMs = 20
	m := NewManager(&livemock.Provider{Session: handle}, cfg)

	sess := newTestSession()
	link, err := m.Open(context.Background(), sess, &recordingSink{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer link.Close()

	// The upstream never signals turn completion; the settle timer ends
	// priming anyway.
	waitFor(t, func() bool { return !link.Priming() })
	if sess.State() != session.StateActive {
		t.Errorf("state = %s, want ACTIVE", sess.State())
	}
}

func TestDemux_TextAccumulatesAndFlushesOnTurnComplete(t *testing.T) {
	t.Parallel()
	link, handle, sink, _ := openTestLink(t)
	handle.Emit(live.Event{Type: live.EventTurnComplete}) // ends priming
	waitFor(t, func() bool { return !link.Priming() })

	handle.Emit(live.Event{Type: live.EventText, Text: "The meeting "})
	handle.Emit(live.Event{Type: live.EventText, Text: "is at three."})
	handle.Emit(live.Event{Type: live.EventTurnComplete})

	waitFor(t, func() bool { return sink.lastText() == "The meeting is at three." })
}

func TestDemux_ToolCallSanitized(t *testing.T) {
	t.Parallel()
	link, handle, sink, _ := openTestLink(t)
	handle.Emit(live.Event{Type: live.EventTurnComplete})
	waitFor(t, func() bool { return !link.Priming() })

	handle.Emit(live.Event{Type: live.EventToolCall, Tool: &live.ToolInvocation{
		ID:   "call-1",
		Name: "display_text",
		Args: map[string]any{"text": "  Route 9 is closed today.  "},
	}})
	waitFor(t, func() bool { return sink.lastText() == "Route 9 is closed today." })

	waitFor(t, func() bool { return handle.LastToolResponse().ID == "call-1" })
	if resp := handle.LastToolResponse(); resp.Name != "display_text" {
		t.Errorf("tool response = %+v", resp)
	}
}

func TestDemux_MalformedToolRecoveredWithDefault(t *testing.T) {
	t.Parallel()
	link, handle, sink, _ := openTestLink(t)
	handle.Emit(live.Event{Type: live.EventTurnComplete})
	waitFor(t, func() bool { return !link.Priming() })

	handle.Emit(live.Event{Type: live.EventToolCall, Tool: &live.ToolInvocation{
		ID:   "call-2",
		Name: "display_text",
		Args: map[string]any{"text": 42},
	}})

	// The malformed argument is replaced, not surfaced as an error.
	waitFor(t, func() bool { return sink.lastText() == defaultToolText })
}

func TestDemux_InterruptionSnapshotsResponse(t *testing.T) {
	t.Parallel()
	link, handle, _, sess := openTestLink(t)
	handle.Emit(live.Event{Type: live.EventTurnComplete})
	waitFor(t, func() bool { return !link.Priming() })

	handle.Emit(live.Event{Type: live.EventText, Text: "Let me walk you through the steps"})
	handle.Emit(live.Event{Type: live.EventInputTranscript, Text: "wait, why is that needed?"})
	handle.Emit(live.Event{Type: live.EventInterrupted})

	waitFor(t, func() bool { return sess.Interrupts.Len() == 1 })
	c := sess.Interrupts.LastResumable()
	if c == nil {
		t.Fatal("interruption context not resumable")
	}
	if c.Type != interrupt.TypeClarification {
		t.Errorf("type = %s, want CLARIFICATION for a question barge-in", c.Type)
	}
	if c.Response.FullText != "Let me walk you through the steps" {
		t.Errorf("snapshot = %q", c.Response.FullText)
	}
}

func TestDemux_UsageMerged(t *testing.T) {
	t.Parallel()
	link, handle, _, sess := openTestLink(t)
	_ = link

	handle.Emit(live.Event{Type: live.EventUsage, Usage: &types.Usage{PromptTokens: 3, ResponseTokens: 7, TotalTokens: 10}})
	handle.Emit(live.Event{Type: live.EventUsage, Usage: &types.Usage{TotalTokens: 5}})

	waitFor(t, func() bool { return sess.Usage().TotalTokens == 15 })
}

func TestLink_SendAudioTouchesActivity(t *testing.T) {
	t.Parallel()
	link, handle, _, sess := openTestLink(t)

	before := sess.LastActivity()
	time.Sleep(2 * time.Millisecond)
	if err := link.SendAudio([]byte{9}); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	if len(handle.SentAudio()) != 1 {
		t.Errorf("audio chunks = %d, want 1", len(handle.SentAudio()))
	}
	if !sess.LastActivity().After(before) {
		t.Error("activity clock not refreshed by outbound audio")
	}
}
