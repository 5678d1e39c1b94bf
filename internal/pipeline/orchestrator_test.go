package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/echoloom/echoloom/internal/adaptive"
	"github.com/echoloom/echoloom/internal/fallback"
	"github.com/echoloom/echoloom/internal/interrupt"
	"github.com/echoloom/echoloom/internal/quality"
	"github.com/echoloom/echoloom/internal/resilience"
	llmmock "github.com/echoloom/echoloom/pkg/provider/llm/mock"
	"github.com/echoloom/echoloom/pkg/provider/stt"
	sttmock "github.com/echoloom/echoloom/pkg/provider/stt/mock"
	ttsmock "github.com/echoloom/echoloom/pkg/provider/tts/mock"
	"github.com/echoloom/echoloom/pkg/types"
)

func goodTranscription() stt.Result {
	return stt.Result{
		Success:    true,
		Transcript: "please schedule a meeting for tomorrow morning",
		Confidence: 0.95,
		IsFinal:    true,
	}
}

func newGroup(primary stt.Provider) *resilience.FallbackGroup[stt.Provider] {
	return resilience.NewFallbackGroup(primary, "primary", resilience.FallbackConfig{})
}

func TestProcessAudio_HappyPath(t *testing.T) {
	t.Parallel()
	transcriber := &sttmock.Provider{Result: goodTranscription()}
	gen := &llmmock.Provider{Response: "Scheduled for nine o'clock."}
	synth := &ttsmock.Provider{Audio: []byte{1, 2, 3}}
	o := NewOrchestrator(newGroup(transcriber), gen, synth, nil)

	res, err := o.ProcessAudio(context.Background(), []byte{0, 0}, Turn{
		Language: "en-US",
		Style:    types.StyleNormal,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Fallback {
		t.Error("clean turn marked as fallback")
	}
	if res.Text != gen.Response {
		t.Errorf("text = %q, want generation output", res.Text)
	}
	if len(res.Audio) == 0 {
		t.Error("no audio synthesized")
	}
	if res.Transcriber != "primary" {
		t.Errorf("transcriber = %q, want primary", res.Transcriber)
	}
	if res.Action != quality.ActionContinue {
		t.Errorf("action = %s, want CONTINUE", res.Action)
	}
	if res.Latency.Total <= 0 {
		t.Error("latency breakdown missing total")
	}
	if got := gen.LastRequest().MaxTokens; got != types.StyleNormal.TokenBudget() {
		t.Errorf("MaxTokens = %d, want %d", got, types.StyleNormal.TokenBudget())
	}
}

func TestProcessAudio_TranscriberFallthrough(t *testing.T) {
	t.Parallel()
	broken := &sttmock.Provider{Err: errors.New("upstream 500"), NameResult: "whisper"}
	backup := &sttmock.Provider{Result: goodTranscription(), NameResult: "openai"}
	group := resilience.NewFallbackGroup[stt.Provider](broken, "whisper", resilience.FallbackConfig{})
	group.AddFallback("openai", backup)

	gen := &llmmock.Provider{Response: "done"}
	synth := &ttsmock.Provider{Audio: []byte{1}}
	o := NewOrchestrator(group, gen, synth, nil)

	res, err := o.ProcessAudio(context.Background(), []byte{0}, Turn{Language: "en-US"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Transcriber != "openai" {
		t.Errorf("transcriber = %q, want the fallback backend", res.Transcriber)
	}
}

// Scenario: transcription fails everywhere. The turn must produce an
// EMPTY_TRANSCRIPT issue and a fallback utterance, not an error.
func TestProcessAudio_HardTranscriptionFailureFallsBack(t *testing.T) {
	t.Parallel()
	broken := &sttmock.Provider{Err: errors.New("unreachable")}
	fbSynth := &ttsmock.Provider{Audio: []byte{7}}
	selector := fallback.NewSelector(nil, fbSynth)
	o := NewOrchestrator(newGroup(broken), &llmmock.Provider{}, &ttsmock.Provider{}, selector)

	res, err := o.ProcessAudio(context.Background(), []byte{0}, Turn{Language: "en-US"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Fallback {
		t.Fatal("expected fallback response")
	}
	if !hasIssueType(res.Issues, quality.IssueEmptyTranscript) {
		t.Errorf("issues = %+v, want EMPTY_TRANSCRIPT", res.Issues)
	}
	if res.Action != quality.ActionRequestRepeat {
		t.Errorf("action = %s, want REQUEST_REPEAT", res.Action)
	}
	if res.Text == "" || len(res.Audio) == 0 {
		t.Error("fallback response missing text or audio")
	}
}

func TestProcessAudio_QualityDivertsAndFeedsAdaptive(t *testing.T) {
	t.Parallel()
	transcriber := &sttmock.Provider{Result: stt.Result{
		Success:    true,
		Transcript: "turn on the lights maybe",
		Confidence: 0.25,
		IsFinal:    true,
	}}
	selector := fallback.NewSelector(nil, &ttsmock.Provider{Audio: []byte{1}})
	gen := &llmmock.Provider{Response: "should not be used"}
	o := NewOrchestrator(newGroup(transcriber), gen, &ttsmock.Provider{}, selector)

	profile := adaptive.NewManager()
	res, err := o.ProcessAudio(context.Background(), []byte{0}, Turn{
		Language: "en-US",
		Adaptive: profile,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Fallback {
		t.Fatal("critical low confidence should divert to fallback")
	}
	if gen.CallCount() != 0 {
		t.Error("generation ran for a diverted turn")
	}
	if profile.Snapshot().Attempts != 1 {
		t.Errorf("attempts = %d, want 1", profile.Snapshot().Attempts)
	}
	if profile.Frustration() == 0 {
		t.Error("recorded issues should raise frustration")
	}
}

func TestProcessAudio_ResumesInterruptedResponse(t *testing.T) {
	t.Parallel()
	transcriber := &sttmock.Provider{Result: goodTranscription()}
	gen := &llmmock.Provider{Response: "picking up where we left off"}
	o := NewOrchestrator(newGroup(transcriber), gen, &ttsmock.Provider{Audio: []byte{1}}, nil)

	store := interrupt.NewStore(3)
	store.Save(interrupt.Event{Type: interrupt.TypeBargeIn, Progress: 0.5},
		"the quarterly numbers show a steady improvement across")

	res, err := o.ProcessAudio(context.Background(), []byte{0}, Turn{
		Language:   "en-US",
		Interrupts: store,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Resumed {
		t.Fatal("expected resumption through the interruption-aware path")
	}
	prompt := gen.LastRequest().Messages[len(gen.LastRequest().Messages)-1].Content
	if !strings.Contains(prompt, "interrupted") {
		t.Errorf("prompt does not carry interruption context: %q", prompt)
	}
	if store.Len() != 0 {
		t.Error("interruption store not cleared after resumption")
	}
}

func TestProcessAudio_SynthesisErrorSurfaces(t *testing.T) {
	t.Parallel()
	transcriber := &sttmock.Provider{Result: goodTranscription()}
	synth := &ttsmock.Provider{Err: errors.New("voice quota exceeded")}
	o := NewOrchestrator(newGroup(transcriber), &llmmock.Provider{Response: "ok"}, synth, nil)

	if _, err := o.ProcessAudio(context.Background(), []byte{0}, Turn{Language: "en-US"}); err == nil {
		t.Fatal("expected synthesis error to surface")
	}
}

func hasIssueType(issues []quality.Issue, t quality.IssueType) bool {
	for _, iss := range issues {
		if iss.Type == t {
			return true
		}
	}
	return false
}
