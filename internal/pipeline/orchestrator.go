package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/echoloom/echoloom/internal/adaptive"
	"github.com/echoloom/echoloom/internal/fallback"
	"github.com/echoloom/echoloom/internal/interrupt"
	"github.com/echoloom/echoloom/internal/observe"
	"github.com/echoloom/echoloom/internal/quality"
	"github.com/echoloom/echoloom/internal/resilience"
	"github.com/echoloom/echoloom/pkg/provider/llm"
	"github.com/echoloom/echoloom/pkg/provider/stt"
	"github.com/echoloom/echoloom/pkg/provider/tts"
	"github.com/echoloom/echoloom/pkg/types"
)

// Turn carries the session state one utterance is processed against.
type Turn struct {
	// Language is the session's BCP-47 language tag.
	Language string

	// SystemPrompt is the session's base system instruction.
	SystemPrompt string

	// History is the conversation so far, oldest first. The orchestrator
	// does not mutate it; the caller appends the returned transcript and
	// response after a successful turn.
	History []types.Message

	// Style bounds the completion length.
	Style types.ResponseStyle

	// Voice selects the synthesis voice.
	Voice types.VoiceProfile

	// Interrupts is the session's interruption context store. May be nil.
	Interrupts *interrupt.Store

	// Adaptive is the session's adaptive profile. May be nil.
	Adaptive *adaptive.Manager
}

// Latency is the per-stage breakdown of one processed utterance.
type Latency struct {
	Total         time.Duration
	Transcription time.Duration
	Generation    time.Duration
	Synthesis     time.Duration
}

// Result is the outcome of processing one utterance.
type Result struct {
	// Transcript is the recognised user text, empty when transcription
	// failed or produced nothing usable.
	Transcript string

	// Text is the reply to speak.
	Text string

	// Audio is the synthesized reply, 16-bit PCM.
	Audio []byte

	// Issues are the quality problems detected in the transcription.
	Issues []quality.Issue

	// Action is the analyzer's recommendation for this turn.
	Action quality.Action

	// Fallback reports whether the reply came from the fallback selector
	// rather than generation.
	Fallback bool

	// FallbackSource names the fallback tier that served, when Fallback.
	FallbackSource fallback.Source

	// Transcriber names the speech-to-text backend that served this turn.
	Transcriber string

	// Resumed reports whether generation went through the
	// interruption-aware responder.
	Resumed bool

	// Latency is the per-stage timing breakdown.
	Latency Latency
}

// Orchestrator runs the transcribe-then-synthesize pipeline for one
// utterance at a time. Safe for concurrent use across sessions.
type Orchestrator struct {
	transcribers *resilience.FallbackGroup[stt.Provider]
	generator    llm.Provider
	synthesizer  tts.Provider
	analyzer     *quality.Analyzer
	fallbacks    *fallback.Selector
	responder    *interrupt.Responder
	metrics      *observe.Metrics
	logger       *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics overrides the metrics sink, for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator wires the pipeline collaborators together. fallbacks may
// be nil, in which case quality failures surface as errors instead of
// fallback utterances.
func NewOrchestrator(
	transcribers *resilience.FallbackGroup[stt.Provider],
	generator llm.Provider,
	synthesizer tts.Provider,
	fallbacks *fallback.Selector,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		transcribers: transcribers,
		generator:    generator,
		synthesizer:  synthesizer,
		analyzer:     quality.NewAnalyzer(),
		fallbacks:    fallbacks,
		responder:    interrupt.NewResponder(generator),
		metrics:      observe.DefaultMetrics(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PreferTranscriber moves the named transcription backend to the front of
// the try order. Driven by the SWITCH_TRANSCRIPTION_MODE directive.
func (o *Orchestrator) PreferTranscriber(name string) bool {
	return o.transcribers.Prefer(name)
}

// ProcessAudio runs one utterance of PCM audio through the full pipeline and
// returns the reply. Quality problems never surface as errors: they divert
// the turn to the fallback selector, so the user always hears something.
func (o *Orchestrator) ProcessAudio(ctx context.Context, pcm []byte, turn Turn) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.ProcessAudio")
	defer span.End()

	start := time.Now()
	var res Result

	// Stage 1: transcription, with backend fallthrough.
	sttStart := time.Now()
	trans, served, err := resilience.ExecuteWithResult(o.transcribers, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, pcm, turn.Language)
	})
	res.Latency.Transcription = time.Since(sttStart)
	res.Transcriber = served
	o.metrics.STTDuration.Record(ctx, res.Latency.Transcription.Seconds(),
		metric.WithAttributes(observe.Attr("provider", served)))
	if err != nil {
		o.logger.Warn("transcription failed on all backends", "error", err)
		o.metrics.RecordProviderError(ctx, "stt", "transcribe")
		o.metrics.RecordProviderRequest(ctx, served, "stt", "error")
		trans = stt.Result{Success: false}
	} else {
		o.metrics.RecordProviderRequest(ctx, served, "stt", "ok")
	}
	res.Transcript = trans.Transcript

	// Stage 2: quality analysis.
	res.Issues = o.analyzer.Analyze(trans, turn.Language)
	res.Action = quality.RecommendedAction(res.Issues)
	for _, issue := range res.Issues {
		o.metrics.RecordQualityIssue(ctx, string(issue.Type), string(issue.Severity))
		if turn.Adaptive != nil {
			turn.Adaptive.RecordIssue(issue)
		}
	}
	if res.Action != quality.ActionContinue && res.Action != quality.ActionContinueWithCaution {
		return o.divertToFallback(ctx, turn, res, start)
	}

	// Stage 3: generation, resumption-aware.
	genStart := time.Now()
	text, resumed, err := o.generate(ctx, turn, trans.Transcript)
	res.Latency.Generation = time.Since(genStart)
	if err != nil {
		o.metrics.RecordProviderError(ctx, "llm", "generate")
		return res, fmt.Errorf("pipeline: generate: %w", err)
	}
	res.Text = text
	res.Resumed = resumed
	o.metrics.LLMDuration.Record(ctx, res.Latency.Generation.Seconds())

	// Stage 4: synthesis.
	ttsStart := time.Now()
	audio, err := o.synthesizer.Synthesize(ctx, text, turn.Language, turn.Voice)
	res.Latency.Synthesis = time.Since(ttsStart)
	if err != nil {
		o.metrics.RecordProviderError(ctx, "tts", "synthesize")
		return res, fmt.Errorf("pipeline: synthesize: %w", err)
	}
	res.Audio = audio
	o.metrics.TTSDuration.Record(ctx, res.Latency.Synthesis.Seconds())

	if turn.Adaptive != nil {
		turn.Adaptive.ResetAttempts()
	}
	res.Latency.Total = time.Since(start)
	o.metrics.TurnDuration.Record(ctx, res.Latency.Total.Seconds())
	return res, nil
}

// generate produces the reply text, routing through the interruption-aware
// responder when the session carries a resumable context.
func (o *Orchestrator) generate(ctx context.Context, turn Turn, transcript string) (string, bool, error) {
	if turn.Interrupts != nil {
		if ic := turn.Interrupts.LastResumable(); ic != nil {
			text, err := o.responder.Respond(ctx, interrupt.Request{
				Context:      ic,
				UserText:     transcript,
				Language:     turn.Language,
				SystemPrompt: turn.SystemPrompt,
				History:      turn.History,
				Style:        turn.Style,
			})
			if err != nil {
				return "", false, err
			}
			turn.Interrupts.Clear()
			return text, true, nil
		}
	}

	text, err := o.generator.Generate(ctx, llm.Request{
		SystemPrompt: turn.SystemPrompt,
		Messages: append(append([]types.Message{}, turn.History...), types.Message{
			Role:    "user",
			Content: transcript,
		}),
		MaxTokens: turn.Style.TokenBudget(),
	})
	return text, false, err
}

// divertToFallback serves a pre-baked or synthesized recovery utterance for
// a turn whose transcription quality was insufficient.
func (o *Orchestrator) divertToFallback(ctx context.Context, turn Turn, res Result, start time.Time) (Result, error) {
	if o.fallbacks == nil {
		res.Latency.Total = time.Since(start)
		return res, fmt.Errorf("pipeline: quality action %s with no fallback selector", res.Action)
	}

	attempts := 0
	frustration := 0.0
	if turn.Adaptive != nil {
		attempts = turn.Adaptive.RecordAttempt()
		frustration = turn.Adaptive.Frustration()
	}

	fb, err := o.fallbacks.Select(ctx, fallback.Request{
		Language:    turn.Language,
		Issue:       dominantIssue(res.Issues),
		Attempts:    attempts,
		Frustration: frustration,
		Voice:       turn.Voice,
	})
	if err != nil {
		return res, fmt.Errorf("pipeline: fallback: %w", err)
	}

	res.Text = fb.Text
	res.Audio = fb.Audio
	res.Fallback = true
	res.FallbackSource = fb.Source
	res.Latency.Synthesis = fb.Latency
	res.Latency.Total = time.Since(start)
	o.metrics.RecordFallback(ctx, string(fb.Source))
	o.metrics.TurnDuration.Record(ctx, res.Latency.Total.Seconds())
	o.logger.Info("turn diverted to fallback",
		"action", res.Action, "source", fb.Source, "attempts", attempts)
	return res, nil
}

// severityRank orders severities for dominant-issue selection.
var severityRank = map[quality.Severity]int{
	quality.SeverityCritical: 3,
	quality.SeverityHigh:     2,
	quality.SeverityMedium:   1,
	quality.SeverityLow:      0,
}

// dominantIssue picks the most severe issue, earliest wins on ties.
func dominantIssue(issues []quality.Issue) quality.Issue {
	if len(issues) == 0 {
		return quality.Issue{Type: quality.IssueEmptyTranscript, Severity: quality.SeverityCritical}
	}
	best := issues[0]
	for _, iss := range issues[1:] {
		if severityRank[iss.Severity] > severityRank[best.Severity] {
			best = iss
		}
	}
	return best
}
