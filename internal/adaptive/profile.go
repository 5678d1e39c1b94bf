// Package adaptive maintains per-session rolling statistics about
// conversation quality and interruption behavior, and converts them into
// behavioral adaptation directives.
//
// All assessments are recomputed from counts within a sliding time window,
// so a noisy first minute does not permanently mark the session as noisy.
// Directives are idempotent while active and decay on their own after a
// fixed period.
package adaptive

import (
	"time"

	"github.com/echoloom/echoloom/internal/quality"
)

// Level grades an environmental assessment.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// InterruptionStyle classifies how the user interrupts.
type InterruptionStyle string

const (
	StyleNormal              InterruptionStyle = "normal"
	StyleUrgent              InterruptionStyle = "urgent"
	StyleFrequent            InterruptionStyle = "frequent"
	StyleClarificationSeeker InterruptionStyle = "clarification_seeker"
)

// Directive is one behavioral adaptation the engine should apply.
type Directive string

const (
	// DirectiveSuggestTextInput: the environment is too noisy for reliable
	// speech input; suggest typing instead.
	DirectiveSuggestTextInput Directive = "SUGGEST_TEXT_INPUT"

	// DirectiveSwitchTranscriptionMode: speech clarity is low; silently
	// prefer an alternative transcription backend.
	DirectiveSwitchTranscriptionMode Directive = "SWITCH_TRANSCRIPTION_MODE"

	// DirectiveRaiseSilenceThreshold: the user pauses often mid-sentence;
	// wait longer before treating silence as end of turn.
	DirectiveRaiseSilenceThreshold Directive = "RAISE_SILENCE_THRESHOLD"

	// DirectiveOfferHumanHandoff: frustration is high; offer to connect the
	// user with a person.
	DirectiveOfferHumanHandoff Directive = "OFFER_HUMAN_HANDOFF"

	// DirectiveUseConciseResponses: the user interrupts frequently; keep
	// replies short.
	DirectiveUseConciseResponses Directive = "USE_CONCISE_RESPONSES"

	// DirectiveUseDetailedResponses: the user keeps asking for
	// clarification; explain more thoroughly up front.
	DirectiveUseDetailedResponses Directive = "USE_DETAILED_RESPONSES"
)

// Profile is a point-in-time snapshot of the session's assessments.
type Profile struct {
	Noise             Level
	Clarity           Level
	PauseFrequency    Level
	InterruptionStyle InterruptionStyle
	Frustration       float64
	Attempts          int
	ActiveDirectives  []Directive
}

// severityWeights maps issue severity to its frustration contribution.
var severityWeights = map[quality.Severity]float64{
	quality.SeverityCritical: 0.15,
	quality.SeverityHigh:     0.10,
	quality.SeverityMedium:   0.05,
	quality.SeverityLow:      0.02,
}

const (
	// DefaultWindow bounds how far back samples count toward assessments.
	DefaultWindow = 5 * time.Minute

	// DefaultSampleCap bounds how many samples per history are retained.
	DefaultSampleCap = 10

	// DirectiveTTL is how long an emitted directive stays active.
	DirectiveTTL = 5 * time.Minute

	frustrationHandoffMin   = 0.7
	frustrationInterruptMin = 5
	frustrationInterruptAdd = 0.2
)
