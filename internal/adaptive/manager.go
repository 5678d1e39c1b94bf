package adaptive

import (
	"sync"
	"time"

	"github.com/echoloom/echoloom/internal/interrupt"
	"github.com/echoloom/echoloom/internal/quality"
)

type issueSample struct {
	at       time.Time
	issue    quality.IssueType
	severity quality.Severity
}

type interruptSample struct {
	at  time.Time
	typ interrupt.Type
}

// Manager owns one session's adaptive profile. Safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	window    time.Duration
	sampleCap int
	now       func() time.Time

	issues        []issueSample
	interruptions []interruptSample

	noise          Level
	clarity        Level
	pauseFrequency Level
	style          InterruptionStyle
	frustration    float64
	baseline       float64
	attempts       int

	// directives maps active directive → activation time.
	directives map[Directive]time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithWindow overrides the assessment window.
func WithWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.window = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager with default assessments (quiet, clear,
// infrequent pauses, normal interruption style).
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		window:         DefaultWindow,
		sampleCap:      DefaultSampleCap,
		now:            time.Now,
		noise:          LevelLow,
		clarity:        LevelHigh,
		pauseFrequency: LevelLow,
		style:          StyleNormal,
		directives:     make(map[Directive]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Warm seeds the profile from a prior session's averages so adaptation does
// not start from scratch for a known user.
func (m *Manager) Warm(frustrationBaseline float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline = clamp01(frustrationBaseline)
	m.frustration = m.baseline
}

// RecordIssue appends a quality issue to the windowed history and recomputes
// the assessments.
func (m *Manager) RecordIssue(issue quality.Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues = append(m.issues, issueSample{at: m.now(), issue: issue.Type, severity: issue.Severity})
	if len(m.issues) > m.sampleCap {
		m.issues = m.issues[len(m.issues)-m.sampleCap:]
	}
	m.recompute()
}

// RecordInterruption appends an interruption to the windowed history and
// recomputes the assessments.
func (m *Manager) RecordInterruption(event interrupt.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interruptions = append(m.interruptions, interruptSample{at: m.now(), typ: event.Type})
	if len(m.interruptions) > m.sampleCap {
		m.interruptions = m.interruptions[len(m.interruptions)-m.sampleCap:]
	}
	m.recompute()
}

// RecordAttempt increments the fallback attempt counter.
func (m *Manager) RecordAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	return m.attempts
}

// ResetAttempts clears the attempt counter after a successful turn.
func (m *Manager) ResetAttempts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
}

// recompute rebuilds every assessment from samples within the window.
// Caller holds m.mu.
func (m *Manager) recompute() {
	cutoff := m.now().Add(-m.window)

	var noise, clarity, pauses int
	frustration := m.baseline
	for _, s := range m.issues {
		if s.at.Before(cutoff) {
			continue
		}
		frustration += severityWeights[s.severity]
		switch s.issue {
		case quality.IssueBackgroundNoise:
			noise++
		case quality.IssueLowConfidence, quality.IssueIncoherentSpeech:
			clarity++
		case quality.IssueLongPause:
			pauses++
		}
	}

	var urgent, clarifications, total int
	for _, s := range m.interruptions {
		if s.at.Before(cutoff) {
			continue
		}
		total++
		switch s.typ {
		case interrupt.TypeUrgent:
			urgent++
		case interrupt.TypeClarification:
			clarifications++
		}
	}
	if total >= frustrationInterruptMin {
		frustration += frustrationInterruptAdd
	}

	m.noise = escalate(noise)
	m.clarity = degrade(clarity)
	m.pauseFrequency = escalate(pauses)
	m.frustration = clamp01(frustration)

	switch {
	case urgent >= 3:
		m.style = StyleUrgent
	case total >= 5:
		m.style = StyleFrequent
	case clarifications >= 3:
		m.style = StyleClarificationSeeker
	default:
		m.style = StyleNormal
	}
}

// Adapt evaluates the current assessments and returns the directives that
// became active on this call. Already-active directives are never re-emitted;
// directives expire DirectiveTTL after activation.
func (m *Manager) Adapt() []Directive {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for d, at := range m.directives {
		if now.Sub(at) > DirectiveTTL {
			delete(m.directives, d)
		}
	}

	var fresh []Directive
	emit := func(d Directive) {
		if _, active := m.directives[d]; active {
			return
		}
		m.directives[d] = now
		fresh = append(fresh, d)
	}

	if m.noise == LevelHigh {
		emit(DirectiveSuggestTextInput)
	}
	if m.clarity == LevelLow {
		emit(DirectiveSwitchTranscriptionMode)
	}
	if m.pauseFrequency == LevelHigh {
		emit(DirectiveRaiseSilenceThreshold)
	}
	if m.frustration > frustrationHandoffMin {
		emit(DirectiveOfferHumanHandoff)
	}
	if m.style == StyleFrequent {
		emit(DirectiveUseConciseResponses)
	}
	if m.style == StyleClarificationSeeker {
		emit(DirectiveUseDetailedResponses)
	}
	return fresh
}

// Snapshot returns the current profile.
func (m *Manager) Snapshot() Profile {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make([]Directive, 0, len(m.directives))
	now := m.now()
	for d, at := range m.directives {
		if now.Sub(at) <= DirectiveTTL {
			active = append(active, d)
		}
	}
	return Profile{
		Noise:             m.noise,
		Clarity:           m.clarity,
		PauseFrequency:    m.pauseFrequency,
		InterruptionStyle: m.style,
		Frustration:       m.frustration,
		Attempts:          m.attempts,
		ActiveDirectives:  active,
	}
}

// Frustration returns the current frustration estimate in [0, 1].
func (m *Manager) Frustration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frustration
}

// escalate maps an in-window count to a level: 2 → medium, 3+ → high.
func escalate(count int) Level {
	switch {
	case count >= 3:
		return LevelHigh
	case count >= 2:
		return LevelMedium
	default:
		return LevelLow
	}
}

// degrade is the inverse grading used for clarity: more problems means a
// lower level.
func degrade(count int) Level {
	switch {
	case count >= 3:
		return LevelLow
	case count >= 2:
		return LevelMedium
	default:
		return LevelHigh
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
