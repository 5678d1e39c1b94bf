package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/echoloom/echoloom/internal/config"
	"github.com/echoloom/echoloom/internal/observe"
)

// warningPhrases asks whether the user wants to continue, per language.
var warningPhrases = map[string]string{
	"en": "We've been talking for a while. Would you like to continue?",
	"de": "Wir sprechen schon eine Weile. Möchten Sie weitermachen?",
	"es": "Llevamos un rato hablando. ¿Quiere continuar?",
	"fr": "Nous parlons depuis un moment. Voulez-vous continuer ?",
}

// goodbyePhrases closes the conversation, per language.
var goodbyePhrases = map[string]string{
	"en": "It seems we're done for now. Goodbye!",
	"de": "Es scheint, wir sind fertig. Auf Wiedersehen!",
	"es": "Parece que hemos terminado por ahora. ¡Adiós!",
	"fr": "Il semble que nous ayons terminé. Au revoir !",
}

// Speaker delivers engine-initiated utterances (warnings, goodbyes) to the
// session's client, spoken in the session language via whichever mode the
// session runs in. Failures are logged and never block closure.
type Speaker interface {
	Speak(ctx context.Context, s *Session, text string) error
}

// Closer tears down the transport behind a session: the client receives a
// session_ended event, the connection closes, and the session leaves the
// registry. The transport server implements this alongside Speaker so
// supervisor-initiated closes reach the client instead of only the registry.
type Closer interface {
	CloseSession(ctx context.Context, s *Session, reason CloseReason) error
}

// Supervisor drives every session's lifecycle from one periodic loop instead
// of per-session timers, keeping timeout decisions centralized and
// deterministic under a fake clock.
type Supervisor struct {
	registry *Registry
	speaker  Speaker
	cfg      config.SessionConfig
	metrics  *observe.Metrics
	logger   *slog.Logger
	now      func() time.Time

	// graceDelay lets goodbye audio flush before the channel is torn down.
	graceDelay time.Duration
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorClock overrides the time source, for tests.
func WithSupervisorClock(now func() time.Time) SupervisorOption {
	return func(sv *Supervisor) { sv.now = now }
}

// WithGraceDelay overrides the goodbye flush delay.
func WithGraceDelay(d time.Duration) SupervisorOption {
	return func(sv *Supervisor) { sv.graceDelay = d }
}

// WithSupervisorMetrics overrides the metrics sink.
func WithSupervisorMetrics(m *observe.Metrics) SupervisorOption {
	return func(sv *Supervisor) { sv.metrics = m }
}

// NewSupervisor creates a supervisor over the given registry.
func NewSupervisor(registry *Registry, speaker Speaker, cfg config.SessionConfig, opts ...SupervisorOption) *Supervisor {
	sv := &Supervisor{
		registry:   registry,
		speaker:    speaker,
		cfg:        cfg,
		metrics:    observe.DefaultMetrics(),
		logger:     slog.Default(),
		now:        time.Now,
		graceDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(sv)
	}
	return sv
}

// Run executes the periodic check until ctx is cancelled.
func (sv *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(sv.cfg.LifecycleCheckInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sv.CheckOnce(ctx)
		}
	}
}

// CheckOnce evaluates every live session against the lifecycle rules.
// Exposed so tests can drive the supervisor with a fake clock.
func (sv *Supervisor) CheckOnce(ctx context.Context) {
	for _, s := range sv.registry.Snapshot() {
		sv.check(ctx, s)
	}
}

// check applies the timeout rules to one session. Precedence: an unanswered
// duration warning wins over issuing a fresh warning, which wins over the
// inactivity timeout. A pending warning suppresses the inactivity check
// entirely.
func (sv *Supervisor) check(ctx context.Context, s *Session) {
	now := sv.now()

	switch s.State() {
	case StateDurationWarned:
		warned := s.WarnedAt()
		if warned != nil && now.Sub(*warned) > sv.cfg.WarningTimeout() {
			sv.logger.Info("duration warning unanswered, closing session",
				"session_id", s.ID())
			sv.CloseSession(ctx, s, CloseWarningExpired)
		}

	case StateActive:
		if now.Sub(s.CreatedAt()) > sv.cfg.DurationWarning() && s.WarnedAt() == nil {
			sv.logger.Info("session duration threshold crossed, warning user",
				"session_id", s.ID(), "age", now.Sub(s.CreatedAt()))
			sv.speak(ctx, s, warningPhrases)
			s.MarkWarned()
			return
		}
		if now.Sub(s.LastActivity()) > sv.cfg.InactivityTimeout() {
			sv.logger.Info("session inactive, closing",
				"session_id", s.ID(), "idle", now.Sub(s.LastActivity()))
			sv.CloseSession(ctx, s, CloseInactivity)
		}
	}
}

// CloseSession says goodbye, waits for the audio to flush, then closes the
// session and removes it from the registry. When the speaker also implements
// [Closer], teardown is delegated to the transport so the client sees a
// session_ended event and the connection actually closes.
func (sv *Supervisor) CloseSession(ctx context.Context, s *Session, reason CloseReason) {
	if reason == CloseInactivity || reason == CloseWarningExpired {
		sv.speak(ctx, s, goodbyePhrases)
		if sv.graceDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(sv.graceDelay):
			}
		}
	}

	if closer, ok := sv.speaker.(Closer); ok {
		err := closer.CloseSession(ctx, s, reason)
		if err == nil {
			// The transport owns the rest: registry removal and the
			// closure metric happen in its teardown.
			return
		}
		sv.logger.Warn("transport close failed, closing session directly",
			"session_id", s.ID(), "error", err)
	}

	if err := s.Close(); err != nil {
		sv.logger.Warn("session channel close failed",
			"session_id", s.ID(), "error", err)
	}
	sv.registry.Remove(s.ID())
	sv.metrics.RecordSessionClosure(ctx, string(reason))
}

// speak delivers a localized phrase, falling back to English. Speaker
// failures never abort lifecycle handling.
func (sv *Supervisor) speak(ctx context.Context, s *Session, phrases map[string]string) {
	if sv.speaker == nil {
		return
	}
	text, ok := phrases[baseLanguage(s.Language())]
	if !ok {
		text = phrases["en"]
	}
	if err := sv.speaker.Speak(ctx, s, text); err != nil {
		sv.logger.Warn("lifecycle utterance failed",
			"session_id", s.ID(), "error", err)
	}
}

func baseLanguage(tag string) string {
	tag = strings.ToLower(tag)
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}
