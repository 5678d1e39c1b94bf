// Package upstream manages the live channel to the conversational-audio
// service in native mode: the two-phase handshake, the one-shot priming
// exchange, and the demultiplexing of inbound events into the session.
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/echoloom/echoloom/internal/config"
	"github.com/echoloom/echoloom/internal/interrupt"
	"github.com/echoloom/echoloom/internal/observe"
	"github.com/echoloom/echoloom/internal/session"
	"github.com/echoloom/echoloom/pkg/provider/live"
)

// greetings is the per-language priming utterance. Sent once after setup so
// the upstream's language and voice state is warm before real user audio.
var greetings = map[string]string{
	"en": "Hello!",
	"de": "Hallo!",
	"es": "¡Hola!",
	"fr": "Bonjour !",
}

// displayTextTool is the fixed tool declaration offered to the model: it may
// push a short text card to the client alongside its spoken response.
var displayTextTool = live.ToolDeclaration{
	Name:        "display_text",
	Description: "Show a short text note to the user in addition to the spoken response.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The text to display.",
			},
		},
		"required": []string{"text"},
	},
}

// defaultToolText substitutes for malformed display_text arguments.
const defaultToolText = "Understood."

// maxToolTextLen caps sanitized tool text.
const maxToolTextLen = 500

// Sink receives the demultiplexed outbound stream for the client. The
// transport layer implements it per connection.
type Sink interface {
	// WriteAudio forwards one chunk of response audio to the client.
	WriteAudio(pcm []byte) error

	// WriteText forwards one completed response text to the client.
	WriteText(text string) error
}

// Manager opens live links for sessions.
type Manager struct {
	provider live.Provider
	cfg      config.SessionConfig
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics overrides the metrics sink, for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(mg *Manager) { mg.metrics = m }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(mg *Manager) { mg.logger = l }
}

// NewManager creates a manager over the given live provider.
func NewManager(provider live.Provider, cfg config.SessionConfig, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		cfg:      cfg,
		metrics:  observe.DefaultMetrics(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open establishes the upstream channel for a session: transport connect
// bounded by the connect timeout, setup acknowledgment bounded by the setup
// timeout, then the priming exchange. The returned Link is live and already
// demultiplexing; response audio flows to sink once priming settles.
func (m *Manager) Open(ctx context.Context, sess *session.Session, sink Sink) (*Link, error) {
	ctx, span := observe.StartSpan(ctx, "upstream.Open")
	defer span.End()

	sess.SetState(session.StateHandshaking)
	start := time.Now()

	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout())
	handle, err := m.provider.Connect(connectCtx, live.SessionConfig{
		Language:          sess.Language(),
		Voice:             sess.Voice(),
		SystemInstruction: sess.SystemPrompt(),
		Tools:             []live.ToolDeclaration{displayTextTool},
	})
	cancel()
	if err != nil {
		m.metrics.RecordProviderError(ctx, "live", "connect")
		return nil, &ConnectionError{Err: err}
	}

	setupCtx, cancel := context.WithTimeout(ctx, m.cfg.SetupTimeout())
	err = handle.AwaitReady(setupCtx)
	cancel()
	if err != nil {
		_ = handle.Close()
		m.metrics.RecordProviderError(ctx, "live", "setup")
		return nil, &SetupError{Err: err}
	}
	m.metrics.HandshakeDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", "live")))

	sess.BindChannel(handle)
	sess.SetState(session.StatePriming)

	link := &Link{
		handle:  handle,
		sess:    sess,
		sink:    sink,
		metrics: m.metrics,
		logger:  m.logger.With("session_id", sess.ID()),
		done:    make(chan struct{}),
	}
	link.priming.Store(true)
	go link.demux()

	// Priming exchange: a greeting turn the client never hears. The settle
	// timer bounds the wait in case the upstream never signals turn end.
	if err := handle.SendText(greetingFor(sess.Language()), true); err != nil {
		link.logger.Warn("priming greeting failed, skipping priming", "error", err)
		link.endPriming()
	} else {
		link.settle = time.AfterFunc(m.cfg.PrimingSettleDelay(), link.endPriming)
	}

	return link, nil
}

// Link is one session's open upstream channel.
type Link struct {
	handle  live.SessionHandle
	sess    *session.Session
	sink    Sink
	metrics *observe.Metrics
	logger  *slog.Logger

	priming atomic.Bool
	settle  *time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

// SendAudio forwards one user audio chunk to the model. Outbound traffic
// counts as session liveness.
func (l *Link) SendAudio(chunk []byte) error {
	if err := l.handle.SendAudio(chunk); err != nil {
		return fmt.Errorf("upstream: send audio: %w", err)
	}
	l.sess.Touch()
	return nil
}

// SendText injects a text turn, used for engine utterances (lifecycle
// warnings, goodbyes) in native mode.
func (l *Link) SendText(text string, endTurn bool) error {
	if err := l.handle.SendText(text, endTurn); err != nil {
		return fmt.Errorf("upstream: send text: %w", err)
	}
	l.sess.Touch()
	return nil
}

// SendTurnComplete signals the explicit end of the user's turn.
func (l *Link) SendTurnComplete() error {
	if err := l.handle.SendTurnComplete(); err != nil {
		return fmt.Errorf("upstream: turn complete: %w", err)
	}
	l.sess.Touch()
	return nil
}

// Priming reports whether the priming exchange is still in flight.
func (l *Link) Priming() bool {
	return l.priming.Load()
}

// Done is closed when the inbound event stream ends.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err returns the error that terminated the channel, or nil.
func (l *Link) Err() error {
	return l.handle.Err()
}

// Close tears the channel down. Safe to call more than once.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.settle != nil {
			l.settle.Stop()
		}
		err = l.handle.Close()
	})
	return err
}

// endPriming clears the priming flag exactly once and activates the session.
func (l *Link) endPriming() {
	if l.priming.CompareAndSwap(true, false) {
		if l.settle != nil {
			l.settle.Stop()
		}
		// Discard whatever the greeting produced; the real conversation
		// starts with an empty turn buffer.
		l.sess.TakeResponse()
		l.sess.SetState(session.StateActive)
		l.logger.Debug("priming settled, session active")
	}
}

// demux is the single receive goroutine: it fans inbound events out to the
// transport sink, the session accumulators, and the interruption machinery.
// Every event counts as liveness.
func (l *Link) demux() {
	defer close(l.done)
	ctx := context.Background()

	for ev := range l.handle.Events() {
		l.sess.Touch()

		switch ev.Type {
		case live.EventAudio:
			if l.priming.Load() {
				continue
			}
			if err := l.sink.WriteAudio(ev.Audio); err != nil {
				l.logger.Warn("audio forward failed", "error", err)
			}

		case live.EventText:
			if l.priming.Load() {
				continue
			}
			l.sess.AppendResponse(ev.Text)

		case live.EventInputTranscript:
			l.sess.AppendTranscript(ev.Text)

		case live.EventTurnComplete:
			if l.priming.Load() {
				l.endPriming()
				continue
			}
			if text := l.sess.TakeResponse(); text != "" {
				if err := l.sink.WriteText(text); err != nil {
					l.logger.Warn("text forward failed", "error", err)
				}
			}

		case live.EventInterrupted:
			l.handleInterruption()

		case live.EventToolCall:
			l.handleTool(ctx, ev.Tool)

		case live.EventUsage:
			if ev.Usage != nil {
				l.sess.AddUsage(*ev.Usage)
			}

		case live.EventError:
			l.logger.Warn("upstream reported error", "error", ev.Err)
		}
	}

	if err := l.handle.Err(); err != nil {
		l.logger.Warn("upstream channel closed dirty", "error", err)
	}
}

// handleInterruption snapshots the cut-off response into the session's
// interruption stack and feeds the adaptive profile.
func (l *Link) handleInterruption() {
	partial := l.sess.TakeTranscript()
	event := interrupt.Event{
		Type:        classifyInterruption(partial),
		Progress:    0.5, // the upstream reports no playback position; assume mid-utterance
		PartialText: partial,
	}
	interrupted := l.sess.TakeResponse()
	if interrupted != "" {
		l.sess.Interrupts.Save(event, interrupted)
	}
	l.sess.Adaptive.RecordInterruption(event)
	l.metrics.RecordInterruption(context.Background(), string(event.Type))
}

// handleTool sanitizes a display_text invocation and acknowledges it so the
// model keeps generating. Malformed arguments are recovered with a default
// text and never surfaced to the client as an error.
func (l *Link) handleTool(ctx context.Context, inv *live.ToolInvocation) {
	if inv == nil {
		return
	}
	text, err := sanitizeToolText(inv)
	if err != nil {
		l.logger.Warn("recovering malformed tool call", "error", err)
		text = defaultToolText
	}
	if err := l.sink.WriteText(text); err != nil {
		l.logger.Warn("tool text forward failed", "error", err)
	}
	if err := l.handle.RespondTool(inv.ID, inv.Name, map[string]any{"status": "displayed"}); err != nil {
		l.logger.Warn("tool response failed", "error", err)
	}
}

// sanitizeToolText validates and bounds the free-text argument of a tool
// invocation.
func sanitizeToolText(inv *live.ToolInvocation) (string, error) {
	raw, ok := inv.Args["text"]
	if !ok {
		return "", &ToolArgumentError{Tool: inv.Name, Err: fmt.Errorf("missing %q argument", "text")}
	}
	text, ok := raw.(string)
	if !ok {
		return "", &ToolArgumentError{Tool: inv.Name, Err: fmt.Errorf("argument %q is %T, not string", "text", raw)}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ToolArgumentError{Tool: inv.Name, Err: fmt.Errorf("argument %q is empty", "text")}
	}
	if len(text) > maxToolTextLen {
		text = text[:maxToolTextLen]
	}
	return text, nil
}

// classifyInterruption infers the interruption intent from the user's
// partial speech. Unrecognised or empty speech is a plain barge-in.
func classifyInterruption(partial string) interrupt.Type {
	lower := strings.ToLower(partial)
	switch {
	case lower == "":
		return interrupt.TypeBargeIn
	case containsAny(lower, "stop", "no,", "wrong", "that's not", "falsch", "incorrecto"):
		return interrupt.TypeCorrection
	case containsAny(lower, "urgent", "emergency", "right now", "dringend", "urgencia"):
		return interrupt.TypeUrgent
	case strings.Contains(lower, "?") || containsAny(lower, "what", "why", "how", "was", "warum", "qué", "pourquoi"):
		return interrupt.TypeClarification
	default:
		return interrupt.TypeBargeIn
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// greetingFor resolves the priming greeting, defaulting to English.
func greetingFor(language string) string {
	base := strings.ToLower(language)
	if i := strings.IndexByte(base, '-'); i > 0 {
		base = base[:i]
	}
	if g, ok := greetings[base]; ok {
		return g
	}
	return greetings["en"]
}
