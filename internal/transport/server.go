package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/coder/websocket"

	"github.com/echoloom/echoloom/internal/adaptive"
	"github.com/echoloom/echoloom/internal/config"
	"github.com/echoloom/echoloom/internal/observe"
	"github.com/echoloom/echoloom/internal/pipeline"
	"github.com/echoloom/echoloom/internal/session"
	"github.com/echoloom/echoloom/internal/upstream"
	"github.com/echoloom/echoloom/pkg/audio"
	"github.com/echoloom/echoloom/pkg/provider/tts"
	"github.com/echoloom/echoloom/pkg/store"
	"github.com/echoloom/echoloom/pkg/types"
)

// Server accepts WebSocket connections and runs one voice session per
// connection. It implements [session.Speaker] so the lifecycle supervisor
// can deliver warnings and goodbyes through the session's own channel.
type Server struct {
	cfg      config.Config
	registry *session.Registry

	// upstream is set in native mode; orchestrator in pipeline mode.
	upstream     *upstream.Manager
	orchestrator *pipeline.Orchestrator

	// synth voices lifecycle utterances in pipeline mode. May be nil;
	// utterances then degrade to text_response events.
	synth tts.Provider

	// profiles persists speaking profiles across sessions. May be nil.
	profiles store.ProfileStore

	// altTranscriber names the backend preferred by the
	// SWITCH_TRANSCRIPTION_MODE directive. Empty disables the switch.
	altTranscriber string

	// newTransform builds the per-session inbound audio decoder. Opus
	// decoders carry state across packets, so each session gets its own.
	newTransform func() (audio.FrameTransform, error)

	metrics *observe.Metrics
	logger  *slog.Logger

	// debugErrors includes failure detail in client error events. Off in
	// production; detail then goes to the log only.
	debugErrors bool

	mu    sync.Mutex
	conns map[string]*wsConn
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithUpstream enables native mode.
func WithUpstream(m *upstream.Manager) ServerOption {
	return func(s *Server) { s.upstream = m }
}

// WithOrchestrator enables pipeline mode.
func WithOrchestrator(o *pipeline.Orchestrator) ServerOption {
	return func(s *Server) { s.orchestrator = o }
}

// WithSynthesizer sets the voice for engine utterances in pipeline mode.
func WithSynthesizer(p tts.Provider) ServerOption {
	return func(s *Server) { s.synth = p }
}

// WithProfileStore enables cross-session speaking profiles.
func WithProfileStore(ps store.ProfileStore) ServerOption {
	return func(s *Server) { s.profiles = ps }
}

// WithAltTranscriber names the fallback transcription backend used when the
// adaptive layer asks to switch modes.
func WithAltTranscriber(name string) ServerOption {
	return func(s *Server) { s.altTranscriber = name }
}

// WithTransformFactory sets the builder for per-session inbound audio
// decoders. The default expects raw PCM16 frames.
func WithTransformFactory(fn func() (audio.FrameTransform, error)) ServerOption {
	return func(s *Server) { s.newTransform = fn }
}

// WithDebugErrors includes error detail in client error events.
func WithDebugErrors(on bool) ServerOption {
	return func(s *Server) { s.debugErrors = on }
}

// WithServerLogger overrides the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithServerMetrics overrides the metrics sink.
func WithServerMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a transport server over the given registry.
func NewServer(cfg config.Config, registry *session.Registry, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		newTransform: func() (audio.FrameTransform, error) {
			return &audio.PCM16Transform{}, nil
		},
		metrics: observe.DefaultMetrics(),
		logger:  slog.Default(),
		conns:   make(map[string]*wsConn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the WebSocket upgrade endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket accept failed", "error", err)
			return
		}
		s.serve(r.Context(), ws)
	})
}

// Speak delivers an engine utterance through the session's active mode:
// a text turn into the upstream in native mode, synthesized audio in
// pipeline mode, degrading to a text_response event.
func (s *Server) Speak(ctx context.Context, sess *session.Session, text string) error {
	s.mu.Lock()
	c := s.conns[sess.ID()]
	s.mu.Unlock()
	if c == nil {
		return fmt.Errorf("transport: no connection for session %s", sess.ID())
	}

	if c.link != nil {
		return c.link.SendText(text, true)
	}
	if s.synth != nil {
		pcm, err := s.synth.Synthesize(ctx, text, sess.Language(), sess.Voice())
		if err == nil {
			return c.WriteAudio(pcm)
		}
		s.logger.Warn("lifecycle synthesis failed, sending text", "error", err)
	}
	return c.WriteText(text)
}

// CloseSession ends a session from the server side: the client receives
// session_ended, the session is closed so in-flight handlers refuse further
// turns, and the socket shuts down. The read loop's teardown then releases
// everything under the given reason. Implements [session.Closer] for
// supervisor-driven timeouts.
func (s *Server) CloseSession(ctx context.Context, sess *session.Session, reason session.CloseReason) error {
	s.mu.Lock()
	c := s.conns[sess.ID()]
	s.mu.Unlock()
	if c == nil {
		return fmt.Errorf("transport: no connection for session %s", sess.ID())
	}

	c.setCloseReason(reason)
	_ = c.send(ServerMessage{Type: TypeSessionEnded, SessionID: sess.ID()})
	_ = sess.Close()
	return c.ws.Close(websocket.StatusNormalClosure, string(reason))
}

// wsConn is the per-connection state. The read loop owns sess/link/buffer;
// writes are serialised by wmu because the upstream demux goroutine writes
// concurrently with the read loop.
type wsConn struct {
	server *Server
	ws     *websocket.Conn
	ctx    context.Context

	wmu sync.Mutex

	sess      *session.Session
	link      *upstream.Link
	buffer    *pipeline.Buffer
	transform audio.FrameTransform
	history   []types.Message

	// closeReason is set when the server initiates closure so the read
	// loop's teardown records the real cause. Guarded by wmu.
	closeReason session.CloseReason
}

// Compile-time interface checks.
var (
	_ upstream.Sink   = (*wsConn)(nil)
	_ session.Speaker = (*Server)(nil)
	_ session.Closer  = (*Server)(nil)
)

// setCloseReason records why the server is closing the connection. The first
// reason wins.
func (c *wsConn) setCloseReason(r session.CloseReason) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closeReason == "" {
		c.closeReason = r
	}
}

// takeCloseReason returns the recorded close reason, or def when the close
// was client-driven.
func (c *wsConn) takeCloseReason(def session.CloseReason) session.CloseReason {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closeReason != "" {
		return c.closeReason
	}
	return def
}

// WriteAudio sends one binary response-audio frame.
func (c *wsConn) WriteAudio(pcm []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.Write(c.ctx, websocket.MessageBinary, pcm)
}

// WriteText sends a text_response event.
func (c *wsConn) WriteText(text string) error {
	return c.send(ServerMessage{Type: TypeTextResponse, Text: text})
}

func (c *wsConn) send(msg ServerMessage) error {
	data, err := EncodeServerMessage(msg)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.Write(c.ctx, websocket.MessageText, data)
}

// serve runs one connection's read loop until the client disconnects or
// ends the session.
func (s *Server) serve(ctx context.Context, ws *websocket.Conn) {
	c := &wsConn{server: s, ws: ws, ctx: ctx}
	defer func() {
		s.teardown(ctx, c, c.takeCloseReason(session.CloseClientRequested))
		_ = ws.CloseNow()
	}()

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		if done := s.dispatch(ctx, c, typ, data); done {
			return
		}
	}
}

// dispatch handles one inbound message with panic isolation: a failure while
// processing a single message becomes a redacted error event, and the
// session stays open for the next message.
func (s *Server) dispatch(ctx context.Context, c *wsConn, typ websocket.MessageType, data []byte) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while processing message",
				"panic", r, "stack", string(debug.Stack()))
			c.sendError(fmt.Errorf("internal error"))
			done = false
		}
	}()

	if typ == websocket.MessageBinary {
		c.handleAudio(ctx, data)
		return false
	}

	msg, err := DecodeClientMessage(data)
	if err != nil {
		c.sendError(err)
		return false
	}

	switch msg.Type {
	case TypeStartSession:
		c.handleStart(ctx, msg)
	case TypeAudioChunk:
		c.handleAudio(ctx, msg.Audio)
	case TypeTurnComplete:
		c.handleTurnComplete(ctx)
	case TypeEndSession:
		if c.sess != nil {
			_ = c.send(ServerMessage{Type: TypeSessionEnded, SessionID: c.sess.ID()})
		}
		s.teardown(ctx, c, session.CloseClientRequested)
		_ = c.ws.Close(websocket.StatusNormalClosure, "session ended")
		return true
	case TypePing:
		_ = c.send(ServerMessage{Type: TypePong})
	}
	return false
}

// handleStart creates the session and, in native mode, opens the upstream
// link. The client sees session_started immediately and session_ready once
// the channel is usable.
func (c *wsConn) handleStart(ctx context.Context, msg ClientMessage) {
	s := c.server
	if c.sess != nil {
		c.sendError(fmt.Errorf("session already started"))
		return
	}

	lang := msg.Language
	if lang == "" {
		lang = s.cfg.Session.Language
	}
	prompt := msg.SystemInstruction
	if prompt == "" {
		prompt = s.cfg.Session.SystemPrompt
	}

	transform, err := s.newTransform()
	if err != nil {
		c.sendError(fmt.Errorf("transport: create audio decoder: %w", err))
		return
	}
	c.transform = transform

	sess := session.New(session.Settings{
		UserID:       msg.UserID,
		Language:     lang,
		SystemPrompt: prompt,
		Mode:         s.cfg.Session.Mode,
		StackSize:    s.cfg.Session.InterruptionStackCapacity,
		Window:       s.cfg.Session.AdaptiveWindow(),
	})
	s.warmStart(ctx, sess)

	if err := s.registry.Add(sess); err != nil {
		c.sendError(err)
		return
	}
	c.sess = sess
	s.mu.Lock()
	s.conns[sess.ID()] = c
	s.mu.Unlock()

	_ = c.send(ServerMessage{Type: TypeSessionStarted, SessionID: sess.ID()})

	switch s.cfg.Session.Mode {
	case config.ModeNative:
		link, err := s.upstream.Open(ctx, sess, c)
		if err != nil {
			// Handshake failures are fatal to the session, never retried.
			s.logger.Error("upstream open failed", "session_id", sess.ID(), "error", err)
			c.sendError(err)
			s.teardown(ctx, c, session.CloseError)
			return
		}
		c.link = link
	case config.ModePipeline:
		c.buffer = pipeline.NewBuffer(s.cfg.Session.AudioBufferDuration(), s.cfg.Session.AudioBufferMaxBytes)
		sess.SetState(session.StateActive)
	}

	_ = c.send(ServerMessage{Type: TypeSessionReady, SessionID: sess.ID(), Language: lang})
}

// sessionOpen reports whether the connection carries a live session, sending
// an error event to the client otherwise.
func (c *wsConn) sessionOpen() bool {
	if c.sess == nil {
		c.sendError(fmt.Errorf("no session; send start_session first"))
		return false
	}
	if st := c.sess.State(); st == session.StateClosing || st == session.StateClosed {
		c.sendError(fmt.Errorf("session %s is closed", c.sess.ID()))
		return false
	}
	return true
}

// handleAudio routes one raw audio frame into the session's active mode.
// Closed sessions refuse turns: a supervisor close may race the read loop
// by one message, and that message must not reach the pipeline.
func (c *wsConn) handleAudio(ctx context.Context, raw []byte) {
	if !c.sessionOpen() {
		return
	}
	frame, err := c.transform.Transform(raw)
	if err != nil {
		c.sendError(err)
		return
	}
	c.sess.Touch()

	if c.link != nil {
		if err := c.link.SendAudio(frame.Data); err != nil {
			c.sendError(err)
		}
		return
	}
	if c.buffer != nil {
		if pcm, flushed := c.buffer.Add(frame); flushed {
			c.processUtterance(ctx, pcm)
		}
	}
}

// handleTurnComplete signals the explicit end of the user's turn.
func (c *wsConn) handleTurnComplete(ctx context.Context) {
	if !c.sessionOpen() {
		return
	}
	c.sess.Touch()

	if c.link != nil {
		if err := c.link.SendTurnComplete(); err != nil {
			c.sendError(err)
		}
		return
	}
	if c.buffer != nil {
		if pcm := c.buffer.Flush(); pcm != nil {
			c.processUtterance(ctx, pcm)
		}
	}
}

// processUtterance runs one flushed utterance through the pipeline and
// returns the reply to the client. Quality problems produce fallback
// utterances, not errors; only infrastructure failures surface.
func (c *wsConn) processUtterance(ctx context.Context, pcm []byte) {
	s := c.server
	sess := c.sess

	ctx, span := observe.StartSpan(ctx, "transport.turn")
	defer span.End()

	res, err := s.orchestrator.ProcessAudio(ctx, pcm, pipeline.Turn{
		Language:     sess.Language(),
		SystemPrompt: sess.SystemPrompt(),
		History:      c.history,
		Style:        sess.Style(),
		Voice:        sess.Voice(),
		Interrupts:   sess.Interrupts,
		Adaptive:     sess.Adaptive,
	})
	if err != nil {
		observe.Logger(ctx).Error("pipeline processing failed",
			"session_id", sess.ID(), "error", err)
		c.sendError(err)
		return
	}

	if res.Text != "" {
		_ = c.WriteText(res.Text)
	}
	if len(res.Audio) > 0 {
		_ = c.WriteAudio(res.Audio)
	}
	if !res.Fallback {
		c.history = append(c.history,
			types.Message{Role: "user", Content: res.Transcript},
			types.Message{Role: "assistant", Content: res.Text},
		)
	}
	c.applyDirectives(ctx)
}

// applyDirectives acts on freshly emitted adaptation directives.
func (c *wsConn) applyDirectives(ctx context.Context) {
	s := c.server
	for _, d := range c.sess.Adaptive.Adapt() {
		s.metrics.RecordDirective(ctx, string(d))
		s.logger.Info("adaptation directive",
			"session_id", c.sess.ID(), "directive", d)

		switch d {
		case adaptive.DirectiveUseConciseResponses:
			c.sess.SetStyle(types.StyleConcise)
		case adaptive.DirectiveUseDetailedResponses:
			c.sess.SetStyle(types.StyleDetailed)
		case adaptive.DirectiveSwitchTranscriptionMode:
			if s.altTranscriber != "" && s.orchestrator != nil {
				s.orchestrator.PreferTranscriber(s.altTranscriber)
			}
		case adaptive.DirectiveSuggestTextInput:
			_ = c.WriteText("If it's easier, you can also type your message.")
		case adaptive.DirectiveOfferHumanHandoff:
			_ = c.WriteText("Would you like me to connect you with a person?")
		}
	}
}

// sendError reports a failure to the client. Detail is redacted unless
// debug errors are enabled; the full error always goes to the log.
func (c *wsConn) sendError(err error) {
	msg := "processing failed"
	if c.server.debugErrors {
		msg = err.Error()
	}
	c.server.logger.Warn("client-visible error", "error", err)
	_ = c.send(ServerMessage{Type: TypeError, Message: msg})
}

// warmStart seeds the session from the user's stored speaking profile.
// Persistence failures never block session start.
func (s *Server) warmStart(ctx context.Context, sess *session.Session) {
	if s.profiles == nil || sess.UserID() == "" {
		return
	}
	p, err := s.profiles.GetProfile(ctx, sess.UserID())
	if err != nil {
		s.logger.Warn("profile load failed", "user_id", sess.UserID(), "error", err)
		return
	}
	if p == nil {
		return
	}
	sess.Adaptive.Warm(p.FrustrationBaseline)
	sess.SetStyle(p.PreferredStyle)
}

// saveProfile persists the session's adaptation outcome for the next
// session of the same user. Best-effort.
func (s *Server) saveProfile(ctx context.Context, sess *session.Session) {
	if s.profiles == nil || sess.UserID() == "" {
		return
	}
	snap := sess.Adaptive.Snapshot()
	p, err := s.profiles.GetProfile(ctx, sess.UserID())
	if err != nil || p == nil {
		p = &store.Profile{UserID: sess.UserID()}
	}
	p.PreferredStyle = sess.Style()
	p.FrustrationBaseline = snap.Frustration
	p.SessionCount++
	if err := s.profiles.SaveProfile(ctx, p); err != nil {
		s.logger.Warn("profile save failed", "user_id", sess.UserID(), "error", err)
	}
}

// teardown releases everything the connection owns. Safe to call twice.
func (s *Server) teardown(ctx context.Context, c *wsConn, reason session.CloseReason) {
	if c.sess == nil {
		return
	}
	sess := c.sess
	c.sess = nil

	if c.link != nil {
		_ = c.link.Close()
		c.link = nil
	}
	_ = sess.Close()
	s.registry.Remove(sess.ID())
	s.mu.Lock()
	delete(s.conns, sess.ID())
	s.mu.Unlock()
	s.saveProfile(ctx, sess)
	s.metrics.RecordSessionClosure(ctx, string(reason))
}
