package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"voice-bridge/backend/internal/constants"
	"voice-bridge/backend/internal/state"
	"voice-bridge/backend/internal/turn"
	"voice-bridge/backend/internal/upstream"
	"voice-bridge/backend/internal/utils"
	apperrors "voice-bridge/backend/pkg/errors"
)

// maxContextLines bounds the running conversation context kept per session
const maxContextLines = 200

var errClientGone = errors.New("client disconnected")

// Store is the Persistence Gateway as seen by a session
type Store interface {
	turn.Store
	GetRecentMessages(ctx context.Context, conversationID, userID string, limit int) ([]state.Message, error)
}

// Reporter generates a post-turn report over the conversation so far
type Reporter interface {
	GenerateReport(ctx context.Context, lines []string, stats *state.ReportStats) (string, error)
}

// Conn is the client websocket. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Settings are the per-process knobs shared by every session
type Settings struct {
	UpstreamURL    string
	APIKey         string
	HistoryLimit   int
	PersistTimeout time.Duration
	RefineTimeout  time.Duration
	ReportTimeout  time.Duration
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = 20
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = 15 * time.Second
	}
	if s.ReportTimeout <= 0 {
		s.ReportTimeout = 60 * time.Second
	}
	if s.PingInterval <= 0 {
		s.PingInterval = constants.ClientPingInterval
	}
	if s.PongWait <= 0 {
		s.PongWait = constants.ClientPongWait
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = constants.ClientWriteTimeout
	}
	return s
}

// Dependencies are the collaborators a session is built from.
// Refiner and Reporter are optional.
type Dependencies struct {
	Store    Store
	Refiner  turn.Refiner
	Reporter Reporter
	Upstream upstream.Factory
	Settings Settings
	Logger   *zap.Logger
}

// Info is a read-only snapshot of a session
type Info struct {
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId,omitempty"`
	State          State     `json:"state"`
	Voice          string    `json:"voice"`
	Model          string    `json:"model"`
	Language       string    `json:"language"`
	Mode           string    `json:"mode"`
	StartedAt      time.Time `json:"startedAt"`
}

type taggedEvent struct {
	gen   uint64
	event upstream.Event
}

type connectResult struct {
	gen     uint64
	adapter upstream.Adapter
	err     error
}

// Session relays one client connection to one upstream adapter. All state
// below "owned by the event loop" is touched only by eventLoop.
type Session struct {
	userID    string
	conn      Conn
	deps      Dependencies
	settings  Settings
	logger    *zap.Logger
	startedAt time.Time
	release   func(*Session)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the event loop
	machine    *Machine
	cfg        state.SessionConfig
	adapter    upstream.Adapter
	generation uint64
	history    []string
	agg        *turn.Aggregator

	clientCh   chan ClientFrame
	upstreamCh chan taggedEvent
	connectCh  chan connectResult
	flushedCh  chan turn.Result
	outbound   chan ServerFrame
	pending    *turnQueue

	closeMu     sync.Mutex
	closeSet    bool
	closeCode   int
	closeReason string

	infoMu sync.RWMutex
	info   Info
}

func newSession(userID string, conn Conn, cfg state.SessionConfig, deps Dependencies, release func(*Session)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	settings := deps.Settings.withDefaults()

	s := &Session{
		userID:     userID,
		conn:       conn,
		deps:       deps,
		settings:   settings,
		logger:     deps.Logger.With(zap.String("user_id", userID), zap.String("mode", cfg.Mode)),
		startedAt:  time.Now(),
		release:    release,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		machine:    NewMachine(),
		cfg:        cfg,
		clientCh:   make(chan ClientFrame),
		upstreamCh: make(chan taggedEvent),
		connectCh:  make(chan connectResult),
		flushedCh:  make(chan turn.Result),
		outbound:   make(chan ServerFrame, constants.OutboundQueueSize),
		pending:    newTurnQueue(),
		closeCode:  websocket.CloseNormalClosure,
	}
	s.syncInfo()
	return s
}

// UserID returns the identity the session is registered under
func (s *Session) UserID() string {
	return s.userID
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.info
}

// Done is closed once the session has fully stopped
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stop ends the session and waits until it is fully retired. Idempotent.
func (s *Session) Stop() {
	s.stop(websocket.CloseNormalClosure, "Session stopped")
}

func (s *Session) stop(code int, reason string) {
	s.shutdown(code, reason)
	<-s.done
}

// shutdown records the close status (first caller wins) and cancels the session
func (s *Session) shutdown(code int, reason string) {
	s.closeMu.Lock()
	if !s.closeSet {
		s.closeSet = true
		s.closeCode = code
		s.closeReason = reason
	}
	s.closeMu.Unlock()
	s.cancel()
}

func (s *Session) closeStatus() (int, string) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closeCode, s.closeReason
}

// open loads history and establishes the first upstream connection. It runs
// before any goroutine is started, inside the registry's admission lock.
func (s *Session) open(ctx context.Context) error {
	ref := s.loadHistory(ctx)

	s.agg = turn.NewAggregator(s.deps.Store, s.deps.Refiner, ref, turn.Options{
		UserID:         s.userID,
		Model:          s.cfg.Model,
		RefineTimeout:  s.settings.RefineTimeout,
		PersistTimeout: s.settings.PersistTimeout,
	}, s.logger.Named("turn"))

	adapter := s.deps.Upstream(s.upstreamConfig())

	cctx, cancel := context.WithTimeout(ctx, s.settings.ConnectTimeout)
	defer cancel()

	if err := adapter.Connect(cctx); err != nil {
		adapter.Disconnect()
		s.machine.Fire(TriggerConnectFailed)
		s.syncInfo()
		s.cancel()
		close(s.done)
		s.logger.Error("Failed to start session", zap.Error(err))
		return err
	}

	s.adapter = adapter
	s.generation = 1
	s.machine.Fire(TriggerConnected)
	s.syncInfo()

	s.logger.Info("Session started",
		zap.String("voice", s.cfg.Voice),
		zap.String("model", s.cfg.Model),
		zap.String("conversation_id", ref.ConversationID),
		zap.Int("context_lines", len(s.history)),
	)
	return nil
}

// run drives the session until it stops, then releases it from the registry
func (s *Session) run() {
	defer close(s.done)
	defer s.cancel()

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error { return s.flushLoop(gctx) })
	g.Go(func() error { return s.eventLoop(gctx) })

	err := g.Wait()
	if s.release != nil {
		s.release(s)
	}

	if err != nil && !errors.Is(err, errClientGone) {
		s.logger.Warn("Session ended with error", zap.Error(err))
	}
	s.logger.Info("Session stopped", zap.Duration("duration", time.Since(s.startedAt)))
}

func (s *Session) loadHistory(ctx context.Context) state.ConversationRef {
	ref := state.ConversationRef{ConversationID: s.cfg.ConversationID}
	if s.cfg.ConversationID == "" || s.deps.Store == nil {
		return ref
	}

	messages, err := s.deps.Store.GetRecentMessages(ctx, s.cfg.ConversationID, s.userID, s.settings.HistoryLimit)
	if err != nil {
		s.logger.Warn("Failed to load conversation history, continuing without context",
			zap.String("conversation_id", s.cfg.ConversationID),
			zap.Error(err),
		)
		return ref
	}

	if len(messages) == 0 {
		// Unknown or owned by someone else; the first turn mints a new one
		s.logger.Warn("Conversation has no history for this user, starting a new one",
			zap.String("conversation_id", s.cfg.ConversationID),
		)
		s.cfg.ConversationID = ""
		return state.ConversationRef{}
	}

	for _, m := range messages {
		s.appendContext(m.IsCreatedByUser, m.Text)
	}
	ref.LastMessageID = messages[len(messages)-1].MessageID
	return ref
}

func (s *Session) upstreamConfig() upstream.Config {
	instruction := s.cfg.SystemInstruction
	if len(s.history) > 0 {
		instruction = strings.TrimSpace(instruction + "\n\nContexto de la conversación previa:\n" + strings.Join(s.history, "\n"))
	}
	return upstream.Config{
		URL:               s.settings.UpstreamURL,
		APIKey:            s.settings.APIKey,
		Model:             s.cfg.Model,
		Voice:             s.cfg.Voice,
		Language:          s.cfg.Language,
		SystemInstruction: instruction,
	}
}

func (s *Session) appendContext(fromUser bool, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	speaker := "Asistente"
	if fromUser {
		speaker = "Usuario"
	}
	s.history = append(s.history, speaker+": "+text)
	if len(s.history) > maxContextLines {
		s.history = s.history[len(s.history)-maxContextLines:]
	}
}

// ============================================================================
// Goroutines
// ============================================================================

func (s *Session) readLoop(ctx context.Context) error {
	s.conn.SetReadLimit(constants.ClientMaxMessageBytes)
	s.conn.SetReadDeadline(time.Now().Add(s.settings.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.settings.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("Client read error", zap.Error(err))
			}
			return errClientGone
		}
		s.conn.SetReadDeadline(time.Now().Add(s.settings.PongWait))

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("Dropping client frame", zap.Error(apperrors.NewMalformedFrame("client", err)))
			continue
		}

		select {
		case s.clientCh <- frame:
		case <-ctx.Done():
			return nil
		}
	}
}

// writeLoop is the only writer of the client connection
func (s *Session) writeLoop(ctx context.Context) error {
	defer s.conn.Close()

	ticker := time.NewTicker(s.settings.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drainOutbound()
			code, reason := s.closeStatus()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason),
				time.Now().Add(s.settings.WriteTimeout))
			return nil
		case frame := <-s.outbound:
			if err := s.write(frame); err != nil {
				return fmt.Errorf("write to client: %w", err)
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.settings.WriteTimeout)); err != nil {
				return fmt.Errorf("ping client: %w", err)
			}
		}
	}
}

// drainOutbound writes frames queued before shutdown, such as a final error
func (s *Session) drainOutbound() {
	for {
		select {
		case frame := <-s.outbound:
			if err := s.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(frame ServerFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// flushLoop persists queued turns one at a time. Turns still queued at
// shutdown are written before it returns.
func (s *Session) flushLoop(ctx context.Context) error {
	persistCtx := context.WithoutCancel(ctx)

	for {
		for {
			t, ok := s.pending.pop()
			if !ok {
				break
			}
			result := s.agg.Persist(persistCtx, t)
			select {
			case s.flushedCh <- result:
			case <-ctx.Done():
			}
		}

		select {
		case <-s.pending.signal:
		case <-ctx.Done():
			for {
				t, ok := s.pending.pop()
				if !ok {
					return nil
				}
				s.agg.Persist(persistCtx, t)
			}
		}
	}
}

func (s *Session) eventLoop(ctx context.Context) error {
	s.startPump(ctx, s.generation, s.adapter)
	s.send(ctx, statusFrame(constants.StatusConnecting))

	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return nil
		case frame := <-s.clientCh:
			s.handleClient(ctx, frame)
		case te := <-s.upstreamCh:
			s.handleUpstream(ctx, te)
		case res := <-s.connectCh:
			s.handleConnected(ctx, res)
		case res := <-s.flushedCh:
			s.handleFlushed(ctx, res)
		}
		s.syncInfo()
	}
}

// startPump forwards one adapter's events to the loop, tagged with its generation
func (s *Session) startPump(ctx context.Context, gen uint64, a upstream.Adapter) {
	go func() {
		for ev := range a.Events() {
			select {
			case s.upstreamCh <- taggedEvent{gen: gen, event: ev}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Session) teardown() {
	s.machine.Fire(TriggerStop)
	s.generation++
	if s.adapter != nil {
		s.adapter.Disconnect()
		s.adapter = nil
	}
	s.agg.Reset()
	s.syncInfo()
}

// send queues a frame for the writer. Safe from any goroutine.
func (s *Session) send(ctx context.Context, frame ServerFrame) {
	select {
	case s.outbound <- frame:
	case <-ctx.Done():
	}
}

// fail reports a terminal error to the client and stops the session.
// Errors that are not terminal are only logged.
func (s *Session) fail(ctx context.Context, err error) {
	if !apperrors.IsTerminal(err) {
		s.logger.Warn("Session error", zap.Error(err))
		return
	}
	code, reason := apperrors.CloseCode(err)
	s.logger.Error("Session failed", zap.Error(err))
	s.send(ctx, errorFrame(reason))
	s.shutdown(code, reason)
}

// ============================================================================
// Client messages
// ============================================================================

func (s *Session) handleClient(ctx context.Context, frame ClientFrame) {
	switch frame.Type {
	case ClientAudio:
		var d audioData
		if !s.decode(frame, &d) || d.AudioData == "" {
			return
		}
		s.forward(frame.Type, func(a upstream.Adapter) error { return a.SendAudio(d.AudioData) })

	case ClientVideo:
		var d videoData
		if !s.decode(frame, &d) || d.Image == "" {
			return
		}
		s.forward(frame.Type, func(a upstream.Adapter) error { return a.SendVideo(d.Image) })

	case ClientText, ClientMessage:
		var d textData
		if !s.decode(frame, &d) {
			return
		}
		text := strings.TrimSpace(d.Text)
		if text == "" {
			return
		}
		if s.forward(frame.Type, func(a upstream.Adapter) error { return a.SendText(text) }) {
			s.agg.OnUserText(text)
			s.activity()
		}

	case ClientConfig:
		var d configData
		if !s.decode(frame, &d) {
			return
		}
		s.handleConfig(ctx, d)

	case ClientInterrupt:
		s.send(ctx, statusFrame(constants.StatusInterrupted))

	default:
		s.logger.Warn("Unknown client message type", zap.String("type", frame.Type))
	}
}

func (s *Session) decode(frame ClientFrame, v interface{}) bool {
	if len(frame.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		s.logger.Warn("Dropping client frame",
			zap.String("type", frame.Type),
			zap.Error(apperrors.NewMalformedFrame("client", err)),
		)
		return false
	}
	return true
}

// forward hands a frame to the adapter when it is ready
func (s *Session) forward(kind string, fn func(upstream.Adapter) error) bool {
	if s.adapter == nil || s.machine.State() == StateConnecting || s.machine.State() == StateStopped {
		s.logger.Warn("Upstream not ready, dropping client frame", zap.String("type", kind))
		return false
	}
	if err := fn(s.adapter); err != nil {
		s.logger.Warn("Failed to forward client frame", zap.String("type", kind), zap.Error(err))
		return false
	}
	return true
}

func (s *Session) handleConfig(ctx context.Context, d configData) {
	if d.Stats != nil {
		s.cfg.Stats = d.Stats
	}

	changed := false
	if d.Voice != "" && d.Voice != s.cfg.Voice {
		s.cfg.Voice = d.Voice
		changed = true
	}
	if d.Model != "" && d.Model != s.cfg.Model {
		s.cfg.Model = d.Model
		s.agg.SetModel(d.Model)
		changed = true
	}
	if lang := utils.NormalizeLanguage(d.Language); lang != "" && lang != s.cfg.Language {
		s.cfg.Language = lang
		changed = true
	}
	if !changed {
		return
	}

	s.logger.Info("Session config changed, reconnecting upstream",
		zap.String("voice", s.cfg.Voice),
		zap.String("model", s.cfg.Model),
		zap.String("language", s.cfg.Language),
	)
	s.reconnect(ctx)
}

// reconnect retires the current adapter and starts a new one in the
// background. Events of the retired adapter are discarded by generation.
func (s *Session) reconnect(ctx context.Context) {
	wasAccumulating := s.machine.State() == StateAccumulating
	if _, err := s.machine.Fire(TriggerReconnect); err != nil {
		s.logger.Warn("Cannot reconnect", zap.Error(err))
		return
	}
	if wasAccumulating {
		s.pending.push(s.agg.Take())
	} else {
		s.agg.Reset()
	}

	s.generation++
	gen := s.generation
	if s.adapter != nil {
		s.adapter.Disconnect()
		s.adapter = nil
	}
	s.send(ctx, statusFrame(constants.StatusReconnecting))

	cfg := s.upstreamConfig()
	go func() {
		a := s.deps.Upstream(cfg)
		cctx, cancel := context.WithTimeout(ctx, s.settings.ConnectTimeout)
		err := a.Connect(cctx)
		cancel()

		select {
		case s.connectCh <- connectResult{gen: gen, adapter: a, err: err}:
		case <-ctx.Done():
			a.Disconnect()
		}
	}()
}

func (s *Session) handleConnected(ctx context.Context, res connectResult) {
	if res.gen != s.generation {
		// Superseded by a later reconnect
		res.adapter.Disconnect()
		return
	}
	if res.err != nil {
		res.adapter.Disconnect()
		s.machine.Fire(TriggerConnectFailed)
		err := res.err
		if !apperrors.IsErrorType(err, apperrors.ErrorTypeUpstream) {
			err = apperrors.NewUpstreamConnectFailed(s.settings.UpstreamURL, err)
		}
		s.fail(ctx, err)
		return
	}

	s.adapter = res.adapter
	if _, err := s.machine.Fire(TriggerConnected); err != nil {
		s.logger.Warn("Unexpected connect result", zap.Error(err))
	}
	s.startPump(ctx, res.gen, res.adapter)
	s.logger.Info("Upstream reconnected", zap.Uint64("generation", res.gen))
}

// ============================================================================
// Upstream events
// ============================================================================

func (s *Session) handleUpstream(ctx context.Context, te taggedEvent) {
	if te.gen != s.generation {
		s.logger.Debug("Discarding event from retired adapter",
			zap.Uint64("generation", te.gen),
			zap.String("event", string(te.event.Type)),
		)
		return
	}

	ev := te.event
	switch ev.Type {
	case upstream.EventReady:
		s.send(ctx, statusFrame(constants.StatusReady))

	case upstream.EventAudioChunk:
		s.send(ctx, audioFrame(ev.Audio, ev.MimeType))
		s.agg.OnAssistantAudioChunk()
		s.activity()

	case upstream.EventUserTranscript:
		s.onText(ctx, ev.Text, true)

	case upstream.EventAssistantTranscript, upstream.EventAssistantText:
		s.onText(ctx, ev.Text, false)

	case upstream.EventInterrupted:
		s.send(ctx, statusFrame(constants.StatusInterrupted))

	case upstream.EventTurnComplete:
		s.send(ctx, statusFrame(constants.StatusTurnComplete))
		s.completeTurn()

	case upstream.EventConnectionClosed, upstream.EventConnectionError:
		cause := ev.Err
		if cause == nil {
			cause = fmt.Errorf("connection closed: %s", ev.Text)
		}
		s.fail(ctx, apperrors.NewUpstreamConnectFailed(s.settings.UpstreamURL, cause))
	}
}

func (s *Session) onText(ctx context.Context, text string, fromUser bool) {
	if strings.TrimSpace(text) == "" {
		// Spacing between fragments is kept but not forwarded
		s.accumulate(text, fromUser)
		return
	}
	if !userFacing(text) {
		s.logger.Debug("Dropping non user-facing text", zap.Int("length", len(text)))
		return
	}

	role := "assistant"
	if fromUser {
		role = "user"
	}
	s.send(ctx, textFrame(text, role))
	s.accumulate(text, fromUser)
	s.activity()
}

func (s *Session) accumulate(text string, fromUser bool) {
	if fromUser {
		s.agg.OnUserText(text)
	} else {
		s.agg.OnAssistantText(text)
	}
}

func (s *Session) activity() {
	if _, err := s.machine.Fire(TriggerTurnActivity); err != nil {
		s.logger.Debug("Ignoring turn activity", zap.Error(err))
	}
}

// completeTurn hands the accumulated turn to the flush worker
func (s *Session) completeTurn() {
	if s.machine.State() != StateAccumulating {
		s.agg.Reset()
		return
	}
	s.machine.Fire(TriggerTurnComplete)
	s.pending.push(s.agg.Take())
}

func (s *Session) handleFlushed(ctx context.Context, res turn.Result) {
	if _, err := s.machine.Fire(TriggerFlushed); err != nil {
		s.logger.Debug("Ignoring flush result", zap.Error(err))
	}
	if !res.Persisted {
		return
	}

	s.appendContext(true, res.UserText)
	s.appendContext(false, res.AssistantText)

	if res.NewConversation {
		s.send(ctx, conversationIDFrame(res.ConversationID))
	}
	s.send(ctx, conversationUpdatedFrame(res.ConversationID, res.LastMessageID))

	s.generateReport(ctx, res.ConversationID)
}

// generateReport runs detached over a copy of the context and delivers its
// result on the outbound channel.
func (s *Session) generateReport(ctx context.Context, conversationID string) {
	if s.deps.Reporter == nil || !s.cfg.EnableReport {
		return
	}

	lines := append([]string(nil), s.history...)
	var stats *state.ReportStats
	if s.cfg.Stats != nil {
		copied := *s.cfg.Stats
		stats = &copied
	}

	go func() {
		rctx, cancel := context.WithTimeout(ctx, s.settings.ReportTimeout)
		defer cancel()

		report, err := s.deps.Reporter.GenerateReport(rctx, lines, stats)
		if err != nil {
			s.logger.Warn("Report generation failed", zap.Error(err))
			return
		}
		if strings.TrimSpace(report) == "" {
			return
		}
		s.send(ctx, reportFrame(conversationID, report))
	}()
}

func (s *Session) syncInfo() {
	info := Info{
		UserID:    s.userID,
		State:     s.machine.State(),
		Voice:     s.cfg.Voice,
		Model:     s.cfg.Model,
		Language:  s.cfg.Language,
		Mode:      s.cfg.Mode,
		StartedAt: s.startedAt,
	}
	if s.agg != nil {
		info.ConversationID = s.agg.Ref().ConversationID
	}
	if info.ConversationID == "" {
		info.ConversationID = s.cfg.ConversationID
	}

	s.infoMu.Lock()
	s.info = info
	s.infoMu.Unlock()
}

// Reject sends a terminal error to a client that never became a session
// and closes the connection.
func Reject(conn Conn, err error, writeTimeout time.Duration) {
	code, reason := apperrors.CloseCode(err)
	deadline := time.Now().Add(writeTimeout)

	if data, mErr := json.Marshal(errorFrame(reason)); mErr == nil {
		conn.SetWriteDeadline(deadline)
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}
