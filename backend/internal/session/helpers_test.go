package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"voice-bridge/backend/internal/constants"
	"voice-bridge/backend/internal/state"
	"voice-bridge/backend/internal/upstream"
)

// fakeAdapter is an in-memory upstream.Adapter driven by the test
type fakeAdapter struct {
	cfg        upstream.Config
	connectErr error
	events     chan upstream.Event

	mu           sync.Mutex
	audio        []string
	video        []string
	texts        []string
	disconnected bool
}

func (f *fakeAdapter) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeAdapter) Send(frame interface{}) error      { return nil }

func (f *fakeAdapter) SendAudio(b64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, b64)
	return nil
}

func (f *fakeAdapter) SendVideo(b64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video = append(f.video, b64)
	return nil
}

func (f *fakeAdapter) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeAdapter) Events() <-chan upstream.Event { return f.events }

func (f *fakeAdapter) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.disconnected {
		f.disconnected = true
		close(f.events)
	}
}

// emit delivers ev as if it came from the provider. Dropped after Disconnect.
func (f *fakeAdapter) emit(evs ...upstream.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disconnected {
		return
	}
	for _, ev := range evs {
		f.events <- ev
	}
}

func (f *fakeAdapter) isDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func (f *fakeAdapter) sentAudio() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.audio...)
}

func (f *fakeAdapter) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// fakeFactory records every adapter it builds
type fakeFactory struct {
	mu         sync.Mutex
	adapters   []*fakeAdapter
	connectErr error
}

func (f *fakeFactory) build(cfg upstream.Config) upstream.Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &fakeAdapter{cfg: cfg, connectErr: f.connectErr, events: make(chan upstream.Event, 64)}
	f.adapters = append(f.adapters, a)
	return a
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adapters)
}

func (f *fakeFactory) get(i int) *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adapters[i]
}

func (f *fakeFactory) setConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

// memStore is an in-memory Persistence Gateway
type memStore struct {
	mu            sync.Mutex
	messages      []state.Message
	conversations []state.ConversationMeta
	history       []state.Message
	historyErr    error
}

func (m *memStore) SaveMessage(ctx context.Context, msg state.Message) (*state.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return &msg, nil
}

func (m *memStore) SaveConversation(ctx context.Context, meta state.ConversationMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations = append(m.conversations, meta)
	return nil
}

func (m *memStore) GetRecentMessages(ctx context.Context, conversationID, userID string, limit int) ([]state.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	return append([]state.Message(nil), m.history...), nil
}

func (m *memStore) saved() []state.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]state.Message(nil), m.messages...)
}

// gatedStore holds its first SaveMessage until release is closed
type gatedStore struct {
	*memStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		memStore: &memStore{},
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (g *gatedStore) SaveMessage(ctx context.Context, msg state.Message) (*state.Message, error) {
	first := false
	g.once.Do(func() {
		first = true
		close(g.entered)
	})
	if first {
		<-g.release
	}
	return g.memStore.SaveMessage(ctx, msg)
}

type fakeReporter struct {
	mu    sync.Mutex
	lines [][]string
	err   error
}

func (f *fakeReporter) GenerateReport(ctx context.Context, lines []string, stats *state.ReportStats) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, lines)
	if f.err != nil {
		return "", f.err
	}
	return "# Informe", nil
}

// harness serves sessions over a real websocket server
type harness struct {
	t        *testing.T
	registry *Registry
	store    *memStore
	factory  *fakeFactory
	reporter *fakeReporter
	srv      *httptest.Server
}

func newHarness(t *testing.T, configure ...func(*Dependencies)) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		store:    &memStore{},
		factory:  &fakeFactory{},
		reporter: &fakeReporter{},
	}

	deps := Dependencies{
		Store:    h.store,
		Reporter: h.reporter,
		Upstream: h.factory.build,
		Settings: Settings{
			UpstreamURL:    "wss://provider.test/live",
			APIKey:         "test-key",
			ConnectTimeout: time.Second,
			ReportTimeout:  time.Second,
			PingInterval:   time.Minute,
			PongWait:       time.Minute,
			WriteTimeout:   time.Second,
		},
		Logger: zap.NewNop(),
	}
	for _, fn := range configure {
		fn(&deps)
	}
	h.registry = NewRegistry(deps)

	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		q := r.URL.Query()
		mode := q.Get("mode")
		if mode == "" {
			mode = constants.ModeChat
		}
		cfg := state.SessionConfig{
			Voice:          "Puck",
			Model:          "gemini-live",
			Language:       "es-ES",
			Mode:           mode,
			ConversationID: q.Get("conversationId"),
			EnableReport:   mode == constants.ModeLiveAnalysis,
		}
		_, _ = h.registry.Acquire(context.Background(), q.Get("user"), conn, cfg)
	}))
	t.Cleanup(func() {
		h.registry.StopAll()
		h.srv.Close()
	})
	return h
}

// dial opens a client connection; query carries user, mode and conversationId
func (h *harness) dial(query string) *testClient {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { conn.Close() })
	return &testClient{t: h.t, conn: conn}
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

type received struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

func (c *testClient) send(msgType string, data interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]interface{}{"type": msgType, "data": data}))
}

// next reads one frame. ok is false when the connection was closed.
func (c *testClient) next(timeout time.Duration) (received, bool, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return received{}, false, err
	}
	var r received
	require.NoError(c.t, json.Unmarshal(data, &r))
	return r, true, nil
}

func (c *testClient) mustNext() received {
	c.t.Helper()
	r, ok, err := c.next(2 * time.Second)
	require.NoError(c.t, err)
	require.True(c.t, ok)
	return r
}

// until reads frames until match returns true and returns everything read
func (c *testClient) until(match func(received) bool) []received {
	c.t.Helper()
	var frames []received
	for {
		r := c.mustNext()
		frames = append(frames, r)
		if match(r) {
			return frames
		}
	}
}

// closeError reads until the server closes and returns the close frame
func (c *testClient) closeError() *websocket.CloseError {
	c.t.Helper()
	for {
		_, _, err := c.next(2 * time.Second)
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(c.t, errors.As(err, &closeErr), "expected close error, got %v", err)
		return closeErr
	}
}

func isStatus(status string) func(received) bool {
	return func(r received) bool {
		return r.Type == OutStatus && r.Data["status"] == status
	}
}

func isType(t string) func(received) bool {
	return func(r received) bool { return r.Type == t }
}
