package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	apperrors "voice-bridge/backend/pkg/errors"
)

// fakeProvider is a websocket server standing in for the live provider.
type fakeProvider struct {
	srv      *httptest.Server
	received chan map[string]interface{}
	conns    chan *websocket.Conn
	query    chan string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		received: make(chan map[string]interface{}, 32),
		conns:    make(chan *websocket.Conn, 4),
		query:    make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.query <- r.URL.RawQuery
		p.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]interface{}
			if json.Unmarshal(data, &frame) == nil {
				p.received <- frame
			}
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *fakeProvider) nextFrame(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case f := <-p.received:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func (p *fakeProvider) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-p.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func connectClient(t *testing.T, p *fakeProvider) *Client {
	t.Helper()
	c := NewClient(Config{
		URL:               p.url(),
		APIKey:            "secret",
		Model:             "gemini-live",
		Voice:             "Puck",
		Language:          "es-ES",
		SystemInstruction: "Eres un asistente.",
	}, zap.NewNop())
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Disconnect)
	return c
}

func TestConnect_SendsSetupFrame(t *testing.T) {
	p := newFakeProvider(t)
	connectClient(t, p)

	assert.Equal(t, "key=secret", <-p.query)

	frame := p.nextFrame(t)
	setup, ok := frame["setup"].(map[string]interface{})
	require.True(t, ok, "first frame must be setup")
	assert.Equal(t, "models/gemini-live", setup["model"])

	gen := setup["generation_config"].(map[string]interface{})
	assert.Equal(t, []interface{}{"AUDIO"}, gen["response_modalities"])
	speech := gen["speech_config"].(map[string]interface{})
	assert.Equal(t, "es-ES", speech["language_code"])
	voice := speech["voice_config"].(map[string]interface{})["prebuilt_voice_config"].(map[string]interface{})
	assert.Equal(t, "Puck", voice["voice_name"])

	instruction := setup["system_instruction"].(map[string]interface{})
	parts := instruction["parts"].([]interface{})
	assert.Equal(t, "Eres un asistente.", parts[0].(map[string]interface{})["text"])
	assert.Contains(t, setup, "input_audio_transcription")
	assert.Contains(t, setup, "output_audio_transcription")
}

func TestSendHelpers(t *testing.T) {
	p := newFakeProvider(t)
	c := connectClient(t, p)
	p.nextFrame(t) // setup

	require.NoError(t, c.SendAudio("AAAA"))
	frame := p.nextFrame(t)
	chunk := frame["realtime_input"].(map[string]interface{})["media_chunks"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "audio/pcm;rate=16000", chunk["mime_type"])
	assert.Equal(t, "AAAA", chunk["data"])

	require.NoError(t, c.SendVideo("/9j/"))
	frame = p.nextFrame(t)
	chunk = frame["realtime_input"].(map[string]interface{})["media_chunks"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "image/jpeg", chunk["mime_type"])

	require.NoError(t, c.SendText("hola"))
	frame = p.nextFrame(t)
	cc := frame["client_content"].(map[string]interface{})
	assert.Equal(t, true, cc["turn_complete"])
}

func TestEvents_TranslatedInOrder_MalformedDropped(t *testing.T) {
	p := newFakeProvider(t)
	c := connectClient(t, p)
	server := p.conn(t)

	frames := []string{
		`{"setupComplete":{}}`,
		`not json`,
		`{"serverContent":{"inputTranscription":{"text":"hola"}}}`,
		`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AQI="}},{"text":"pensando","thought":true},{"text":"¿en qué te ayudo?"}]}}}`,
		`{"serverContent":{"outputTranscription":{"text":"en qué"},"turnComplete":true}}`,
	}
	for _, f := range frames {
		require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	want := []Event{
		{Type: EventReady},
		{Type: EventUserTranscript, Text: "hola"},
		{Type: EventAudioChunk, Audio: "AQI=", MimeType: "audio/pcm;rate=24000"},
		{Type: EventAssistantText, Text: "¿en qué te ayudo?"},
		{Type: EventAssistantTranscript, Text: "en qué"},
		{Type: EventTurnComplete},
	}
	for _, w := range want {
		assert.Equal(t, w, nextEvent(t, c.Events()))
	}
}

func TestEvents_ServerCloseEmitsClosedThenEnds(t *testing.T) {
	p := newFakeProvider(t)
	c := connectClient(t, p)
	server := p.conn(t)

	require.NoError(t, server.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")))

	ev := nextEvent(t, c.Events())
	assert.Equal(t, EventConnectionClosed, ev.Type)
	assert.Equal(t, "bye", ev.Text)

	select {
	case _, ok := <-c.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestDisconnect_ClosesEventsAndIsIdempotent(t *testing.T) {
	p := newFakeProvider(t)
	c := connectClient(t, p)

	c.Disconnect()
	c.Disconnect()

	_, ok := <-c.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, c.SendAudio("AAAA"), apperrors.ErrUpstreamClosed)
}

func TestSend_BeforeConnect(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1", Model: "m", Voice: "v"}, zap.NewNop())
	assert.ErrorIs(t, c.SendAudio("AAAA"), apperrors.ErrUpstreamNotReady)

	c.Disconnect()
	_, ok := <-c.Events()
	assert.False(t, ok)
}

func TestConnect_FailureIsTerminal(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1", Model: "m", Voice: "v"}, zap.NewNop())
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := c.Connect(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsTerminal(err))
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeUpstream))
}

func TestTranslate_InterruptedAndNonAudioInline(t *testing.T) {
	events := translate(serverMessage{ServerContent: &serverContent{
		ModelTurn: &modelTurn{Parts: []serverPart{
			{InlineData: &inlineData{MimeType: "image/png", Data: "x"}},
		}},
		Interrupted: true,
	}})
	assert.Equal(t, []Event{{Type: EventInterrupted}}, events)
	assert.Empty(t, translate(serverMessage{}))
}
