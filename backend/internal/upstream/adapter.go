package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"voice-bridge/backend/internal/constants"
	apperrors "voice-bridge/backend/pkg/errors"
)

const (
	eventBufferSize = 256
	writeTimeout    = 5 * time.Second
)

// Adapter owns one connection to the live provider.
type Adapter interface {
	Connect(ctx context.Context) error
	Send(frame interface{}) error
	SendAudio(b64 string) error
	SendVideo(b64 string) error
	SendText(text string) error
	Events() <-chan Event
	Disconnect()
}

// Factory builds an unconnected adapter for a resolved configuration.
type Factory func(cfg Config) Adapter

// Config is everything the setup frame is built from
type Config struct {
	URL               string
	APIKey            string
	Model             string
	Voice             string
	Language          string
	SystemInstruction string
}

// Client is the websocket Adapter for the BidiGenerateContent endpoint
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger

	mu      sync.Mutex // Guards conn and writes
	conn    *websocket.Conn
	started bool

	events    chan Event
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new, unconnected client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: logger.With(zap.String("model", cfg.Model), zap.String("voice", cfg.Voice)),
		events: make(chan Event, eventBufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// NewFactory returns a Factory producing Clients that share a logger
func NewFactory(logger *zap.Logger) Factory {
	return func(cfg Config) Adapter {
		return NewClient(cfg, logger)
	}
}

// Connect dials the provider, sends the setup frame and starts reading.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return apperrors.NewUpstreamConnectFailed(c.cfg.URL, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("upstream client already connected")
	}
	select {
	case <-c.stop:
		return apperrors.ErrUpstreamClosed
	default:
	}

	c.logger.Info("Connecting to upstream provider", zap.String("url", c.cfg.URL))

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return apperrors.NewUpstreamConnectFailed(c.cfg.URL, err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(c.setupFrame()); err != nil {
		conn.Close()
		return apperrors.NewUpstreamConnectFailed(c.cfg.URL, fmt.Errorf("send setup: %w", err))
	}

	c.conn = conn
	c.started = true

	// Start reading (required to process ping/pong and receiving messages)
	go c.readLoop(conn)

	return nil
}

// Events returns the translated event stream. It is closed once the
// connection ends and the read loop has exited.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Send writes a raw frame to the provider
func (c *Client) Send(frame interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.stop:
		return apperrors.ErrUpstreamClosed
	default:
	}
	if c.conn == nil {
		return apperrors.ErrUpstreamNotReady
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write json failed: %w", err)
	}
	return nil
}

// SendAudio forwards one base64 PCM16 microphone chunk
func (c *Client) SendAudio(b64 string) error {
	return c.Send(realtimeInputFrame{RealtimeInput: realtimeInput{
		MediaChunks: []mediaChunk{{
			MimeType: fmt.Sprintf("audio/pcm;rate=%d", constants.InputSampleRate),
			Data:     b64,
		}},
	}})
}

// SendVideo forwards one base64 JPEG still
func (c *Client) SendVideo(b64 string) error {
	return c.Send(realtimeInputFrame{RealtimeInput: realtimeInput{
		MediaChunks: []mediaChunk{{MimeType: "image/jpeg", Data: b64}},
	}})
}

// SendText sends a complete user text turn
func (c *Client) SendText(text string) error {
	return c.Send(clientContentFrame{ClientContent: clientContent{
		Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: true,
	}})
}

// Disconnect closes the connection and waits for the read loop to exit.
// Safe to call more than once and before Connect.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.stop)

		c.mu.Lock()
		conn := c.conn
		started := c.started
		c.conn = nil
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		}
		c.mu.Unlock()

		if started {
			<-c.done
		} else {
			close(c.events)
		}
		c.logger.Info("Disconnected from upstream provider")
	})
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if c.cfg.APIKey != "" {
		q := u.Query()
		q.Set("key", c.cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) setupFrame() setupFrame {
	model := c.cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	body := setupBody{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig:  voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: c.cfg.Voice}},
				LanguageCode: c.cfg.Language,
			},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if strings.TrimSpace(c.cfg.SystemInstruction) != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: c.cfg.SystemInstruction}}}
	}
	return setupFrame{Setup: body}
}

// readLoop reads messages from the connection until it fails or Disconnect
// is called, then closes the events channel.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.done)
	defer close(c.events)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stop:
				return
			default:
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.logger.Info("Upstream connection closed",
					zap.Int("code", closeErr.Code),
					zap.String("reason", closeErr.Text),
				)
				c.emit(Event{Type: EventConnectionClosed, Text: closeErr.Text})
				return
			}
			c.logger.Error("Upstream read error", zap.Error(err))
			c.emit(Event{Type: EventConnectionError, Err: err})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Dropping upstream frame", zap.Error(apperrors.NewMalformedFrame("upstream", err)))
			continue
		}
		if msg.GoAway != nil {
			c.logger.Warn("Upstream provider is going away", zap.String("time_left", msg.GoAway.TimeLeft))
		}

		for _, ev := range translate(msg) {
			if !c.emit(ev) {
				return
			}
		}
	}
}

// emit delivers ev unless the client is being torn down
func (c *Client) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.stop:
		return false
	}
}

// translate maps one provider message to events in a fixed order: user
// speech first, then model output, then turn boundaries.
func translate(msg serverMessage) []Event {
	var events []Event

	if msg.SetupComplete != nil {
		events = append(events, Event{Type: EventReady})
	}

	sc := msg.ServerContent
	if sc == nil {
		return events
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, Event{Type: EventUserTranscript, Text: sc.InputTranscription.Text})
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			switch {
			case p.InlineData != nil && strings.HasPrefix(p.InlineData.MimeType, "audio/"):
				events = append(events, Event{
					Type:     EventAudioChunk,
					Audio:    p.InlineData.Data,
					MimeType: p.InlineData.MimeType,
				})
			case p.Thought:
				// Reasoning parts never reach the user.
			case p.Text != "":
				events = append(events, Event{Type: EventAssistantText, Text: p.Text})
			}
		}
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, Event{Type: EventAssistantTranscript, Text: sc.OutputTranscription.Text})
	}
	if sc.Interrupted {
		events = append(events, Event{Type: EventInterrupted})
	}
	if sc.TurnComplete {
		events = append(events, Event{Type: EventTurnComplete})
	}

	return events
}
