package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"voice-bridge/backend/internal/constants"
	"voice-bridge/backend/internal/playback"
	"voice-bridge/backend/pkg/logger"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

func main() {
	server := flag.String("url", "ws://localhost:3080/ws/voice", "Voice websocket endpoint")
	token := flag.String("token", os.Getenv("VOICE_TOKEN"), "Bearer token (defaults to $VOICE_TOKEN)")
	voice := flag.String("voice", "", "Initial voice")
	conversationID := flag.String("conversation", "", "Conversation to continue")
	noMic := flag.Bool("no-mic", false, "Do not capture the microphone, type instead")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()
	log := logger.Named("voiceclient")

	if err := portaudio.Initialize(); err != nil {
		log.Fatal("Failed to initialize PortAudio", zap.Error(err))
	}
	defer portaudio.Terminate()

	endpoint, err := url.Parse(*server)
	if err != nil {
		log.Fatal("Invalid url", zap.Error(err))
	}
	q := endpoint.Query()
	q.Set("token", *token)
	if *voice != "" {
		q.Set("initialVoice", *voice)
	}
	if *conversationID != "" {
		q.Set("conversationId", *conversationID)
	}
	endpoint.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(endpoint.String(), nil)
	if err != nil {
		log.Fatal("Failed to connect", zap.Error(err))
	}
	defer conn.Close()

	tap := &playback.Analyser{}
	mixer := playback.NewMixer(tap)
	scheduler := playback.NewScheduler(mixer, mixer, constants.OutputSampleRate, constants.PlaybackJitterMargin)

	out, err := openSpeaker(mixer)
	if err != nil {
		log.Fatal("Failed to open speaker", zap.Error(err))
	}
	defer out.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &client{
		conn:      conn,
		log:       log,
		scheduler: scheduler,
		mixer:     mixer,
		tap:       tap,
		writes:    make(chan outbound, 64),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.meterLoop(gctx) })
	if !*noMic {
		g.Go(func() error { return captureMic(gctx, log, c.sender(gctx)) })
	}
	go c.stdinLoop(gctx)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Client stopped", zap.Error(err))
		return
	}
	log.Info("Client stopped")
}

type client struct {
	conn      *websocket.Conn
	log       *zap.Logger
	scheduler *playback.Scheduler
	mixer     *playback.Mixer
	tap       *playback.Analyser
	writes    chan outbound
}

// sender queues a frame for the single connection writer
func (c *client) sender(ctx context.Context) func(string, interface{}) error {
	return func(msgType string, data interface{}) error {
		select {
		case c.writes <- outbound{Type: msgType, Data: data}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		case msg := <-c.writes:
			if err := c.conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (c *client) readLoop(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.conn.SetReadDeadline(time.Now())
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.log.Info("Server closed the session", zap.Int("code", closeErr.Code), zap.String("reason", closeErr.Text))
				return errors.New("session closed by server")
			}
			return fmt.Errorf("read: %w", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}
		c.handle(f)
	}
}

func (c *client) handle(f frame) {
	var d map[string]string
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &d); err != nil {
			c.log.Warn("Dropping malformed frame", zap.String("type", f.Type), zap.Error(err))
			return
		}
	}

	switch f.Type {
	case "audio":
		if _, err := c.scheduler.EnqueueBase64(d["audioData"]); err != nil {
			c.log.Warn("Dropping audio chunk", zap.Error(err))
		}
	case "status":
		if d["status"] == constants.StatusInterrupted {
			c.interrupt()
		}
		c.log.Info("Status", zap.String("status", d["status"]))
	case "text":
		fmt.Printf("[%s] %s\n", d["role"], d["text"])
	case "conversationId":
		c.log.Info("Conversation started", zap.String("conversation_id", d["conversationId"]))
	case "conversationUpdated":
		c.log.Debug("Conversation updated", zap.String("message_id", d["messageId"]))
	case "report":
		fmt.Printf("\n%s\n\n", d["report"])
	case "error":
		c.log.Error("Server error", zap.String("message", d["message"]))
	default:
		c.log.Debug("Unknown frame", zap.String("type", f.Type))
	}
}

// interrupt drops everything queued for playback
func (c *client) interrupt() {
	c.scheduler.Reset()
	c.mixer.Clear()
}

// stdinLoop sends typed lines as text; "/stop" ends playback and tells the server
func (c *client) stdinLoop(ctx context.Context) {
	send := c.sender(ctx)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/stop":
			c.interrupt()
			_ = send("interrupt", nil)
		case strings.HasPrefix(line, "/voice "):
			_ = send("config", map[string]string{"voice": strings.TrimSpace(strings.TrimPrefix(line, "/voice "))})
		default:
			_ = send("text", map[string]string{"text": line})
		}
	}
}

func (c *client) meterLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if v := c.tap.Volume(); v > 0.01 {
				c.log.Debug("Playback level", zap.Float64("rms", v), zap.Int("queued_buffers", c.mixer.Pending()))
			}
		}
	}
}
