package main

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
	"voice-bridge/backend/internal/constants"
	"voice-bridge/backend/internal/playback"
)

const framesPerBuffer = 1024

// speaker plays the mixer through the default output device
type speaker struct {
	stream *portaudio.Stream
}

func openSpeaker(mixer *playback.Mixer) (*speaker, error) {
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(constants.OutputSampleRate), framesPerBuffer, func(out []float32) {
		mixer.Render(out)
	})
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	return &speaker{stream: stream}, nil
}

func (s *speaker) Close() {
	_ = s.stream.Stop()
	_ = s.stream.Close()
}

// captureMic reads the default input device and sends each block as a
// base64 PCM16 frame until ctx is done.
func captureMic(ctx context.Context, log *zap.Logger, send func(msgType string, data interface{}) error) error {
	buffer := make([]int16, framesPerBuffer)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(constants.InputSampleRate), len(buffer), &buffer)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}
	defer func() {
		_ = stream.Stop()
		_ = stream.Close()
	}()

	log.Info("Microphone capture started", zap.Int("sample_rate", constants.InputSampleRate))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := stream.Read(); err != nil {
			return fmt.Errorf("mic read: %w", err)
		}

		frame := map[string]string{"audioData": playback.EncodeBase64(buffer)}
		if err := send("audio", frame); err != nil {
			return err
		}
	}
}
