package playback

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// Decode turns base64 PCM16 little-endian mono audio into samples in [-1, 1).
// A trailing odd byte is ignored.
func Decode(b64 string) ([]float32, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode audio chunk: %w", err)
	}
	return FromPCM16(data), nil
}

// FromPCM16 converts raw PCM16LE bytes to normalized samples
func FromPCM16(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[2*i:]))
		out[i] = float32(s) / 32768
	}
	return out
}

// ToPCM16 converts captured int16 frames to PCM16LE bytes
func ToPCM16(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

// EncodeBase64 is ToPCM16 followed by base64, the shape audio frames travel in
func EncodeBase64(samples []int16) string {
	return base64.StdEncoding.EncodeToString(ToPCM16(samples))
}

// rms is the root mean square of samples, 0 for none
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
