package playback

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now int64 }

func (c *fakeClock) Now() int64 { return c.now }

type recordingSink struct{ buffers []Buffer }

func (s *recordingSink) Schedule(b Buffer) { s.buffers = append(s.buffers, b) }

func TestDecode(t *testing.T) {
	// 0, 16384, -32768, 32767 and a stray byte
	raw := []byte{0x00, 0x00, 0x00, 0x40, 0x00, 0x80, 0xff, 0x7f, 0x01}
	samples, err := Decode(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Len(t, samples, 4)
	assert.Equal(t, float32(0), samples[0])
	assert.Equal(t, float32(0.5), samples[1])
	assert.Equal(t, float32(-1), samples[2])
	assert.InDelta(t, 1, samples[3], 0.0001)

	_, err = Decode("not base64!")
	assert.Error(t, err)
}

func TestEncodeBase64RoundTrip(t *testing.T) {
	samples, err := Decode(EncodeBase64([]int16{-16384, 0, 16384}))
	require.NoError(t, err)
	assert.Equal(t, []float32{-0.5, 0, 0.5}, samples)
}

func TestFrames(t *testing.T) {
	assert.Equal(t, int64(1200), Frames(50*time.Millisecond, 24000))
	assert.Equal(t, int64(24000), Frames(time.Second, 24000))
}

func TestScheduler_BackToBackFromInitialMargin(t *testing.T) {
	clock := &fakeClock{now: 500}
	sink := &recordingSink{}
	s := NewScheduler(clock, sink, 24000, 50*time.Millisecond)

	sizes := []int{480, 960, 240, 1200}
	for i, n := range sizes {
		// Clock advances but never past the cursor
		clock.now += int64(i * 10)
		s.Enqueue(make([]float32, n))
	}

	require.Len(t, sink.buffers, len(sizes))
	want := int64(500 + 1200)
	for i, b := range sink.buffers {
		assert.Equal(t, want, b.Start, "buffer %d", i)
		want += int64(sizes[i])
	}
	assert.Equal(t, want, s.Next())
}

func TestScheduler_ResetsWhenBehind(t *testing.T) {
	clock := &fakeClock{}
	sink := &recordingSink{}
	s := NewScheduler(clock, sink, 24000, 50*time.Millisecond)

	first := s.Enqueue(make([]float32, 2400))
	assert.Equal(t, int64(1200), first.Start)

	// Exactly at the cursor is not behind
	clock.now = first.End()
	second := s.Enqueue(make([]float32, 100))
	assert.Equal(t, first.End(), second.Start)

	clock.now = second.End() + 1
	third := s.Enqueue(make([]float32, 100))
	assert.Equal(t, clock.now+1200, third.Start)
}

func TestScheduler_NeverOverlaps(t *testing.T) {
	clock := &fakeClock{}
	sink := &recordingSink{}
	s := NewScheduler(clock, sink, 24000, 50*time.Millisecond)

	arrivals := []int64{0, 100, 5000, 5100, 90000, 90010}
	for _, at := range arrivals {
		clock.now = at
		b := s.Enqueue(make([]float32, 960))
		assert.GreaterOrEqual(t, b.Start, at, "never before now")
	}

	for i := 1; i < len(sink.buffers); i++ {
		assert.GreaterOrEqual(t, sink.buffers[i].Start, sink.buffers[i-1].End())
	}
}

func TestScheduler_Reset(t *testing.T) {
	clock := &fakeClock{now: 10}
	s := NewScheduler(clock, &recordingSink{}, 24000, 50*time.Millisecond)

	s.Enqueue(make([]float32, 24000))
	s.Reset()
	assert.Equal(t, int64(0), s.Next())

	b := s.Enqueue(make([]float32, 10))
	assert.Equal(t, int64(10+1200), b.Start)
}

func TestScheduler_EnqueueBase64(t *testing.T) {
	clock := &fakeClock{}
	sink := &recordingSink{}
	s := NewScheduler(clock, sink, 24000, 0)

	b, err := s.EnqueueBase64(EncodeBase64([]int16{1, 2, 3}))
	require.NoError(t, err)
	assert.Len(t, b.Samples, 3)

	_, err = s.EnqueueBase64("%%%")
	assert.Error(t, err)
	assert.Len(t, sink.buffers, 1)
}

func TestMixer_RendersGaplessAcrossBlocks(t *testing.T) {
	m := NewMixer(nil)
	s := NewScheduler(m, m, 8, 250*time.Millisecond) // margin of 2 frames

	s.Enqueue([]float32{1, 1, 1})
	s.Enqueue([]float32{2, 2})

	out := make([]float32, 4)
	m.Render(out)
	assert.Equal(t, []float32{0, 0, 1, 1}, out)
	m.Render(out)
	assert.Equal(t, []float32{1, 2, 2, 0}, out)
	assert.Equal(t, int64(8), m.Now())
	assert.Equal(t, 0, m.Pending())
}

func TestMixer_SkipsPlayedFrames(t *testing.T) {
	m := NewMixer(nil)
	m.Render(make([]float32, 4))

	m.Schedule(Buffer{Samples: []float32{9, 9}, Start: 0})
	assert.Equal(t, 0, m.Pending())

	m.Schedule(Buffer{Samples: []float32{7, 7, 7, 7, 7, 7}, Start: 2})
	out := make([]float32, 4)
	m.Render(out)
	assert.Equal(t, []float32{7, 7, 7, 7}, out)
}

func TestMixer_ClearSilencesQueuedAudio(t *testing.T) {
	m := NewMixer(nil)
	m.Schedule(Buffer{Samples: []float32{1, 1, 1, 1}, Start: 0})
	m.Clear()

	out := make([]float32, 4)
	m.Render(out)
	assert.Equal(t, []float32{0, 0, 0, 0}, out)
}

func TestAnalyser_DoesNotAlterOutput(t *testing.T) {
	tap := &Analyser{}
	m := NewMixer(tap)
	m.Schedule(Buffer{Samples: []float32{0.5, -0.5, 0.5, -0.5}, Start: 0})

	out := make([]float32, 4)
	m.Render(out)
	assert.Equal(t, []float32{0.5, -0.5, 0.5, -0.5}, out)
	assert.InDelta(t, 0.5, tap.Volume(), 1e-9)

	m.Render(out)
	assert.Equal(t, float64(0), tap.Volume())
}
