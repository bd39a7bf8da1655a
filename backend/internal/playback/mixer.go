package playback

import (
	"math"
	"sync"
	"sync/atomic"
)

// Mixer is a sample-accurate output clock and sink. The audio device pulls
// frames with Render; scheduled buffers are copied in at their start frame.
type Mixer struct {
	tap *Analyser

	mu      sync.Mutex
	pos     int64
	pending []Buffer
}

// NewMixer creates a mixer. tap may be nil.
func NewMixer(tap *Analyser) *Mixer {
	return &Mixer{tap: tap}
}

// Now returns the number of frames rendered so far
func (m *Mixer) Now() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// Schedule queues b for playback. Frames already rendered are skipped.
func (m *Mixer) Schedule(b Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.End() <= m.pos {
		return
	}
	m.pending = append(m.pending, b)
}

// Render fills out with the next frames and advances the clock. Frames no
// buffer covers are silent.
func (m *Mixer) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	m.mu.Lock()
	start := m.pos
	end := start + int64(len(out))

	kept := m.pending[:0]
	for _, b := range m.pending {
		from := max(b.Start, start)
		to := min(b.End(), end)
		for f := from; f < to; f++ {
			out[f-start] += b.Samples[f-b.Start]
		}
		if b.End() > end {
			kept = append(kept, b)
		}
	}
	m.pending = kept
	m.pos = end
	m.mu.Unlock()

	if m.tap != nil {
		m.tap.Observe(out)
	}
}

// Clear drops everything not yet played
func (m *Mixer) Clear() {
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
}

// Pending returns the number of buffers still queued
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Analyser exposes the loudness of the last rendered block. It only reads.
type Analyser struct {
	level atomic.Uint64
}

// Observe records the RMS of samples
func (a *Analyser) Observe(samples []float32) {
	a.level.Store(math.Float64bits(rms(samples)))
}

// Volume returns the last RMS reading in [0, 1]
func (a *Analyser) Volume() float64 {
	return math.Float64frombits(a.level.Load())
}
