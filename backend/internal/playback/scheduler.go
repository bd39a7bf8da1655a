package playback

import (
	"sync"
	"time"
)

// Clock reports the current output position in frames
type Clock interface {
	Now() int64
}

// Sink plays a buffer starting at its scheduled frame
type Sink interface {
	Schedule(b Buffer)
}

// Buffer is one decoded chunk placed on the output timeline
type Buffer struct {
	Samples []float32
	Start   int64
}

// End is the first frame after the buffer
func (b Buffer) End() int64 {
	return b.Start + int64(len(b.Samples))
}

// Scheduler places decoded chunks back to back on the output clock.
//
// It keeps a single cursor, the start of the next buffer. The first buffer,
// and any buffer arriving after the cursor fell behind the clock, starts at
// now plus the jitter margin; every other buffer starts exactly where the
// previous one ended.
type Scheduler struct {
	clock  Clock
	sink   Sink
	margin int64

	mu     sync.Mutex
	next   int64
	primed bool
}

// NewScheduler creates a scheduler for audio at sampleRate frames per second
func NewScheduler(clock Clock, sink Sink, sampleRate int, jitterMargin time.Duration) *Scheduler {
	return &Scheduler{
		clock:  clock,
		sink:   sink,
		margin: Frames(jitterMargin, sampleRate),
	}
}

// Enqueue schedules samples and returns where they were placed
func (s *Scheduler) Enqueue(samples []float32) Buffer {
	s.mu.Lock()
	now := s.clock.Now()
	if !s.primed || s.next < now {
		s.next = now + s.margin
		s.primed = true
	}
	b := Buffer{Samples: samples, Start: s.next}
	s.next = b.End()
	s.mu.Unlock()

	s.sink.Schedule(b)
	return b
}

// EnqueueBase64 decodes an inbound audio frame and schedules it
func (s *Scheduler) EnqueueBase64(b64 string) (Buffer, error) {
	samples, err := Decode(b64)
	if err != nil {
		return Buffer{}, err
	}
	return s.Enqueue(samples), nil
}

// Next returns the cursor, ignoring the clock
func (s *Scheduler) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Reset forgets the cursor. The next buffer starts one margin after now.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.next = 0
	s.primed = false
	s.mu.Unlock()
}

// Frames converts a duration to a frame count at sampleRate
func Frames(d time.Duration, sampleRate int) int64 {
	return int64(d) * int64(sampleRate) / int64(time.Second)
}
