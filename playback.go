package gemlive

import (
	"math"
)

// OutputDevice is an audio sink with its own monotonic clock, in seconds.
//
// Schedule must start samples at startAt on that clock (immediately if
// startAt is already past) and call onEnded once from any goroutine when the
// source finishes naturally. Stopping a source through its handle must not
// call onEnded.
type OutputDevice interface {
	CurrentTime() float64
	Schedule(samples []float32, sampleRate int, startAt float64, onEnded func()) (SourceHandle, error)
	Level() float64
}

// SourceHandle controls one scheduled source.
type SourceHandle interface {
	Stop()
}

// PlaybackUnit is one decoded buffer of agent speech.
type PlaybackUnit struct {
	ID         uint64
	Samples    []float32
	SampleRate int
	StartAt    float64 // assigned by the scheduler
}

// Duration returns the unit length in seconds.
func (u PlaybackUnit) Duration() float64 {
	if u.SampleRate <= 0 {
		return 0
	}
	return float64(len(u.Samples)) / float64(u.SampleRate)
}

// DecodeUnit turns raw inbound PCM16 into a PlaybackUnit. The rate comes
// from the MIME tag and defaults to OutputSampleRate.
func DecodeUnit(pcm []byte, mimeType string) PlaybackUnit {
	return PlaybackUnit{
		Samples:    DecodePCM16(pcm),
		SampleRate: SampleRateFromMIME(mimeType, OutputSampleRate),
	}
}

// Scheduler lays decoded units back to back on the output clock.
//
// A Scheduler is not safe for concurrent use. It belongs to the engine loop;
// device completion callbacks are routed back through post, which must run
// the given function on that loop.
type Scheduler struct {
	out  OutputDevice
	post func(func())

	cursor   float64
	nextID   uint64
	inFlight map[uint64]SourceHandle
	onChange func()
}

// NewScheduler creates a scheduler for out. post marshals completion
// callbacks onto the owning goroutine.
func NewScheduler(out OutputDevice, post func(func())) *Scheduler {
	return &Scheduler{out: out, post: post, inFlight: make(map[uint64]SourceHandle)}
}

// OnChange registers fn to run after every in-flight set change caused by a
// completion. It runs on the owning goroutine.
func (s *Scheduler) OnChange(fn func()) { s.onChange = fn }

// Enqueue schedules u at max(cursor, now) and advances the cursor by its
// duration. Units are never reordered.
func (s *Scheduler) Enqueue(u PlaybackUnit) (PlaybackUnit, error) {
	startAt := math.Max(s.cursor, s.out.CurrentTime())
	s.nextID++
	id := s.nextID
	u.ID = id
	u.StartAt = startAt

	h, err := s.out.Schedule(u.Samples, u.SampleRate, startAt, func() {
		s.post(func() { s.complete(id) })
	})
	if err != nil {
		return u, err
	}
	s.inFlight[id] = h
	s.cursor = startAt + u.Duration()
	return u, nil
}

func (s *Scheduler) complete(id uint64) {
	if _, ok := s.inFlight[id]; !ok {
		return
	}
	delete(s.inFlight, id)
	if s.onChange != nil {
		s.onChange()
	}
}

// Interrupt stops every in-flight unit, clears the set and resets the cursor
// to zero so the next unit starts as soon as the device allows.
func (s *Scheduler) Interrupt() int {
	n := len(s.inFlight)
	for id, h := range s.inFlight {
		h.Stop()
		delete(s.inFlight, id)
	}
	s.cursor = 0
	return n
}

// Cursor returns the output clock time at which the next unit may start.
func (s *Scheduler) Cursor() float64 { return s.cursor }

// InFlight returns the number of scheduled units that have not completed.
func (s *Scheduler) InFlight() int { return len(s.inFlight) }

// Speaking reports whether any unit is still in flight.
func (s *Scheduler) Speaking() bool { return len(s.inFlight) > 0 }
