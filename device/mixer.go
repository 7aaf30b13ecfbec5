// Package device connects the engine to real audio and video hardware:
// microphone and camera through pion/mediadevices, speaker through oto.
package device

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/enesunal-m/gemlive"
)

// Mixer renders scheduled sources into a mono float32 little-endian stream.
// Its clock is the number of frames pulled through Read, so time only moves
// while the audio backend is consuming.
//
// Mixer implements gemlive.OutputDevice and io.Reader.
type Mixer struct {
	rate int

	mu      sync.Mutex
	frames  int64
	nextID  uint64
	sources map[uint64]*mixSource
	scratch []float32

	level atomic.Uint64 // math.Float64bits of the last block RMS
}

type mixSource struct {
	start   int64
	samples []float32
	onEnded func()
}

// NewMixer creates a mixer running at rate frames per second.
func NewMixer(rate int) *Mixer {
	if rate <= 0 {
		rate = gemlive.OutputSampleRate
	}
	return &Mixer{rate: rate, sources: make(map[uint64]*mixSource)}
}

// SampleRate returns the mixer rate.
func (m *Mixer) SampleRate() int { return m.rate }

// CurrentTime returns the playback clock in seconds.
func (m *Mixer) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.frames) / float64(m.rate)
}

// Level returns the RMS of the most recently rendered block.
func (m *Mixer) Level() float64 {
	return math.Float64frombits(m.level.Load())
}

// Schedule queues samples to start at startAt seconds on the mixer clock.
// A start time already in the past plays from the next rendered frame.
func (m *Mixer) Schedule(samples []float32, sampleRate int, startAt float64, onEnded func()) (gemlive.SourceHandle, error) {
	if sampleRate > 0 && sampleRate != m.rate {
		samples = gemlive.NewResampler(sampleRate, m.rate).Process(samples)
	} else {
		samples = append([]float32(nil), samples...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	start := int64(math.Round(startAt * float64(m.rate)))
	if start < m.frames {
		start = m.frames
	}
	m.nextID++
	id := m.nextID
	m.sources[id] = &mixSource{start: start, samples: samples, onEnded: onEnded}
	return &mixHandle{m: m, id: id}, nil
}

// Read renders len(p)/4 frames. It never blocks and writes silence when
// nothing is scheduled.
func (m *Mixer) Read(p []byte) (int, error) {
	n := len(p) / 4
	if n == 0 {
		return 0, nil
	}

	m.mu.Lock()
	if cap(m.scratch) < n {
		m.scratch = make([]float32, n)
	}
	buf := m.scratch[:n]
	for i := range buf {
		buf[i] = 0
	}

	from, to := m.frames, m.frames+int64(n)
	var ended []func()
	for id, src := range m.sources {
		end := src.start + int64(len(src.samples))
		lo, hi := max(src.start, from), min(end, to)
		for f := lo; f < hi; f++ {
			buf[f-from] += src.samples[f-src.start]
		}
		if end <= to {
			delete(m.sources, id)
			if src.onEnded != nil {
				ended = append(ended, src.onEnded)
			}
		}
	}
	m.frames = to

	var sum float64
	for i, s := range buf {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		sum += float64(s) * float64(s)
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	m.level.Store(math.Float64bits(math.Sqrt(sum / float64(n))))
	m.mu.Unlock()

	// Completions run off the audio thread and never under the lock.
	for _, fn := range ended {
		go fn()
	}
	return n * 4, nil
}

// Pending returns the number of sources not yet finished.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

type mixHandle struct {
	m  *Mixer
	id uint64
}

// Stop drops the source without calling its completion.
func (h *mixHandle) Stop() {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	delete(h.m.sources, h.id)
}
