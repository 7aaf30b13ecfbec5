package gemlive

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"math"
	"sync/atomic"
)

// Frame is one block of raw microphone samples as delivered by the device.
type Frame struct {
	Samples    []float32 // interleaved, in [-1, 1]
	Channels   int
	SampleRate int
}

// Microphone opens a live input stream. Open failing means access was denied
// or no device is available.
type Microphone interface {
	Open(ctx context.Context) (MicStream, error)
}

// MicStream yields raw frames until closed. Read returns io.EOF once the
// stream has been closed.
type MicStream interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// AudioChunk is one encoded outbound window.
type AudioChunk struct {
	PCM      []byte // 16-bit little-endian mono
	MIMEType string
	Seq      uint64 // capture order, starting at 1
}

// Base64 returns the wire form of the chunk payload.
func (c AudioChunk) Base64() string {
	return base64.StdEncoding.EncodeToString(c.PCM)
}

// EncodeChunk converts one window of 16 kHz mono samples into a chunk.
func EncodeChunk(window []float32, seq uint64) AudioChunk {
	return AudioChunk{PCM: EncodePCM16(window), MIMEType: InputMIMEType, Seq: seq}
}

// Analyzer tracks a smoothed RMS level of the captured signal. It is written
// by the capture goroutine and read by observers without locking.
type Analyzer struct {
	smoothing float64
	level     atomic.Uint64 // math.Float64bits
}

// NewAnalyzer returns an analyzer with the given smoothing factor in [0, 1).
func NewAnalyzer(smoothing float64) *Analyzer {
	if smoothing < 0 || smoothing >= 1 {
		smoothing = 0.8
	}
	return &Analyzer{smoothing: smoothing}
}

// Update folds the RMS of samples into the running level.
func (a *Analyzer) Update(samples []float32) {
	if a == nil || len(samples) == 0 {
		return
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	prev := math.Float64frombits(a.level.Load())
	a.level.Store(math.Float64bits(prev*a.smoothing + rms*(1-a.smoothing)))
}

// Level returns the current smoothed level, roughly in [0, 1].
func (a *Analyzer) Level() float64 {
	if a == nil {
		return 0
	}
	return math.Float64frombits(a.level.Load())
}

// Reset drops the level to zero.
func (a *Analyzer) Reset() {
	if a != nil {
		a.level.Store(0)
	}
}

// SendChunkFunc delivers one encoded chunk to the transport.
type SendChunkFunc func(ctx context.Context, chunk AudioChunk) error

// Capture turns a microphone stream into outbound chunks of WindowSize
// samples at InputSampleRate. Each full window is sent synchronously before
// more input is consumed, so chunk order is capture order and nothing is
// buffered beyond one window.
type Capture struct {
	stream   MicStream
	send     SendChunkFunc
	analyzer *Analyzer
	log      *Logger

	window    []float32
	seq       uint64
	resampler *Resampler
	rate      int
}

// NewCapture creates a pipeline reading from stream. analyzer may be nil.
func NewCapture(stream MicStream, send SendChunkFunc, analyzer *Analyzer, log *Logger) *Capture {
	return &Capture{
		stream:   stream,
		send:     send,
		analyzer: analyzer,
		log:      log,
		window:   make([]float32, 0, WindowSize),
	}
}

// Run reads frames until ctx is cancelled or the stream ends. It returns nil
// for a cancelled context or a closed stream and the first send error otherwise.
func (c *Capture) Run(ctx context.Context) error {
	for {
		f, err := c.stream.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return NewAccessError("microphone", err)
		}
		if err := c.Push(ctx, f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Push feeds one device frame through downmix, resampling and windowing,
// sending every window it completes.
func (c *Capture) Push(ctx context.Context, f Frame) error {
	mono := Downmix(f.Samples, f.Channels)
	if f.SampleRate > 0 && f.SampleRate != c.rate {
		c.rate = f.SampleRate
		c.resampler = NewResampler(f.SampleRate, InputSampleRate)
	}
	if c.resampler != nil {
		mono = c.resampler.Process(mono)
	}

	for len(mono) > 0 {
		n := WindowSize - len(c.window)
		if n > len(mono) {
			n = len(mono)
		}
		c.window = append(c.window, mono[:n]...)
		mono = mono[n:]
		if len(c.window) < WindowSize {
			break
		}
		if err := c.flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Capture) flush(ctx context.Context) error {
	c.seq++
	chunk := EncodeChunk(c.window, c.seq)
	err := c.send(ctx, chunk)
	// The analyzer only observes; it runs after the send path.
	c.analyzer.Update(c.window)
	c.window = c.window[:0]
	if err != nil {
		c.log.Warn("capture_send_failed", map[string]any{"seq": chunk.Seq, "err": err.Error()})
		return err
	}
	return nil
}

// Sent returns the number of windows handed to the transport so far.
func (c *Capture) Sent() uint64 { return c.seq }
