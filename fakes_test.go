package gemlive

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"

	"google.golang.org/genai"
)

// fakeOutput is an OutputDevice with a manually driven clock.
type fakeOutput struct {
	mu        sync.Mutex
	now       float64
	level     float64
	sources   []*fakeSource
	failNext  error
	stopCalls int
}

type fakeSource struct {
	out     *fakeOutput
	startAt float64
	samples int
	rate    int
	onEnded func()
	stopped bool
}

func (s *fakeSource) Stop() {
	s.out.mu.Lock()
	defer s.out.mu.Unlock()
	s.stopped = true
	s.out.stopCalls++
}

func (f *fakeOutput) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeOutput) Schedule(samples []float32, rate int, startAt float64, onEnded func()) (SourceHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return nil, err
	}
	s := &fakeSource{out: f, startAt: startAt, samples: len(samples), rate: rate, onEnded: onEnded}
	f.sources = append(f.sources, s)
	return s, nil
}

func (f *fakeOutput) Level() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

func (f *fakeOutput) setNow(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func (f *fakeOutput) source(i int) *fakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[i]
}

func (f *fakeOutput) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources)
}

// finish advances the clock to the end of source i and fires its completion.
func (f *fakeOutput) finish(i int) {
	f.mu.Lock()
	s := f.sources[i]
	end := s.startAt + float64(s.samples)/float64(s.rate)
	if end > f.now {
		f.now = end
	}
	f.mu.Unlock()
	s.onEnded()
}

// fakeMic hands out fakeMicStreams fed from a channel.
type fakeMic struct {
	err    error
	frames chan Frame
	mu     sync.Mutex
	opened []*fakeMicStream
}

func newFakeMic() *fakeMic { return &fakeMic{frames: make(chan Frame, 64)} }

func (m *fakeMic) Open(ctx context.Context) (MicStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	s := &fakeMicStream{frames: m.frames, done: make(chan struct{})}
	m.mu.Lock()
	m.opened = append(m.opened, s)
	m.mu.Unlock()
	return s, nil
}

func (m *fakeMic) streams() []*fakeMicStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fakeMicStream(nil), m.opened...)
}

type fakeMicStream struct {
	frames chan Frame
	done   chan struct{}
	once   sync.Once
	closes int
	mu     sync.Mutex
}

func (s *fakeMicStream) Read(ctx context.Context) (Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return Frame{}, io.EOF
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (s *fakeMicStream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeMicStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// fakeConn records outbound messages and exposes the engine's handler.
type fakeConn struct {
	mu      sync.Mutex
	sent    []*genai.LiveClientMessage
	closes  int
	sendErr error
	h       Handler
}

func (c *fakeConn) Send(ctx context.Context, msg *genai.LiveClientMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return NewSendError(messageKind(msg), ErrClosed)
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) messages() []*genai.LiveClientMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*genai.LiveClientMessage(nil), c.sent...)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) toolResponses() []*genai.LiveClientToolResponse {
	var out []*genai.LiveClientToolResponse
	for _, m := range c.messages() {
		if m.ToolResponse != nil {
			out = append(out, m.ToolResponse)
		}
	}
	return out
}

func (c *fakeConn) audioChunks() []*genai.Blob {
	var out []*genai.Blob
	for _, m := range c.messages() {
		if m.RealtimeInput == nil {
			continue
		}
		for _, b := range m.RealtimeInput.MediaChunks {
			if b.MIMEType == InputMIMEType {
				out = append(out, b)
			}
		}
	}
	return out
}

// fakeDialer hands out fakeConns and remembers them.
type fakeDialer struct {
	mu     sync.Mutex
	err    error
	// failures is the number of attempts that fail before dials succeed.
	failures int
	conns    []*fakeConn
	setups []Setup
	// before runs inside Dial, after the handler exists.
	before func(h Handler)
}

func (d *fakeDialer) Dial(ctx context.Context, cfg Config, setup Setup, h Handler) (Conn, error) {
	d.mu.Lock()
	d.setups = append(d.setups, setup)
	failing := d.failures > 0
	if failing {
		d.failures--
	}
	d.mu.Unlock()
	if failing {
		return nil, errors.New("connection refused")
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.before != nil {
		d.before(h)
	}
	c := &fakeConn{h: h}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.setups)
}

func (d *fakeDialer) last(t *testing.T) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		t.Fatal("nothing dialed")
	}
	return d.conns[len(d.conns)-1]
}

// fakeCamera returns a solid frame from every snapshot.
type fakeCamera struct {
	err    error
	mu     sync.Mutex
	opens  int
	closes int
}

func (c *fakeCamera) Open(ctx context.Context) (CameraStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.opens++
	return &fakeCameraStream{cam: c}, nil
}

func (c *fakeCamera) counts() (opens, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens, c.closes
}

type fakeCameraStream struct{ cam *fakeCamera }

func (s *fakeCameraStream) Snapshot(ctx context.Context) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}
	return img, nil
}

func (s *fakeCameraStream) Close() error {
	s.cam.mu.Lock()
	defer s.cam.mu.Unlock()
	s.cam.closes++
	return nil
}

var errDenied = errors.New("permission denied")

// constFrame builds a frame of n samples per channel, all set to v.
func constFrame(n, channels, rate int, v float32) Frame {
	s := make([]float32, n*channels)
	for i := range s {
		s[i] = v
	}
	return Frame{Samples: s, Channels: channels, SampleRate: rate}
}
