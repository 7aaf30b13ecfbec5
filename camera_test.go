package gemlive

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (s *frameSink) send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, data)
	return nil
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *frameSink) first() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[0]
}

func runFeed(t *testing.T, f *CameraFeed) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestEncodeFrame(t *testing.T) {
	img, err := (&fakeCameraStream{cam: &fakeCamera{}}).Snapshot(context.Background())
	require.NoError(t, err)

	data, err := EncodeFrame(img)
	require.NoError(t, err)
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 8), decoded.Bounds())
}

func TestCameraFeed_OffByDefault(t *testing.T) {
	cam := &fakeCamera{}
	sink := &frameSink{}
	f := NewCameraFeed(cam, sink.send, nil, nil)
	f.interval = 5 * time.Millisecond
	runFeed(t, f)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.count())
	opens, _ := cam.counts()
	assert.Zero(t, opens)
}

func TestCameraFeed_ToggleOnAndOff(t *testing.T) {
	cam := &fakeCamera{}
	sink := &frameSink{}
	f := NewCameraFeed(cam, sink.send, nil, nil)
	f.interval = 5 * time.Millisecond
	runFeed(t, f)

	f.Toggle(true)
	require.Eventually(t, func() bool { return sink.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	_, err := jpeg.Decode(bytes.NewReader(sink.first()))
	require.NoError(t, err, "frames are JPEG")

	f.Toggle(false)
	require.Eventually(t, func() bool {
		_, closes := cam.counts()
		return closes == 1
	}, 2*time.Second, 5*time.Millisecond)

	n := sink.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, sink.count(), "no frames after the feed is off")

	opens, _ := cam.counts()
	assert.Equal(t, 1, opens)
}

func TestCameraFeed_RepeatedOnOpensOnce(t *testing.T) {
	cam := &fakeCamera{}
	f := NewCameraFeed(cam, (&frameSink{}).send, nil, nil)
	f.interval = time.Hour
	runFeed(t, f)

	f.Toggle(true)
	require.Eventually(t, func() bool { o, _ := cam.counts(); return o == 1 }, 2*time.Second, 5*time.Millisecond)
	f.Toggle(true)
	time.Sleep(20 * time.Millisecond)
	opens, _ := cam.counts()
	assert.Equal(t, 1, opens)
}

func TestCameraFeed_ToggleNeverBlocks(t *testing.T) {
	f := NewCameraFeed(&fakeCamera{}, (&frameSink{}).send, nil, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			f.Toggle(i%2 == 0)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Toggle blocked without a running feed")
	}
	assert.False(t, <-f.toggles, "latest request wins")
}

func TestCameraFeed_OpenFailureIsReported(t *testing.T) {
	cam := &fakeCamera{err: errors.New("no camera")}
	errs := make(chan error, 1)
	f := NewCameraFeed(cam, (&frameSink{}).send, func(err error) { errs <- err }, nil)
	f.interval = 5 * time.Millisecond
	_, done := runFeed(t, f)

	f.Toggle(true)
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrAccessDenied)
		assert.Equal(t, "Camera unavailable", StatusText(err))
	case <-time.After(2 * time.Second):
		t.Fatal("open failure not reported")
	}

	select {
	case err := <-done:
		t.Fatalf("feed stopped after a camera fault: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestCameraFeed_SendErrorEndsRun(t *testing.T) {
	boom := errors.New("socket gone")
	f := NewCameraFeed(&fakeCamera{}, (&frameSink{err: boom}).send, nil, nil)
	f.interval = 5 * time.Millisecond
	_, done := runFeed(t, f)

	f.Toggle(true)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept going after a send error")
	}
}

func TestCameraFeed_CancelClosesStream(t *testing.T) {
	cam := &fakeCamera{}
	f := NewCameraFeed(cam, (&frameSink{}).send, nil, nil)
	f.interval = time.Hour
	cancel, done := runFeed(t, f)

	f.Toggle(true)
	require.Eventually(t, func() bool { o, _ := cam.counts(); return o == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, closes := cam.counts()
	assert.Equal(t, 1, closes)
}
