package gemlive

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"time"
)

const (
	// FrameMIMEType tags outbound camera frames.
	FrameMIMEType = "image/jpeg"

	// FrameQuality is the JPEG quality of outbound frames.
	FrameQuality = 50

	// FrameInterval is the camera snapshot period.
	FrameInterval = time.Second
)

// Camera opens a video source.
type Camera interface {
	Open(ctx context.Context) (CameraStream, error)
}

// CameraStream yields still frames on demand.
type CameraStream interface {
	Snapshot(ctx context.Context) (image.Image, error)
	Close() error
}

// EncodeFrame compresses one frame for the wire.
func EncodeFrame(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: FrameQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CameraFeed is a fixed-rate snapshot producer that can be switched on and
// off while its Run loop is alive. Opening, snapshotting and closing the
// camera all happen on the Run goroutine.
type CameraFeed struct {
	cam      Camera
	send     func(ctx context.Context, jpeg []byte) error
	interval time.Duration
	toggles  chan bool
	onError  func(error)
	log      *Logger
}

// NewCameraFeed creates a feed. onError is called from the Run goroutine
// when the camera cannot be opened; the feed stays alive and off.
func NewCameraFeed(cam Camera, send func(context.Context, []byte) error, onError func(error), log *Logger) *CameraFeed {
	return &CameraFeed{
		cam:      cam,
		send:     send,
		interval: FrameInterval,
		toggles:  make(chan bool, 1),
		onError:  onError,
		log:      log,
	}
}

// Toggle requests the feed on or off. It never blocks; the latest request wins.
func (f *CameraFeed) Toggle(on bool) {
	for {
		select {
		case f.toggles <- on:
			return
		default:
		}
		select {
		case <-f.toggles:
		default:
		}
	}
}

// Run drives the feed until ctx is done. It returns the first send error;
// camera faults are reported through onError and are not fatal.
func (f *CameraFeed) Run(ctx context.Context) error {
	var stream CameraStream
	stop := func() {
		if stream != nil {
			_ = stream.Close()
			stream = nil
		}
	}
	defer stop()

	tk := time.NewTicker(f.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case on := <-f.toggles:
			if !on {
				stop()
				f.log.Info("camera_stopped", nil)
				continue
			}
			if stream != nil {
				continue
			}
			s, err := f.cam.Open(ctx)
			if err != nil {
				f.log.Warn("camera_open_failed", map[string]any{"err": err.Error()})
				if f.onError != nil {
					f.onError(NewAccessError("camera", err))
				}
				continue
			}
			stream = s
			f.log.Info("camera_started", nil)
		case <-tk.C:
			if stream == nil {
				continue
			}
			img, err := stream.Snapshot(ctx)
			if err != nil {
				f.log.Debug("camera_snapshot_failed", map[string]any{"err": err.Error()})
				continue
			}
			data, err := EncodeFrame(img)
			if err != nil {
				f.log.Debug("camera_encode_failed", map[string]any{"err": err.Error()})
				continue
			}
			if err := f.send(ctx, data); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
