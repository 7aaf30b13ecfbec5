package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/enesunal-m/gemlive"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
)

// Camera captures stills from the default video input. A camera driver must
// be registered by a blank import of
// github.com/pion/mediadevices/pkg/driver/camera.
type Camera struct {
	Width, Height int
	Log           *gemlive.Logger
}

// Open asks for camera access.
func (c *Camera) Open(ctx context.Context) (gemlive.CameraStream, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(v *mediadevices.MediaTrackConstraints) {
			if c.Width > 0 {
				v.Width = prop.Int(c.Width)
			}
			if c.Height > 0 {
				v.Height = prop.Int(c.Height)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("no video track")
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		_ = tracks[0].Close()
		return nil, fmt.Errorf("unexpected video track type %T", tracks[0])
	}
	c.Log.Info("camera_opened", map[string]any{"width": c.Width, "height": c.Height})
	return &cameraStream{track: track, reader: track.NewReader(false), log: c.Log}, nil
}

type cameraStream struct {
	track  *mediadevices.VideoTrack
	reader video.Reader
	log    *gemlive.Logger
}

// Snapshot returns a copy of the next frame.
func (s *cameraStream) Snapshot(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, release, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	defer release()
	return cloneImage(img), nil
}

func (s *cameraStream) Close() error {
	s.log.Info("camera_closed", nil)
	return s.track.Close()
}

// cloneImage copies img into memory the driver no longer owns.
func cloneImage(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
