package device

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/enesunal-m/gemlive"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
)

// Microphone captures from the default input through mediadevices. A
// microphone driver must be registered by a blank import of
// github.com/pion/mediadevices/pkg/driver/microphone.
type Microphone struct {
	// SampleRate is requested from the driver. Zero takes the device default;
	// the engine resamples whatever arrives.
	SampleRate int
	// Channels is requested from the driver. Zero requests mono.
	Channels int
	Log      *gemlive.Logger
}

// Open asks for audio access and returns a live stream.
func (m *Microphone) Open(ctx context.Context) (gemlive.MicStream, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			ch := m.Channels
			if ch <= 0 {
				ch = 1
			}
			c.ChannelCount = prop.Int(ch)
			if m.SampleRate > 0 {
				c.SampleRate = prop.Int(m.SampleRate)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, errors.New("no audio track")
	}
	track, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		_ = tracks[0].Close()
		return nil, fmt.Errorf("unexpected audio track type %T", tracks[0])
	}
	m.Log.Info("microphone_opened", map[string]any{"channels": m.Channels, "rate": m.SampleRate})
	return &micStream{track: track, reader: track.NewReader(false), log: m.Log}, nil
}

type micStream struct {
	track  *mediadevices.AudioTrack
	reader audio.Reader
	log    *gemlive.Logger
}

// Read blocks for the next chunk. Closing the track unblocks it with io.EOF.
func (s *micStream) Read(ctx context.Context) (gemlive.Frame, error) {
	if err := ctx.Err(); err != nil {
		return gemlive.Frame{}, err
	}
	chunk, release, err := s.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return gemlive.Frame{}, io.EOF
		}
		return gemlive.Frame{}, err
	}
	defer release()
	return frameFromWave(chunk)
}

func (s *micStream) Close() error {
	s.log.Info("microphone_closed", nil)
	return s.track.Close()
}

// frameFromWave copies one mediadevices chunk into an interleaved float frame.
func frameFromWave(chunk wave.Audio) (gemlive.Frame, error) {
	info := chunk.ChunkInfo()
	f := gemlive.Frame{Channels: info.Channels, SampleRate: info.SamplingRate}
	n := info.Len * info.Channels

	switch a := chunk.(type) {
	case *wave.Float32Interleaved:
		f.Samples = append(make([]float32, 0, n), a.Data[:n]...)
	case *wave.Int16Interleaved:
		f.Samples = make([]float32, n)
		for i, v := range a.Data[:n] {
			f.Samples[i] = float32(v) / 32768
		}
	case *wave.Float32NonInterleaved:
		f.Samples = make([]float32, n)
		for c, plane := range a.Data {
			for i := 0; i < info.Len; i++ {
				f.Samples[i*info.Channels+c] = plane[i]
			}
		}
	case *wave.Int16NonInterleaved:
		f.Samples = make([]float32, n)
		for c, plane := range a.Data {
			for i := 0; i < info.Len; i++ {
				f.Samples[i*info.Channels+c] = float32(plane[i]) / 32768
			}
		}
	default:
		return gemlive.Frame{}, fmt.Errorf("unsupported sample format %T", chunk)
	}
	return f, nil
}
