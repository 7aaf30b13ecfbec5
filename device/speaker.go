package device

import (
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/enesunal-m/gemlive"
)

// DefaultSpeakerBuffer is the oto buffer length. Shorter buffers cut the
// delay between Interrupt and silence.
const DefaultSpeakerBuffer = 60 * time.Millisecond

// Speaker plays a Mixer through the default output device.
//
// oto allows a single context per process, so create at most one Speaker.
type Speaker struct {
	*Mixer
	player *oto.Player
	log    *gemlive.Logger
}

// NewSpeaker opens the default output at rate and starts pulling from a
// fresh mixer. A zero buffer selects DefaultSpeakerBuffer.
func NewSpeaker(rate int, buffer time.Duration, log *gemlive.Logger) (*Speaker, error) {
	if rate <= 0 {
		rate = gemlive.OutputSampleRate
	}
	if buffer <= 0 {
		buffer = DefaultSpeakerBuffer
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("open speaker: %w", err)
	}
	<-ready

	mixer := NewMixer(rate)
	player := ctx.NewPlayer(mixer)
	player.Play()
	log.Info("speaker_opened", map[string]any{"rate": rate, "buffer_ms": buffer.Milliseconds()})
	return &Speaker{Mixer: mixer, player: player, log: log}, nil
}

// Close stops playback.
func (s *Speaker) Close() error {
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("close speaker: %w", err)
	}
	s.log.Info("speaker_closed", nil)
	return nil
}
