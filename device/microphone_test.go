package device

import (
	"testing"

	"github.com/pion/mediadevices/pkg/wave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameFromWave(t *testing.T) {
	info := wave.ChunkInfo{Len: 2, Channels: 2, SamplingRate: 48000}

	f32 := wave.NewFloat32Interleaved(info)
	copy(f32.Data, []float32{0.1, 0.2, 0.3, 0.4})

	i16 := wave.NewInt16Interleaved(info)
	copy(i16.Data, []int16{16384, -16384, 0, -32768})

	f32n := wave.NewFloat32NonInterleaved(info)
	copy(f32n.Data[0], []float32{0.1, 0.3})
	copy(f32n.Data[1], []float32{0.2, 0.4})

	i16n := wave.NewInt16NonInterleaved(info)
	copy(i16n.Data[0], []int16{16384, 0})
	copy(i16n.Data[1], []int16{-16384, -32768})

	tests := []struct {
		name  string
		chunk wave.Audio
		want  []float32
	}{
		{"float32 interleaved", f32, []float32{0.1, 0.2, 0.3, 0.4}},
		{"int16 interleaved", i16, []float32{0.5, -0.5, 0, -1}},
		{"float32 planar", f32n, []float32{0.1, 0.2, 0.3, 0.4}},
		{"int16 planar", i16n, []float32{0.5, -0.5, 0, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := frameFromWave(tt.chunk)
			require.NoError(t, err)
			assert.Equal(t, 2, f.Channels)
			assert.Equal(t, 48000, f.SampleRate)
			assert.Equal(t, tt.want, f.Samples)
		})
	}
}

func TestFrameFromWave_CopiesData(t *testing.T) {
	chunk := wave.NewFloat32Interleaved(wave.ChunkInfo{Len: 2, Channels: 1, SamplingRate: 16000})
	chunk.Data[0] = 0.5

	f, err := frameFromWave(chunk)
	require.NoError(t, err)
	chunk.Data[0] = 0
	assert.Equal(t, float32(0.5), f.Samples[0], "frame must outlive the driver buffer")
}
