package gemlive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownmix(t *testing.T) {
	assert.Equal(t, []float32{0.5, 0}, Downmix([]float32{1, 0, 0.5, -0.5}, 2))
	assert.Equal(t, []float32{0.25}, Downmix([]float32{0.5, 0, 0.25, 0.25, 0.5}, 4), "partial frame dropped")

	mono := []float32{0.1, 0.2}
	assert.Equal(t, mono, Downmix(mono, 1))
	assert.Equal(t, mono, Downmix(mono, 0))
}

func TestResampler_Passthrough(t *testing.T) {
	r := NewResampler(16000, 16000)
	in := []float32{1, 2, 3}
	assert.True(t, r.Passthrough())
	assert.Equal(t, in, r.Process(in))
}

func TestResampler_Downsample(t *testing.T) {
	r := NewResampler(48000, 16000)
	in := make([]float32, 4800)
	for i := range in {
		in[i] = 0.5
	}
	out := r.Process(in)
	require.Len(t, out, 1600)
	for _, s := range out {
		assert.InDelta(t, 0.5, s, 1e-6)
	}
}

func TestResampler_LinearInterpolation(t *testing.T) {
	// 8k to 16k doubles the sample count, inserting midpoints
	r := NewResampler(8000, 16000)
	out := r.Process([]float32{0, 1, 0})
	require.Len(t, out, 4)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1, 0.5}, toFloat64s(out), 1e-6)
}

func TestResampler_BlockSplitMatchesContiguous(t *testing.T) {
	in := make([]float32, 4410)
	for i := range in {
		in[i] = float32(i%97) / 97
	}

	whole := NewResampler(44100, 16000).Process(in)

	split := NewResampler(44100, 16000)
	var pieces []float32
	for _, n := range []int{1, 440, 1000, 7, 2962} {
		pieces = append(pieces, split.Process(in[:n])...)
		in = in[n:]
	}

	require.Len(t, pieces, len(whole))
	assert.InDeltaSlice(t, toFloat64s(whole), toFloat64s(pieces), 1e-5)
}

func TestResampler_EmptyInput(t *testing.T) {
	r := NewResampler(48000, 16000)
	assert.Nil(t, r.Process(nil))
}

func toFloat64s(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
