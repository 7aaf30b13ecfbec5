package gemlive

import "math"

// Downmix averages interleaved multi-channel samples into mono.
// A trailing partial frame is dropped.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	n := len(interleaved) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resampler converts a mono stream between sample rates by linear
// interpolation. It keeps the fractional read position and the last input
// sample across calls, so a stream split into arbitrary blocks resamples
// the same as one contiguous block.
type Resampler struct {
	from, to int
	pos      float64 // read position relative to the current block; -1 addresses last
	last     float32
}

// NewResampler returns a resampler from one rate to another.
func NewResampler(from, to int) *Resampler {
	return &Resampler{from: from, to: to}
}

// Passthrough reports whether the rates are equal and Process is a no-op.
func (r *Resampler) Passthrough() bool { return r.from == r.to || r.from <= 0 || r.to <= 0 }

// Process resamples one block of input.
func (r *Resampler) Process(in []float32) []float32 {
	if r.Passthrough() {
		return in
	}
	if len(in) == 0 {
		return nil
	}
	step := float64(r.from) / float64(r.to)
	out := make([]float32, 0, int(float64(len(in))/step)+1)
	at := func(i int) float32 {
		if i < 0 {
			return r.last
		}
		return in[i]
	}
	for {
		i := int(math.Floor(r.pos))
		if i+1 >= len(in) {
			break
		}
		frac := float32(r.pos - float64(i))
		a, b := at(i), at(i+1)
		out = append(out, a+(b-a)*frac)
		r.pos += step
	}
	r.pos -= float64(len(in))
	r.last = in[len(in)-1]
	return out
}

// Reset discards stream state.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
}
