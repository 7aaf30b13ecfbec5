package gemlive

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePCM16_Truncation(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{0.5, 16384},
		{-0.5, -16384},
		{0.99999, 32767},
		{-1, -32768},
		{0.00001, 0},
		{-0.00002, 0}, // truncates toward zero
		{1, -32768},   // full scale wraps, no clipping guard
	}
	for _, tt := range tests {
		out := EncodePCM16([]float32{tt.in})
		require.Len(t, out, 2)
		got := int16(binary.LittleEndian.Uint16(out))
		assert.Equal(t, tt.want, got, "sample %v", tt.in)
	}
}

func TestEncodePCM16_LittleEndian(t *testing.T) {
	out := EncodePCM16([]float32{0.5, -0.5})
	assert.Equal(t, []byte{0x00, 0x40, 0x00, 0xC0}, out)
}

func TestDecodePCM16(t *testing.T) {
	samples := DecodePCM16([]byte{0x00, 0x40, 0x00, 0xC0, 0x7F})
	require.Len(t, samples, 2, "trailing odd byte is ignored")
	assert.InDelta(t, 0.5, samples[0], 1e-9)
	assert.InDelta(t, -0.5, samples[1], 1e-9)

	assert.Empty(t, DecodePCM16(nil))
}

func TestPCM16RoundTripWithinOneStep(t *testing.T) {
	in := []float32{-0.75, -0.1, 0, 0.25, 0.9}
	out := DecodePCM16(EncodePCM16(in))
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1.0/32768)
	}
}

func TestSampleRateFromMIME(t *testing.T) {
	tests := []struct {
		mime string
		want int
	}{
		{"audio/pcm;rate=24000", 24000},
		{"audio/pcm; rate=16000", 16000},
		{"audio/pcm;codec=pcm;RATE=8000", 8000},
		{"audio/pcm", OutputSampleRate},
		{"audio/pcm;rate=abc", OutputSampleRate},
		{"audio/pcm;rate=-5", OutputSampleRate},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SampleRateFromMIME(tt.mime, OutputSampleRate), tt.mime)
	}
}

func TestIsPCMAudio(t *testing.T) {
	assert.True(t, IsPCMAudio("audio/pcm;rate=24000"))
	assert.True(t, IsPCMAudio("AUDIO/PCM"))
	assert.True(t, IsPCMAudio("audio/L16;rate=24000"))
	assert.False(t, IsPCMAudio("image/jpeg"))
	assert.False(t, IsPCMAudio(""))
}

func TestPCM16BytesFor(t *testing.T) {
	tests := []struct {
		name       string
		ms         int
		sampleRate int
		expected   int
	}{
		{"200ms at 24kHz", 200, 24000, 9600},
		{"500ms at 24kHz", 500, 24000, 24000},
		{"1000ms at 16kHz", 1000, 16000, 32000},
		{"0ms", 0, 24000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PCM16BytesFor(tt.ms, tt.sampleRate))
		})
	}
}

func TestWAVFromPCM16Mono(t *testing.T) {
	pcmData := []byte{0x00, 0x01, 0xFF, 0xFE}
	wav := WAVFromPCM16Mono(pcmData, OutputSampleRate)

	require.Len(t, wav, 44+len(pcmData))
	assert.True(t, bytes.Equal(wav[0:4], []byte("RIFF")))
	assert.Equal(t, uint32(36+len(pcmData)), binary.LittleEndian.Uint32(wav[4:]))
	assert.True(t, bytes.Equal(wav[8:12], []byte("WAVE")))
	assert.True(t, bytes.Equal(wav[12:16], []byte("fmt ")))
	assert.Equal(t, uint32(OutputSampleRate), binary.LittleEndian.Uint32(wav[24:]))
	assert.Equal(t, uint32(OutputSampleRate*2), binary.LittleEndian.Uint32(wav[28:]))
	assert.True(t, bytes.Equal(wav[36:40], []byte("data")))
	assert.Equal(t, pcmData, wav[44:])
}

func TestWAVFromPCM16Mono_EmptyData(t *testing.T) {
	assert.Len(t, WAVFromPCM16Mono([]byte{}, OutputSampleRate), 44)
}

func BenchmarkEncodePCM16(b *testing.B) {
	window := make([]float32, WindowSize)
	for i := range window {
		window[i] = float32(i%200)/100 - 1
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = EncodePCM16(window)
	}
}
