package gemlive

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// Audio processing constants

const (
	// InputSampleRate is the canonical microphone rate sent to the service (16kHz).
	InputSampleRate = 16000

	// OutputSampleRate is the canonical rate of synthesized speech (24kHz).
	OutputSampleRate = 24000

	// WindowSize is the number of mono samples per outbound chunk.
	WindowSize = 4096

	// InputMIMEType tags every outbound audio chunk.
	InputMIMEType = "audio/pcm;rate=16000"
)

// EncodePCM16 converts float samples in [-1, 1] to 16-bit little-endian PCM.
//
// Each sample is multiplied by 32768 and truncated toward zero. There is no
// dithering and no clipping guard: a full-scale +1.0 wraps to -32768 exactly
// like a typed-array store would.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(int32(s * 32768))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 reinterprets 16-bit little-endian PCM as float samples normalized by 32768.
// A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / 32768
	}
	return out
}

// SampleRateFromMIME extracts the rate parameter of an "audio/pcm;rate=N" tag.
// Returns fallback when the tag carries no usable rate.
func SampleRateFromMIME(mimeType string, fallback int) int {
	for _, part := range strings.Split(mimeType, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "rate") {
			continue
		}
		if r, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && r > 0 {
			return r
		}
	}
	return fallback
}

// IsPCMAudio reports whether a MIME tag describes raw PCM audio.
func IsPCMAudio(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	return base == "audio/pcm" || base == "audio/l16"
}

// WAVFromPCM16Mono converts raw PCM16 audio data to a complete WAV file.
// This is useful for saving audio responses to disk.
// The input should be 16-bit little-endian PCM data (mono channel).
func WAVFromPCM16Mono(pcm []byte, sampleRate int) []byte {
	blockAlign := uint16(2)
	byteRate := uint32(sampleRate) * uint32(blockAlign)
	dataLen := uint32(len(pcm))
	riffLen := 36 + dataLen
	out := make([]byte, 44+len(pcm))

	// RIFF header
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], riffLen)
	copy(out[8:], []byte("WAVE"))

	// Format chunk
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:], 1)  // audio format (PCM)
	binary.LittleEndian.PutUint16(out[22:], 1)  // num channels (mono)
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], byteRate)
	binary.LittleEndian.PutUint16(out[32:], blockAlign)
	binary.LittleEndian.PutUint16(out[34:], 16) // bits per sample

	// Data chunk
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], dataLen)
	copy(out[44:], pcm)
	return out
}

// PCM16BytesFor calculates the number of bytes needed for PCM16 audio of given duration.
// Formula: (milliseconds * sampleRate * 2 bytes per sample) / 1000
func PCM16BytesFor(ms int, sampleRate int) int { return (ms * sampleRate * 2) / 1000 }
