package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is fixed at 2: every stream in the pipeline carries signed
// 16-bit little-endian PCM.
const BytesPerSample = 2

// AudioFrame is one decoded chunk of a speaker's audio as delivered by a
// [Connection]. The capture stage cuts frames into snippets.
type AudioFrame struct {
	// PCM audio data. Sample rate and channel count are determined by the pipeline config.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Discord Opus, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono (STT input), 2 for stereo (Discord output).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// DurationMs returns the playback length of n PCM bytes in milliseconds.
// The result is fractional so that callers accumulating many chunks do not
// drift.
func (f Format) DurationMs(n int) float64 {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return float64(n) * 1000 / float64(bps)
}

// SilenceBytes returns the number of zero bytes that represent gapMs of
// silence: floor(gapMs/1000*sampleRate) * channels * bytesPerSample.
// Non-positive gaps yield zero.
func (f Format) SilenceBytes(gapMs float64) int {
	if gapMs <= 0 || f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := int(gapMs / 1000 * float64(f.SampleRate))
	return samples * f.Channels * BytesPerSample
}

// String returns a human-readable description, e.g. "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Valid reports whether both fields are positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
