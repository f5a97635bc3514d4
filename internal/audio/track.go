package audio

import (
	"errors"
	"fmt"
)

const (
	// DefaultSampleRate is the working rate of an assembly run.
	DefaultSampleRate = 16000
	// DefaultChannels is the working channel count of an assembly run.
	DefaultChannels = 1
	// BitDepth of every buffer handled by this package.
	BitDepth = 16
)

// ErrFormatMismatch is returned when two tracks with different sample rate or
// channel count are combined.
var ErrFormatMismatch = errors.New("audio format mismatch")

// Track is an in-memory PCM buffer of interleaved signed 16-bit samples.
type Track struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// NewSilentTrack returns a zero-amplitude track of exactly durationMs.
// The duration check against the requested length is left to the caller.
func NewSilentTrack(durationMs int64, sampleRate, channels int) (*Track, error) {
	if durationMs <= 0 || durationMs > MaxDurationMs {
		return nil, fmt.Errorf("%w: base track duration %dms", ErrInvalidDuration, durationMs)
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d, channels %d", ErrFormatMismatch, sampleRate, channels)
	}
	frames := FramesForDuration(durationMs, sampleRate)
	return &Track{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    make([]int16, frames*channels),
	}, nil
}

// Frames returns the number of sample frames (samples per channel).
func (t *Track) Frames() int {
	if t.Channels <= 0 {
		return 0
	}
	return len(t.Samples) / t.Channels
}

// DurationMs returns the measured length of the track in milliseconds.
func (t *Track) DurationMs() int64 {
	return DurationForFrames(t.Frames(), t.SampleRate)
}

// Overlay mixes other into t starting at positionMs. Samples are summed and
// clipped to the int16 range; anything past the end of t is dropped so the
// length of t never changes.
func (t *Track) Overlay(other *Track, positionMs int64) error {
	if other.SampleRate != t.SampleRate || other.Channels != t.Channels {
		return fmt.Errorf("%w: overlay %dHz/%dch onto %dHz/%dch",
			ErrFormatMismatch, other.SampleRate, other.Channels, t.SampleRate, t.Channels)
	}
	if positionMs < 0 {
		return fmt.Errorf("%w: overlay position %dms is negative", ErrInvalidDuration, positionMs)
	}
	// Compare in milliseconds first so huge positions never reach frame math.
	if positionMs > t.DurationMs() {
		return fmt.Errorf("overlay position %dms is past track end %dms", positionMs, t.DurationMs())
	}
	start := FramesForDuration(positionMs, t.SampleRate) * t.Channels
	if start > len(t.Samples) {
		return fmt.Errorf("overlay position %dms is past track end %dms", positionMs, t.DurationMs())
	}
	n := len(other.Samples)
	if start+n > len(t.Samples) {
		n = len(t.Samples) - start
	}
	dst := t.Samples[start : start+n]
	for i := range dst {
		dst[i] = clip(int32(dst[i]) + int32(other.Samples[i]))
	}
	return nil
}

// Clone returns a deep copy of t.
func (t *Track) Clone() *Track {
	s := make([]int16, len(t.Samples))
	copy(s, t.Samples)
	return &Track{SampleRate: t.SampleRate, Channels: t.Channels, Samples: s}
}

// EnergyBetween returns the mean absolute sample value in [fromMs, toMs).
func (t *Track) EnergyBetween(fromMs, toMs int64) float64 {
	from := FramesForDuration(fromMs, t.SampleRate) * t.Channels
	to := FramesForDuration(toMs, t.SampleRate) * t.Channels
	if from < 0 {
		from = 0
	}
	if to > len(t.Samples) {
		to = len(t.Samples)
	}
	if to <= from {
		return 0
	}
	var sum float64
	for _, s := range t.Samples[from:to] {
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	return sum / float64(to-from)
}

func clip(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
