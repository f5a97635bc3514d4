package audio

import "errors"

// DefaultToleranceMs is the deviation, in milliseconds, treated as an exact match.
const DefaultToleranceMs int64 = 10

// MaxDurationMs is the longest track, window or position this package
// accepts: 24 hours. It keeps frame arithmetic far from int64 overflow.
const MaxDurationMs int64 = 24 * 60 * 60 * 1000

// ErrInvalidDuration is returned when a duration input is missing, not
// positive or longer than MaxDurationMs.
var ErrInvalidDuration = errors.New("invalid duration")

// AbsDiffMs returns |a - b|.
func AbsDiffMs(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// WithinTolerance reports whether |actualMs - targetMs| <= toleranceMs.
func WithinTolerance(actualMs, targetMs, toleranceMs int64) bool {
	return AbsDiffMs(actualMs, targetMs) <= toleranceMs
}

// FramesForDuration returns the number of sample frames that make up durationMs
// at sampleRate, rounded to the nearest frame.
func FramesForDuration(durationMs int64, sampleRate int) int {
	return int((durationMs*int64(sampleRate) + 500) / 1000)
}

// DurationForFrames returns the length of frames sample frames in whole
// milliseconds, rounded to the nearest millisecond.
func DurationForFrames(frames, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return (int64(frames)*1000 + int64(sampleRate)/2) / int64(sampleRate)
}
