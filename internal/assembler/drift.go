package assembler

import "sync-assembler/internal/audio"

// VerifyNoDrift reports whether track is within toleranceMs of expectedMs.
func VerifyNoDrift(track *audio.Track, expectedMs, toleranceMs int64) bool {
	if track == nil {
		return false
	}
	return audio.WithinTolerance(track.DurationMs(), expectedMs, toleranceMs)
}

// ClassifyDrift buckets an absolute drift in milliseconds.
func ClassifyDrift(diffMs int64) DriftClass {
	if diffMs < 0 {
		diffMs = -diffMs
	}
	switch {
	case diffMs < 10:
		return DriftExcellent
	case diffMs <= 50:
		return DriftGood
	case diffMs <= 100:
		return DriftAcceptable
	default:
		return DriftPoor
	}
}
