package audio

import (
	"context"
	"math"
	"path/filepath"
	"testing"
)

// tone returns a sine track of durationMs at rate/channels.
func tone(durationMs int64, rate, channels int, freq float64) *Track {
	frames := FramesForDuration(durationMs, rate)
	s := make([]int16, frames*channels)
	for f := 0; f < frames; f++ {
		v := int16(8000 * math.Sin(2*math.Pi*freq*float64(f)/float64(rate)))
		for c := 0; c < channels; c++ {
			s[f*channels+c] = v
		}
	}
	return &Track{SampleRate: rate, Channels: channels, Samples: s}
}

func writeTone(t *testing.T, dir, name string, durationMs int64, rate, channels int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := WriteWAV(p, tone(durationMs, rate, channels, 440)); err != nil {
		t.Fatalf("WriteWAV %s: %v", p, err)
	}
	return p
}

// stretchFilter is an in-process TempoFilter. It changes length by the chain
// product using nearest-sample lookup; pitch is not preserved.
type stretchFilter struct {
	calls  int
	chains []TempoChain
	err    error
	block  bool
}

func (s *stretchFilter) ApplyTempo(ctx context.Context, in, out string, chain TempoChain, rate, channels int) error {
	s.calls++
	s.chains = append(s.chains, chain)
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.err != nil {
		return s.err
	}
	src, err := ReadWAV(in)
	if err != nil {
		return err
	}
	src = Convert(src, rate, channels)
	inFrames := src.Frames()
	outFrames := int(math.Round(float64(inFrames) / chain.Product()))
	dst := make([]int16, outFrames*channels)
	for f := 0; f < outFrames; f++ {
		i := int(float64(f) * chain.Product())
		if i >= inFrames {
			i = inFrames - 1
		}
		copy(dst[f*channels:(f+1)*channels], src.Samples[i*channels:(i+1)*channels])
	}
	return WriteWAV(out, &Track{SampleRate: rate, Channels: channels, Samples: dst})
}
