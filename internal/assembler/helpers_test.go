package assembler

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sync-assembler/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TempDir = t.TempDir()
	cfg.ConformTimeout = 5 * time.Second
	return cfg
}

func newTestAssembler(t *testing.T, cfg Config) (*Assembler, *stretchFilter) {
	t.Helper()
	f := &stretchFilter{}
	return NewAssembler(cfg, f, nil, testLogger(), nil), f
}

// writeTone writes a mono 16 kHz sine clip and returns its path.
func writeTone(t *testing.T, dir, name string, durationMs int64) string {
	t.Helper()
	frames := audio.FramesForDuration(durationMs, audio.DefaultSampleRate)
	s := make([]int16, frames)
	for i := range s {
		s[i] = int16(6000 * math.Sin(2*math.Pi*440*float64(i)/float64(audio.DefaultSampleRate)))
	}
	p := filepath.Join(dir, name)
	if err := audio.WriteWAV(p, &audio.Track{SampleRate: audio.DefaultSampleRate, Channels: 1, Samples: s}); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

// stretchFilter changes clip length by the chain product with nearest-sample
// lookup. Good enough to exercise timing; pitch is not preserved.
type stretchFilter struct {
	err error
}

func (s *stretchFilter) ApplyTempo(_ context.Context, in, out string, chain audio.TempoChain, rate, channels int) error {
	if s.err != nil {
		return s.err
	}
	src, err := audio.ReadWAV(in)
	if err != nil {
		return err
	}
	src = audio.Convert(src, rate, channels)
	p := chain.Product()
	n := src.Frames()
	outFrames := int(math.Round(float64(n) / p))
	dst := make([]int16, outFrames*channels)
	for f := 0; f < outFrames; f++ {
		i := int(float64(f) * p)
		if i >= n {
			i = n - 1
		}
		copy(dst[f*channels:(f+1)*channels], src.Samples[i*channels:(i+1)*channels])
	}
	return audio.WriteWAV(out, &audio.Track{SampleRate: rate, Channels: channels, Samples: dst})
}
