package assembler

import (
	"fmt"
	"strings"
	"time"

	"sync-assembler/internal/audio"
	"sync-assembler/internal/platform/config"
)

// DriftPolicy decides what a run does when the final track drifts beyond tolerance.
type DriftPolicy string

const (
	// DriftPolicyWarn logs and reports drift; the run still succeeds.
	DriftPolicyWarn DriftPolicy = "warn"
	// DriftPolicyFail exports the track but marks the run failed.
	DriftPolicyFail DriftPolicy = "fail"
)

// ParseDriftPolicy accepts "warn" or "fail" (case-insensitive). Empty means warn.
func ParseDriftPolicy(s string) (DriftPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(DriftPolicyWarn):
		return DriftPolicyWarn, nil
	case string(DriftPolicyFail):
		return DriftPolicyFail, nil
	}
	return "", fmt.Errorf("unknown drift policy %q", s)
}

const maxSampleRate = 384000

// Config holds per-assembler settings. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	SampleRate     int
	Channels       int
	ToleranceMs    int64
	ConformTimeout time.Duration
	ConformWorkers int
	DriftPolicy    DriftPolicy
	// MaxDurationMs caps original_duration_ms; the base track is allocated
	// up front, so this bounds memory per run.
	MaxDurationMs int64
	// TempDir is the parent of per-run scratch directories; os.TempDir when empty.
	TempDir string
}

// DefaultConfig returns 16 kHz mono with a 10 ms tolerance.
func DefaultConfig() Config {
	return Config{
		SampleRate:     audio.DefaultSampleRate,
		Channels:       audio.DefaultChannels,
		ToleranceMs:    audio.DefaultToleranceMs,
		ConformTimeout: 60 * time.Second,
		ConformWorkers: 4,
		DriftPolicy:    DriftPolicyWarn,
		MaxDurationMs:  4 * 60 * 60 * 1000,
	}
}

// ConfigFromEnv overlays ASSEMBLY_* environment variables on DefaultConfig.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.SampleRate = config.GetEnvInt("ASSEMBLY_SAMPLE_RATE", cfg.SampleRate)
	cfg.Channels = config.GetEnvInt("ASSEMBLY_CHANNELS", cfg.Channels)
	cfg.ToleranceMs = int64(config.GetEnvInt("ASSEMBLY_TOLERANCE_MS", int(cfg.ToleranceMs)))
	cfg.ConformTimeout = config.GetEnvDuration("ASSEMBLY_CONFORM_TIMEOUT", cfg.ConformTimeout)
	cfg.ConformWorkers = config.GetEnvInt("ASSEMBLY_CONFORM_WORKERS", cfg.ConformWorkers)
	cfg.MaxDurationMs = int64(config.GetEnvInt("ASSEMBLY_MAX_DURATION_MS", int(cfg.MaxDurationMs)))
	cfg.TempDir = config.GetEnv("ASSEMBLY_TEMP_DIR", "")

	policy, err := ParseDriftPolicy(config.GetEnv("ASSEMBLY_DRIFT_POLICY", string(cfg.DriftPolicy)))
	if err != nil {
		return cfg, err
	}
	cfg.DriftPolicy = policy
	return cfg, cfg.Validate()
}

// Validate rejects settings no run could use.
func (c Config) Validate() error {
	if c.SampleRate <= 0 || c.SampleRate > maxSampleRate {
		return fmt.Errorf("sample rate must be in 1..%d, got %d", maxSampleRate, c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.ToleranceMs < 0 {
		return fmt.Errorf("tolerance must not be negative, got %d", c.ToleranceMs)
	}
	if c.MaxDurationMs <= 0 || c.MaxDurationMs > audio.MaxDurationMs {
		return fmt.Errorf("max duration must be in 1..%dms, got %d", audio.MaxDurationMs, c.MaxDurationMs)
	}
	if _, err := ParseDriftPolicy(string(c.DriftPolicy)); err != nil {
		return err
	}
	return nil
}
