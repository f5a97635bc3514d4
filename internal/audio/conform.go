package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrConform is returned when the tempo filter fails or its output cannot be read.
var ErrConform = errors.New("conform failed")

// TempoFilter is the external time-stretching step. It must change tempo
// without changing pitch and write 16-bit PCM WAV at sampleRate/channels.
// An empty chain asks for format conversion only.
type TempoFilter interface {
	ApplyTempo(ctx context.Context, inputPath, outputPath string, chain TempoChain, sampleRate, channels int) error
}

// Conformer fits a clip of actualMs into a window of targetMs.
type Conformer interface {
	Conform(ctx context.Context, inputPath, outputPath string, actualMs, targetMs int64) (*ConformResult, error)
}

// ConformResult describes one conformed clip.
type ConformResult struct {
	Path             string
	Track            *Track
	TargetDurationMs int64
	ActualDurationMs int64
	TempoFactor      float64
	Chain            TempoChain
	WithinTolerance  bool
}

// ConformEngine derives the tempo chain, runs it through a TempoFilter under a
// per-call timeout and measures the result.
type ConformEngine struct {
	filter      TempoFilter
	sampleRate  int
	channels    int
	toleranceMs int64
	timeout     time.Duration
	log         *slog.Logger
}

// NewConformEngine returns an engine writing sampleRate/channels output.
// A zero timeout leaves only the caller's context as a bound.
func NewConformEngine(filter TempoFilter, sampleRate, channels int, toleranceMs int64, timeout time.Duration, log *slog.Logger) *ConformEngine {
	if log == nil {
		log = slog.Default()
	}
	return &ConformEngine{
		filter:      filter,
		sampleRate:  sampleRate,
		channels:    channels,
		toleranceMs: toleranceMs,
		timeout:     timeout,
		log:         log,
	}
}

// Conform implements Conformer. A result outside tolerance is logged and
// returned with WithinTolerance false; it is not an error.
func (e *ConformEngine) Conform(ctx context.Context, inputPath, outputPath string, actualMs, targetMs int64) (*ConformResult, error) {
	factor, err := TempoFactor(actualMs, targetMs)
	if err != nil {
		return nil, err
	}
	chain, err := BuildTempoChain(factor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConform, err)
	}

	e.log.Debug("conforming audio",
		slog.String("input", inputPath),
		slog.Int64("actual_ms", actualMs),
		slog.Int64("target_ms", targetMs),
		slog.Float64("tempo_factor", factor),
		slog.String("filter", chain.FilterString()))

	var out *Track
	if len(chain) == 0 {
		out, err = ReadWAV(inputPath)
		switch {
		case err == nil:
			outputPath = inputPath
		case errors.Is(err, errNotPCMWAV):
			// Falls through to the filter; an empty chain is a plain transcode.
		default:
			return nil, fmt.Errorf("%w: read %s: %w", ErrConform, inputPath, err)
		}
	}
	if out == nil {
		runCtx := ctx
		if e.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		if err := e.filter.ApplyTempo(runCtx, inputPath, outputPath, chain, e.sampleRate, e.channels); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConform, err)
		}
		out, err = ReadWAV(outputPath)
		if err != nil {
			return nil, fmt.Errorf("%w: unreadable output %s: %v", ErrConform, outputPath, err)
		}
	}
	out = Convert(out, e.sampleRate, e.channels)

	res := &ConformResult{
		Path:             outputPath,
		Track:            out,
		TargetDurationMs: targetMs,
		ActualDurationMs: out.DurationMs(),
		TempoFactor:      factor,
		Chain:            chain,
	}
	res.WithinTolerance = WithinTolerance(res.ActualDurationMs, targetMs, e.toleranceMs)
	if !res.WithinTolerance {
		e.log.Warn("conformed duration mismatch",
			slog.String("output", outputPath),
			slog.Int64("target_ms", targetMs),
			slog.Int64("actual_ms", res.ActualDurationMs),
			slog.Int64("difference_ms", AbsDiffMs(res.ActualDurationMs, targetMs)))
	}
	return res, nil
}
