package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"sync-assembler/internal/audio"
	"sync-assembler/internal/platform/metrics"

	"github.com/google/uuid"
)

var (
	// ErrDriftDetected marks a track whose duration is outside tolerance.
	ErrDriftDetected = errors.New("drift detected")
	// ErrExport is returned when the final track cannot be written or read back.
	ErrExport = errors.New("export failed")
)

// Assembler builds a dubbed track from a Context Map. It holds configuration
// only; concurrent Assemble calls share no mutable state.
type Assembler struct {
	cfg     Config
	overlay *OverlayAssembler
	prober  audio.Prober
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewAssembler wires an Assembler around a tempo filter. transcoder is used for
// segment audio that is not PCM WAV at the working rate and may be nil. When
// transcoder or filter also implements audio.Prober it measures non-WAV files
// for ValidateDuration. m may be nil.
func NewAssembler(cfg Config, filter audio.TempoFilter, transcoder audio.Transcoder, log *slog.Logger, m *metrics.Metrics) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	conformer := audio.NewConformEngine(filter, cfg.SampleRate, cfg.Channels, cfg.ToleranceMs, cfg.ConformTimeout, log)
	a := &Assembler{
		cfg:     cfg,
		overlay: NewOverlayAssembler(conformer, transcoder, cfg.SampleRate, cfg.Channels, cfg.ToleranceMs, cfg.ConformWorkers, m),
		log:     log,
		metrics: m,
	}
	if p, ok := transcoder.(audio.Prober); ok {
		a.prober = p
	} else if p, ok := filter.(audio.Prober); ok {
		a.prober = p
	}
	return a
}

// Assemble lays every eligible segment of cm onto a silent track of
// cm.OriginalDurationMs and writes the result to outputPath as PCM WAV.
// It always returns a report; run-level failures set Success false and Error.
func (a *Assembler) Assemble(ctx context.Context, projectID string, cm *ContextMap, outputPath string) (rep *Report) {
	start := time.Now()
	rep = &Report{
		RunID:       uuid.NewString(),
		ProjectID:   projectID,
		ToleranceMs: a.cfg.ToleranceMs,
	}
	log := a.log.With(slog.String("project_id", projectID), slog.String("run_id", rep.RunID))

	finish := func(err error) *Report {
		rep.ElapsedMs = time.Since(start).Milliseconds()
		if err != nil {
			rep.Success = false
			rep.Error = err.Error()
			log.Error("assembly failed", slog.String("error", rep.Error))
		}
		a.record(rep)
		return rep
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("assembly panicked", slog.String("stack", string(debug.Stack())))
			rep = finish(fmt.Errorf("assembly panicked: %v", r))
		}
	}()

	if cm == nil {
		return finish(errors.New("context map is required"))
	}
	if outputPath == "" {
		return finish(errors.New("output path is required"))
	}
	rep.OriginalDurationMs = cm.OriginalDurationMs
	rep.TotalSegments = len(cm.Segments)

	log.Info("assembly started",
		slog.Int64("original_duration_ms", cm.OriginalDurationMs),
		slog.Int("segments", len(cm.Segments)),
		slog.String("output_path", outputPath))

	tmpDir, err := os.MkdirTemp(a.cfg.TempDir, "assembly_"+rep.RunID+"_")
	if err != nil {
		return finish(fmt.Errorf("create run directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Warn("run directory cleanup failed", slog.String("dir", tmpDir), slog.String("error", err.Error()))
		}
	}()

	if cm.OriginalDurationMs > a.cfg.MaxDurationMs && a.cfg.MaxDurationMs > 0 {
		return finish(fmt.Errorf("create base track: %w: %dms exceeds the %dms limit",
			audio.ErrInvalidDuration, cm.OriginalDurationMs, a.cfg.MaxDurationMs))
	}
	base, err := audio.NewSilentTrack(cm.OriginalDurationMs, a.cfg.SampleRate, a.cfg.Channels)
	if err != nil {
		return finish(fmt.Errorf("create base track: %w", err))
	}
	if !VerifyNoDrift(base, cm.OriginalDurationMs, a.cfg.ToleranceMs) {
		rep.DriftDetected = true
		log.Error("base track duration mismatch",
			slog.Int64("expected_ms", cm.OriginalDurationMs),
			slog.Int64("actual_ms", base.DurationMs()))
	}

	ov := a.overlay.Run(ctx, base, cm.Segments, tmpDir, log)
	rep.Segments = ov.Segments
	rep.SuccessfulSegments = ov.Successful
	rep.FailedSegments = ov.Failed
	rep.SkippedSegments = ov.Skipped
	if rep.TotalSegments > 0 {
		rep.CompletionRate = float64(rep.SuccessfulSegments) / float64(rep.TotalSegments) * 100
	}
	if ov.LengthDefect {
		rep.CumulativeDriftDefect = true
		rep.DriftDetected = true
	}
	if err := ctx.Err(); err != nil {
		return finish(fmt.Errorf("assembly cancelled: %w", err))
	}

	if !VerifyNoDrift(ov.Track, cm.OriginalDurationMs, a.cfg.ToleranceMs) {
		rep.DriftDetected = true
		log.Error("assembled track drifted",
			slog.Int64("expected_ms", cm.OriginalDurationMs),
			slog.Int64("actual_ms", ov.Track.DurationMs()))
	}

	if err := audio.WriteWAV(outputPath, ov.Track); err != nil {
		return finish(fmt.Errorf("%w: %w", ErrExport, err))
	}
	exported, err := audio.ReadWAV(outputPath)
	if err != nil {
		return finish(fmt.Errorf("%w: read back %s: %w", ErrExport, outputPath, err))
	}
	rep.OutputPath = outputPath
	rep.FinalDurationMs = exported.DurationMs()
	rep.DurationDifferenceMs = audio.AbsDiffMs(rep.FinalDurationMs, rep.OriginalDurationMs)
	rep.DriftClass = ClassifyDrift(rep.DurationDifferenceMs)
	if !audio.WithinTolerance(rep.FinalDurationMs, rep.OriginalDurationMs, a.cfg.ToleranceMs) {
		rep.DriftDetected = true
	}

	rep.Success = true
	if rep.DriftDetected && a.cfg.DriftPolicy == DriftPolicyFail {
		return finish(fmt.Errorf("%w: final %dms, original %dms, tolerance %dms",
			ErrDriftDetected, rep.FinalDurationMs, rep.OriginalDurationMs, a.cfg.ToleranceMs))
	}

	rep = finish(nil)
	log.Info("assembly complete",
		slog.Int64("final_duration_ms", rep.FinalDurationMs),
		slog.Int64("difference_ms", rep.DurationDifferenceMs),
		slog.String("drift_class", string(rep.DriftClass)),
		slog.Int("successful", rep.SuccessfulSegments),
		slog.Int("failed", rep.FailedSegments),
		slog.Int("skipped", rep.SkippedSegments),
		slog.Int64("elapsed_ms", rep.ElapsedMs))
	return rep
}

// ValidateDuration measures the audio at path against expectedMs. A negative
// toleranceMs selects the assembler's configured tolerance. Probing is bounded
// by the conform timeout.
func (a *Assembler) ValidateDuration(ctx context.Context, path string, expectedMs, toleranceMs int64) (*DurationCheck, error) {
	if expectedMs <= 0 {
		return nil, fmt.Errorf("%w: expected duration %dms", audio.ErrInvalidDuration, expectedMs)
	}
	if toleranceMs < 0 {
		toleranceMs = a.cfg.ToleranceMs
	}
	if a.cfg.ConformTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.ConformTimeout)
		defer cancel()
	}
	actual, err := audio.MeasureDurationMs(ctx, path, a.prober)
	if err != nil {
		return nil, err
	}
	diff := audio.AbsDiffMs(actual, expectedMs)
	return &DurationCheck{
		Valid:              diff <= toleranceMs,
		ActualDurationMs:   actual,
		ExpectedDurationMs: expectedMs,
		DifferenceMs:       diff,
		ToleranceMs:        toleranceMs,
	}, nil
}

func (a *Assembler) record(rep *Report) {
	if a.metrics == nil {
		return
	}
	a.metrics.IncRuns(rep.Success)
	counts := map[Outcome]int{}
	for _, s := range rep.Segments {
		counts[s.Outcome]++
	}
	for o, n := range counts {
		a.metrics.AddSegments(string(o), n)
	}
	if rep.OutputPath != "" {
		a.metrics.ObserveDrift(rep.DurationDifferenceMs)
	}
}
