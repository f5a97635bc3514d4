package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sync-assembler/internal/audio"
	"sync-assembler/internal/platform/metrics"
)

// ErrSegmentNotFound is returned when a segment's generated audio is missing.
var ErrSegmentNotFound = errors.New("segment audio not found")

// OverlayResult is the outcome of layering segments onto a base track.
type OverlayResult struct {
	Track      *audio.Track
	Segments   []SegmentResult
	Successful int
	Failed     int
	Skipped    int
	// LengthDefect is set when the track length changed during overlay.
	LengthDefect bool
}

// OverlayAssembler conforms segments in a bounded worker pool and overlays
// them onto the base track one at a time, in input order.
type OverlayAssembler struct {
	conformer   audio.Conformer
	transcoder  audio.Transcoder
	sampleRate  int
	channels    int
	toleranceMs int64
	workers     int
	metrics     *metrics.Metrics
}

// NewOverlayAssembler returns an OverlayAssembler. transcoder and m may be nil.
func NewOverlayAssembler(conformer audio.Conformer, transcoder audio.Transcoder, sampleRate, channels int, toleranceMs int64, workers int, m *metrics.Metrics) *OverlayAssembler {
	if workers <= 0 {
		workers = 1
	}
	return &OverlayAssembler{
		conformer:   conformer,
		transcoder:  transcoder,
		sampleRate:  sampleRate,
		channels:    channels,
		toleranceMs: toleranceMs,
		workers:     workers,
		metrics:     m,
	}
}

type prepared struct {
	result SegmentResult
	track  *audio.Track
}

// Run overlays segments onto base in place. Per-segment problems are recorded
// in the result and never abort the run. tmpDir receives conformed clips.
func (a *OverlayAssembler) Run(ctx context.Context, base *audio.Track, segments []Segment, tmpDir string, log *slog.Logger) *OverlayResult {
	baseFrames := base.Frames()
	baseMs := base.DurationMs()
	items := make([]prepared, len(segments))

	sem := make(chan struct{}, a.workers)
	var wg sync.WaitGroup
	for i := range segments {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			items[i] = a.prepare(ctx, i, segments[i], baseMs, tmpDir, log)
		}(i)
	}
	wg.Wait()

	res := &OverlayResult{Track: base, Segments: make([]SegmentResult, 0, len(segments))}
	for i, it := range items {
		seg := segments[i]
		if it.track != nil {
			if err := base.Overlay(it.track, seg.StartMs); err != nil {
				it.result.Outcome = OutcomeError
				it.result.Reason = err.Error()
				log.Warn("overlay failed", slog.String("segment_id", string(seg.ID)), slog.String("error", err.Error()))
			} else {
				it.result.Outcome = OutcomeOverlaid
				log.Debug("segment overlaid",
					slog.String("segment_id", string(seg.ID)),
					slog.Int64("start_ms", seg.StartMs),
					slog.Int64("duration_ms", it.track.DurationMs()))
			}
		}
		switch it.result.Outcome {
		case OutcomeOverlaid:
			res.Successful++
		case OutcomeFailedStatus:
			res.Failed++
		default:
			res.Skipped++
		}
		res.Segments = append(res.Segments, it.result)
	}

	if base.Frames() != baseFrames {
		res.LengthDefect = true
		log.Error("cumulative drift defect: overlay changed track length",
			slog.Int("base_frames", baseFrames),
			slog.Int("final_frames", base.Frames()))
	}
	return res
}

// prepare decides eligibility, loads the clip and conforms it to its window.
// A nil track in the returned value means the segment will not be overlaid.
func (a *OverlayAssembler) prepare(ctx context.Context, idx int, seg Segment, baseMs int64, tmpDir string, log *slog.Logger) prepared {
	log = log.With(slog.String("segment_id", string(seg.ID)))
	p := prepared{result: SegmentResult{
		ID:               seg.ID,
		StartMs:          seg.StartMs,
		TargetDurationMs: seg.TargetDurationMs(),
	}}
	skip := func(o Outcome, reason string) prepared {
		p.result.Outcome = o
		p.result.Reason = reason
		return p
	}

	if seg.Status.Failed() {
		log.Info("skipping segment", slog.String("status", string(seg.Status)))
		return skip(OutcomeFailedStatus, "status "+string(seg.Status))
	}
	if seg.GeneratedAudioPath == "" {
		log.Info("skipping segment without generated audio")
		return skip(OutcomeMissingAudio, "no generated audio")
	}
	if _, err := os.Stat(seg.GeneratedAudioPath); err != nil {
		err = fmt.Errorf("%w: %s", ErrSegmentNotFound, seg.GeneratedAudioPath)
		log.Warn("skipping segment", slog.String("error", err.Error()))
		return skip(OutcomeMissingAudio, err.Error())
	}
	if err := ctx.Err(); err != nil {
		return skip(OutcomeError, err.Error())
	}

	// Bounds come first: start and end are untrusted and their difference
	// must not overflow.
	if seg.StartMs < 0 || seg.EndMs <= seg.StartMs || seg.EndMs > audio.MaxDurationMs {
		err := fmt.Errorf("%w: window [%d, %d)", audio.ErrInvalidDuration, seg.StartMs, seg.EndMs)
		log.Warn("skipping segment", slog.String("error", err.Error()))
		return skip(OutcomeError, err.Error())
	}
	if seg.StartMs > baseMs {
		err := fmt.Errorf("segment starts at %dms, past track end %dms", seg.StartMs, baseMs)
		log.Warn("skipping segment", slog.String("error", err.Error()))
		return skip(OutcomeError, err.Error())
	}
	target := seg.TargetDurationMs()

	track, err := audio.LoadTrack(ctx, seg.GeneratedAudioPath, a.sampleRate, a.channels, tmpDir, a.transcoder)
	if err != nil {
		log.Warn("segment load failed", slog.String("error", err.Error()))
		return skip(OutcomeError, err.Error())
	}
	actual := track.DurationMs()
	p.result.ActualDurationMs = actual

	if !audio.WithinTolerance(actual, target, a.toleranceMs) {
		src := seg.GeneratedAudioPath
		if !strings.EqualFold(filepath.Ext(src), ".wav") {
			src = filepath.Join(tmpDir, fmt.Sprintf("segment_%04d_src.wav", idx))
			if err := audio.WriteWAV(src, track); err != nil {
				log.Warn("segment staging failed", slog.String("error", err.Error()))
				return skip(OutcomeError, err.Error())
			}
		}
		out := filepath.Join(tmpDir, fmt.Sprintf("segment_%04d_conformed.wav", idx))

		start := time.Now()
		cr, err := a.conformer.Conform(ctx, src, out, actual, target)
		if a.metrics != nil {
			a.metrics.ObserveConform(time.Since(start))
		}
		if err != nil {
			log.Warn("segment conform failed", slog.String("error", err.Error()))
			return skip(OutcomeError, err.Error())
		}
		track = cr.Track
		p.result.Conformed = true
		p.result.TempoChain = cr.Chain
		p.result.ActualDurationMs = cr.ActualDurationMs
	}

	p.track = track
	return p
}
