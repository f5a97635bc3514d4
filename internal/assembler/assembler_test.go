package assembler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sync-assembler/internal/audio"
)

func TestAssembler_two_tone_scenario(t *testing.T) {
	dir := t.TempDir()
	cm := &ContextMap{
		ProjectID:          "two-tone",
		OriginalDurationMs: 10000,
		Segments: []Segment{
			{ID: "1", StartMs: 2000, EndMs: 3000, Status: StatusSuccess, GeneratedAudioPath: writeTone(t, dir, "s1.wav", 1000)},
			{ID: "2", StartMs: 5000, EndMs: 6000, Status: StatusSuccess, GeneratedAudioPath: writeTone(t, dir, "s2.wav", 1000)},
		},
	}
	out := filepath.Join(dir, "out", "final.wav")
	asm, _ := newTestAssembler(t, testConfig(t))

	rep := asm.Assemble(context.Background(), cm.ProjectID, cm, out)
	if !rep.Success {
		t.Fatalf("assembly failed: %s", rep.Error)
	}
	if !audio.WithinTolerance(rep.FinalDurationMs, 10000, 10) {
		t.Errorf("final duration %dms, want 10000±10", rep.FinalDurationMs)
	}
	if rep.SuccessfulSegments != 2 || rep.FailedSegments != 0 || rep.SkippedSegments != 0 {
		t.Errorf("counts: %+v", rep)
	}
	if rep.CompletionRate != 100 {
		t.Errorf("completion rate = %v, want 100", rep.CompletionRate)
	}
	if rep.DriftDetected || rep.DriftClass != DriftExcellent {
		t.Errorf("drift: detected=%v class=%s", rep.DriftDetected, rep.DriftClass)
	}
	if rep.RunID == "" || rep.OutputPath != out {
		t.Errorf("run id %q output %q", rep.RunID, rep.OutputPath)
	}

	track, err := audio.ReadWAV(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if track.SampleRate != audio.DefaultSampleRate || track.Channels != audio.DefaultChannels {
		t.Errorf("output format %dHz/%dch", track.SampleRate, track.Channels)
	}
	for _, w := range [][2]int64{{2000, 3000}, {5000, 6000}} {
		if track.EnergyBetween(w[0], w[1]) == 0 {
			t.Errorf("expected signal in [%d, %d)", w[0], w[1])
		}
	}
	for _, w := range [][2]int64{{0, 2000}, {3000, 5000}, {6000, 10000}} {
		if e := track.EnergyBetween(w[0], w[1]); e != 0 {
			t.Errorf("expected silence in [%d, %d), energy %v", w[0], w[1], e)
		}
	}
}

func TestAssembler_failed_tts_excluded(t *testing.T) {
	dir := t.TempDir()
	tone := writeTone(t, dir, "tone.wav", 1000)
	cm := &ContextMap{
		ProjectID:          "p",
		OriginalDurationMs: 8000,
		Segments: []Segment{
			{ID: "1", StartMs: 1000, EndMs: 2000, Status: StatusSuccess, GeneratedAudioPath: tone},
			{ID: "2", StartMs: 3000, EndMs: 4000, Status: StatusFailedTTS, GeneratedAudioPath: tone},
			{ID: "3", StartMs: 5000, EndMs: 6000, Status: StatusSuccess, GeneratedAudioPath: tone},
		},
	}
	out := filepath.Join(dir, "final.wav")
	asm, _ := newTestAssembler(t, testConfig(t))

	rep := asm.Assemble(context.Background(), "p", cm, out)
	if !rep.Success {
		t.Fatalf("assembly failed: %s", rep.Error)
	}
	if rep.SuccessfulSegments != 2 || rep.FailedSegments != 1 || rep.SkippedSegments != 0 {
		t.Errorf("successful=%d failed=%d skipped=%d, want 2/1/0",
			rep.SuccessfulSegments, rep.FailedSegments, rep.SkippedSegments)
	}
	if !audio.WithinTolerance(rep.FinalDurationMs, 8000, 10) {
		t.Errorf("final duration %dms", rep.FinalDurationMs)
	}
	track, _ := audio.ReadWAV(out)
	if track.EnergyBetween(3000, 4000) != 0 {
		t.Error("failed segment must not be audible")
	}
}

func TestAssembler_conforms_to_window(t *testing.T) {
	dir := t.TempDir()
	cm := &ContextMap{
		ProjectID:          "p",
		OriginalDurationMs: 4000,
		Segments: []Segment{
			{ID: "1", StartMs: 1000, EndMs: 2500, GeneratedAudioPath: writeTone(t, dir, "s.wav", 1000)},
		},
	}
	asm, _ := newTestAssembler(t, testConfig(t))

	rep := asm.Assemble(context.Background(), "p", cm, filepath.Join(dir, "final.wav"))
	if !rep.Success {
		t.Fatalf("assembly failed: %s", rep.Error)
	}
	seg := rep.Segments[0]
	if !seg.Conformed || !audio.WithinTolerance(seg.ActualDurationMs, 1500, 10) {
		t.Errorf("segment result %+v", seg)
	}
	if rep.FinalDurationMs != 4000 {
		t.Errorf("final duration %dms, want 4000", rep.FinalDurationMs)
	}
}

func TestAssembler_invalid_base_duration(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxDurationMs = 60000
	asm, _ := newTestAssembler(t, cfg)

	tests := []struct {
		name string
		ms   int64
	}{
		{"zero", 0},
		{"negative", -5},
		{"over_configured_limit", 60001},
		{"overflowing", 1 << 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "final.wav")
			rep := asm.Assemble(context.Background(), "p", &ContextMap{ProjectID: "p", OriginalDurationMs: tt.ms}, out)
			if rep.Success {
				t.Fatalf("expected failure for %dms", tt.ms)
			}
			if !strings.Contains(rep.Error, audio.ErrInvalidDuration.Error()) {
				t.Errorf("error = %q", rep.Error)
			}
			if rep.OutputPath != "" {
				t.Errorf("output path should be empty on failure, got %q", rep.OutputPath)
			}
			if _, err := os.Stat(out); !errors.Is(err, os.ErrNotExist) {
				t.Error("no file should be written")
			}
		})
	}
}

func TestAssembler_out_of_range_segment_is_isolated(t *testing.T) {
	dir := t.TempDir()
	asm, _ := newTestAssembler(t, testConfig(t))
	clip := writeTone(t, dir, "a.wav", 1000)
	cm := &ContextMap{
		ProjectID:          "p",
		OriginalDurationMs: 3000,
		Segments: []Segment{
			{ID: "ok", StartMs: 0, EndMs: 1000, GeneratedAudioPath: clip},
			{ID: "far", StartMs: 6e14, EndMs: 6e14 + 1000, GeneratedAudioPath: clip},
			{ID: "huge_end", StartMs: 1000, EndMs: 1 << 62, GeneratedAudioPath: clip},
			{ID: "negative", StartMs: -1 << 62, EndMs: 1000, GeneratedAudioPath: clip},
		},
	}

	rep := asm.Assemble(context.Background(), "p", cm, filepath.Join(dir, "final.wav"))
	if !rep.Success {
		t.Fatalf("run failed: %s", rep.Error)
	}
	if rep.SuccessfulSegments != 1 || rep.SkippedSegments != 3 || rep.FinalDurationMs != 3000 {
		t.Errorf("report: successful=%d skipped=%d final=%dms", rep.SuccessfulSegments, rep.SkippedSegments, rep.FinalDurationMs)
	}
	for _, s := range rep.Segments[1:] {
		if s.Outcome != OutcomeError {
			t.Errorf("segment %s: outcome %s, want %s", s.ID, s.Outcome, OutcomeError)
		}
	}
}

func TestAssembler_nil_context_map(t *testing.T) {
	asm, _ := newTestAssembler(t, testConfig(t))
	rep := asm.Assemble(context.Background(), "p", nil, filepath.Join(t.TempDir(), "x.wav"))
	if rep.Success || rep.Error == "" {
		t.Errorf("expected failure report, got %+v", rep)
	}
}

func TestAssembler_export_failure(t *testing.T) {
	dir := t.TempDir()
	// The output path is an existing directory, so the encoder cannot create it.
	out := filepath.Join(dir, "taken")
	if err := os.Mkdir(out, 0o755); err != nil {
		t.Fatal(err)
	}
	asm, _ := newTestAssembler(t, testConfig(t))

	rep := asm.Assemble(context.Background(), "p", &ContextMap{ProjectID: "p", OriginalDurationMs: 1000}, out)
	if rep.Success {
		t.Fatal("expected export failure")
	}
	if !strings.HasPrefix(rep.Error, ErrExport.Error()) {
		t.Errorf("error = %q, want export failure", rep.Error)
	}
}

func TestAssembler_cleans_run_directory(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cm := &ContextMap{
		ProjectID:          "p",
		OriginalDurationMs: 3000,
		Segments: []Segment{
			{ID: "1", StartMs: 0, EndMs: 2000, GeneratedAudioPath: writeTone(t, dir, "s.wav", 1000)},
		},
	}
	asm, _ := newTestAssembler(t, cfg)

	if rep := asm.Assemble(context.Background(), "p", cm, filepath.Join(dir, "ok.wav")); !rep.Success {
		t.Fatalf("assembly failed: %s", rep.Error)
	}
	// Failure path as well.
	asm.Assemble(context.Background(), "p", cm, dir)

	entries, err := os.ReadDir(cfg.TempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("run directories left behind: %d entries", len(entries))
	}
}

func TestAssembler_drift_policy(t *testing.T) {
	// At 100 Hz a frame is 10 ms, so 1005 ms rounds to a 1010 ms track.
	cfg := testConfig(t)
	cfg.SampleRate = 100
	cfg.ToleranceMs = 0
	cm := &ContextMap{ProjectID: "p", OriginalDurationMs: 1005}

	t.Run("warn", func(t *testing.T) {
		cfg := cfg
		cfg.DriftPolicy = DriftPolicyWarn
		asm, _ := newTestAssembler(t, cfg)
		rep := asm.Assemble(context.Background(), "p", cm, filepath.Join(t.TempDir(), "w.wav"))
		if !rep.Success {
			t.Fatalf("warn policy should succeed: %s", rep.Error)
		}
		if !rep.DriftDetected || rep.DurationDifferenceMs != 5 {
			t.Errorf("drift detected=%v diff=%d", rep.DriftDetected, rep.DurationDifferenceMs)
		}
	})

	t.Run("fail", func(t *testing.T) {
		cfg := cfg
		cfg.DriftPolicy = DriftPolicyFail
		asm, _ := newTestAssembler(t, cfg)
		out := filepath.Join(t.TempDir(), "f.wav")
		rep := asm.Assemble(context.Background(), "p", cm, out)
		if rep.Success {
			t.Fatal("fail policy should mark the run failed")
		}
		if !strings.HasPrefix(rep.Error, ErrDriftDetected.Error()) {
			t.Errorf("error = %q", rep.Error)
		}
		if _, err := os.Stat(out); err != nil {
			t.Errorf("track should still be exported: %v", err)
		}
	})
}

func TestAssembler_cancelled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cm := &ContextMap{
		ProjectID:          "p",
		OriginalDurationMs: 2000,
		Segments:           []Segment{{ID: "1", StartMs: 0, EndMs: 1000, GeneratedAudioPath: writeTone(t, dir, "s.wav", 1000)}},
	}
	asm, _ := newTestAssembler(t, testConfig(t))

	rep := asm.Assemble(ctx, "p", cm, filepath.Join(dir, "out.wav"))
	if rep.Success {
		t.Fatal("cancelled run should fail")
	}
	if !strings.Contains(rep.Error, "cancelled") {
		t.Errorf("error = %q", rep.Error)
	}
}

func TestAssembler_ValidateDuration(t *testing.T) {
	dir := t.TempDir()
	p := writeTone(t, dir, "v.wav", 2000)
	asm, _ := newTestAssembler(t, testConfig(t))

	check, err := asm.ValidateDuration(context.Background(), p, 2005, -1)
	if err != nil {
		t.Fatal(err)
	}
	if !check.Valid || check.ActualDurationMs != 2000 || check.DifferenceMs != 5 || check.ToleranceMs != 10 {
		t.Errorf("check = %+v", check)
	}

	check, err = asm.ValidateDuration(context.Background(), p, 2005, 2)
	if err != nil {
		t.Fatal(err)
	}
	if check.Valid {
		t.Errorf("5ms off should fail 2ms tolerance: %+v", check)
	}

	if _, err := asm.ValidateDuration(context.Background(), p, 0, -1); !errors.Is(err, audio.ErrInvalidDuration) {
		t.Errorf("expected ErrInvalidDuration, got %v", err)
	}
}

// durationTranscoder reports a fixed duration; transcoding is never reached here.
type durationTranscoder struct {
	ms       int64
	deadline bool
}

func (durationTranscoder) Transcode(context.Context, string, string, int, int) error {
	return errors.New("unexpected transcode")
}

func (p *durationTranscoder) ProbeDurationMs(ctx context.Context, _ string) (int64, error) {
	_, p.deadline = ctx.Deadline()
	return p.ms, nil
}

func TestAssembler_ValidateDuration_non_wav(t *testing.T) {
	clip := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(clip, []byte{0xff, 0xfb, 0x90}, 0o644); err != nil {
		t.Fatal(err)
	}
	pt := &durationTranscoder{ms: 1500}
	asm := NewAssembler(testConfig(t), &stretchFilter{}, pt, testLogger(), nil)

	check, err := asm.ValidateDuration(context.Background(), clip, 1500, -1)
	if err != nil {
		t.Fatalf("ValidateDuration: %v", err)
	}
	if !check.Valid || check.ActualDurationMs != 1500 {
		t.Errorf("check = %+v", check)
	}
	if !pt.deadline {
		t.Error("duration lookup should run under the conform timeout")
	}

	noProber, _ := newTestAssembler(t, testConfig(t))
	if _, err := noProber.ValidateDuration(context.Background(), clip, 1500, -1); err == nil {
		t.Error("expected an error without a prober")
	}
}
