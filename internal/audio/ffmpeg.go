package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpegFilter runs tempo and transcode jobs through an ffmpeg binary.
// ffmpeg-go builds the argument list; the process itself is started with
// exec.CommandContext so cancellation and timeouts kill it.
type FFmpegFilter struct {
	// Binary is the ffmpeg executable; "ffmpeg" when empty.
	Binary string
	// Probe is the ffprobe executable. When empty it is derived from Binary.
	Probe string
}

// ApplyTempo implements TempoFilter with a chain of atempo stages.
func (f FFmpegFilter) ApplyTempo(ctx context.Context, inputPath, outputPath string, chain TempoChain, sampleRate, channels int) error {
	return f.run(ctx, tempoArgs(inputPath, outputPath, chain, sampleRate, channels))
}

// Transcode implements Transcoder.
func (f FFmpegFilter) Transcode(ctx context.Context, inputPath, outputPath string, sampleRate, channels int) error {
	return f.run(ctx, transcodeArgs(inputPath, outputPath, sampleRate, channels))
}

func tempoArgs(inputPath, outputPath string, chain TempoChain, sampleRate, channels int) []string {
	out := pcmOutput(sampleRate, channels)
	if len(chain) > 0 {
		out["af"] = chain.FilterString()
	}
	return ffmpeg.Input(inputPath, ffmpeg.KwArgs{"loglevel": "error"}).
		Output(outputPath, out).
		OverWriteOutput().
		GetArgs()
}

func transcodeArgs(inputPath, outputPath string, sampleRate, channels int) []string {
	return ffmpeg.Input(inputPath, ffmpeg.KwArgs{"loglevel": "error"}).
		Output(outputPath, pcmOutput(sampleRate, channels)).
		OverWriteOutput().
		GetArgs()
}

func pcmOutput(sampleRate, channels int) ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"acodec": "pcm_s16le",
		"ar":     sampleRate,
		"ac":     channels,
		"f":      "wav",
	}
}

func (f FFmpegFilter) run(ctx context.Context, args []string) error {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ffmpeg aborted: %w", ctxErr)
	}
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

type probeData struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeBinary returns the ffprobe executable next to Binary. An explicit
// Probe field wins.
func (f FFmpegFilter) ProbeBinary() string {
	if f.Probe != "" {
		return f.Probe
	}
	if f.Binary == "" {
		return "ffprobe"
	}
	dir, name := filepath.Split(f.Binary)
	if !strings.Contains(name, "ffmpeg") {
		return "ffprobe"
	}
	return dir + strings.Replace(name, "ffmpeg", "ffprobe", 1)
}

func probeArgs(path string) []string {
	args := ffmpeg.ConvertKwargsToCmdLineArgs(ffmpeg.KwArgs{
		"v":           "error",
		"show_format": "",
		"of":          "json",
	})
	return append(args, path)
}

// ProbeDurationMs implements Prober. ffprobe runs under ctx, so cancellation
// and deadlines kill it.
func (f FFmpegFilter) ProbeDurationMs(ctx context.Context, path string) (int64, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.ProbeBinary(), probeArgs(path)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, fmt.Errorf("ffprobe %s aborted: %w", path, ctxErr)
	}
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	var pd probeData
	if err := json.Unmarshal(stdout.Bytes(), &pd); err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	sec, err := strconv.ParseFloat(strings.TrimSpace(pd.Format.Duration), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: duration %q: %w", path, pd.Format.Duration, err)
	}
	return int64(math.Round(sec * 1000)), nil
}
