// Command assemble builds a dubbed track from a Context Map file and prints
// the assembly report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"sync-assembler/internal/assembler"
	"sync-assembler/internal/audio"
	"sync-assembler/internal/platform/config"
	"sync-assembler/internal/platform/logger"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	_ = config.Load()

	cfg, err := assembler.ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 2
	}

	fs := flag.NewFlagSet("assemble", flag.ContinueOnError)
	fs.SetOutput(stderr)
	contextMapPath := fs.String("context-map", "", "Context Map JSON file (required)")
	outputPath := fs.String("output", "", "output WAV path (required)")
	projectID := fs.String("project", "", "project id (defaults to the Context Map's project_id)")
	tolerance := fs.Int64("tolerance", cfg.ToleranceMs, "duration tolerance in milliseconds")
	driftPolicy := fs.String("drift-policy", string(cfg.DriftPolicy), "warn or fail")
	ffmpegPath := fs.String("ffmpeg", config.GetEnv("FFMPEG_PATH", "ffmpeg"), "ffmpeg binary")
	logLevel := fs.String("log-level", config.GetEnv("LOG_LEVEL", "info"), "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *contextMapPath == "" || *outputPath == "" {
		fmt.Fprintln(stderr, "assemble: -context-map and -output are required")
		fs.Usage()
		return 2
	}

	cfg.ToleranceMs = *tolerance
	if cfg.DriftPolicy, err = assembler.ParseDriftPolicy(*driftPolicy); err != nil {
		fmt.Fprintln(stderr, "assemble:", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "assemble:", err)
		return 2
	}

	log := logger.NewWithWriter(stderr, *logLevel, config.GetEnv("LOG_FORMAT", "text"))

	cm, err := assembler.LoadContextMapFile(*contextMapPath)
	if err != nil {
		log.Error("load context map", "path", *contextMapPath, "error", err)
		return 1
	}
	id := *projectID
	if id == "" {
		id = cm.ProjectID
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ff := audio.FFmpegFilter{Binary: *ffmpegPath}
	rep := assembler.NewAssembler(cfg, ff, ff, log, nil).Assemble(ctx, id, cm, *outputPath)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		log.Error("write report", "error", err)
		return 1
	}
	if !rep.Success {
		return 1
	}
	return 0
}
