package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sync-assembler/internal/assembler"
	"sync-assembler/internal/audio"
	"sync-assembler/internal/platform/config"
	"sync-assembler/internal/platform/logger"
	"sync-assembler/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8012")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	contextMapDir := config.GetEnv("ASSEMBLY_CONTEXT_MAP_DIR", "")
	ffmpegPath := config.GetEnv("FFMPEG_PATH", "ffmpeg")
	ffprobePath := config.GetEnv("FFPROBE_PATH", "")

	log := logger.New(logLevel, logFormat)

	cfg, err := assembler.ConfigFromEnv()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var store assembler.Store = assembler.NewInMemoryStore()
	if contextMapDir != "" {
		ds, err := assembler.NewDirStore(contextMapDir)
		if err != nil {
			log.Error("context map store", "dir", contextMapDir, "error", err)
			os.Exit(1)
		}
		store = ds
	}

	met := metrics.New()
	ff := audio.FFmpegFilter{Binary: ffmpegPath, Probe: ffprobePath}
	asm := assembler.NewAssembler(cfg, ff, ff, log, met)
	svc := assembler.NewService(asm, store, assembler.NewInMemoryRunRepository(), log)
	h := assembler.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveRuns(svc.ActiveRunCount()) }).ServeHTTP(w, r)
	})
	r.Get("/health", h.Health)
	r.Post("/assemble", h.Assemble)
	r.Post("/validate", h.Validate)
	r.Route("/projects/{project_id}", func(r chi.Router) {
		r.Put("/context-map", h.PutContextMap)
		r.Get("/report", h.GetReport)
	})

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"tolerance_ms", cfg.ToleranceMs,
		"conform_workers", cfg.ConformWorkers,
		"conform_timeout", cfg.ConformTimeout.String(),
		"drift_policy", string(cfg.DriftPolicy),
		"max_duration_ms", cfg.MaxDurationMs,
		"ffprobe", ff.ProbeBinary(),
		"context_map_dir", contextMapDir,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
