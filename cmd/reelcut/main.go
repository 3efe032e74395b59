package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reelcut/reelcut-server/internal/api"
	"github.com/reelcut/reelcut-server/internal/config"
	"github.com/reelcut/reelcut-server/internal/db"
	"github.com/reelcut/reelcut-server/internal/job"
	"github.com/reelcut/reelcut-server/internal/logging"
	"github.com/reelcut/reelcut-server/internal/render"
	"github.com/reelcut/reelcut-server/internal/transcoder"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.MediaDir(), cfg.ArtifactsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting reelcut server",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := job.NewRepository(database.Conn())
	service := job.NewService(repo, cfg.MediaDir(), config.MaxFileBytes, logging.WithComponent(logger, "service"))

	ffmpeg, err := transcoder.NewFFmpeg(transcoder.Config{
		FFmpegPath:     cfg.FFmpegPath(),
		FFprobePath:    cfg.FFprobePath(),
		ProbeTimeout:   cfg.ProbeTimeout(),
		ExtractTimeout: cfg.ExtractTimeout(),
		RenderTimeout:  cfg.RenderTimeout(),
	}, logging.WithComponent(logger, "transcoder"))
	if err != nil {
		return fmt.Errorf("transcoder unavailable: %w", err)
	}

	pipeline := render.NewPipeline(repo, ffmpeg, cfg.ArtifactsDir(), logging.WithComponent(logger, "pipeline"))
	runner := job.NewRunner(repo, pipeline, logging.WithComponent(logger, "runner"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Service:    service,
		Repository: repo,
		Runner:     runner,
		Logger:     logging.WithComponent(logger, "api"),
		StartTime:  startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
