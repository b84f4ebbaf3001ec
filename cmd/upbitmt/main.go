package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"upbitmt/internal/app"
	"upbitmt/internal/config"
	"upbitmt/internal/logger"
)

func main() {
	os.Exit(run())
}

// run owns every deferred cleanup so the log file is closed before the
// process exits with its status code.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Printf("open log file: %v", err)
		return 1
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetFormat(cfg.App.LogFormat)
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ config loaded (env=%s, rules=%s, dry_run=%t)", cfg.App.Env, cfg.Rules.Path, cfg.Engine.DryRun)

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		logger.Errorf("init app: %v", err)
		return 1
	}
	if err := a.Run(ctx); err != nil {
		logger.Errorf("stopped: %v", err)
		return 1
	}
	logger.Infof("bye")
	return 0
}

func configPath() string {
	if p := os.Getenv("UPBITMT_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("configs/config.yaml"); err == nil {
		return "configs/config.yaml"
	}
	return ""
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
