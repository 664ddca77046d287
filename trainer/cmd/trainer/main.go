package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rulwatch/rulwatch/trainer/internal/config"
	"github.com/rulwatch/rulwatch/trainer/internal/dataset"
	"github.com/rulwatch/rulwatch/trainer/internal/history"
	"github.com/rulwatch/rulwatch/trainer/internal/notify"
	"github.com/rulwatch/rulwatch/trainer/internal/pipeline"
	"github.com/rulwatch/rulwatch/trainer/internal/publish"
	"github.com/rulwatch/rulwatch/trainer/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "rulwatch.yaml", "path to config file")
	watch := flag.Bool("watch", false, "re-run the pipeline whenever the config file changes")
	logLevel := flag.String("log-level", "info", "log level: debug | info | warn | error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Secrets referenced by *_env fields may live in .env.local.
	if err := godotenv.Load(".env.local"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env.local", "err", err)
	}

	slog.Info("rulwatch-trainer starting", "config", *configPath, "watch", *watch)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"train", cfg.Data.Train,
		"test", cfg.Data.Test,
		"label_window", cfg.Label.Window,
		"feature_window", cfg.Features.Window,
		"trees", cfg.Model.Trees,
		"pca", cfg.PCA.Enabled,
		"gates", len(cfg.Gates),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// One recorder and history per process so reruns accumulate.
	rec := telemetry.NewRecorder()
	hist := history.New(cfg.Publish.Retention)

	err = runOnce(ctx, cfg, rec, hist)
	if !*watch {
		if err != nil {
			os.Exit(1)
		}
		return
	}

	// Watch invokes the callback from a single goroutine, so runs never overlap.
	if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
		_ = runOnce(ctx, updated, rec, hist)
	}); err != nil {
		slog.Error("config watcher stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("rulwatch-trainer shutting down")
}

// runOnce wires the run's collaborators from cfg and executes one pipeline pass.
func runOnce(ctx context.Context, cfg *config.Config, rec *telemetry.Recorder, hist *history.Store) error {
	opener, err := dataset.NewOpener(cfg.Data.ObjectStore)
	if err != nil {
		slog.Error("failed to build data opener", "err", err)
		return err
	}

	deps := pipeline.Deps{
		Opener:   opener,
		Out:      os.Stdout,
		Recorder: rec,
		History:  hist,
	}

	if cfg.Publish.RedisAddr != "" {
		pub, err := publish.New(ctx, cfg.Publish)
		if err != nil {
			slog.Error("failed to connect publisher", "err", err)
			return err
		}
		defer pub.Close()
		deps.Publisher = pub
	}
	if len(cfg.Notify.Webhooks) > 0 {
		deps.Notifier = notify.New(cfg.Notify.Webhooks, nil)
	}

	_, err = pipeline.NewRunner(cfg, deps).Run(ctx)
	if errors.Is(err, pipeline.ErrGateFailed) {
		slog.Error("run failed quality gates")
	}
	return err
}
