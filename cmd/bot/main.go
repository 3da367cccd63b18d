package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/natefinch/lumberjack.v2"

	"site_tracker/internal/bot"
	"site_tracker/internal/config"
	"site_tracker/internal/export"
	"site_tracker/internal/extractor"
	"site_tracker/internal/fetcher"
	"site_tracker/internal/metrics"
	"site_tracker/internal/scheduler"
	"site_tracker/internal/storage"
	"site_tracker/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	store, err := openStore(cfg, log)
	if err != nil {
		log.Error("open store", "backend", cfg.StorageBackend, "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	f := fetcher.New(&http.Client{}, fetcher.Options{
		Timeout:         cfg.FetchTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
		MaxPageSize:     cfg.MaxPageSize,
		MaxFileSize:     cfg.MaxFileSize,
		UserAgent:       cfg.UserAgent,
	})
	x := extractor.New(extractor.NewClassifier(cfg.DocumentExts, cfg.ImageExts))
	tr := tracker.New(store, f, x, log)
	exp := export.New(cfg.WorkDir, cfg.MaxFileSize)

	b, err := bot.New(cfg.TelegramBotToken, store, tr, exp, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(store, tr, f, exp, b, m, log, scheduler.Options{
		Interval:    cfg.CheckInterval,
		Concurrency: cfg.Concurrency,
		WorkDir:     cfg.WorkDir,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, reg, log)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error("metrics server", "error", err)
			}
		}()
	}

	log.Info("starting bot",
		"backend", cfg.StorageBackend,
		"interval", cfg.CheckInterval,
		"concurrency", cfg.Concurrency,
	)

	go sched.Run(ctx)

	b.Run(ctx)

	log.Info("bot stopped")
}

func openStore(cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	if cfg.StorageBackend == config.BackendJSON {
		return storage.NewJSONFile(cfg.DatabasePath, log)
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	return storage.OpenSQLite(cfg.DatabasePath, log)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
