package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"chanbot/internal/bot"
	"chanbot/internal/config"
	"chanbot/internal/dispatch"
	"chanbot/internal/fetcher"
	"chanbot/internal/scheduler"
	"chanbot/internal/session"
	"chanbot/internal/settings"
	"chanbot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	profile, err := session.LoadProfile(cfg.ProfilePath)
	if err != nil {
		log.Error("load connection profile", "path", cfg.ProfilePath, "error", err)
		os.Exit(1)
	}

	store, err := settings.NewStore(cfg.BotConfigPath, log)
	if err != nil {
		log.Error("load bot config", "path", cfg.BotConfigPath, "error", err)
		os.Exit(1)
	}

	dbPath := store.Current().URLLogDB
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	urls, err := storage.NewSQLite(dbPath)
	if err != nil {
		log.Error("open url log", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = urls.Close() }()
	if last, err := urls.LastChange(context.Background()); err != nil {
		log.Warn("read url log state", "error", err)
	} else {
		log.Info("url log opened", "path", dbPath, "last_change", last)
	}

	f, err := fetcher.New(&http.Client{Timeout: cfg.FetchTimeout}, cfg.FetchTimeout, log)
	if err != nil {
		log.Error("create fetcher", "error", err)
		os.Exit(1)
	}
	defer f.Close()

	wire := session.NewWire(profile.Nick)
	ops := dispatch.NewOps(cfg.OpPace, wire, log)
	msgs := dispatch.NewMsgs(cfg.MsgPace, wire, log)

	b := bot.New(store, storage.NewRetrying(urls, log), f, ops, msgs, bot.Options{
		Channels: profile.Channels,
		Workers:  int64(cfg.PipelineWorkers),
	}, log)

	sup := session.NewSupervisor(profile, wire, b, cfg.ReconnectDelay, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	run(ops.Run)
	run(msgs.Run)

	if cfg.PruningEnabled() {
		sched, err := scheduler.New(urls, cfg.URLRetentionDays, cfg.PruneSchedule, log)
		if err != nil {
			log.Error("create scheduler", "error", err)
			os.Exit(1)
		}
		run(sched.Run)
	}

	log.Info("starting bot", "server", profile.Addr(), "nick", profile.Nick, "channels", profile.Channels)

	_ = sup.Run(ctx)

	b.Wait()
	wg.Wait()
	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
