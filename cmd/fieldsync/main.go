// fieldsync is the offline-first action queue daemon for the AgriLink
// marketplace client. It restores the persisted queue, watches backend
// connectivity, and replays deferred writes in FIFO order whenever the
// client is online.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/agrilink/fieldsync/internal/api"
	"github.com/agrilink/fieldsync/internal/client"
	"github.com/agrilink/fieldsync/internal/config"
	"github.com/agrilink/fieldsync/internal/connectivity"
	"github.com/agrilink/fieldsync/internal/queue"
	"github.com/agrilink/fieldsync/internal/scheduler"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "fieldsync.json", "path to config file (json, yaml, or toml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fieldsync %s (built %s)\n", version, buildTime)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(parseLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store queue.Store
	switch cfg.Queue.Backend {
	case "sqlite":
		s, err := queue.NewSQLiteStore(filepath.Join(cfg.Server.DataDir, "queue.db"), logger)
		if err != nil {
			logger.Error("open queue store", "error", err)
			return 1
		}
		defer s.Close()
		store = s
	default:
		s, err := queue.NewFileStore(cfg.Server.DataDir, logger)
		if err != nil {
			logger.Error("open queue store", "error", err)
			return 1
		}
		store = s
	}

	manager := queue.NewManager(store, logger)
	notifier := queue.NewNotifier()

	var tokens client.TokenProvider = client.StaticToken(cfg.Backend.Token)
	if cfg.Backend.TokenFile != "" {
		tokens = client.FileToken{Path: cfg.Backend.TokenFile}
	}

	executor := client.New(client.Config{
		BaseURL:  cfg.Backend.BaseURL,
		Timeout:  time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		MaxTries: uint(cfg.Backend.MaxTries),
	}, tokens, logger)

	monitor := connectivity.NewMonitor(
		cfg.Connectivity.ProbeURL,
		time.Duration(cfg.Connectivity.IntervalSeconds)*time.Second,
		logger)

	processor := queue.NewProcessor(manager, executor,
		queue.DefaultPolicy{Attempts: cfg.Queue.MaxAttempts},
		monitor, notifier, logger)

	// Drain triggers: a fresh enqueue, connectivity coming back, and the
	// periodic schedules. Overlaps collapse inside the processor.
	manager.OnEnqueue(processor.Trigger)
	monitor.OnOnline(processor.Trigger)

	if err := monitor.Start(ctx); err != nil {
		logger.Error("connectivity monitor start failed", "error", err)
		return 1
	}
	defer monitor.Stop()

	if cfg.Scheduler.Enabled {
		jobs := make([]scheduler.Job, 0, len(cfg.Scheduler.Jobs))
		for _, jc := range cfg.Scheduler.Jobs {
			jobs = append(jobs, scheduler.Job{
				ID:         jc.ID,
				Name:       jc.Name,
				Kind:       jc.Kind,
				IntervalMs: jc.IntervalMs,
				Expr:       jc.Expr,
				Enabled:    jc.Enabled,
			})
		}
		sched := scheduler.New(jobs, processor.Process, logger)
		if err := sched.Start(ctx); err != nil {
			logger.Error("scheduler start failed", "error", err)
			return 1
		}
		defer sched.Stop()
	}

	reloader := config.NewReloader(cfg, *configPath)
	watcher := config.NewWatcher(*configPath, 10*time.Second, logger, func() {
		res, err := reloader.Reload()
		if err != nil {
			logger.Warn("config reload failed", "error", err)
			return
		}
		res.LogResult(logger)
		logLevel.Set(parseLevel(cfg.Server.LogLevel))
	})
	watcher.Start()
	defer watcher.Stop()

	logger.Info("fieldsync started",
		"version", version,
		"backend", cfg.Backend.BaseURL,
		"pending", manager.PendingCount())

	if cfg.Server.Enabled {
		server := api.NewServer(cfg.Server.Port, manager, processor, notifier, monitor, logger)
		if err := server.Start(ctx); err != nil {
			logger.Error("status API failed", "error", err)
			return 1
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("fieldsync stopped")
	return 0
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
