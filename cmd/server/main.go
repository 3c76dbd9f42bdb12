package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medprep/qbank/internal/auth"
	"github.com/medprep/qbank/internal/exam"
	"github.com/medprep/qbank/internal/platform/cache"
	"github.com/medprep/qbank/internal/platform/config"
	"github.com/medprep/qbank/internal/platform/database"
	"github.com/medprep/qbank/internal/progress"
	"github.com/medprep/qbank/internal/question"
	"github.com/medprep/qbank/internal/server"
	"github.com/medprep/qbank/internal/taxonomy"
	"github.com/medprep/qbank/internal/userdata"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	index, err := taxonomy.Load(cfg.TopicPath)
	if err != nil {
		slog.Error("failed to load topic index", "path", cfg.TopicPath, "error", err)
		os.Exit(1)
	}

	resolver := question.NewResolver(
		question.NewFSSource(cfg.Questions.Dir),
		question.NewNormalizer(index),
	)

	// The database backs accounts, user documents, and the event log. The
	// app degrades to in-memory equivalents when it is unreachable.
	var (
		registry     auth.Registry
		userdocs     userdata.Store
		eventLog     exam.EventLogger = exam.NopEventLogger{}
		readyProbes  []func(context.Context) error
		shutdownFns  []func()
	)
	db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		slog.Warn("database unavailable, using in-memory accounts", "error", err)
		store := userdata.NewMemoryStore()
		userdocs = store
		registry = auth.NewMemoryRegistry(store)
	} else {
		shutdownFns = append(shutdownFns, db.Close)
		readyProbes = append(readyProbes, db.HealthCheck)

		pgStore, err := userdata.NewPostgresStore(db.Pool)
		if err != nil {
			slog.Error("failed to create userdata store", "error", err)
			os.Exit(1)
		}
		userdocs = pgStore
		registry, err = auth.NewPostgresRegistry(db.Pool, pgStore)
		if err != nil {
			slog.Error("failed to create auth registry", "error", err)
			os.Exit(1)
		}
		eventLog = exam.NewPostgresEventLogger(db.Pool)
	}

	// Local slot storage: redis when enabled, flat files otherwise.
	var slots progress.SlotStore
	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			slog.Error("failed to connect cache", "error", err)
			os.Exit(1)
		}
		shutdownFns = append(shutdownFns, func() { c.Close() })
		readyProbes = append(readyProbes, c.HealthCheck)
		slots = progress.NewRedisSlots(c, "local")
	} else {
		fileSlots, err := progress.NewFileSlots(cfg.DataDir)
		if err != nil {
			slog.Error("failed to open data directory", "dir", cfg.DataDir, "error", err)
			os.Exit(1)
		}
		slots = fileSlots
	}

	var storeOpts []progress.Option
	if cfg.Sync.RemoteURL != "" {
		token := os.Getenv("QBANK_SYNC_TOKEN")
		storeOpts = append(storeOpts,
			progress.WithSyncer(userdata.NewClient(cfg.Sync.RemoteURL, token), cfg.Sync.Debounce))
	}
	store, err := progress.NewStore(ctx, slots, storeOpts...)
	if err != nil {
		slog.Error("failed to load progress store", "error", err)
		os.Exit(1)
	}
	if cfg.Sync.RemoteURL != "" {
		if err := store.LoadFromRemote(ctx); err != nil {
			slog.Warn("remote load failed, continuing with local state", "error", err)
		}
	}

	hub := server.NewEventHub(eventLog)
	machine := exam.NewMachine(exam.MachineConfig{
		Store:     store,
		Questions: resolver,
		Index:     index,
		Events:    hub,
	})

	// Drive the countdown and stopwatch.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				machine.Tick(ctx)
			}
		}
	}()

	srv := server.New(server.Config{
		Registry: registry,
		UserData: userdocs,
		Events:   hub,
		Ready: func(ctx context.Context) error {
			for _, probe := range readyProbes {
				if err := probe(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if err := store.Flush(shutdownCtx); err != nil {
		slog.Warn("final sync failed", "error", err)
	}
	for _, fn := range shutdownFns {
		fn()
	}
}

func setupLogger(cfg config.LogConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
