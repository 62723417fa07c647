package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rendis/flowforge/internal/api"
	"github.com/rendis/flowforge/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// metricsSwitch serves the API with or without /metrics and flips between
// the two when the settings file toggles metrics.
type metricsSwitch struct {
	mu      sync.RWMutex
	enabled bool
	with    http.Handler
	without http.Handler
}

func (s *metricsSwitch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.without
	if s.enabled {
		h = s.with
	}
	s.mu.RUnlock()
	h.ServeHTTP(w, r)
}

func (s *metricsSwitch) set(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

func runServe(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	registerFlags(flags, "listen", "db", "log-level", "ordering", "work")
	if err := flags.Parse(args); err != nil {
		return err
	}
	path := settingsPath()
	cfg, err := loadConfig(path, flags)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewLogger(os.Stderr, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(closeCtx)
	}()

	deps := api.Deps{
		Store:    a.store,
		Sessions: a.sessions,
		Hub:      a.hub,
		Checker:  a.checker,
		Logger:   logger,
	}
	if cfg.Scheduler {
		if err := a.scheduler.RecoverMissed(ctx); err != nil {
			logger.Warn("missed job recovery failed", slog.String("error", err.Error()))
		}
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer a.scheduler.Stop()
		deps.Scheduler = a.scheduler
	}

	without := api.NewServer(deps).Handler()
	deps.Gatherer = a.registry
	handler := &metricsSwitch{
		enabled: cfg.Metrics,
		with:    api.NewServer(deps).Handler(),
		without: without,
	}

	watcher := &settingsWatcher{
		path:    path,
		flags:   flags,
		current: cfg,
		logger:  logger,
		apply: func(next Config, d configDiff) {
			if d.LogLevelChanged {
				level.Set(logging.ParseLevel(next.LogLevel))
				logger.Info("log level changed", slog.String("level", next.LogLevel))
			}
			if d.MetricsChanged {
				handler.set(next.Metrics)
				logger.Info("metrics endpoint toggled", slog.Bool("enabled", next.Metrics))
			}
		},
	}
	go watcher.run(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("flowforge listening", slog.String("addr", cfg.ListenAddr), slog.String("db", cfg.DBPath))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
