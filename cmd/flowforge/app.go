package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rendis/flowforge/internal/builder"
	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/internal/imagegen"
	"github.com/rendis/flowforge/internal/metrics"
	"github.com/rendis/flowforge/internal/nodes"
	"github.com/rendis/flowforge/internal/scheduler"
	"github.com/rendis/flowforge/internal/secrets"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/internal/validation"
)

// app is the wired process shared by serve and mcp.
type app struct {
	store     *store.LibSQLStore
	hub       *streaming.MemoryHub
	checker   *validation.GraphValidator
	sessions  *builder.Manager
	scheduler *scheduler.Scheduler
	registry  *prometheus.Registry
	logger    *slog.Logger
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	dispatch, err := newDispatcher(ctx, cfg, st, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	checker, err := validation.NewGraphValidator()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("graph validator: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	hub := streaming.NewMemoryHub()

	sessions := builder.NewManager(st, builder.Deps{
		Dispatch:      dispatch,
		Publisher:     hub,
		Validator:     checker,
		Recorder:      st,
		Metrics:       metrics.NewCollector(reg),
		LogPersister:  st,
		Ordering:      engine.ParseOrdering(cfg.Ordering),
		AutosaveDelay: cfg.AutosaveDelay,
		Logger:        logger,
	})

	return &app{
		store:     st,
		hub:       hub,
		checker:   checker,
		sessions:  sessions,
		scheduler: scheduler.NewScheduler(st, sessions, logger),
		registry:  reg,
		logger:    logger,
	}, nil
}

// newDispatcher builds the node registry. With a vault passphrase the image
// API key is kept encrypted in the store and resolved per request.
func newDispatcher(ctx context.Context, cfg Config, st *store.LibSQLStore, logger *slog.Logger) (*nodes.Registry, error) {
	engines, err := expressions.NewEngines()
	if err != nil {
		return nil, fmt.Errorf("expression engines: %w", err)
	}

	imgCfg := imagegen.Config{BaseURL: cfg.ImageAPIURL}
	opts := []imagegen.Option{imagegen.WithLogger(logger)}
	if cfg.VaultPassphrase != "" {
		vault, err := secrets.NewAESVault(st, secrets.VaultConfig{
			Passphrase: cfg.VaultPassphrase,
			Salt:       []byte(cfg.VaultSalt),
		})
		if err != nil {
			return nil, fmt.Errorf("secrets vault: %w", err)
		}
		if cfg.ImageAPIKey != "" {
			if err := vault.Store(ctx, secrets.ImageAPITokenKey, []byte(cfg.ImageAPIKey)); err != nil {
				return nil, fmt.Errorf("store image api key: %w", err)
			}
		}
		opts = append(opts, imagegen.WithTokenResolver(vault))
	} else {
		imgCfg.APIToken = cfg.ImageAPIKey
	}

	return nodes.NewBuiltinRegistry(nodes.Deps{
		Images:        imagegen.NewReplicateClient(imgCfg, opts...),
		Engines:       engines,
		SimulatedWork: cfg.SimulatedWork,
	}), nil
}

// close flushes open sessions and releases the store.
func (a *app) close(ctx context.Context) {
	if err := a.sessions.Shutdown(ctx); err != nil {
		a.logger.Warn("session shutdown incomplete", slog.String("error", err.Error()))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", slog.String("error", err.Error()))
	}
}
