package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/pkg/mcp"
)

// runMCP serves the MCP tools over stdio. Logs go to stderr since stdout
// carries the protocol.
func runMCP(args []string) error {
	flags := flag.NewFlagSet("mcp", flag.ContinueOnError)
	registerFlags(flags, "db", "log-level", "ordering", "work")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(settingsPath(), flags)
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

	srv := mcp.NewFlowServer(mcp.FlowServerDeps{
		Store:    a.store,
		Sessions: a.sessions,
		Checker:  a.checker,
		Hub:      a.hub,
		Logger:   logger,
	})
	logger.Info("flowforge mcp server ready", slog.String("db", cfg.DBPath), slog.Duration("autosave", cfg.AutosaveDelay.Round(time.Millisecond)))
	return srv.Serve(ctx)
}
