package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/kalambet/intelwatch/internal/backend"
	"github.com/kalambet/intelwatch/internal/config"
	"github.com/kalambet/intelwatch/internal/logging"
	"github.com/kalambet/intelwatch/internal/metrics"
	"github.com/kalambet/intelwatch/internal/session"
	"github.com/kalambet/intelwatch/internal/tracker"
)

// app bundles what every command needs: config, logger, metrics and the
// backend client.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	closeLog func()
	metrics  *metrics.Metrics
	client   *backend.Client
}

// newApp loads configuration and builds the shared components. console is
// where human-readable logs go; nil keeps logs off the terminal, which the
// TUI and the MCP stdio server need.
var newApp = func(console io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return buildApp(cfg, console)
}

func buildApp(cfg config.Config, console io.Writer) (*app, error) {
	if backendFlag != "" {
		cfg.Backend.BaseURL = strings.TrimRight(backendFlag, "/")
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: console,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		metrics:  metrics.New(),
		client: backend.NewClient(cfg.Backend.BaseURL,
			backend.WithToken(cfg.Backend.APIToken),
			backend.WithTimeout(cfg.Backend.Timeout),
		),
	}, nil
}

func (a *app) Close() {
	a.closeLog()
}

// newTracker builds a session controller from config.
func (a *app) newTracker() *tracker.Controller {
	return tracker.New(a.client, tracker.Options{
		Policy: session.Policy{
			MaxReconnectAttempts:  a.cfg.Channel.MaxReconnectAttempts,
			ReconnectDelay:        a.cfg.Channel.ReconnectDelay,
			CollapseDelay:         a.cfg.Phase.CollapseDelay,
			BriefingCollapseDelay: a.cfg.Phase.BriefingCollapseDelay,
		},
		PollInterval: a.cfg.Poller.Interval,
		Logger:       a.logger,
		Metrics:      a.metrics,
	})
}

// serveMetrics runs the /metrics endpoint until ctx ends. It is a no-op
// when no address is configured.
func (a *app) serveMetrics(ctx context.Context) error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	return a.metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger)
}

func consoleFor(tui bool) io.Writer {
	if tui {
		return nil
	}
	return os.Stderr
}
