package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lucasew/audiocache/internal/handler"
)

// NewServer wires the components behind the HTTP surface and starts the
// periodic eviction loop when an interval is configured.
func NewServer(cfg Config) (*http.Server, func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	c, err := Open(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	if cfg.EvictionInterval > 0 {
		go c.Manager.Start(ctx)
	}

	// Bring the volume under its threshold before taking traffic.
	if report, err := c.Manager.RunOnce(ctx); err != nil {
		slog.Warn("Initial eviction pass failed", "error", err)
	} else {
		slog.Info("Initial eviction pass", "summary", report.Summary())
	}

	h := handler.NewMediaHandler(c.Repo, c.Pipeline, c.Manager, cfg.BaseURL)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("Starting server", "addr", addr, "media_dir", cfg.MediaDir)

	server := &http.Server{
		Addr:    addr,
		Handler: h.Routes(),
	}

	cleanup := func() {
		cancel()
		c.Close()
	}

	return server, cleanup, nil
}
