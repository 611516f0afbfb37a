package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Jeremy-Gitau/launch-pad/internal/config"
	"github.com/Jeremy-Gitau/launch-pad/internal/logger"
	"github.com/Jeremy-Gitau/launch-pad/internal/metrics"
	"github.com/Jeremy-Gitau/launch-pad/internal/server"
	"github.com/Jeremy-Gitau/launch-pad/internal/store"
	"github.com/Jeremy-Gitau/launch-pad/internal/store/factory"
	"github.com/Jeremy-Gitau/launch-pad/internal/supervisor"
)

// runServe loads the config and runs the daemon until SIGINT or SIGTERM.
func runServe(configPath string) error {
	fc, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Setup(fc.Log.Level, fc.Log.Color)

	reg, err := fc.Registry()
	if err != nil {
		return err
	}

	if fc.Server.Metrics {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return err
		}
	}

	orch := supervisor.New(reg, fc.SupervisorOptions())

	var hist store.Store
	if fc.Store.DSN != "" {
		hist, err = factory.NewFromDSN(fc.Store.DSN)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = hist.EnsureSchema(ctx)
		cancel()
		if err != nil {
			return err
		}
		orch.SetStore(hist)
		defer func() { _ = hist.Close() }()
	}

	orch.StartMonitor()
	srv := server.NewServer(fc.Server.Listen, server.NewRouter(orch, fc.Presets, hist, fc.Server.Metrics))
	slog.Info("daemon listening", "addr", fc.Server.Listen, "services", len(reg.All()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	slog.Info("shutting down", "signal", s.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	return orch.Shutdown(ctx)
}
