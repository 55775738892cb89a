package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"govid/internal/app"
	"govid/internal/platform/config"
	"govid/internal/platform/httpserver"
	"govid/internal/platform/logger"
)

// main wires configuration into the app graph and runs the HTTP server and
// the rate-limit sweeper until SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}

	srv := httpserver.New(cfg.Server.Addr, a.Handler)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting govid",
			"addr", cfg.Server.Addr,
			"audit_mode", cfg.Audit.Mode,
			"rate_limit", cfg.RateLimit.Max,
			"rate_window", cfg.RateLimit.Window.String(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return a.Sweeper.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		a.Close(shutdownCtx)
		return err
	})

	return g.Wait()
}
