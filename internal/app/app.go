// Package app wires the service components together and manages their
// lifecycle: the HTTP trigger server and the cron scheduler run side by side
// until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/newstate/reactor/internal/server"
)

// App represents the running service and manages its components' lifecycle.
type App struct {
	logger    *slog.Logger
	srv       *server.Server
	scheduler *Scheduler
}

// New creates the application orchestrator.
func New(logger *slog.Logger, srv *server.Server, scheduler *Scheduler) *App {
	return &App{
		logger:    logger.With("component", "orchestrator"),
		srv:       srv,
		scheduler: scheduler,
	}
}

// Run starts the HTTP server and the scheduler, blocking until the context
// is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Listen(); err != nil {
			a.logger.Error("HTTP server stopped with error", "error", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping HTTP server...")
		if err := a.srv.Shutdown(); err != nil {
			a.logger.Error("Error stopping HTTP server", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			a.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Orchestrator stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Orchestrator stopped gracefully.")
	return nil
}
