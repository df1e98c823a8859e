// Package server exposes the HTTP trigger surface: one endpoint per lane to
// start a pipeline run, plus a health probe. Runs execute synchronously so
// the caller sees the run summary or the failure.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/newstate/reactor/internal/config"
	"github.com/newstate/reactor/internal/database"
	"github.com/newstate/reactor/internal/pipeline"
)

// Runner is the slice of the pipeline the server needs.
type Runner interface {
	Run(ctx context.Context, lane database.Lane) (*pipeline.RunSummary, error)
}

// Server wraps the fiber application and its dependencies.
type Server struct {
	app       *fiber.App
	logger    *slog.Logger
	pipe      Runner
	store     database.Store
	apiSecret string
	addr      string
}

// New creates the HTTP server and mounts its routes.
func New(logger *slog.Logger, cfg config.ServerConfig, pipe Runner, store database.Store) *Server {
	s := &Server{
		app:       fiber.New(fiber.Config{DisableStartupMessage: true}),
		logger:    logger.With("component", "server"),
		pipe:      pipe,
		store:     store,
		apiSecret: cfg.APISecret,
		addr:      cfg.Addr,
	}

	s.app.Get("/healthz", s.handleHealth)
	runs := s.app.Group("/api/runs")
	runs.Post("/own", s.handleTriggerRun(database.LaneOwn))
	runs.Post("/other", s.handleTriggerRun(database.LaneOther))

	return s
}

// Listen blocks serving HTTP until Shutdown is called.
func (s *Server) Listen() error {
	s.logger.Info("HTTP server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if err := s.store.Ping(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleTriggerRun(lane database.Lane) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body TriggerRunBody
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		if err := body.Validate(); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		if subtle.ConstantTimeCompare([]byte(body.APISecret), []byte(s.apiSecret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid api secret",
			})
		}

		s.logger.InfoContext(c.Context(), "Run triggered via HTTP", "lane", lane)

		summary, err := s.pipe.Run(c.Context(), lane)
		if err != nil {
			status := fiber.StatusInternalServerError
			switch {
			case errors.Is(err, database.ErrLeaseHeld):
				status = fiber.StatusConflict
			case errors.Is(err, database.ErrLaneNotSeeded),
				errors.Is(err, database.ErrNoSystemPromptConfig),
				errors.Is(err, pipeline.ErrNoActivePromptConfig):
				status = fiber.StatusPreconditionFailed
			}
			s.logger.ErrorContext(c.Context(), "Triggered run failed", "lane", lane, "error", err)
			return c.Status(status).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.Status(fiber.StatusOK).JSON(summary)
	}
}
