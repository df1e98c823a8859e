// Package main contains the entrypoint for the reactor service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/newstate/reactor/internal/apify"
	"github.com/newstate/reactor/internal/app"
	"github.com/newstate/reactor/internal/config"
	"github.com/newstate/reactor/internal/database"
	"github.com/newstate/reactor/internal/gemini"
	"github.com/newstate/reactor/internal/logger"
	"github.com/newstate/reactor/internal/notifier"
	"github.com/newstate/reactor/internal/pipeline"
	"github.com/newstate/reactor/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components (config, logger, db, fetch adapter, model
// client, pipeline, server, scheduler), handles graceful shutdown, and
// returns an exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "", "Path to configuration file")
	seed := flag.Bool("seed", false, "Seed run watermarks for both lanes and exit")
	flag.Parse()

	// A missing .env is fine; real deployments set env vars directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info("Logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	if *seed {
		return runSeed(ctx, log, store)
	}

	fetcher := apify.NewClient(cfg.Apify, log)

	llm, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	pipe := pipeline.New(log, store, fetcher, llm, cfg)

	notify, err := notifier.New(log, cfg.Telegram)
	if err != nil {
		log.Error("Failed to initialize Telegram notifier", "error", err)
		return 1
	}

	srv := server.New(log, cfg.Server, pipe, store)

	sched, err := app.NewScheduler(log, &cfg.Scheduler, app.RegisterAllTasks(app.TaskDeps{
		Logger:   log,
		Pipeline: pipe,
		Notifier: notify,
	}))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	service := app.New(log, srv, sched)

	log.Info("Starting reactor...")
	runErr := service.Run(ctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Service stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Service stopped gracefully.")
	return 0
}

// runSeed records an initial completed run for each lane so the watermarks
// exist before the first real run. Already-seeded lanes are left alone.
func runSeed(ctx context.Context, log *slog.Logger, store database.Store) int {
	now := time.Now().UTC()
	for _, lane := range []database.Lane{database.LaneOwn, database.LaneOther} {
		seeded, err := store.SeedLane(ctx, lane, now)
		if err != nil {
			log.Error("Failed to seed lane", "lane", lane, "error", err)
			return 1
		}
		if seeded {
			log.Info("Seeded lane watermark", "lane", lane, "cutoff", now)
		}
	}
	return 0
}
