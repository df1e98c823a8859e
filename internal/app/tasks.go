package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/newstate/reactor/internal/database"
	"github.com/newstate/reactor/internal/notifier"
	"github.com/newstate/reactor/internal/pipeline"
)

// runTimeout bounds one scheduled pipeline run end to end, fetch and model
// calls included.
const runTimeout = 30 * time.Minute

// ScheduledTaskFunc is the signature for all scheduled tasks. The context
// provided by the scheduler should be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Pipeline *pipeline.Pipeline
	Notifier *notifier.Notifier
}

// RegisterAllTasks returns the map of registered scheduled tasks. The keys
// match the task names in the scheduler configuration section.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := make(map[string]ScheduledTaskFunc)

	tasks["process_own_posts"] = newLaneTask(deps, database.LaneOwn)
	tasks["process_other_posts"] = newLaneTask(deps, database.LaneOther)

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}

// newLaneTask creates a scheduled task that runs the pipeline for one lane
// and sends the run digest when anything was produced.
func newLaneTask(deps TaskDeps, lane database.Lane) ScheduledTaskFunc {
	log := deps.Logger.With("task", "process_posts", "lane", lane)

	return func(ctx context.Context) error {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()

		summary, err := deps.Pipeline.Run(runCtx, lane)
		if err != nil {
			// A held lease means another trigger got there first; the work
			// is being done, so the task itself has nothing to report.
			if errors.Is(err, database.ErrLeaseHeld) {
				log.InfoContext(ctx, "Run already in progress, skipping scheduled run")
				return nil
			}
			return err
		}

		if summary.NewPosts > 0 || summary.NewReactions > 0 {
			deps.Notifier.NotifyRun(ctx, summary)
		}
		return nil
	}
}
