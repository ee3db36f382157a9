package tasks

import (
	"context"
)

// newWorkerResyncTask creates the task that reconciles running workers with
// the stored active flags. A worker whose process died (revoked token,
// crashed polling loop) deregisters itself; this task brings bots that are
// still marked active back up on the next tick.
func newWorkerResyncTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "worker_resync")

	return func(ctx context.Context) error {
		defs, err := deps.Store.ListActiveBots(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Failed to list active bots", "error", err)
			return err
		}

		restarted := 0
		for _, def := range defs {
			if deps.Supervisor.IsRunning(def.Token) {
				continue
			}
			if err := deps.Supervisor.Start(ctx, def); err != nil {
				log.WarnContext(ctx, "Could not restart worker", "bot_id", def.ID, "error", err)
				continue
			}
			restarted++
		}

		if restarted > 0 {
			log.InfoContext(ctx, "Restarted stopped workers", "count", restarted)
		}
		return nil
	}
}
