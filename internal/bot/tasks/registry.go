package tasks

import (
	"context"
)

// ScheduledTaskFunc is the signature every scheduled task implements. The
// context comes from the scheduler and must be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks returns the map of all scheduled tasks. Keys match the
// task names used in the scheduler section of the config file.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := make(map[string]ScheduledTaskFunc)

	tasks["sql_maintenance"] = newSQLMaintenanceTask(deps)
	tasks["worker_resync"] = newWorkerResyncTask(deps)

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
