// Package tasks implements the scheduled background tasks of the
// constructor bot: database maintenance and worker reconciliation.
package tasks

import (
	"log/slog"

	"github.com/kneolab/kneobot/internal/config"
	"github.com/kneolab/kneobot/internal/database"
	"github.com/kneolab/kneobot/internal/worker"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger     *slog.Logger
	Store      database.Store
	Supervisor *worker.Supervisor
	Config     *config.Config
}
