package handlers

import (
	"context"
	"log/slog"

	"github.com/kneolab/kneobot/internal/config"
	"github.com/kneolab/kneobot/internal/database"
	"github.com/kneolab/kneobot/internal/worker"
)

// HandlerDeps provides dependencies for constructor bot handlers.
type HandlerDeps struct {
	Logger     *slog.Logger
	Config     *config.Config
	Store      database.Store
	Supervisor *worker.Supervisor
	Sessions   *SessionStore

	// VerifyToken performs the upstream "who am I" call for a candidate
	// token and returns the bot's username.
	VerifyToken func(ctx context.Context, token string) (string, error)
}
