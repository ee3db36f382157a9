package worker

import (
	"context"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/kneolab/kneobot/internal/gateway"
)

// NewTelegramFactory returns the production ClientFactory: one go-telegram
// polling client per managed bot, forwarding start commands and button
// presses to the worker.
func NewTelegramFactory(logger *slog.Logger) ClientFactory {
	return func(token string, onEvent EventHandler) (Client, error) {
		route := func(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
			if ev, ok := gateway.EventFromUpdate(update); ok {
				onEvent(ctx, ev)
			}
		}
		return gateway.NewTelegramClient(token, route, tgbot.WithMiddlewares(loggerMiddleware(logger)))
	}
}

// loggerMiddleware logs managed-bot updates at debug level without leaking
// end-user message content.
func loggerMiddleware(log *slog.Logger) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if log != nil {
				log.DebugContext(ctx, "Managed bot update", "update_id", update.ID)
			}
			next(ctx, b, update)
		}
	}
}
