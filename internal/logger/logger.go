// Package logger provides structured logging for the constructor bot.
// It uses Go's slog package with configurable level and format.
package logger

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewLogger creates a new slog Logger with the specified level and format.
// If jsonOutput is true, logs are emitted as JSON, otherwise as text.
func NewLogger(levelStr string, jsonOutput bool) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// Middleware creates a logging middleware for a Telegram bot instance.
// It logs basic information about every inbound update at debug level.
func Middleware(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			entry := log.With("update_id", update.ID)

			switch {
			case update.Message != nil:
				userID := int64(0)
				if update.Message.From != nil {
					userID = update.Message.From.ID
				}
				entry.DebugContext(ctx, "Received message update",
					"chat_id", update.Message.Chat.ID,
					"user_id", userID,
					"message_id", update.Message.ID)
			case update.CallbackQuery != nil:
				entry.DebugContext(ctx, "Received callback update",
					"user_id", update.CallbackQuery.From.ID,
					"data", update.CallbackQuery.Data)
			default:
				entry.DebugContext(ctx, "Received update")
			}

			next(ctx, b, update)
		}
	}
}
