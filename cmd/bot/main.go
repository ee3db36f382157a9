// Package main contains the entrypoint of the bot constructor service.
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

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/kneolab/kneobot/internal/bot"
	"github.com/kneolab/kneobot/internal/bot/handlers"
	"github.com/kneolab/kneobot/internal/bot/tasks"
	"github.com/kneolab/kneobot/internal/config"
	"github.com/kneolab/kneobot/internal/database"
	"github.com/kneolab/kneobot/internal/gateway"
	"github.com/kneolab/kneobot/internal/logger"
	"github.com/kneolab/kneobot/internal/telegram"
	"github.com/kneolab/kneobot/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components, blocks until shutdown, and returns the
// process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	supervisor := worker.NewSupervisor(ctx, store, worker.NewTelegramFactory(log), cfg.Worker, cfg.Messages, log)

	hDeps := handlers.HandlerDeps{
		Logger:      log,
		Config:      cfg,
		Store:       store,
		Supervisor:  supervisor,
		Sessions:    handlers.NewSessionStore(),
		VerifyToken: verifyToken,
	}

	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(handlers.NewTextInputHandler(hDeps)),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	if err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	tDeps := tasks.TaskDeps{
		Logger:     log,
		Store:      store,
		Supervisor: supervisor,
		Config:     cfg,
	}
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.NewBot(log, cfg, tg, supervisor, sched)

	log.Info("Starting bot constructor")
	runErr := app.Run(ctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Stopped gracefully")
	time.Sleep(time.Second)
	return 0
}

// verifyToken checks a candidate managed-bot token against the upstream API
// and returns the bot's username.
func verifyToken(ctx context.Context, token string) (string, error) {
	client, err := gateway.NewTelegramClient(token, func(context.Context, *tgbot.Bot, *models.Update) {})
	if err != nil {
		return "", err
	}
	return client.Identity(ctx)
}
