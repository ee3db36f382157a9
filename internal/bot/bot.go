// Package bot wires the constructor's components together and manages
// their lifecycle: the constructor's Telegram listener, the managed-bot
// supervisor, the liveness HTTP endpoint, and the task scheduler.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"

	"github.com/kneolab/kneobot/internal/config"
	"github.com/kneolab/kneobot/internal/worker"
)

// Bot is the application orchestrator.
type Bot struct {
	logger     *slog.Logger
	cfg        *config.Config
	tgBot      *tgbot.Bot
	supervisor *worker.Supervisor
	scheduler  *Scheduler
}

// NewBot creates the orchestrator from already-initialized components.
func NewBot(logger *slog.Logger, cfg *config.Config, tgBot *tgbot.Bot, supervisor *worker.Supervisor, scheduler *Scheduler) *Bot {
	return &Bot{
		logger:     logger.With("component", "orchestrator"),
		cfg:        cfg,
		tgBot:      tgBot,
		supervisor: supervisor,
		scheduler:  scheduler,
	}
}

// Run starts every component and blocks until the context is cancelled or a
// component fails. Workers for bots marked active are brought up on entry
// and torn down on exit.
func (b *Bot) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	b.supervisor.StartAll(gCtx)

	g.Go(func() error {
		b.logger.Info("Starting constructor listener")
		b.tgBot.Start(gCtx)

		if gCtx.Err() == nil {
			return fmt.Errorf("constructor listener stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		if err := b.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		return b.serveHealth(gCtx)
	})

	err := g.Wait()

	b.logger.Info("Stopping workers")
	b.supervisor.StopAll()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	b.logger.Info("Orchestrator stopped gracefully")
	return nil
}

// serveHealth runs the liveness HTTP endpoint. Hosting platforms probe it
// to decide the process is alive.
func (b *Bot) serveHealth(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(b.cfg.Server.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	b.logger.Info("Health endpoint listening", "port", b.cfg.Server.Port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health endpoint failed: %w", err)
	}
	return nil
}
