package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kneolab/kneobot/internal/config"
	"github.com/kneolab/kneobot/internal/database"
)

// ErrTokenInvalid reports an upstream token that failed the identity check
// during worker start. The worker is not registered.
var ErrTokenInvalid = errors.New("bot token rejected by upstream")

// running is the registry entry of one live worker, keyed by token.
type running struct {
	botID  int64
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the set of running workers. It is the only component
// allowed to create or destroy them; the one exception is a worker's
// self-deregistration after its loop terminates.
type Supervisor struct {
	store   database.Store
	factory ClientFactory
	cfg     config.WorkerConfig
	msgs    config.MessagesConfig
	logger  *slog.Logger

	baseCtx context.Context

	mu      sync.Mutex
	workers map[string]*running
}

// NewSupervisor creates a Supervisor. baseCtx bounds the lifetime of every
// worker it starts: cancelling it stops them all.
func NewSupervisor(baseCtx context.Context, store database.Store, factory ClientFactory, cfg config.WorkerConfig, msgs config.MessagesConfig, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Supervisor{
		store:   store,
		factory: factory,
		cfg:     cfg,
		msgs:    msgs,
		logger:  logger.With("component", "supervisor"),
		baseCtx: baseCtx,
		workers: make(map[string]*running),
	}
}

// Start launches a worker for the given bot definition. Starting an
// already-running token is a no-op returning nil. The token is validated
// with an identity check before anything is registered; the call returns
// once polling is spawned, it does not block for the worker's lifetime.
func (s *Supervisor) Start(ctx context.Context, def database.BotDefinition) error {
	s.mu.Lock()
	if _, ok := s.workers[def.Token]; ok {
		s.mu.Unlock()
		s.logger.Debug("Worker already running", "bot_id", def.ID)
		return nil
	}
	s.mu.Unlock()

	w := NewWorker(def, s.store, s.msgs, s.logger)
	client, err := s.factory(def.Token, w.HandleEvent)
	if err != nil {
		return fmt.Errorf("failed to create client for bot %d: %w", def.ID, err)
	}
	w.AttachClient(client)

	verifyCtx, cancelVerify := context.WithTimeout(ctx, s.cfg.VerifyTimeout)
	defer cancelVerify()
	username, err := client.Identity(verifyCtx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	entry := &running{botID: def.ID, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if _, ok := s.workers[def.Token]; ok {
		// Lost the race against a concurrent start of the same token.
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.workers[def.Token] = entry
	s.mu.Unlock()

	go func() {
		defer close(entry.done)
		// Self-deregistration: on any terminal outcome the entry leaves
		// the registry so a later start does not hit a stale worker.
		defer s.deregister(def.Token, entry)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Worker crashed", "bot_id", def.ID, "panic", r)
			}
		}()
		w.Run(runCtx)
	}()

	s.logger.Info("Worker started", "bot_id", def.ID, "bot_username", username)
	return nil
}

// Stop requests graceful shutdown of the worker registered for token and
// waits for its loop to settle, bounded by the configured stop timeout.
// Returns false if no worker is registered for that token.
func (s *Supervisor) Stop(token string) bool {
	s.mu.Lock()
	entry, ok := s.workers[token]
	if ok {
		delete(s.workers, token)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	entry.cancel()
	select {
	case <-entry.done:
		s.logger.Info("Worker stopped", "bot_id", entry.botID)
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("Worker did not stop in time, abandoning", "bot_id", entry.botID)
	}
	return true
}

// StartAll starts a worker for every bot definition whose active flag is
// set. Individual failures are logged and do not abort the batch.
func (s *Supervisor) StartAll(ctx context.Context) {
	defs, err := s.store.ListActiveBots(ctx)
	if err != nil {
		s.logger.Error("Failed to load active bots", "error", err)
		return
	}

	started := 0
	for _, def := range defs {
		if err := s.Start(ctx, def); err != nil {
			s.logger.Error("Failed to start bot", "bot_id", def.ID, "error", err)
			continue
		}
		started++
	}
	s.logger.Info("Active bots started", "requested", len(defs), "started", started)
}

// StopAll stops every running worker. Used during process shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	tokens := make([]string, 0, len(s.workers))
	for token := range s.workers {
		tokens = append(tokens, token)
	}
	s.mu.Unlock()

	for _, token := range tokens {
		s.Stop(token)
	}
}

// IsRunning reports whether a worker is registered for token.
func (s *Supervisor) IsRunning(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[token]
	return ok
}

// deregister removes the given entry if it is still the one registered for
// token. A restarted worker under the same token is left alone.
func (s *Supervisor) deregister(token string, entry *running) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.workers[token]; ok && current == entry {
		delete(s.workers, token)
	}
}
