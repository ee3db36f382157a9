// Package worker implements the managed-bot runtime: one Worker per live
// bot definition, driven by the generic scene interpreter, plus the
// Supervisor that owns every running worker.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/kneolab/kneobot/internal/config"
	"github.com/kneolab/kneobot/internal/database"
	"github.com/kneolab/kneobot/internal/engine"
	"github.com/kneolab/kneobot/internal/gateway"
	"github.com/kneolab/kneobot/internal/renderer"
)

// Client is one live connection to the messaging platform: the outbound
// gateway plus the blocking polling loop.
type Client interface {
	gateway.Gateway
	Run(ctx context.Context)
}

// EventHandler consumes inbound events of one managed bot.
type EventHandler func(ctx context.Context, ev gateway.Event)

// ClientFactory creates a Client for an upstream token, routing every
// inbound event to onEvent. The supervisor injects this so worker tests
// can run against a fake platform.
type ClientFactory func(token string, onEvent EventHandler) (Client, error)

// delivered records one outbound message of the previously rendered scene,
// kept so the next scene can be delivered by editing in place.
type delivered struct {
	ref  gateway.MessageRef
	kind string
}

// session is the per-chat interaction state of one managed bot.
type session struct {
	watermarked bool
	items       []delivered
}

// Worker serves one bot definition to its end users. Inbound events mutate
// per-user variables through the engine and trigger scene rendering; all
// deliveries go through the gateway.
type Worker struct {
	def    database.BotDefinition
	client Client
	store  database.Store
	eng    *engine.Engine
	rnd    *renderer.Renderer
	msgs   config.MessagesConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*session
}

// NewWorker creates a worker for one bot definition. The client is attached
// separately because its update routing needs the worker first.
func NewWorker(def database.BotDefinition, store database.Store, msgs config.MessagesConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log := logger.With("component", "worker", "bot_id", def.ID, "bot_username", def.Username)
	return &Worker{
		def:      def,
		store:    store,
		eng:      engine.New(store, def.ID, log),
		rnd:      renderer.New(store, log),
		msgs:     msgs,
		logger:   log,
		sessions: make(map[int64]*session),
	}
}

// AttachClient binds the live platform connection. Must happen before the
// client starts polling.
func (w *Worker) AttachClient(c Client) {
	w.client = c
}

// Run polls for inbound events until ctx is cancelled. In-flight handlers
// complete before the underlying client returns.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Worker polling started")
	w.client.Run(ctx)
	w.logger.Info("Worker polling stopped")
}

// HandleEvent processes one inbound event. Failures degrade to user-visible
// notices; nothing here may take the worker loop down.
func (w *Worker) HandleEvent(ctx context.Context, ev gateway.Event) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorContext(ctx, "Recovered panic in event handler", "panic", r)
		}
	}()

	switch ev.Kind {
	case gateway.EventStart:
		w.handleStart(ctx, ev)
	case gateway.EventButton:
		w.handleButton(ctx, ev)
	}
}

func (w *Worker) handleStart(ctx context.Context, ev gateway.Event) {
	sess := w.session(ev.ChatID)

	// One-time attribution notice on first contact.
	if !sess.watermarked {
		if _, err := w.client.SendText(ctx, ev.ChatID, w.msgs.Watermark, nil); err != nil {
			w.logger.WarnContext(ctx, "Failed to send watermark", "chat_id", ev.ChatID, "error", err)
		} else {
			sess.watermarked = true
		}
	}

	scene, err := w.store.GetScene(ctx, w.def.ID, w.def.StartScene)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to load start scene", "error", err)
		w.notifyChat(ctx, ev.ChatID, w.msgs.GeneralError)
		return
	}
	if scene == nil {
		w.logger.WarnContext(ctx, "Start scene not configured", "start_scene", w.def.StartScene)
		w.notifyChat(ctx, ev.ChatID, w.msgs.StartSceneMissing)
		return
	}

	w.showScene(ctx, sess, ev, scene, false)
}

func (w *Worker) handleButton(ctx context.Context, ev gateway.Event) {
	buttonID, ok := renderer.ButtonIDFromKey(ev.CallbackKey)
	if !ok {
		w.answer(ctx, ev.CallbackID, w.msgs.UnknownButton, true)
		return
	}

	// Stable-id routing: the key resolves to the stored button row, never
	// to its label, and never across bot boundaries.
	btn, err := w.store.GetBotButton(ctx, w.def.ID, buttonID)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to resolve button", "button_id", buttonID, "error", err)
		w.answer(ctx, ev.CallbackID, w.msgs.GeneralError, true)
		return
	}
	if btn == nil {
		w.answer(ctx, ev.CallbackID, w.msgs.UnknownButton, true)
		return
	}

	if err := w.eng.LoadAliases(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to load aliases", "error", err)
	}

	sess := w.session(ev.ChatID)

	// Steps run strictly left to right; an individual failure is surfaced
	// and the chain continues.
	for _, step := range engine.DecodeAction(btn.Action) {
		switch step.Kind {
		case engine.StepGoto:
			scene, err := w.store.GetScene(ctx, w.def.ID, step.Value)
			if err != nil {
				w.logger.ErrorContext(ctx, "Failed to load goto target", "target", step.Value, "error", err)
				w.answer(ctx, ev.CallbackID, w.msgs.GeneralError, true)
				continue
			}
			if scene == nil {
				w.answer(ctx, ev.CallbackID, fmt.Sprintf(w.msgs.SceneNotFound, step.Value), true)
				continue
			}
			w.showScene(ctx, sess, ev, scene, true)

		case engine.StepExpr:
			if ok, msg := w.eng.Evaluate(ctx, ev.From.ID, step.Value); !ok {
				w.answer(ctx, ev.CallbackID, msg, true)
			}
		}
	}

	w.answer(ctx, ev.CallbackID, "", false)
}

// showScene renders and delivers a scene. When edit is true the previous
// delivery is updated in place where possible; an edit the gateway rejects
// (content kind change, expired message) falls back to delete and resend.
func (w *Worker) showScene(ctx context.Context, sess *session, ev gateway.Event, scene *database.Scene, edit bool) {
	vars, err := w.userVars(ctx, ev.From)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to load user variables", "error", err)
		w.notifyChat(ctx, ev.ChatID, w.msgs.GeneralError)
		return
	}

	items, err := w.rnd.Render(ctx, scene, vars, w.msgs.EmptyScene)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to render scene", "scene_id", scene.SceneID, "error", err)
		w.notifyChat(ctx, ev.ChatID, w.msgs.GeneralError)
		return
	}

	canEdit := edit && len(sess.items) == len(items)
	next := make([]delivered, 0, len(items))

	for i, item := range items {
		kb := keyboard(item)

		if canEdit {
			prev := sess.items[i]
			if err := w.editItem(ctx, prev, item, kb); err == nil {
				next = append(next, delivered{ref: prev.ref, kind: item.Kind})
				continue
			}
			// Fallback path: drop the stale message and send fresh.
			if err := w.client.DeleteMessage(ctx, prev.ref); err != nil {
				w.logger.DebugContext(ctx, "Failed to delete stale message", "error", err)
			}
		}

		ref, err := w.sendItem(ctx, ev.ChatID, item, kb)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to deliver scene item",
				"scene_id", scene.SceneID, "seq", i+1, "error", err)
			continue
		}
		next = append(next, delivered{ref: ref, kind: item.Kind})
	}

	sess.items = next
}

func (w *Worker) sendItem(ctx context.Context, chatID int64, item renderer.OutboundItem, kb []gateway.ButtonRow) (gateway.MessageRef, error) {
	switch item.Kind {
	case database.KindPhoto:
		return w.client.SendPhoto(ctx, chatID, item.MediaRef, item.Text, kb)
	case database.KindVideo:
		return w.client.SendVideo(ctx, chatID, item.MediaRef, item.Text, kb)
	default:
		return w.client.SendText(ctx, chatID, item.Text, kb)
	}
}

func (w *Worker) editItem(ctx context.Context, prev delivered, item renderer.OutboundItem, kb []gateway.ButtonRow) error {
	if prev.kind != item.Kind {
		return fmt.Errorf("content kind changed from %s to %s", prev.kind, item.Kind)
	}
	if item.Kind == database.KindText {
		return w.client.EditText(ctx, prev.ref, item.Text, kb)
	}
	return w.client.EditMedia(ctx, prev.ref, item.Kind, item.MediaRef, item.Text, kb)
}

// userVars loads the end user's stored variables and fills in the computed
// fallbacks for display name, numeric id, and handle.
func (w *Worker) userVars(ctx context.Context, u gateway.User) (map[string]string, error) {
	vars, err := w.store.ListUserVariables(ctx, w.def.ID, u.ID)
	if err != nil {
		return nil, err
	}
	if _, ok := vars[engine.VarUserName]; !ok {
		vars[engine.VarUserName] = u.Name
	}
	if _, ok := vars[engine.VarUserID]; !ok {
		vars[engine.VarUserID] = strconv.FormatInt(u.ID, 10)
	}
	if _, ok := vars[engine.VarUserHandle]; !ok {
		vars[engine.VarUserHandle] = u.Handle
	}
	return vars, nil
}

func (w *Worker) session(chatID int64) *session {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[chatID]
	if !ok {
		s = &session{}
		w.sessions[chatID] = s
	}
	return s
}

func (w *Worker) notifyChat(ctx context.Context, chatID int64, text string) {
	if _, err := w.client.SendText(ctx, chatID, text, nil); err != nil {
		w.logger.WarnContext(ctx, "Failed to send notice", "chat_id", chatID, "error", err)
	}
}

func (w *Worker) answer(ctx context.Context, callbackID, text string, alert bool) {
	if callbackID == "" {
		return
	}
	if err := w.client.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		w.logger.DebugContext(ctx, "Failed to answer callback", "error", err)
	}
}

func keyboard(item renderer.OutboundItem) []gateway.ButtonRow {
	if len(item.Buttons) == 0 {
		return nil
	}
	kb := make([]gateway.ButtonRow, 0, len(item.Buttons))
	for _, b := range item.Buttons {
		kb = append(kb, gateway.ButtonRow{Label: b.Label, CallbackKey: b.CallbackKey()})
	}
	return kb
}
