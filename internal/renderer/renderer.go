// Package renderer turns a stored scene plus resolved user variables into
// an ordered sequence of outbound items ready for delivery.
package renderer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kneolab/kneobot/internal/database"
	"github.com/kneolab/kneobot/internal/engine"
)

// callbackPrefix namespaces button callback keys so unrelated callback data
// can never resolve to a stored button.
const callbackPrefix = "btn:"

// ButtonRef is one rendered inline button. The callback key derives from
// the button's row id, never its label, so two buttons sharing a label in
// different scenes stay distinguishable.
type ButtonRef struct {
	ID    int64
	Label string
}

// CallbackKey returns the opaque callback reference for a button row.
func (b ButtonRef) CallbackKey() string {
	return callbackPrefix + strconv.FormatInt(b.ID, 10)
}

// ButtonIDFromKey recovers the button row id from a callback key. The
// second return is false for anything that is not a rendered button key.
func ButtonIDFromKey(key string) (int64, bool) {
	raw, ok := strings.CutPrefix(key, callbackPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// OutboundItem is one deliverable unit: resolved text, content kind, media
// reference, and the button layout (one button per row).
type OutboundItem struct {
	Text     string
	Kind     string
	MediaRef string
	Buttons  []ButtonRef
}

// Renderer builds outbound content from stored scenes.
type Renderer struct {
	store  database.Store
	logger *slog.Logger
}

// New creates a Renderer over the given store.
func New(store database.Store, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Renderer{
		store:  store,
		logger: logger.With("component", "renderer"),
	}
}

// Render produces the ordered outbound items for a scene with the given
// resolved variables. A scene with zero messages renders as exactly one
// explanatory placeholder item, never an empty sequence: callers always
// have something to deliver for a start or goto trigger.
func (r *Renderer) Render(ctx context.Context, scene *database.Scene, vars map[string]string, emptyNotice string) ([]OutboundItem, error) {
	msgs, err := r.store.ListMessages(ctx, scene.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for scene %q: %w", scene.SceneID, err)
	}

	if len(msgs) == 0 {
		r.logger.DebugContext(ctx, "Rendering empty scene placeholder", "scene_id", scene.SceneID)
		return []OutboundItem{{Text: emptyNotice, Kind: database.KindText}}, nil
	}

	items := make([]OutboundItem, 0, len(msgs))
	for _, msg := range msgs {
		buttons, err := r.store.ListButtons(ctx, msg.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load buttons for message %d: %w", msg.ID, err)
		}

		refs := make([]ButtonRef, 0, len(buttons))
		for _, btn := range buttons {
			refs = append(refs, ButtonRef{ID: btn.ID, Label: btn.Label})
		}

		items = append(items, OutboundItem{
			Text:     engine.ResolvePlaceholders(msg.Body, vars),
			Kind:     msg.Kind,
			MediaRef: msg.MediaRef,
			Buttons:  refs,
		})
	}
	return items, nil
}
