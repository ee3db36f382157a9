package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/kneolab/kneobot/internal/database"
)

// NewTextInputHandler returns the default handler routing plain messages
// through the authoring wizard: whatever the user's session state expects
// next (a token, a scene id, a message body, a button definition, an
// alias) is read from the message.
func NewTextInputHandler(deps HandlerDeps) bot.HandlerFunc {
	return textInputHandler{deps}.Handle
}

type textInputHandler struct {
	deps HandlerDeps
}

func (h textInputHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	msg := update.Message
	userID := msg.From.ID
	chatID := msg.Chat.ID
	log := h.deps.Logger.With("handler", "wizard_input", "user_id", userID)

	sess := h.deps.Sessions.Get(userID)

	switch sess.State {
	case StateAwaitToken:
		h.handleToken(ctx, b, log, chatID, userID, strings.TrimSpace(msg.Text))
	case StateCreateScene:
		h.handleCreateScene(ctx, b, log, chatID, userID, sess, strings.TrimSpace(msg.Text))
	case StateAddMessage:
		h.handleAddMessage(ctx, b, log, chatID, userID, sess, msg)
	case StateAddButton:
		h.handleAddButton(ctx, b, log, chatID, userID, sess, strings.TrimSpace(msg.Text))
	case StateAddAlias:
		h.handleAddAlias(ctx, b, log, chatID, userID, sess, strings.TrimSpace(msg.Text))
	case StateSetStartScene:
		h.handleSetStartScene(ctx, b, log, chatID, userID, sess, strings.TrimSpace(msg.Text))
	default:
		// Not inside a wizard prompt; nudge toward the menu.
		sendText(ctx, b, chatID, "Use /start to open the constructor menu.")
	}
}

func (h textInputHandler) handleToken(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID, userID int64, token string) {
	if !strings.Contains(token, ":") {
		sendText(ctx, b, chatID, h.deps.Config.Messages.InvalidTokenFormat)
		return
	}

	username, err := h.deps.VerifyToken(ctx, token)
	if err != nil {
		log.WarnContext(ctx, "Token verification failed", "error", err)
		sendText(ctx, b, chatID, h.deps.Config.Messages.InvalidToken)
		return
	}

	if existing, err := h.deps.Store.GetBotByToken(ctx, token); err == nil && existing != nil {
		sendText(ctx, b, chatID, "That bot is already registered.")
		return
	}

	if _, err := h.deps.Store.CreateBot(ctx, userID, token, username); err != nil {
		log.ErrorContext(ctx, "Failed to create bot", "error", err)
		sendText(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	h.deps.Sessions.Clear(userID)
	_, err = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        fmt.Sprintf("✅ Bot @%s added! You can manage it from the menu.", username),
		ReplyMarkup: mainMenuKeyboard(),
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to confirm bot creation", "error", err)
	}
}

func (h textInputHandler) handleCreateScene(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID, userID int64, sess Session, sceneID string) {
	_, err := h.deps.Store.CreateScene(ctx, sess.BotID, sceneID, "")
	switch {
	case errors.Is(err, database.ErrInvalidIdentifier):
		sendText(ctx, b, chatID, "❌ A scene id may only contain latin letters, digits, and underscores. Try again:")
		return
	case errors.Is(err, database.ErrDuplicateScene):
		sendText(ctx, b, chatID, fmt.Sprintf("❌ Scene %q already exists. Try another id:", sceneID))
		return
	case err != nil:
		log.ErrorContext(ctx, "Failed to create scene", "error", err)
		sendText(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	h.deps.Sessions.Clear(userID)
	_, sendErr := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        fmt.Sprintf("✅ Scene %q created. Now add messages to it.", sceneID),
		ReplyMarkup: botMenuKeyboard(sess.BotID),
	})
	if sendErr != nil {
		log.ErrorContext(ctx, "Failed to confirm scene creation", "error", sendErr)
	}
}

func (h textInputHandler) handleAddMessage(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID, userID int64, sess Session, msg *models.Message) {
	body := msg.Text
	kind := database.KindText
	mediaRef := ""

	// A photo or video in the wizard becomes a media message; its caption
	// becomes the body.
	switch {
	case len(msg.Photo) > 0:
		kind = database.KindPhoto
		mediaRef = msg.Photo[len(msg.Photo)-1].FileID
		body = msg.Caption
	case msg.Video != nil:
		kind = database.KindVideo
		mediaRef = msg.Video.FileID
		body = msg.Caption
	}

	if body == "" && mediaRef == "" {
		sendText(ctx, b, chatID, "Send the message text (or a photo/video):")
		return
	}

	if _, err := h.deps.Store.AppendMessage(ctx, sess.SceneRowID, body, kind, mediaRef); err != nil {
		log.ErrorContext(ctx, "Failed to append message", "error", err)
		sendText(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	h.deps.Sessions.Clear(userID)
	h.showSceneMenu(ctx, b, log, chatID, sess.SceneRowID, "✅ Message added.")
}

func (h textInputHandler) handleAddButton(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID, userID int64, sess Session, input string) {
	label, action, found := strings.Cut(input, "|")
	if !found || strings.TrimSpace(label) == "" || strings.TrimSpace(action) == "" {
		sendText(ctx, b, chatID, "Send the button as: Label | action\nExample: Next | stars ++ 1;goto:menu")
		return
	}

	if _, err := h.deps.Store.AppendButton(ctx, sess.MessageID, strings.TrimSpace(label), strings.TrimSpace(action)); err != nil {
		log.ErrorContext(ctx, "Failed to append button", "error", err)
		sendText(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	h.deps.Sessions.Clear(userID)
	h.showSceneMenu(ctx, b, log, chatID, sess.SceneRowID, "✅ Button added.")
}

func (h textInputHandler) handleAddAlias(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID, userID int64, sess Session, input string) {
	name, raw, found := strings.Cut(input, "=")
	name = strings.TrimSpace(name)
	raw = strings.TrimSpace(raw)
	if !found || name == "" {
		sendText(ctx, b, chatID, "Send the alias as: name = number\nExample: Veteran = 2")
		return
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		sendText(ctx, b, chatID, fmt.Sprintf("❌ %q is not a number. Try again:", raw))
		return
	}

	if err := h.deps.Store.UpsertAlias(ctx, sess.BotID, name, value); err != nil {
		log.ErrorContext(ctx, "Failed to save alias", "error", err)
		sendText(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	h.deps.Sessions.Clear(userID)
	_, sendErr := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        fmt.Sprintf("✅ Alias %s = %d saved.", name, value),
		ReplyMarkup: botMenuKeyboard(sess.BotID),
	})
	if sendErr != nil {
		log.ErrorContext(ctx, "Failed to confirm alias", "error", sendErr)
	}
}

func (h textInputHandler) handleSetStartScene(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID, userID int64, sess Session, sceneID string) {
	scene, err := h.deps.Store.GetScene(ctx, sess.BotID, sceneID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to look up scene", "error", err)
		sendText(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}
	if scene == nil {
		sendText(ctx, b, chatID, fmt.Sprintf("❌ Scene %q does not exist yet. Create it first or send another id:", sceneID))
		return
	}

	if err := h.deps.Store.SetStartScene(ctx, sess.BotID, sceneID); err != nil {
		log.ErrorContext(ctx, "Failed to set start scene", "error", err)
		sendText(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	h.deps.Sessions.Clear(userID)
	_, sendErr := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        fmt.Sprintf("✅ Start scene set to %q.", sceneID),
		ReplyMarkup: botMenuKeyboard(sess.BotID),
	})
	if sendErr != nil {
		log.ErrorContext(ctx, "Failed to confirm start scene", "error", sendErr)
	}
}

func (h textInputHandler) showSceneMenu(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID, sceneRowID int64, notice string) {
	scene, err := h.deps.Store.GetSceneByID(ctx, sceneRowID)
	if err != nil || scene == nil {
		if err != nil {
			log.ErrorContext(ctx, "Failed to load scene", "error", err)
		}
		sendText(ctx, b, chatID, notice)
		return
	}
	msgs, err := h.deps.Store.ListMessages(ctx, sceneRowID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to list messages", "error", err)
		sendText(ctx, b, chatID, notice)
		return
	}

	_, sendErr := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        fmt.Sprintf("%s\n\nScene %q (%d messages):", notice, scene.SceneID, len(msgs)),
		ReplyMarkup: sceneMenuKeyboard(scene, msgs),
	})
	if sendErr != nil {
		log.ErrorContext(ctx, "Failed to show scene menu", "error", sendErr)
	}
}
