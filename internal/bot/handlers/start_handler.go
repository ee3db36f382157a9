package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStartHandler returns a handler for the /start command.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return startHandler{deps}.Handle
}

type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Start handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID

	log.InfoContext(ctx, "Handling /start command", "chat_id", chatID, "user_id", userID)
	h.deps.Sessions.Clear(userID)

	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   h.deps.Config.Messages.Watermark,
	}); err != nil {
		log.ErrorContext(ctx, "Failed to send watermark", "error", err, "chat_id", chatID)
	}

	bots, err := h.deps.Store.ListBotsByOwner(ctx, userID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to list bots", "error", err, "user_id", userID)
		sendText(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	if len(bots) == 0 {
		h.deps.Sessions.Set(userID, Session{State: StateAwaitToken})
		_, err = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text: h.deps.Config.Messages.Welcome + "\n\n" +
				"You don't have any bots yet. Send me a bot token from @BotFather to add one.",
			ReplyMarkup: backKeyboard("help"),
		})
	} else {
		_, err = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      chatID,
			Text:        "Bot constructor main menu:",
			ReplyMarkup: mainMenuKeyboard(),
		})
	}
	if err != nil {
		log.ErrorContext(ctx, "Failed to send start menu", "error", err, "chat_id", chatID)
	}
}

// sendText delivers a plain notice, logging delivery failures.
func sendText(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
}
