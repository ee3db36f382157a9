package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const helpText = `📚 BOT CONSTRUCTOR HELP

Bots
• Add as many bots as you like, each with its own scenes.
• To add one, press "➕ Add a bot" and send a token from @BotFather.

Scenes
• A scene is an ordered set of messages with inline buttons.
• Messages are sent in order; buttons attach to individual messages.
• Scene ids use latin letters, digits, and underscores, e.g. start, menu.

Variables
• Built-in: ##name_user##, ##ID_user##, ##user_user##.
• Use ##name## anywhere in a message body to substitute a value.

Button actions
• Assignment: variable == value
• Addition: variable ++ number
• Subtraction: variable -- number
• Scene jump: goto:scene_id
• Combine with semicolons: stars ++ 5;goto:profile

Aliases
• Bind a label to a number (for example Veteran = 2) so variables can
  display text while staying countable. Add them via "🔤 Add alias".`

// NewHelpHandler returns a handler for the /help command.
func NewHelpHandler(deps HandlerDeps) bot.HandlerFunc {
	return helpHandler{deps}.Handle
}

type helpHandler struct {
	deps HandlerDeps
}

func (h helpHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "help")

	if update.Message == nil {
		return
	}

	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        helpText,
		ReplyMarkup: backKeyboard("menu"),
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send help message", "error", err, "chat_id", update.Message.Chat.ID)
	}
}
