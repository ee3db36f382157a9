package gateway

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// TelegramClient is the go-telegram/bot implementation of Gateway plus the
// polling loop of one live bot connection.
type TelegramClient struct {
	bot *tgbot.Bot
}

// NewTelegramClient creates one live bot connection for the given token.
// All inbound updates are routed through onUpdate.
func NewTelegramClient(token string, onUpdate tgbot.HandlerFunc, opts ...tgbot.Option) (*TelegramClient, error) {
	if token == "" {
		return nil, fmt.Errorf("bot token cannot be empty")
	}
	opts = append(opts, tgbot.WithDefaultHandler(onUpdate), tgbot.WithSkipGetMe())

	b, err := tgbot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	return &TelegramClient{bot: b}, nil
}

// Run starts long polling and blocks until ctx is cancelled.
func (c *TelegramClient) Run(ctx context.Context) {
	c.bot.Start(ctx)
}

// Identity calls getMe and returns the bot's username.
func (c *TelegramClient) Identity(ctx context.Context) (string, error) {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return "", fmt.Errorf("identity check failed: %w", err)
	}
	return me.Username, nil
}

func (c *TelegramClient) SendText(ctx context.Context, chatID int64, text string, kb []ButtonRow) (MessageRef, error) {
	msg, err := c.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: markup(kb),
	})
	if err != nil {
		return MessageRef{}, fmt.Errorf("send text failed: %w", err)
	}
	return MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

func (c *TelegramClient) SendPhoto(ctx context.Context, chatID int64, mediaRef, caption string, kb []ButtonRow) (MessageRef, error) {
	msg, err := c.bot.SendPhoto(ctx, &tgbot.SendPhotoParams{
		ChatID:      chatID,
		Photo:       &models.InputFileString{Data: mediaRef},
		Caption:     caption,
		ReplyMarkup: markup(kb),
	})
	if err != nil {
		return MessageRef{}, fmt.Errorf("send photo failed: %w", err)
	}
	return MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

func (c *TelegramClient) SendVideo(ctx context.Context, chatID int64, mediaRef, caption string, kb []ButtonRow) (MessageRef, error) {
	msg, err := c.bot.SendVideo(ctx, &tgbot.SendVideoParams{
		ChatID:      chatID,
		Video:       &models.InputFileString{Data: mediaRef},
		Caption:     caption,
		ReplyMarkup: markup(kb),
	})
	if err != nil {
		return MessageRef{}, fmt.Errorf("send video failed: %w", err)
	}
	return MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

func (c *TelegramClient) EditText(ctx context.Context, ref MessageRef, text string, kb []ButtonRow) error {
	_, err := c.bot.EditMessageText(ctx, &tgbot.EditMessageTextParams{
		ChatID:      ref.ChatID,
		MessageID:   ref.MessageID,
		Text:        text,
		ReplyMarkup: markup(kb),
	})
	if err != nil {
		return fmt.Errorf("edit text failed: %w", err)
	}
	return nil
}

func (c *TelegramClient) EditMedia(ctx context.Context, ref MessageRef, kind, mediaRef, caption string, kb []ButtonRow) error {
	var media models.InputMedia
	switch kind {
	case "video":
		media = &models.InputMediaVideo{Media: mediaRef, Caption: caption}
	default:
		media = &models.InputMediaPhoto{Media: mediaRef, Caption: caption}
	}

	_, err := c.bot.EditMessageMedia(ctx, &tgbot.EditMessageMediaParams{
		ChatID:      ref.ChatID,
		MessageID:   ref.MessageID,
		Media:       media,
		ReplyMarkup: markup(kb),
	})
	if err != nil {
		return fmt.Errorf("edit media failed: %w", err)
	}
	return nil
}

func (c *TelegramClient) DeleteMessage(ctx context.Context, ref MessageRef) error {
	_, err := c.bot.DeleteMessage(ctx, &tgbot.DeleteMessageParams{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
	})
	if err != nil {
		return fmt.Errorf("delete message failed: %w", err)
	}
	return nil
}

func (c *TelegramClient) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	_, err := c.bot.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		return fmt.Errorf("answer callback failed: %w", err)
	}
	return nil
}

// markup converts a one-button-per-row layout into an inline keyboard.
// Returns nil for an empty layout so plain messages carry no keyboard.
func markup(kb []ButtonRow) models.ReplyMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]models.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         row.Label,
			CallbackData: row.CallbackKey,
		}})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// EventFromUpdate converts a raw Telegram update into a worker event. The
// second return is false for updates a worker does not react to.
func EventFromUpdate(update *models.Update) (Event, bool) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		if !strings.HasPrefix(update.Message.Text, "/start") {
			return Event{}, false
		}
		return Event{
			Kind:   EventStart,
			ChatID: update.Message.Chat.ID,
			From:   userFrom(update.Message.From),
		}, true

	case update.CallbackQuery != nil:
		ev := Event{
			Kind:        EventButton,
			From:        userFrom(&update.CallbackQuery.From),
			CallbackID:  update.CallbackQuery.ID,
			CallbackKey: update.CallbackQuery.Data,
		}
		if msg := update.CallbackQuery.Message.Message; msg != nil {
			ev.ChatID = msg.Chat.ID
			ev.Origin = MessageRef{ChatID: msg.Chat.ID, MessageID: msg.ID}
		}
		return ev, true
	}
	return Event{}, false
}

func userFrom(u *models.User) User {
	return User{ID: u.ID, Name: u.FirstName, Handle: u.Username}
}
