package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/kneolab/kneobot/internal/database"
)

// NewCallbackRouter returns the handler for every inline menu callback of
// the constructor bot. Callback data is "verb" or "verb:id[:id...]".
func NewCallbackRouter(deps HandlerDeps) bot.HandlerFunc {
	return callbackRouter{deps}.Handle
}

type callbackRouter struct {
	deps HandlerDeps
}

func (h callbackRouter) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	cb := update.CallbackQuery
	if cb == nil {
		return
	}
	log := h.deps.Logger.With("handler", "menu", "user_id", cb.From.ID)

	msg := cb.Message.Message
	if msg == nil {
		h.answer(ctx, b, cb.ID, "")
		return
	}

	verb, args, _ := strings.Cut(cb.Data, ":")
	ids := parseIDs(args)
	userID := cb.From.ID

	var err error
	switch verb {
	case "menu":
		h.deps.Sessions.Clear(userID)
		err = h.edit(ctx, b, msg, "Bot constructor main menu:", mainMenuKeyboard())
	case "help":
		err = h.edit(ctx, b, msg, helpText, backKeyboard("menu"))
	case "my_bots":
		err = h.showBotList(ctx, b, msg, userID)
	case "add_bot":
		h.deps.Sessions.Set(userID, Session{State: StateAwaitToken})
		err = h.edit(ctx, b, msg, "➕ Adding a new bot\n\nSend the token you got from @BotFather:", backKeyboard("menu"))
	case "bot":
		err = h.showBotMenu(ctx, b, msg, userID, ids)
	case "newscene":
		h.deps.Sessions.Set(userID, Session{State: StateCreateScene, BotID: ids[0]})
		err = h.edit(ctx, b, msg,
			"📝 Creating a scene\n\nSend a scene id (latin letters, digits, underscores), e.g. start, menu, profile:",
			backKeyboard(fmt.Sprintf("bot:%d", ids[0])))
	case "scenes":
		err = h.showSceneList(ctx, b, msg, ids)
	case "scene":
		err = h.showScene(ctx, b, msg, ids, "")
	case "addmsg":
		h.deps.Sessions.Set(userID, Session{State: StateAddMessage, SceneRowID: ids[0]})
		err = h.edit(ctx, b, msg, "Send the message text (or a photo/video with a caption):",
			backKeyboard(fmt.Sprintf("scene:%d", ids[0])))
	case "msg":
		err = h.showMessage(ctx, b, msg, ids)
	case "addbtn":
		h.deps.Sessions.Set(userID, Session{State: StateAddButton, SceneRowID: ids[0], MessageID: ids[1]})
		err = h.edit(ctx, b, msg,
			"Send the button as: Label | action\nExample: Next | stars ++ 1;goto:menu",
			backKeyboard(fmt.Sprintf("msg:%d:%d", ids[0], ids[1])))
	case "delmsg":
		if err = h.deps.Store.DeleteMessage(ctx, ids[1]); err == nil {
			err = h.showScene(ctx, b, msg, ids[:1], "🗑 Message deleted.")
		}
	case "delbtn":
		if err = h.deps.Store.DeleteButton(ctx, ids[2]); err == nil {
			err = h.showMessage(ctx, b, msg, ids[:2])
		}
	case "alias":
		h.deps.Sessions.Set(userID, Session{State: StateAddAlias, BotID: ids[0]})
		err = h.edit(ctx, b, msg, "Send the alias as: name = number\nExample: Veteran = 2",
			backKeyboard(fmt.Sprintf("bot:%d", ids[0])))
	case "startscene":
		h.deps.Sessions.Set(userID, Session{State: StateSetStartScene, BotID: ids[0]})
		err = h.edit(ctx, b, msg, "Send the id of the scene to open on /start:",
			backKeyboard(fmt.Sprintf("bot:%d", ids[0])))
	case "run":
		h.runBot(ctx, b, cb, msg, userID, ids)
		return
	case "halt":
		h.haltBot(ctx, b, cb, msg, userID, ids)
		return
	case "status":
		h.showStatus(ctx, b, cb, ids)
		return
	case "rmbot":
		err = h.edit(ctx, b, msg,
			"🗑 Delete this bot?\n\nAll its scenes, messages, buttons, aliases, and user data will be removed.",
			confirmDeleteKeyboard(ids[0]))
	case "rmbot_yes":
		err = h.deleteBot(ctx, b, msg, userID, ids)
	default:
		log.DebugContext(ctx, "Unknown callback verb", "data", cb.Data)
	}

	if err != nil {
		log.ErrorContext(ctx, "Menu action failed", "data", cb.Data, "error", err)
		h.answer(ctx, b, cb.ID, h.deps.Config.Messages.GeneralError)
		return
	}
	h.answer(ctx, b, cb.ID, "")
}

func (h callbackRouter) showBotList(ctx context.Context, b *bot.Bot, msg *models.Message, userID int64) error {
	bots, err := h.deps.Store.ListBotsByOwner(ctx, userID)
	if err != nil {
		return err
	}
	if len(bots) == 0 {
		return h.edit(ctx, b, msg, "You have no bots yet. Press \"➕ Add a bot\" to add one.",
			&models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
				row("➕ Add a bot", "add_bot"),
				row("↩️ Back", "menu"),
			}})
	}

	var sb strings.Builder
	sb.WriteString("🤖 Your bots:\n\n")
	for _, bd := range bots {
		status := "🔴 stopped"
		if h.deps.Supervisor.IsRunning(bd.Token) {
			status = "🟢 running"
		}
		fmt.Fprintf(&sb, "• @%s (%s)\n", bd.Username, status)
	}
	return h.edit(ctx, b, msg, sb.String(), botListKeyboard(bots))
}

func (h callbackRouter) showBotMenu(ctx context.Context, b *bot.Bot, msg *models.Message, userID int64, ids []int64) error {
	bd, err := h.ownedBot(ctx, userID, ids)
	if err != nil || bd == nil {
		if err != nil {
			return err
		}
		return h.edit(ctx, b, msg, "Bot not found.", backKeyboard("my_bots"))
	}
	text := fmt.Sprintf("Managing @%s\nStart scene: %q\n\nPick an action:", bd.Username, bd.StartScene)
	return h.edit(ctx, b, msg, text, botMenuKeyboard(bd.ID))
}

func (h callbackRouter) showSceneList(ctx context.Context, b *bot.Bot, msg *models.Message, ids []int64) error {
	scenes, err := h.deps.Store.ListScenes(ctx, ids[0])
	if err != nil {
		return err
	}
	if len(scenes) == 0 {
		return h.edit(ctx, b, msg, "This bot has no scenes yet.",
			&models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
				row("📝 Create scene", fmt.Sprintf("newscene:%d", ids[0])),
				row("↩️ Back", fmt.Sprintf("bot:%d", ids[0])),
			}})
	}

	var sb strings.Builder
	sb.WriteString("📋 Scenes:\n\n")
	for _, sc := range scenes {
		fmt.Fprintf(&sb, "• %s (id: %s)\n", sc.Name, sc.SceneID)
	}
	return h.edit(ctx, b, msg, sb.String(), sceneListKeyboard(ids[0], scenes))
}

func (h callbackRouter) showScene(ctx context.Context, b *bot.Bot, msg *models.Message, ids []int64, notice string) error {
	scene, err := h.deps.Store.GetSceneByID(ctx, ids[0])
	if err != nil {
		return err
	}
	if scene == nil {
		return h.edit(ctx, b, msg, "Scene not found.", backKeyboard("my_bots"))
	}
	msgs, err := h.deps.Store.ListMessages(ctx, scene.ID)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Scene %q (%d messages). Pick a message to edit:", scene.SceneID, len(msgs))
	if notice != "" {
		text = notice + "\n\n" + text
	}
	return h.edit(ctx, b, msg, text, sceneMenuKeyboard(scene, msgs))
}

func (h callbackRouter) showMessage(ctx context.Context, b *bot.Bot, msg *models.Message, ids []int64) error {
	buttons, err := h.deps.Store.ListButtons(ctx, ids[1])
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Message #%d has %d buttons.\nPress a button below to delete it:", ids[1], len(buttons))
	return h.edit(ctx, b, msg, text, messageMenuKeyboard(ids[0], ids[1], buttons))
}

func (h callbackRouter) runBot(ctx context.Context, b *bot.Bot, cb *models.CallbackQuery, msg *models.Message, userID int64, ids []int64) {
	log := h.deps.Logger.With("handler", "menu")

	bd, err := h.ownedBot(ctx, userID, ids)
	if err != nil || bd == nil {
		h.answer(ctx, b, cb.ID, "Bot not found")
		return
	}

	if err := h.deps.Supervisor.Start(ctx, *bd); err != nil {
		log.ErrorContext(ctx, "Failed to start bot", "bot_id", bd.ID, "error", err)
		h.alert(ctx, b, cb.ID, "❌ Could not start the bot. Check that its token is still valid.")
		return
	}
	if err := h.deps.Store.SetBotActive(ctx, bd.ID, true); err != nil {
		log.ErrorContext(ctx, "Failed to persist active flag", "bot_id", bd.ID, "error", err)
	}

	h.answer(ctx, b, cb.ID, "✅ Bot started")
	if err := h.edit(ctx, b, msg, fmt.Sprintf("Bot @%s is running.", bd.Username), botMenuKeyboard(bd.ID)); err != nil {
		log.ErrorContext(ctx, "Failed to refresh bot menu", "error", err)
	}
}

func (h callbackRouter) haltBot(ctx context.Context, b *bot.Bot, cb *models.CallbackQuery, msg *models.Message, userID int64, ids []int64) {
	log := h.deps.Logger.With("handler", "menu")

	bd, err := h.ownedBot(ctx, userID, ids)
	if err != nil || bd == nil {
		h.answer(ctx, b, cb.ID, "Bot not found")
		return
	}

	stopped := h.deps.Supervisor.Stop(bd.Token)
	if err := h.deps.Store.SetBotActive(ctx, bd.ID, false); err != nil {
		log.ErrorContext(ctx, "Failed to persist active flag", "bot_id", bd.ID, "error", err)
	}

	if !stopped {
		h.alert(ctx, b, cb.ID, "❌ The bot was not running.")
		return
	}
	h.answer(ctx, b, cb.ID, "✅ Bot stopped")
	if err := h.edit(ctx, b, msg, fmt.Sprintf("Bot @%s is stopped.", bd.Username), botMenuKeyboard(bd.ID)); err != nil {
		log.ErrorContext(ctx, "Failed to refresh bot menu", "error", err)
	}
}

func (h callbackRouter) showStatus(ctx context.Context, b *bot.Bot, cb *models.CallbackQuery, ids []int64) {
	bd, err := h.deps.Store.GetBot(ctx, ids[0])
	if err != nil || bd == nil {
		h.answer(ctx, b, cb.ID, "Bot not found")
		return
	}
	if h.deps.Supervisor.IsRunning(bd.Token) {
		h.alert(ctx, b, cb.ID, fmt.Sprintf("🟢 @%s is running", bd.Username))
	} else {
		h.alert(ctx, b, cb.ID, fmt.Sprintf("🔴 @%s is stopped", bd.Username))
	}
}

func (h callbackRouter) deleteBot(ctx context.Context, b *bot.Bot, msg *models.Message, userID int64, ids []int64) error {
	bd, err := h.ownedBot(ctx, userID, ids)
	if err != nil {
		return err
	}
	if bd == nil {
		return h.edit(ctx, b, msg, "Bot not found.", backKeyboard("my_bots"))
	}

	h.deps.Supervisor.Stop(bd.Token)
	if err := h.deps.Store.DeleteBot(ctx, bd.ID); err != nil {
		return err
	}
	return h.edit(ctx, b, msg, fmt.Sprintf("🗑 Bot @%s and all its data deleted.", bd.Username), mainMenuKeyboard())
}

// ownedBot loads a bot definition and checks it belongs to the caller.
// Returns nil, nil when absent or owned by someone else.
func (h callbackRouter) ownedBot(ctx context.Context, userID int64, ids []int64) (*database.BotDefinition, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	bd, err := h.deps.Store.GetBot(ctx, ids[0])
	if err != nil {
		return nil, err
	}
	if bd == nil || bd.OwnerID != userID {
		return nil, nil
	}
	return bd, nil
}

func (h callbackRouter) edit(ctx context.Context, b *bot.Bot, msg *models.Message, text string, kb models.ReplyMarkup) error {
	_, err := b.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      msg.Chat.ID,
		MessageID:   msg.ID,
		Text:        text,
		ReplyMarkup: kb,
	})
	if err != nil {
		// Editing fails when the menu message is too old or unchanged;
		// fall back to a fresh message so the user is never stuck.
		_, err = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      msg.Chat.ID,
			Text:        text,
			ReplyMarkup: kb,
		})
	}
	return err
}

func (h callbackRouter) answer(ctx context.Context, b *bot.Bot, callbackID, text string) {
	_, _ = b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
}

func (h callbackRouter) alert(ctx context.Context, b *bot.Bot, callbackID, text string) {
	_, _ = b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       true,
	})
}

// parseIDs parses the numeric segments of callback data. Malformed
// segments parse as zero, which no row id ever matches.
func parseIDs(args string) []int64 {
	if args == "" {
		return []int64{0, 0, 0}
	}
	parts := strings.Split(args, ":")
	ids := make([]int64, 0, 3)
	for _, p := range parts {
		id, _ := strconv.ParseInt(p, 10, 64)
		ids = append(ids, id)
	}
	for len(ids) < 3 {
		ids = append(ids, 0)
	}
	return ids
}
