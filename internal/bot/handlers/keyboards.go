package handlers

import (
	"fmt"

	"github.com/go-telegram/bot/models"

	"github.com/kneolab/kneobot/internal/database"
)

func row(label, data string) []models.InlineKeyboardButton {
	return []models.InlineKeyboardButton{{Text: label, CallbackData: data}}
}

func mainMenuKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		row("🤖 My bots", "my_bots"),
		row("➕ Add a bot", "add_bot"),
		row("❓ Help", "help"),
	}}
}

func backKeyboard(target string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		row("↩️ Back", target),
	}}
}

func botListKeyboard(bots []database.BotDefinition) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(bots)+2)
	for _, b := range bots {
		rows = append(rows, row("@"+b.Username, fmt.Sprintf("bot:%d", b.ID)))
	}
	rows = append(rows, row("➕ Add a bot", "add_bot"), row("↩️ Back", "menu"))
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func botMenuKeyboard(botID int64) *models.InlineKeyboardMarkup {
	id := func(prefix string) string { return fmt.Sprintf("%s:%d", prefix, botID) }
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		row("📝 Create scene", id("newscene")),
		row("✏️ Edit scenes", id("scenes")),
		row("🔤 Add alias", id("alias")),
		row("🎬 Set start scene", id("startscene")),
		row("▶️ Start bot", id("run")),
		row("⏹ Stop bot", id("halt")),
		row("📊 Status", id("status")),
		row("🗑 Delete bot", id("rmbot")),
		row("↩️ Back to bots", "my_bots"),
	}}
}

func sceneListKeyboard(botID int64, scenes []database.Scene) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(scenes)+2)
	for _, sc := range scenes {
		rows = append(rows, row("✏️ "+sc.SceneID, fmt.Sprintf("scene:%d", sc.ID)))
	}
	rows = append(rows,
		row("📝 Create scene", fmt.Sprintf("newscene:%d", botID)),
		row("↩️ Back", fmt.Sprintf("bot:%d", botID)))
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func sceneMenuKeyboard(sc *database.Scene, msgs []database.Message) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(msgs)+2)
	for _, m := range msgs {
		label := fmt.Sprintf("💬 #%d %s", m.Seq, truncate(m.Body, 24))
		rows = append(rows, row(label, fmt.Sprintf("msg:%d:%d", sc.ID, m.ID)))
	}
	rows = append(rows,
		row("➕ Add message", fmt.Sprintf("addmsg:%d", sc.ID)),
		row("↩️ Back", fmt.Sprintf("scenes:%d", sc.BotID)))
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func messageMenuKeyboard(sceneRowID, messageID int64, buttons []database.Button) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(buttons)+3)
	for _, b := range buttons {
		rows = append(rows, row("🗑 "+truncate(b.Label, 24),
			fmt.Sprintf("delbtn:%d:%d:%d", sceneRowID, messageID, b.ID)))
	}
	rows = append(rows,
		row("➕ Add button", fmt.Sprintf("addbtn:%d:%d", sceneRowID, messageID)),
		row("🗑 Delete message", fmt.Sprintf("delmsg:%d:%d", sceneRowID, messageID)),
		row("↩️ Back", fmt.Sprintf("scene:%d", sceneRowID)))
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func confirmDeleteKeyboard(botID int64) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		row("🗑 Yes, delete everything", fmt.Sprintf("rmbot_yes:%d", botID)),
		row("↩️ Back", fmt.Sprintf("bot:%d", botID)),
	}}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
