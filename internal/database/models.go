package database

import "time"

// BotDefinition is one managed bot registered with the constructor. The
// token is the upstream Bot API secret and is unique across all owners.
type BotDefinition struct {
	ID         int64     `db:"id"`
	OwnerID    int64     `db:"owner_id"`
	Token      string    `db:"token"`
	Username   string    `db:"username"`
	IsActive   bool      `db:"is_active"`
	StartScene string    `db:"start_scene"`
	CreatedAt  time.Time `db:"created_at"`
}

// Scene is one "screen" of a managed bot: an ordered set of messages with
// attached buttons. SceneID is the author-chosen identifier, unique within
// its bot; ID is the database row id.
type Scene struct {
	ID        int64     `db:"id"`
	BotID     int64     `db:"bot_id"`
	SceneID   string    `db:"scene_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// Message content kinds.
const (
	KindText  = "text"
	KindPhoto = "photo"
	KindVideo = "video"
)

// Message is one outbound item of a scene, ordered by Seq starting at 1.
// Body may contain ##name## placeholder tokens. MediaRef is an opaque
// file reference for photo and video kinds.
type Message struct {
	ID       int64  `db:"id"`
	SceneID  int64  `db:"scene_id"`
	Seq      int64  `db:"seq"`
	Body     string `db:"body"`
	Kind     string `db:"kind"`
	MediaRef string `db:"media_ref"`
}

// Button is one inline button attached to a message, ordered by Seq scoped
// to that message. Action holds the raw action string (goto targets and
// variable expressions, semicolon-separated).
type Button struct {
	ID        int64  `db:"id"`
	MessageID int64  `db:"message_id"`
	Seq       int64  `db:"seq"`
	Label     string `db:"label"`
	Action    string `db:"action"`
}

// Alias binds a human-readable label to an integer for one bot, so
// variables can display meaningful text while remaining arithmetically
// manipulable.
type Alias struct {
	BotID int64  `db:"bot_id"`
	Alias string `db:"alias"`
	Value int64  `db:"value"`
}

// UserVariable is one (bot, end user, name) -> value entry. Values are
// stored as strings; unset variables read as integer zero for arithmetic.
type UserVariable struct {
	BotID  int64  `db:"bot_id"`
	UserID int64  `db:"user_id"`
	Name   string `db:"name"`
	Value  string `db:"value"`
}
