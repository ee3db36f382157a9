// Package gateway abstracts the chat platform used to deliver managed-bot
// content. Workers depend only on this interface and on the success or
// failure of its operations, never on the wire format.
package gateway

import "context"

// MessageRef identifies one delivered message for later edits or deletion.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// ButtonRow is one rendered keyboard row: a label and the opaque callback
// key that maps an inbound press back to the stored button.
type ButtonRow struct {
	Label       string
	CallbackKey string
}

// Gateway is the outbound messaging surface of one live bot connection.
type Gateway interface {
	// Identity performs a lightweight "who am I" call and returns the
	// bot's own handle. Used to validate tokens before registering workers.
	Identity(ctx context.Context) (string, error)

	// SendText delivers a text message with an optional button layout.
	SendText(ctx context.Context, chatID int64, text string, kb []ButtonRow) (MessageRef, error)

	// SendPhoto delivers a photo by opaque media reference with a caption.
	SendPhoto(ctx context.Context, chatID int64, mediaRef, caption string, kb []ButtonRow) (MessageRef, error)

	// SendVideo delivers a video by opaque media reference with a caption.
	SendVideo(ctx context.Context, chatID int64, mediaRef, caption string, kb []ButtonRow) (MessageRef, error)

	// EditText replaces the text and keyboard of a prior text message.
	EditText(ctx context.Context, ref MessageRef, text string, kb []ButtonRow) error

	// EditMedia replaces the media and caption of a prior media message.
	EditMedia(ctx context.Context, ref MessageRef, kind, mediaRef, caption string, kb []ButtonRow) error

	// DeleteMessage removes a prior message.
	DeleteMessage(ctx context.Context, ref MessageRef) error

	// AnswerCallback acknowledges a button press, optionally surfacing a
	// short non-blocking notice (or an alert) to the pressing user.
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// EventKind classifies inbound events a worker reacts to.
type EventKind int

const (
	// EventStart is the start-trigger command of a managed bot.
	EventStart EventKind = iota
	// EventButton is an inline button press.
	EventButton
)

// User is the inbound sender identity used for computed variables.
type User struct {
	ID     int64
	Name   string
	Handle string
}

// Event is one inbound occurrence a worker processes. For EventButton,
// CallbackID acknowledges the press and CallbackKey resolves the stored
// button; Origin references the message carrying the pressed keyboard.
type Event struct {
	Kind        EventKind
	ChatID      int64
	From        User
	CallbackID  string
	CallbackKey string
	Origin      MessageRef
}
