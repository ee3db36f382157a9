package worker_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kneolab/kneobot/internal/config"
	"github.com/kneolab/kneobot/internal/database"
	"github.com/kneolab/kneobot/internal/gateway"
	"github.com/kneolab/kneobot/internal/renderer"
	"github.com/kneolab/kneobot/internal/worker"
)

var testMessages = config.MessagesConfig{
	Watermark:         "built with the constructor",
	StartSceneMissing: "start scene missing",
	SceneNotFound:     "scene %q does not exist",
	EmptyScene:        "empty scene",
	UnknownButton:     "unknown button",
	GeneralError:      "general error",
}

type sentMessage struct {
	Kind   string
	ChatID int64
	Text   string
	Keys   []string
}

type editRecord struct {
	Ref  gateway.MessageRef
	Kind string
	Text string
}

type answerRecord struct {
	CallbackID string
	Text       string
	Alert      bool
}

// fakeClient implements worker.Client in memory and records every call.
type fakeClient struct {
	mu       sync.Mutex
	username string
	identErr error
	editErr  error

	nextMsgID int
	sent      []sentMessage
	edits     []editRecord
	deleted   []gateway.MessageRef
	answers   []answerRecord
}

func (f *fakeClient) Run(ctx context.Context) { <-ctx.Done() }

func (f *fakeClient) Identity(ctx context.Context) (string, error) {
	if f.identErr != nil {
		return "", f.identErr
	}
	return f.username, nil
}

func (f *fakeClient) send(kind string, chatID int64, text string, kb []gateway.ButtonRow) (gateway.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgID++
	keys := make([]string, 0, len(kb))
	for _, row := range kb {
		keys = append(keys, row.CallbackKey)
	}
	f.sent = append(f.sent, sentMessage{Kind: kind, ChatID: chatID, Text: text, Keys: keys})
	return gateway.MessageRef{ChatID: chatID, MessageID: f.nextMsgID}, nil
}

func (f *fakeClient) SendText(ctx context.Context, chatID int64, text string, kb []gateway.ButtonRow) (gateway.MessageRef, error) {
	return f.send(database.KindText, chatID, text, kb)
}

func (f *fakeClient) SendPhoto(ctx context.Context, chatID int64, mediaRef, caption string, kb []gateway.ButtonRow) (gateway.MessageRef, error) {
	return f.send(database.KindPhoto, chatID, caption, kb)
}

func (f *fakeClient) SendVideo(ctx context.Context, chatID int64, mediaRef, caption string, kb []gateway.ButtonRow) (gateway.MessageRef, error) {
	return f.send(database.KindVideo, chatID, caption, kb)
}

func (f *fakeClient) EditText(ctx context.Context, ref gateway.MessageRef, text string, kb []gateway.ButtonRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, editRecord{Ref: ref, Kind: database.KindText, Text: text})
	return nil
}

func (f *fakeClient) EditMedia(ctx context.Context, ref gateway.MessageRef, kind, mediaRef, caption string, kb []gateway.ButtonRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, editRecord{Ref: ref, Kind: kind, Text: caption})
	return nil
}

func (f *fakeClient) DeleteMessage(ctx context.Context, ref gateway.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeClient) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answerRecord{CallbackID: callbackID, Text: text, Alert: alert})
	return nil
}

// fixture is a migrated store with one bot, its start scene, and the rank
// alias ladder.
type fixture struct {
	store database.Store
	def   database.BotDefinition
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil)

	botID, err := store.CreateBot(ctx, 100, "111:aaa", "testbot")
	if err != nil {
		t.Fatalf("CreateBot failed: %v", err)
	}
	def, err := store.GetBot(ctx, botID)
	if err != nil || def == nil {
		t.Fatalf("GetBot failed: %v", err)
	}

	for _, a := range []struct {
		alias string
		value int64
	}{
		{"Novice", 0},
		{"Veteran", 2},
	} {
		if err := store.UpsertAlias(ctx, botID, a.alias, a.value); err != nil {
			t.Fatalf("UpsertAlias failed: %v", err)
		}
	}

	return &fixture{store: store, def: *def}
}

// addScene creates a scene with one text message per body and returns the
// scene row id plus the created message ids.
func (fx *fixture) addScene(t *testing.T, sceneID string, bodies ...string) (int64, []int64) {
	t.Helper()
	ctx := context.Background()

	rowID, err := fx.store.CreateScene(ctx, fx.def.ID, sceneID, "")
	if err != nil {
		t.Fatalf("CreateScene(%q) failed: %v", sceneID, err)
	}
	var msgIDs []int64
	for _, body := range bodies {
		id, err := fx.store.AppendMessage(ctx, rowID, body, database.KindText, "")
		if err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
		msgIDs = append(msgIDs, id)
	}
	return rowID, msgIDs
}

func (fx *fixture) addButton(t *testing.T, msgID int64, label, action string) int64 {
	t.Helper()
	id, err := fx.store.AppendButton(context.Background(), msgID, label, action)
	if err != nil {
		t.Fatalf("AppendButton failed: %v", err)
	}
	return id
}

func newTestWorker(fx *fixture) (*worker.Worker, *fakeClient) {
	client := &fakeClient{username: "testbot"}
	w := worker.NewWorker(fx.def, fx.store, testMessages, nil)
	w.AttachClient(client)
	return w, client
}

func startEvent(chatID int64) gateway.Event {
	return gateway.Event{
		Kind:   gateway.EventStart,
		ChatID: chatID,
		From:   gateway.User{ID: chatID, Name: "Alice", Handle: "alice"},
	}
}

func buttonEvent(chatID int64, key string) gateway.Event {
	return gateway.Event{
		Kind:        gateway.EventButton,
		ChatID:      chatID,
		From:        gateway.User{ID: chatID, Name: "Alice", Handle: "alice"},
		CallbackID:  "cb-1",
		CallbackKey: key,
	}
}

func TestHandleStart_WatermarkOnce(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.addScene(t, "start", "Welcome ##name_user##!")
	w, client := newTestWorker(fx)
	ctx := context.Background()

	w.HandleEvent(ctx, startEvent(7))
	w.HandleEvent(ctx, startEvent(7))

	var got []string
	for _, m := range client.sent {
		got = append(got, m.Text)
	}
	want := []string{
		testMessages.Watermark,
		"Welcome Alice!",
		"Welcome Alice!",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("delivered texts mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleStart_MissingStartScene(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	w, client := newTestWorker(fx)

	w.HandleEvent(context.Background(), startEvent(7))

	if len(client.sent) != 2 {
		t.Fatalf("sent %d messages, want watermark plus notice", len(client.sent))
	}
	if client.sent[1].Text != testMessages.StartSceneMissing {
		t.Errorf("notice = %q, want %q", client.sent[1].Text, testMessages.StartSceneMissing)
	}
}

func TestHandleButton_ActionChainContinuesPastFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	_, msgIDs := fx.addScene(t, "start", "Hello")
	btnID := fx.addButton(t, msgIDs[0], "Go", "stars ++ 5;bogus;rank == Veteran")
	w, client := newTestWorker(fx)
	ctx := context.Background()

	key := renderer.ButtonRef{ID: btnID}.CallbackKey()
	w.HandleEvent(ctx, buttonEvent(7, key))

	// Both valid steps applied despite the failing middle step.
	value, _, err := fx.store.GetUserVariable(ctx, fx.def.ID, 7, "stars")
	if err != nil || value != "5" {
		t.Errorf("stars = %q (err %v), want 5", value, err)
	}
	value, _, err = fx.store.GetUserVariable(ctx, fx.def.ID, 7, "rank")
	if err != nil || value != "2" {
		t.Errorf("rank = %q (err %v), want 2", value, err)
	}

	// The failing step surfaced as an alert, then the callback was acked.
	if len(client.answers) != 2 {
		t.Fatalf("answers = %d, want alert plus ack", len(client.answers))
	}
	if !client.answers[0].Alert || client.answers[0].Text == "" {
		t.Errorf("first answer = %+v, want alert with message", client.answers[0])
	}
	if client.answers[1].Alert || client.answers[1].Text != "" {
		t.Errorf("final answer = %+v, want plain ack", client.answers[1])
	}
}

func TestHandleButton_GotoEditsInPlace(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	_, msgIDs := fx.addScene(t, "start", "Hello")
	fx.addScene(t, "menu", "The menu")
	btnID := fx.addButton(t, msgIDs[0], "Go", "goto:menu")
	w, client := newTestWorker(fx)
	ctx := context.Background()

	w.HandleEvent(ctx, startEvent(7))
	sentBefore := len(client.sent)

	key := renderer.ButtonRef{ID: btnID}.CallbackKey()
	w.HandleEvent(ctx, buttonEvent(7, key))

	if len(client.sent) != sentBefore {
		t.Errorf("sent %d new messages during goto, want edit in place", len(client.sent)-sentBefore)
	}
	if len(client.edits) != 1 || client.edits[0].Text != "The menu" {
		t.Errorf("edits = %+v, want single edit to menu text", client.edits)
	}
}

func TestHandleButton_EditFailureFallsBackToResend(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	_, msgIDs := fx.addScene(t, "start", "Hello")
	fx.addScene(t, "menu", "The menu")
	btnID := fx.addButton(t, msgIDs[0], "Go", "goto:menu")
	w, client := newTestWorker(fx)
	ctx := context.Background()

	w.HandleEvent(ctx, startEvent(7))
	client.editErr = fmt.Errorf("message is too old")
	sentBefore := len(client.sent)

	key := renderer.ButtonRef{ID: btnID}.CallbackKey()
	w.HandleEvent(ctx, buttonEvent(7, key))

	if len(client.deleted) != 1 {
		t.Errorf("deleted %d messages, want the stale one removed", len(client.deleted))
	}
	if len(client.sent) != sentBefore+1 {
		t.Fatalf("sent %d new messages, want 1 resend", len(client.sent)-sentBefore)
	}
	if got := client.sent[len(client.sent)-1].Text; got != "The menu" {
		t.Errorf("resent text = %q, want The menu", got)
	}
}

func TestHandleButton_UnknownKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
	}{
		{name: "foreign callback data", key: "not-a-button"},
		{name: "absent button id", key: "btn:9999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fx := newFixture(t)
			fx.addScene(t, "start", "Hello")
			w, client := newTestWorker(fx)

			w.HandleEvent(context.Background(), buttonEvent(7, tt.key))

			if len(client.answers) != 1 {
				t.Fatalf("answers = %d, want 1", len(client.answers))
			}
			got := client.answers[0]
			if !got.Alert || got.Text != testMessages.UnknownButton {
				t.Errorf("answer = %+v, want unknown-button alert", got)
			}
		})
	}
}

func TestHandleButton_GotoMissingScene(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	_, msgIDs := fx.addScene(t, "start", "Hello")
	btnID := fx.addButton(t, msgIDs[0], "Go", "goto:nowhere")
	w, client := newTestWorker(fx)

	key := renderer.ButtonRef{ID: btnID}.CallbackKey()
	w.HandleEvent(context.Background(), buttonEvent(7, key))

	want := fmt.Sprintf(testMessages.SceneNotFound, "nowhere")
	if len(client.answers) == 0 || client.answers[0].Text != want {
		t.Errorf("answers = %+v, want alert %q", client.answers, want)
	}
}

func TestHandleStart_EmptyScenePlaceholder(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.addScene(t, "start")
	w, client := newTestWorker(fx)

	w.HandleEvent(context.Background(), startEvent(7))

	if len(client.sent) != 2 {
		t.Fatalf("sent %d messages, want watermark plus placeholder", len(client.sent))
	}
	if client.sent[1].Text != testMessages.EmptyScene {
		t.Errorf("placeholder = %q, want %q", client.sent[1].Text, testMessages.EmptyScene)
	}
}
