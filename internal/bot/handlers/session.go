package handlers

import "sync"

// WizardState identifies what the next plain-text message from a
// constructor user means.
type WizardState int

const (
	StateNone WizardState = iota
	StateAwaitToken
	StateCreateScene
	StateAddMessage
	StateAddButton
	StateAddAlias
	StateSetStartScene
)

// Session is the per-user authoring state of the chat wizard.
type Session struct {
	State      WizardState
	BotID      int64
	SceneRowID int64
	MessageID  int64
}

// SessionStore keeps wizard sessions in process memory, keyed by the
// constructor user's id. Sessions are transient; losing them on restart
// only cancels an in-progress prompt.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]Session)}
}

// Get returns the current session for a user, zero-valued if none.
func (s *SessionStore) Get(userID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[userID]
}

// Set replaces the session for a user.
func (s *SessionStore) Set(userID int64, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = sess
}

// Clear removes the session for a user.
func (s *SessionStore) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}
