package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"
)

// Authoring-time validation errors. These are reported back to the bot
// author, never treated as fatal.
var (
	ErrDuplicateScene    = errors.New("scene already exists")
	ErrInvalidIdentifier = errors.New("invalid scene identifier")
)

// sceneIdentRe is the allowed token pattern for author-chosen scene ids.
var sceneIdentRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Store defines the interface for database operations. All methods accept
// a context for cancellation; every logical operation is a single committed
// statement so interleaving across workers is safe.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error

	// CreateBot inserts a new bot definition and returns its id.
	CreateBot(ctx context.Context, ownerID int64, token, username string) (int64, error)

	// GetBot retrieves a bot definition by id. Returns nil, nil if not found.
	GetBot(ctx context.Context, id int64) (*BotDefinition, error)

	// GetBotByToken retrieves a bot definition by its upstream token.
	// Returns nil, nil if not found.
	GetBotByToken(ctx context.Context, token string) (*BotDefinition, error)

	// ListBotsByOwner retrieves all bots owned by a constructor user,
	// newest first.
	ListBotsByOwner(ctx context.Context, ownerID int64) ([]BotDefinition, error)

	// ListActiveBots retrieves every bot definition whose active flag is set.
	ListActiveBots(ctx context.Context) ([]BotDefinition, error)

	// SetBotActive toggles the active flag of a bot definition.
	SetBotActive(ctx context.Context, id int64, active bool) error

	// SetStartScene updates the designated start scene identifier.
	SetStartScene(ctx context.Context, id int64, sceneID string) error

	// DeleteBot removes a bot definition and, via cascade, all of its
	// scenes, messages, buttons, aliases, and user variables.
	DeleteBot(ctx context.Context, id int64) error

	// CreateScene creates a scene. Fails with ErrInvalidIdentifier if
	// sceneID doesn't match the allowed token pattern, and with
	// ErrDuplicateScene if (botID, sceneID) already exists.
	CreateScene(ctx context.Context, botID int64, sceneID, name string) (int64, error)

	// GetScene retrieves a scene by its author-chosen identifier.
	// Returns nil, nil if not found.
	GetScene(ctx context.Context, botID int64, sceneID string) (*Scene, error)

	// GetSceneByID retrieves a scene by row id. Returns nil, nil if not found.
	GetSceneByID(ctx context.Context, id int64) (*Scene, error)

	// ListScenes retrieves all scenes of a bot in creation order.
	ListScenes(ctx context.Context, botID int64) ([]Scene, error)

	// DeleteScene removes a scene and, via cascade, its messages and buttons.
	DeleteScene(ctx context.Context, id int64) error

	// AppendMessage adds a message at the end of a scene and returns the
	// new row id. The sequence number is assigned atomically relative to
	// concurrent appends on the same scene.
	AppendMessage(ctx context.Context, sceneRowID int64, body, kind, mediaRef string) (int64, error)

	// ListMessages retrieves all messages of a scene ascending by sequence.
	ListMessages(ctx context.Context, sceneRowID int64) ([]Message, error)

	// DeleteMessage removes a message and its buttons. Deleting a
	// non-existent id is a no-op.
	DeleteMessage(ctx context.Context, id int64) error

	// AppendButton adds a button at the end of a message's button list and
	// returns the new row id.
	AppendButton(ctx context.Context, messageID int64, label, action string) (int64, error)

	// ListButtons retrieves all buttons of a message ascending by sequence.
	ListButtons(ctx context.Context, messageID int64) ([]Button, error)

	// GetBotButton retrieves a button by id, constrained to the given bot
	// so one bot's callbacks can never resolve another bot's buttons.
	// Returns nil, nil if not found.
	GetBotButton(ctx context.Context, botID, buttonID int64) (*Button, error)

	// DeleteButton removes a button. Deleting a non-existent id is a no-op.
	DeleteButton(ctx context.Context, id int64) error

	// UpsertAlias creates or replaces an alias binding for a bot.
	UpsertAlias(ctx context.Context, botID int64, alias string, value int64) error

	// ListAliases retrieves a bot's aliases in their stored order. The
	// order matters: reverse lookups pick the first alias whose value
	// matches.
	ListAliases(ctx context.Context, botID int64) ([]Alias, error)

	// GetUserVariable reads one variable. The second return reports
	// whether the variable was set.
	GetUserVariable(ctx context.Context, botID, userID int64, name string) (string, bool, error)

	// SetUserVariable writes one variable, creating it if absent.
	SetUserVariable(ctx context.Context, botID, userID int64, name, value string) error

	// ListUserVariables retrieves all variables of one end user of one bot.
	ListUserVariables(ctx context.Context, botID, userID int64) (map[string]string, error)
}

// sqlxStore implements Store using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx. It requires
// a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	for _, stmt := range []string{"VACUUM;", "ANALYZE;"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("maintenance statement %q failed: %w", stmt, err)
		}
	}
	s.logger.InfoContext(ctx, "SQL maintenance completed")
	return nil
}

func (s *sqlxStore) CreateBot(ctx context.Context, ownerID int64, token, username string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bots (owner_id, token, username) VALUES (?, ?, ?)`,
		ownerID, token, username)
	if err != nil {
		return 0, fmt.Errorf("failed to create bot for owner %d: %w", ownerID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new bot id: %w", err)
	}
	s.logger.DebugContext(ctx, "Bot definition created", "bot_id", id, "owner_id", ownerID)
	return id, nil
}

func (s *sqlxStore) GetBot(ctx context.Context, id int64) (*BotDefinition, error) {
	var b BotDefinition
	err := s.db.GetContext(ctx, &b, `SELECT * FROM bots WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot %d: %w", id, err)
	}
	return &b, nil
}

func (s *sqlxStore) GetBotByToken(ctx context.Context, token string) (*BotDefinition, error) {
	var b BotDefinition
	err := s.db.GetContext(ctx, &b, `SELECT * FROM bots WHERE token = ?`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot by token: %w", err)
	}
	return &b, nil
}

func (s *sqlxStore) ListBotsByOwner(ctx context.Context, ownerID int64) ([]BotDefinition, error) {
	var bots []BotDefinition
	err := s.db.SelectContext(ctx, &bots,
		`SELECT * FROM bots WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots for owner %d: %w", ownerID, err)
	}
	return bots, nil
}

func (s *sqlxStore) ListActiveBots(ctx context.Context) ([]BotDefinition, error) {
	var bots []BotDefinition
	err := s.db.SelectContext(ctx, &bots, `SELECT * FROM bots WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active bots: %w", err)
	}
	return bots, nil
}

func (s *sqlxStore) SetBotActive(ctx context.Context, id int64, active bool) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE bots SET is_active = ? WHERE id = ?`, active, id); err != nil {
		return fmt.Errorf("failed to update active flag for bot %d: %w", id, err)
	}
	return nil
}

func (s *sqlxStore) SetStartScene(ctx context.Context, id int64, sceneID string) error {
	if !sceneIdentRe.MatchString(sceneID) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, sceneID)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE bots SET start_scene = ? WHERE id = ?`, sceneID, id); err != nil {
		return fmt.Errorf("failed to update start scene for bot %d: %w", id, err)
	}
	return nil
}

func (s *sqlxStore) DeleteBot(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete bot %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "Bot definition deleted", "bot_id", id)
	return nil
}

func (s *sqlxStore) CreateScene(ctx context.Context, botID int64, sceneID, name string) (int64, error) {
	if !sceneIdentRe.MatchString(sceneID) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentifier, sceneID)
	}
	if name == "" {
		name = "Scene " + sceneID
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scenes (bot_id, scene_id, name) VALUES (?, ?, ?)`,
		botID, sceneID, name)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %q", ErrDuplicateScene, sceneID)
		}
		return 0, fmt.Errorf("failed to create scene %q for bot %d: %w", sceneID, botID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new scene id: %w", err)
	}
	s.logger.DebugContext(ctx, "Scene created", "bot_id", botID, "scene_id", sceneID)
	return id, nil
}

func (s *sqlxStore) GetScene(ctx context.Context, botID int64, sceneID string) (*Scene, error) {
	var sc Scene
	err := s.db.GetContext(ctx, &sc,
		`SELECT * FROM scenes WHERE bot_id = ? AND scene_id = ?`, botID, sceneID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scene %q for bot %d: %w", sceneID, botID, err)
	}
	return &sc, nil
}

func (s *sqlxStore) GetSceneByID(ctx context.Context, id int64) (*Scene, error) {
	var sc Scene
	err := s.db.GetContext(ctx, &sc, `SELECT * FROM scenes WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scene %d: %w", id, err)
	}
	return &sc, nil
}

func (s *sqlxStore) ListScenes(ctx context.Context, botID int64) ([]Scene, error) {
	var scenes []Scene
	err := s.db.SelectContext(ctx, &scenes,
		`SELECT * FROM scenes WHERE bot_id = ? ORDER BY created_at, id`, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenes for bot %d: %w", botID, err)
	}
	return scenes, nil
}

func (s *sqlxStore) DeleteScene(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scenes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete scene %d: %w", id, err)
	}
	return nil
}

func (s *sqlxStore) AppendMessage(ctx context.Context, sceneRowID int64, body, kind, mediaRef string) (int64, error) {
	// Single statement so the next sequence number is assigned atomically
	// relative to concurrent appends on the same scene.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (scene_id, seq, body, kind, media_ref)
		 SELECT ?, COUNT(*) + 1, ?, ?, ? FROM messages WHERE scene_id = ?`,
		sceneRowID, body, kind, mediaRef, sceneRowID)
	if err != nil {
		return 0, fmt.Errorf("failed to append message to scene %d: %w", sceneRowID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new message id: %w", err)
	}
	return id, nil
}

func (s *sqlxStore) ListMessages(ctx context.Context, sceneRowID int64) ([]Message, error) {
	var msgs []Message
	err := s.db.SelectContext(ctx, &msgs,
		`SELECT * FROM messages WHERE scene_id = ? ORDER BY seq`, sceneRowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for scene %d: %w", sceneRowID, err)
	}
	return msgs, nil
}

func (s *sqlxStore) DeleteMessage(ctx context.Context, id int64) error {
	// Idempotent: the authoring UI may race a double-tap.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete message %d: %w", id, err)
	}
	return nil
}

func (s *sqlxStore) AppendButton(ctx context.Context, messageID int64, label, action string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO buttons (message_id, seq, label, action)
		 SELECT ?, COUNT(*) + 1, ?, ? FROM buttons WHERE message_id = ?`,
		messageID, label, action, messageID)
	if err != nil {
		return 0, fmt.Errorf("failed to append button to message %d: %w", messageID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new button id: %w", err)
	}
	return id, nil
}

func (s *sqlxStore) ListButtons(ctx context.Context, messageID int64) ([]Button, error) {
	var btns []Button
	err := s.db.SelectContext(ctx, &btns,
		`SELECT * FROM buttons WHERE message_id = ? ORDER BY seq`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list buttons for message %d: %w", messageID, err)
	}
	return btns, nil
}

func (s *sqlxStore) GetBotButton(ctx context.Context, botID, buttonID int64) (*Button, error) {
	var b Button
	err := s.db.GetContext(ctx, &b,
		`SELECT b.* FROM buttons b
		 JOIN messages m ON m.id = b.message_id
		 JOIN scenes sc ON sc.id = m.scene_id
		 WHERE b.id = ? AND sc.bot_id = ?`,
		buttonID, botID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get button %d for bot %d: %w", buttonID, botID, err)
	}
	return &b, nil
}

func (s *sqlxStore) DeleteButton(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM buttons WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete button %d: %w", id, err)
	}
	return nil
}

func (s *sqlxStore) UpsertAlias(ctx context.Context, botID int64, alias string, value int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO aliases (bot_id, alias, value) VALUES (?, ?, ?)`,
		botID, alias, value)
	if err != nil {
		return fmt.Errorf("failed to upsert alias %q for bot %d: %w", alias, botID, err)
	}
	return nil
}

func (s *sqlxStore) ListAliases(ctx context.Context, botID int64) ([]Alias, error) {
	var aliases []Alias
	err := s.db.SelectContext(ctx, &aliases,
		`SELECT bot_id, alias, value FROM aliases WHERE bot_id = ? ORDER BY rowid`, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases for bot %d: %w", botID, err)
	}
	return aliases, nil
}

func (s *sqlxStore) GetUserVariable(ctx context.Context, botID, userID int64, name string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		`SELECT value FROM user_variables WHERE bot_id = ? AND user_id = ? AND name = ?`,
		botID, userID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get variable %q for bot %d user %d: %w", name, botID, userID, err)
	}
	return value, true, nil
}

func (s *sqlxStore) SetUserVariable(ctx context.Context, botID, userID int64, name, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO user_variables (bot_id, user_id, name, value) VALUES (?, ?, ?, ?)`,
		botID, userID, name, value)
	if err != nil {
		return fmt.Errorf("failed to set variable %q for bot %d user %d: %w", name, botID, userID, err)
	}
	return nil
}

func (s *sqlxStore) ListUserVariables(ctx context.Context, botID, userID int64) (map[string]string, error) {
	var rows []UserVariable
	err := s.db.SelectContext(ctx, &rows,
		`SELECT bot_id, user_id, name, value FROM user_variables WHERE bot_id = ? AND user_id = ?`,
		botID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variables for bot %d user %d: %w", botID, userID, err)
	}
	vars := make(map[string]string, len(rows))
	for _, r := range rows {
		vars[r.Name] = r.Value
	}
	return vars, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var sErr *sqlite.Error
	if errors.As(err, &sErr) {
		// SQLITE_CONSTRAINT_UNIQUE (2067) or SQLITE_CONSTRAINT_PRIMARYKEY (1555)
		return sErr.Code() == 2067 || sErr.Code() == 1555
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
