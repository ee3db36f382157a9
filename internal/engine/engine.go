// Package engine implements the per-bot variable engine: a tiny expression
// language over per-user key/value state, alias resolution, and placeholder
// substitution in scene text.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/kneolab/kneobot/internal/database"
)

// Well-known computed variables available to every scene text. They resolve
// from the inbound event when the author has not set them explicitly.
const (
	VarUserName   = "name_user"
	VarUserID     = "ID_user"
	VarUserHandle = "user_user"
)

var placeholderRe = regexp.MustCompile(`##(\w+)##`)

// Engine evaluates variable expressions for one bot. Arithmetic is int64;
// values beyond that range are not supported. Aliases are loaded once per
// engine and scanned in stored order, so reverse lookups are deterministic:
// the first stored alias with a matching value wins.
type Engine struct {
	store  database.Store
	botID  int64
	logger *slog.Logger

	aliases     []database.Alias
	aliasByName map[string]int64
}

// New creates an Engine for one bot. Call LoadAliases before Evaluate.
func New(store database.Store, botID int64, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		store:       store,
		botID:       botID,
		logger:      logger.With("component", "engine", "bot_id", botID),
		aliasByName: map[string]int64{},
	}
}

// LoadAliases reads the bot's alias table into the engine.
func (e *Engine) LoadAliases(ctx context.Context) error {
	aliases, err := e.store.ListAliases(ctx, e.botID)
	if err != nil {
		return fmt.Errorf("failed to load aliases: %w", err)
	}
	e.aliases = aliases
	e.aliasByName = make(map[string]int64, len(aliases))
	for _, a := range aliases {
		e.aliasByName[a.Alias] = a.Value
	}
	return nil
}

// Evaluate applies a single expression to one end user's state and returns
// whether it succeeded along with a human-readable outcome message.
// Supported forms, checked in this order with first-occurrence splitting:
//
//	NAME == VALUE   assignment (VALUE resolved through aliases)
//	NAME ++ INT     increment
//	NAME -- INT     decrement
//
// Failures are reported in the return values, never as errors: a broken
// button action must not take the worker down.
func (e *Engine) Evaluate(ctx context.Context, userID int64, expression string) (bool, string) {
	expr := strings.TrimSpace(expression)

	switch {
	case strings.Contains(expr, "=="):
		return e.assign(ctx, userID, expr)
	case strings.Contains(expr, "++"):
		return e.shift(ctx, userID, expr, "++", 1)
	case strings.Contains(expr, "--"):
		return e.shift(ctx, userID, expr, "--", -1)
	default:
		return false, fmt.Sprintf("❌ Invalid expression: %s", expr)
	}
}

func (e *Engine) assign(ctx context.Context, userID int64, expr string) (bool, string) {
	parts := strings.SplitN(expr, "==", 2)
	name := strings.TrimSpace(parts[0])
	value := strings.TrimSpace(parts[1])
	if name == "" {
		return false, fmt.Sprintf("❌ Invalid expression: %s", expr)
	}

	// Store the canonical representation: a known alias is replaced by the
	// string form of its integer value.
	if v, ok := e.aliasByName[value]; ok {
		value = strconv.FormatInt(v, 10)
	}

	if err := e.store.SetUserVariable(ctx, e.botID, userID, name, value); err != nil {
		e.logger.ErrorContext(ctx, "Failed to store variable", "name", name, "user_id", userID, "error", err)
		return false, "❌ Could not save the value, please try again"
	}
	return true, fmt.Sprintf("✅ %s = %s", name, value)
}

func (e *Engine) shift(ctx context.Context, userID int64, expr, op string, sign int64) (bool, string) {
	parts := strings.SplitN(expr, op, 2)
	name := strings.TrimSpace(parts[0])
	operand := strings.TrimSpace(parts[1])
	if name == "" {
		return false, fmt.Sprintf("❌ Invalid expression: %s", expr)
	}

	delta, err := strconv.ParseInt(operand, 10, 64)
	if err != nil {
		return false, fmt.Sprintf("❌ Invalid number: %s", operand)
	}

	current, set, err := e.store.GetUserVariable(ctx, e.botID, userID, name)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to read variable", "name", name, "user_id", userID, "error", err)
		return false, "❌ Could not read the value, please try again"
	}

	cur := int64(0)
	if set {
		cur = e.numericValue(current)
	}

	newNum := cur + sign*delta
	newValue := strconv.FormatInt(newNum, 10)
	// Reverse alias lookup: first stored alias with this value wins.
	for _, a := range e.aliases {
		if a.Value == newNum {
			newValue = a.Alias
			break
		}
	}

	if err := e.store.SetUserVariable(ctx, e.botID, userID, name, newValue); err != nil {
		e.logger.ErrorContext(ctx, "Failed to store variable", "name", name, "user_id", userID, "error", err)
		return false, "❌ Could not save the value, please try again"
	}
	return true, fmt.Sprintf("✅ %s is now %s", name, newValue)
}

// numericValue interprets a stored variable value as an integer: a known
// alias resolves to its bound value, anything unparseable reads as zero.
func (e *Engine) numericValue(value string) int64 {
	if v, ok := e.aliasByName[value]; ok {
		return v
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ResolvePlaceholders replaces every ##name## token in text with the
// corresponding value from vars. Tokens with no matching variable are left
// verbatim so partially configured scenes remain legible to the author.
func ResolvePlaceholders(text string, vars map[string]string) string {
	if text == "" {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.Trim(match, "#")
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}
