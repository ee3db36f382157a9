package engine_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kneolab/kneobot/internal/database"
	"github.com/kneolab/kneobot/internal/engine"
)

const testUserID = int64(42)

// newTestEngine builds an engine over a fresh database with the classic
// rank ladder aliased: Novice=0, Rank1=1, Veteran=2.
func newTestEngine(t *testing.T) (*engine.Engine, database.Store, int64) {
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

	for _, a := range []struct {
		alias string
		value int64
	}{
		{"Novice", 0},
		{"Rank1", 1},
		{"Veteran", 2},
	} {
		if err := store.UpsertAlias(ctx, botID, a.alias, a.value); err != nil {
			t.Fatalf("UpsertAlias(%q) failed: %v", a.alias, err)
		}
	}

	eng := engine.New(store, botID, nil)
	if err := eng.LoadAliases(ctx); err != nil {
		t.Fatalf("LoadAliases failed: %v", err)
	}
	return eng, store, botID
}

func TestEvaluate_Assignment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		expr      string
		wantVar   string
		wantValue string
	}{
		{name: "plain number", expr: "stars == 5", wantVar: "stars", wantValue: "5"},
		{name: "alias canonicalized to number", expr: "rank == Veteran", wantVar: "rank", wantValue: "2"},
		{name: "unknown value stored verbatim", expr: "city == Riga", wantVar: "city", wantValue: "Riga"},
		{name: "no spaces around operator", expr: "stars==7", wantVar: "stars", wantValue: "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			eng, store, botID := newTestEngine(t)
			ctx := context.Background()

			ok, msg := eng.Evaluate(ctx, testUserID, tt.expr)
			if !ok {
				t.Fatalf("Evaluate(%q) failed: %s", tt.expr, msg)
			}

			value, set, err := store.GetUserVariable(ctx, botID, testUserID, tt.wantVar)
			if err != nil {
				t.Fatalf("GetUserVariable failed: %v", err)
			}
			if !set || value != tt.wantValue {
				t.Errorf("stored %s = %q, %v, want %q, true", tt.wantVar, value, set, tt.wantValue)
			}
		})
	}
}

func TestEvaluate_IncrementFromUnset(t *testing.T) {
	t.Parallel()

	eng, store, botID := newTestEngine(t)
	ctx := context.Background()

	// Unset variables read as zero, so the first increment lands on the
	// Rank1 alias.
	ok, msg := eng.Evaluate(ctx, testUserID, "rank ++ 1")
	if !ok {
		t.Fatalf("Evaluate failed: %s", msg)
	}

	value, _, err := store.GetUserVariable(ctx, botID, testUserID, "rank")
	if err != nil {
		t.Fatalf("GetUserVariable failed: %v", err)
	}
	if value != "Rank1" {
		t.Errorf("rank after first increment = %q, want Rank1", value)
	}
}

func TestEvaluate_AliasLadderRoundTrip(t *testing.T) {
	t.Parallel()

	eng, store, botID := newTestEngine(t)
	ctx := context.Background()

	steps := []struct {
		expr string
		want string
	}{
		{"rank == Novice", "0"},
		{"rank ++ 1", "Rank1"},
		{"rank ++ 1", "Veteran"},
		{"rank ++ 1", "3"},
		{"rank -- 1", "Veteran"},
		{"rank -- 2", "Novice"},
	}

	for _, step := range steps {
		ok, msg := eng.Evaluate(ctx, testUserID, step.expr)
		if !ok {
			t.Fatalf("Evaluate(%q) failed: %s", step.expr, msg)
		}
		value, _, err := store.GetUserVariable(ctx, botID, testUserID, "rank")
		if err != nil {
			t.Fatalf("GetUserVariable failed: %v", err)
		}
		if value != step.want {
			t.Fatalf("after %q rank = %q, want %q", step.expr, value, step.want)
		}
	}
}

func TestEvaluate_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		expr    string
		wantMsg string
	}{
		{name: "no operator", expr: "rank", wantMsg: "Invalid expression"},
		{name: "empty", expr: "", wantMsg: "Invalid expression"},
		{name: "non-numeric increment", expr: "rank ++ Veteran", wantMsg: "Invalid number"},
		{name: "non-numeric decrement", expr: "rank -- oops", wantMsg: "Invalid number"},
		{name: "missing name", expr: "== 5", wantMsg: "Invalid expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			eng, _, _ := newTestEngine(t)

			ok, msg := eng.Evaluate(context.Background(), testUserID, tt.expr)
			if ok {
				t.Fatalf("Evaluate(%q) succeeded, want failure", tt.expr)
			}
			if !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("Evaluate(%q) message = %q, want containing %q", tt.expr, msg, tt.wantMsg)
			}
		})
	}
}

func TestEvaluate_UserIsolation(t *testing.T) {
	t.Parallel()

	eng, store, botID := newTestEngine(t)
	ctx := context.Background()

	if ok, msg := eng.Evaluate(ctx, 1, "stars == 5"); !ok {
		t.Fatalf("Evaluate for first user failed: %s", msg)
	}

	_, set, err := store.GetUserVariable(ctx, botID, 2, "stars")
	if err != nil {
		t.Fatalf("GetUserVariable failed: %v", err)
	}
	if set {
		t.Error("variable set for a user who never acted")
	}
}

func TestResolvePlaceholders(t *testing.T) {
	t.Parallel()

	vars := map[string]string{
		"name_user": "Alice",
		"ID_user":   "42",
		"rank":      "Veteran",
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "known variables replaced",
			text: "Hi ##name_user##, your id is ##ID_user##.",
			want: "Hi Alice, your id is 42.",
		},
		{
			name: "unknown token left verbatim",
			text: "You hold ##stars## stars, ##rank##.",
			want: "You hold ##stars## stars, Veteran.",
		},
		{
			name: "no placeholders",
			text: "plain text",
			want: "plain text",
		},
		{
			name: "empty",
			text: "",
			want: "",
		},
		{
			name: "repeated token",
			text: "##rank## ##rank##",
			want: "Veteran Veteran",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := engine.ResolvePlaceholders(tt.text, vars); got != tt.want {
				t.Errorf("ResolvePlaceholders(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
