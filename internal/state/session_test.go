// internal/state/session_test.go
package state

import (
	"context"
	"errors"
	"testing"

	"github.com/user/arcadegent/internal/types"
)

func TestSessionStoreCreateAndLoad(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	id := types.SessionID("s_abc123")
	sess, err := store.Create(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if sess.SessionID != id {
		t.Errorf("got id %s, want %s", sess.SessionID, id)
	}
	if sess.ActiveSubagent != types.StageIntentRouter {
		t.Errorf("new session starts at %s, want intent_router", sess.ActiveSubagent)
	}

	// Create is idempotent.
	again, err := store.Create(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !again.CreatedAt.Equal(sess.CreatedAt) {
		t.Error("second create should return the existing session")
	}

	loaded, err := store.Load(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SessionID != id {
		t.Errorf("loaded id %s, want %s", loaded.SessionID, id)
	}
}

func TestSessionStoreLoadUnknown(t *testing.T) {
	store := NewSessionStore(t.TempDir())

	_, err := store.Load(context.Background(), "s_missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSessionStoreAppendTurns(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	id := types.SessionID("s_turns")
	if _, err := store.Create(ctx, id); err != nil {
		t.Fatal(err)
	}

	turns := []types.Turn{
		types.NewTurn(types.RoleUser, "maimai arcades"),
		types.NewTurn(types.RoleAssistant, "Found 2 arcade locations."),
	}
	if err := store.AppendTurns(ctx, id, turns, types.StageDone, types.IntentSearch); err != nil {
		t.Fatal(err)
	}

	sess, err := store.Load(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if sess.TurnCount != 2 {
		t.Errorf("turn count = %d, want 2", sess.TurnCount)
	}
	if sess.ActiveSubagent != types.StageDone {
		t.Errorf("active subagent = %s, want done", sess.ActiveSubagent)
	}
	if sess.Intent != types.IntentSearch {
		t.Errorf("intent = %s, want search", sess.Intent)
	}

	got, err := store.Turns(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d turns, want 2", len(got))
	}
	if got[0].Role != types.RoleUser || got[1].Role != types.RoleAssistant {
		t.Errorf("turn order wrong: %s, %s", got[0].Role, got[1].Role)
	}

	// Appends accumulate across runs.
	if err := store.AppendTurns(ctx, id, turns[:1], types.StageDone, ""); err != nil {
		t.Fatal(err)
	}
	got, _ = store.Turns(ctx, id)
	if len(got) != 3 {
		t.Errorf("read %d turns after second append, want 3", len(got))
	}
}

func TestSessionStoreListOrderAndLimit(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	for _, id := range []types.SessionID{"s_one", "s_two", "s_three"} {
		if _, err := store.Create(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	// Touch s_one so it becomes the most recent.
	if err := store.AppendTurns(ctx, "s_one", []types.Turn{types.NewTurn(types.RoleUser, "hi")}, "", ""); err != nil {
		t.Fatal(err)
	}

	list, err := store.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("listed %d sessions, want 2", len(list))
	}
	if list[0].SessionID != "s_one" {
		t.Errorf("most recent is %s, want s_one", list[0].SessionID)
	}
}

func TestSessionStoreDelete(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	id := types.SessionID("s_gone")
	if _, err := store.Create(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendTurns(ctx, id, []types.Turn{types.NewTurn(types.RoleUser, "hi")}, "", ""); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(ctx, id); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("load after delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, id); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("double delete = %v, want ErrNotFound", err)
	}
}
