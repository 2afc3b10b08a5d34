package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// seqIssuer hands out predictable tokens so tests can assert on them.
type seqIssuer struct{ n int }

func (i *seqIssuer) Issue() string {
	i.n++
	return fmt.Sprintf("tok-%d", i.n)
}

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnqueueDefaults(t *testing.T) {
	s := openStore(t, t.TempDir())

	a, err := s.Enqueue(Action{
		Method:   MethodCreate,
		Endpoint: "work-orders",
		Payload:  map[string]any{"title": "fix pump"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if a.ID == "" {
		t.Error("expected a generated id")
	}
	if a.IdempotencyToken == "" {
		t.Error("expected an issued idempotency token")
	}
	if a.ClientTimestamp.IsZero() {
		t.Error("expected a client timestamp")
	}
	if a.Attempts != 0 {
		t.Errorf("attempts: got %d, want 0", a.Attempts)
	}
	if a.Status != StatusPending {
		t.Errorf("status: got %q, want %q", a.Status, StatusPending)
	}
	if a.NextAttemptAt != nil {
		t.Error("next attempt should be unset on a fresh action")
	}
}

func TestEnqueueDistinctTokens(t *testing.T) {
	s := openStore(t, t.TempDir())

	a1, err := s.Enqueue(Action{Method: MethodCreate, Endpoint: "assets"})
	if err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	a2, err := s.Enqueue(Action{Method: MethodCreate, Endpoint: "assets"})
	if err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	if a1.IdempotencyToken == a2.IdempotencyToken {
		t.Fatalf("two actions share token %q", a1.IdempotencyToken)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s := openStore(t, dir)
	first, err := s.Enqueue(Action{Method: MethodCreate, Endpoint: "work-orders", Payload: map[string]any{"title": "a"}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Enqueue(Action{Method: MethodUpdate, Endpoint: "work-orders/1", Payload: map[string]any{"title": "b"}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.AppendConflict(Conflict{ActionID: "c1", Method: MethodUpdate, Endpoint: "assets/9", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("append conflict: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulates a restart: everything must come back in order, tokens intact.
	reopened := openStore(t, dir)
	actions := reopened.Actions()
	if len(actions) != 2 {
		t.Fatalf("actions after reopen: got %d, want 2", len(actions))
	}
	if actions[0].ID != first.ID {
		t.Errorf("head after reopen: got %s, want %s", actions[0].ID, first.ID)
	}
	if actions[0].IdempotencyToken != first.IdempotencyToken {
		t.Errorf("token not preserved: got %q, want %q", actions[0].IdempotencyToken, first.IdempotencyToken)
	}
	if got := len(reopened.Conflicts()); got != 1 {
		t.Fatalf("conflicts after reopen: got %d, want 1", got)
	}
}

func TestCorruptStateStartsEmpty(t *testing.T) {
	dir := t.TempDir()

	s := openStore(t, dir)
	if _, err := s.Enqueue(Action{Method: MethodCreate, Endpoint: "parts"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Overwrite the serialized queue with garbage behind the store's back.
	if _, err := s.conn.Exec(`UPDATE sync_state SET value = 'not json' WHERE key = ?`, keyQueue); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}
	s.Close()

	reopened := openStore(t, dir)
	if got := reopened.Len(); got != 0 {
		t.Fatalf("corrupt queue should load empty, got %d actions", got)
	}

	// The store must remain usable after a corrupt load.
	if _, err := reopened.Enqueue(Action{Method: MethodCreate, Endpoint: "parts"}); err != nil {
		t.Fatalf("enqueue after corrupt load: %v", err)
	}
}

func TestHeadOperations(t *testing.T) {
	s := openStore(t, t.TempDir())

	if _, ok := s.Head(); ok {
		t.Fatal("empty queue should have no head")
	}
	if err := s.RemoveHead(); err == nil {
		t.Fatal("removing the head of an empty queue should error")
	}

	a, _ := s.Enqueue(Action{Method: MethodCreate, Endpoint: "work-orders"})
	b, _ := s.Enqueue(Action{Method: MethodUpdate, Endpoint: "work-orders/1"})

	head, ok := s.Head()
	if !ok || head.ID != a.ID {
		t.Fatalf("head: got %v, want %s", head.ID, a.ID)
	}

	// Head peeks without popping.
	if got := s.Len(); got != 2 {
		t.Fatalf("len after peek: got %d, want 2", got)
	}

	head.Attempts = 3
	when := time.Now().Add(time.Minute)
	head.NextAttemptAt = &when
	if err := s.UpdateHead(head); err != nil {
		t.Fatalf("update head: %v", err)
	}

	// UpdateHead refuses a non-head action.
	if err := s.UpdateHead(b); err == nil {
		t.Fatal("updating a non-head action should error")
	}

	if err := s.RemoveHead(); err != nil {
		t.Fatalf("remove head: %v", err)
	}
	head, ok = s.Head()
	if !ok || head.ID != b.ID {
		t.Fatalf("head after drain: got %v, want %s", head.ID, b.ID)
	}
}

func TestRemoveByID(t *testing.T) {
	s := openStore(t, t.TempDir())

	a, _ := s.Enqueue(Action{Method: MethodCreate, Endpoint: "a"})
	b, _ := s.Enqueue(Action{Method: MethodCreate, Endpoint: "b"})
	c, _ := s.Enqueue(Action{Method: MethodCreate, Endpoint: "c"})

	removed, err := s.Remove(b.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Fatal("expected removal of a queued action")
	}

	actions := s.Actions()
	if len(actions) != 2 || actions[0].ID != a.ID || actions[1].ID != c.ID {
		t.Fatalf("unexpected queue after removal: %v", actions)
	}

	removed, err = s.Remove("no-such-id")
	if err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	if removed {
		t.Fatal("removing an unknown id should report false")
	}
}

func TestConflictLifecycle(t *testing.T) {
	s := openStore(t, t.TempDir())

	c := Conflict{
		ActionID: "act-1",
		Method:   MethodUpdate,
		Endpoint: "work-orders/7",
		Local:    map[string]any{"status": "done"},
		Server:   map[string]any{"status": "open"},
		Diffs: []FieldDiff{
			{Field: "status", Local: "done", Server: "open"},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.AppendConflict(c); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, ok, err := s.RemoveConflict("act-1")
	if err != nil {
		t.Fatalf("remove conflict: %v", err)
	}
	if !ok {
		t.Fatal("expected conflict to exist")
	}
	if got.Endpoint != c.Endpoint || len(got.Diffs) != 1 {
		t.Fatalf("removed conflict does not round-trip: %+v", got)
	}
	if len(s.Conflicts()) != 0 {
		t.Fatal("conflict list should be empty after removal")
	}

	_, ok, err = s.RemoveConflict("act-1")
	if err != nil {
		t.Fatalf("remove again: %v", err)
	}
	if ok {
		t.Fatal("removing a resolved conflict should report false")
	}
}

func TestProcessedCounterPersists(t *testing.T) {
	dir := t.TempDir()

	s := openStore(t, dir)
	for i := 0; i < 3; i++ {
		if err := s.MarkProcessed(); err != nil {
			t.Fatalf("mark processed: %v", err)
		}
	}
	s.Close()

	reopened := openStore(t, dir)
	if got := reopened.Processed(); got != 3 {
		t.Fatalf("processed after reopen: got %d, want 3", got)
	}
}

func TestCallersCannotAliasStoreState(t *testing.T) {
	s := openStore(t, t.TempDir())

	if _, err := s.Enqueue(Action{Method: MethodCreate, Endpoint: "x", Payload: map[string]any{"k": "v"}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	head, _ := s.Head()
	head.Payload["k"] = "mutated"

	fresh, _ := s.Head()
	if fresh.Payload["k"] != "v" {
		t.Fatal("mutating a returned action leaked into the store")
	}
}

func TestOpenWithIssuer(t *testing.T) {
	s, err := OpenWithIssuer(t.TempDir(), &seqIssuer{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	a, err := s.Enqueue(Action{Method: MethodCreate, Endpoint: "y"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if a.ID != "tok-1" || a.IdempotencyToken != "tok-2" {
		t.Fatalf("issuer not used: id=%q token=%q", a.ID, a.IdempotencyToken)
	}
}

func TestStoreFileLocation(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	s.Close()

	if _, err := os.Stat(filepath.Join(dir, dbFile)); err != nil {
		t.Fatalf("expected db at %s: %v", dbFile, err)
	}
}
