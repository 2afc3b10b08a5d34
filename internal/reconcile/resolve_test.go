package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/mainteno/fieldsync/internal/queue"
)

func seedConflict(t *testing.T, store *queue.Store) queue.Conflict {
	t.Helper()
	c := queue.Conflict{
		ActionID:   "act-1",
		Method:     queue.MethodUpdate,
		Endpoint:   "work-orders/7",
		EntityType: "work_order",
		EntityID:   "7",
		Local:      map[string]any{"status": "done", "version": 1},
		Server:     map[string]any{"status": "open"},
		Diffs:      []queue.FieldDiff{{Field: "status", Local: "done", Server: "open"}},
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.AppendConflict(c); err != nil {
		t.Fatalf("seed conflict: %v", err)
	}
	return c
}

func TestResolveKeepLocalReenqueues(t *testing.T) {
	store := openStore(t)
	c := seedConflict(t, store)

	// An action already waiting in the queue; the override must land behind it.
	earlier, err := store.Enqueue(queue.Action{Method: queue.MethodCreate, Endpoint: "assets"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	r := NewResolver(store, NewRegistry())
	if err := r.Resolve(c.ActionID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if got := len(store.Conflicts()); got != 0 {
		t.Fatalf("conflicts after resolve: got %d, want 0", got)
	}

	actions := store.Actions()
	if len(actions) != 2 {
		t.Fatalf("queue length: got %d, want 2", len(actions))
	}
	if actions[0].ID != earlier.ID {
		t.Fatal("override jumped the queue")
	}

	requeued := actions[1]
	if requeued.Method != c.Method || requeued.Endpoint != c.Endpoint {
		t.Fatalf("requeued action: got %s %s", requeued.Method, requeued.Endpoint)
	}
	if requeued.Payload["status"] != "done" {
		t.Fatalf("payload not carried over: %v", requeued.Payload)
	}
	// The stale version must not ride along, or the override conflicts again.
	if _, ok := requeued.Payload["version"]; ok {
		t.Fatal("requeued payload still carries the stale version")
	}
	// New attempt, new identity: id and token must both be fresh.
	if requeued.ID == c.ActionID {
		t.Fatal("requeued action reused the rejected action's id")
	}
	if requeued.IdempotencyToken == "" {
		t.Fatal("requeued action has no idempotency token")
	}
	if requeued.Attempts != 0 || requeued.Status != queue.StatusPending {
		t.Fatalf("requeued action not reset: %+v", requeued)
	}
}

func TestResolveAcceptServerDiscards(t *testing.T) {
	store := openStore(t)
	c := seedConflict(t, store)

	r := NewResolver(store, NewRegistry())
	if err := r.Resolve(c.ActionID, false); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if got := len(store.Conflicts()); got != 0 {
		t.Fatalf("conflicts: got %d, want 0", got)
	}
	if got := store.Len(); got != 0 {
		t.Fatalf("queue: got %d actions, want 0", got)
	}
}

func TestResolveUnknownConflict(t *testing.T) {
	store := openStore(t)
	r := NewResolver(store, NewRegistry())

	err := r.Resolve("nope", true)
	if !errors.Is(err, ErrConflictNotFound) {
		t.Fatalf("got %v, want ErrConflictNotFound", err)
	}
}

func TestResolveNotifiesChangeObservers(t *testing.T) {
	store := openStore(t)
	c := seedConflict(t, store)
	reg := NewRegistry()

	var remaining []int
	cancel := reg.SubscribeChange(func(n int) { remaining = append(remaining, n) })

	r := NewResolver(store, reg)
	if err := r.Resolve(c.ActionID, false); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != 0 {
		t.Fatalf("change notifications: got %v, want [0]", remaining)
	}

	// A cancelled observer stays silent.
	cancel()
	seedConflict(t, store)
	if err := r.Resolve(c.ActionID, false); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("cancelled observer still notified: %v", remaining)
	}
}
