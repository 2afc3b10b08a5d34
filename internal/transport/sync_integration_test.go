package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mainteno/fieldsync/internal/api"
	"github.com/mainteno/fieldsync/internal/engine"
	"github.com/mainteno/fieldsync/internal/queue"
	"github.com/mainteno/fieldsync/internal/reconcile"
	"github.com/mainteno/fieldsync/internal/serverdb"
)

// syncEnv wires the full client stack against a real in-process server.
type syncEnv struct {
	ts     *httptest.Server
	store  *queue.Store
	client *Client
	eng    *engine.Engine
	res    *reconcile.Resolver
}

func newSyncEnv(t *testing.T) *syncEnv {
	t.Helper()

	docs, err := serverdb.Open(":memory:")
	if err != nil {
		t.Fatalf("open serverdb: %v", err)
	}
	t.Cleanup(func() { docs.Close() })

	srv := api.NewServer(api.Config{IdempotencyTTL: time.Hour}, docs)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	store, err := queue.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	client := New(ts.URL, "t1", "")
	registry := reconcile.NewRegistry()
	detector := reconcile.NewDetector(store, client.Fetch, registry)
	eng := engine.New(store, client.Execute, detector, func() bool { return true },
		engine.WithBackoff(time.Millisecond, 10*time.Millisecond))

	return &syncEnv{
		ts:     ts,
		store:  store,
		client: client,
		eng:    eng,
		res:    reconcile.NewResolver(store, registry),
	}
}

// put issues a direct server-side write, standing in for another device.
func (e *syncEnv) put(t *testing.T, path string, body map[string]any) {
	t.Helper()
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPut, e.ts.URL+"/v1/data/"+path, bytes.NewReader(data))
	req.Header.Set("X-Tenant-ID", "t1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("direct put: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("direct put status: %d", resp.StatusCode)
	}
}

func TestEndToEndCreateAndFetch(t *testing.T) {
	env := newSyncEnv(t)

	if _, err := env.store.Enqueue(queue.Action{
		Method:   queue.MethodCreate,
		Endpoint: "work-orders/1",
		Payload:  map[string]any{"title": "fix pump", "status": "open"},
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := env.eng.Flush(context.Background(), false); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := env.store.Len(); got != 0 {
		t.Fatalf("pending: got %d, want 0", got)
	}

	state, err := env.client.Fetch(context.Background(), "work-orders/1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if state["title"] != "fix pump" {
		t.Fatalf("server state: %v", state)
	}
	if state["version"] != float64(1) {
		t.Fatalf("version: %v", state["version"])
	}
}

func TestEndToEndConflictAndResolveLocal(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()

	// Local device creates the document and syncs it.
	env.store.Enqueue(queue.Action{
		Method:   queue.MethodCreate,
		Endpoint: "work-orders/1",
		Payload:  map[string]any{"status": "open", "assignee": "ana"},
	})
	if err := env.eng.Flush(ctx, false); err != nil {
		t.Fatalf("initial flush: %v", err)
	}

	// Another device updates it, bumping the server to version 2.
	env.put(t, "work-orders/1", map[string]any{"status": "assigned", "assignee": "ben"})

	// The local device, still holding version 1, queues a divergent edit.
	env.store.Enqueue(queue.Action{
		Method:   queue.MethodUpdate,
		Endpoint: "work-orders/1",
		Payload:  map[string]any{"status": "done", "assignee": "ana", "version": 1},
	})
	if err := env.eng.Flush(ctx, false); err != nil {
		t.Fatalf("conflicting flush: %v", err)
	}

	conflicts := env.store.Conflicts()
	if len(conflicts) != 1 {
		t.Fatalf("conflicts: got %d, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.Server["status"] != "assigned" {
		t.Fatalf("fetched server state: %v", c.Server)
	}
	byField := map[string]queue.FieldDiff{}
	for _, d := range c.Diffs {
		byField[d.Field] = d
	}
	if d, ok := byField["status"]; !ok || d.Local != "done" || d.Server != "assigned" {
		t.Fatalf("status diff: %+v", byField)
	}
	if d, ok := byField["assignee"]; !ok || d.Local != "ana" || d.Server != "ben" {
		t.Fatalf("assignee diff: %+v", byField)
	}

	// Keep local: the override re-syncs and wins on the server.
	if err := env.res.Resolve(c.ActionID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := env.eng.Flush(ctx, false); err != nil {
		t.Fatalf("override flush: %v", err)
	}
	if got := env.store.Len(); got != 0 {
		t.Fatalf("pending after override: got %d", got)
	}

	state, err := env.client.Fetch(ctx, "work-orders/1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if state["status"] != "done" || state["assignee"] != "ana" {
		t.Fatalf("override did not win: %v", state)
	}
}

func TestEndToEndResolveAcceptServer(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()

	env.store.Enqueue(queue.Action{
		Method:   queue.MethodCreate,
		Endpoint: "assets/1",
		Payload:  map[string]any{"name": "compressor"},
	})
	env.eng.Flush(ctx, false)

	env.put(t, "assets/1", map[string]any{"name": "compressor mk2"})

	env.store.Enqueue(queue.Action{
		Method:   queue.MethodUpdate,
		Endpoint: "assets/1",
		Payload:  map[string]any{"name": "compressor (old)", "version": 1},
	})
	env.eng.Flush(ctx, false)

	conflicts := env.store.Conflicts()
	if len(conflicts) != 1 {
		t.Fatalf("conflicts: got %d", len(conflicts))
	}
	if err := env.res.Resolve(conflicts[0].ActionID, false); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Nothing re-queued; the server keeps the other device's write.
	if got := env.store.Len(); got != 0 {
		t.Fatalf("queue after accept-server: got %d", got)
	}
	state, _ := env.client.Fetch(ctx, "assets/1")
	if state["name"] != "compressor mk2" {
		t.Fatalf("server state changed: %v", state)
	}
}

func TestEndToEndIdempotentRetry(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()

	// A transport that fails the first delivery after the server processed
	// it would normally double-apply; the idempotency token prevents that.
	a, _ := env.store.Enqueue(queue.Action{
		Method:   queue.MethodCreate,
		Endpoint: "work-orders/9",
		Payload:  map[string]any{"title": "grease bearings"},
	})

	if err := env.eng.Flush(ctx, false); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// Replay the same delivery by hand with the same token: the server must
	// return the stored 201, not a duplicate-create conflict.
	payload, _ := json.Marshal(map[string]any{
		"title":             "grease bearings",
		"idempotency_token": a.IdempotencyToken,
		"client_timestamp":  a.ClientTimestamp.UTC().Format(time.RFC3339Nano),
	})
	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/v1/data/work-orders/9", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "t1")
	req.Header.Set("Idempotency-Key", a.IdempotencyToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("replay status: got %d, want 201", resp.StatusCode)
	}
	if resp.Header.Get("X-Idempotent-Replay") != "true" {
		t.Fatal("expected a replayed outcome")
	}
}
