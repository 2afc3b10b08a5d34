package queue

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// The queue db must stay a plain SQLite file so external tooling (and a
// different driver) can read it for debugging.
func TestStoreFileReadableByOtherDrivers(t *testing.T) {
	dir := t.TempDir()

	s := openStore(t, dir)
	a, err := s.Enqueue(Action{Method: MethodCreate, Endpoint: "work-orders", Payload: map[string]any{"title": "x"}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	raw, err := sql.Open("sqlite3", filepath.Join(dir, dbFile))
	if err != nil {
		t.Fatalf("open with sqlite3 driver: %v", err)
	}
	defer raw.Close()

	var value string
	if err := raw.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, keyQueue).Scan(&value); err != nil {
		t.Fatalf("read queue row: %v", err)
	}

	var actions []Action
	if err := json.Unmarshal([]byte(value), &actions); err != nil {
		t.Fatalf("decode queue json: %v", err)
	}
	if len(actions) != 1 || actions[0].ID != a.ID {
		t.Fatalf("unexpected persisted queue: %+v", actions)
	}
}
