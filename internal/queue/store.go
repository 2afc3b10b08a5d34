package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mainteno/fieldsync/internal/token"
	_ "modernc.org/sqlite"
)

const dbFile = ".fieldsync/queue.db"

// Storage keys. The queue and the conflict list each live under a single
// logical key; a failed parse of either is treated as an empty list, never
// as an error surfaced to the caller.
const (
	keyQueue     = "queue"
	keyConflicts = "conflicts"
	keyStats     = "stats"
)

// stats is the persisted aggregate counter block.
type stats struct {
	Processed int64 `json:"processed"`
}

// Store is the durable queue store. It owns the in-memory pending-action and
// conflict lists; every mutating method persists before returning, so a crash
// between mutation and persistence cannot occur from the caller's viewpoint.
// Callers receive copies and never mutate the in-memory lists directly.
type Store struct {
	mu        sync.Mutex
	conn      *sql.DB
	issuer    token.Issuer
	actions   []Action
	conflicts []Conflict
	stats     stats
}

// Open opens (or creates) the store under baseDir and rehydrates both lists.
func Open(baseDir string) (*Store, error) {
	return OpenWithIssuer(baseDir, token.NewIssuer())
}

// OpenWithIssuer is Open with an explicit idempotency token issuer.
func OpenWithIssuer(baseDir string, issuer token.Issuer) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// WAL keeps reads cheap while writes stay serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS sync_state (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{conn: conn, issuer: issuer}
	s.actions = loadList[Action](conn, keyQueue)
	s.conflicts = loadList[Conflict](conn, keyConflicts)
	s.stats = loadValue[stats](conn, keyStats)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// loadList reads and decodes a serialized list. Absent or unparseable content
// is equivalent to an empty list: the system must always be able to start
// even if its storage is corrupt.
func loadList[T any](conn *sql.DB, key string) []T {
	var raw string
	err := conn.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		slog.Warn("load state", "key", key, "err", err)
		return nil
	}
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("corrupt state, starting empty", "key", key, "err", err)
		return nil
	}
	return out
}

func loadValue[T any](conn *sql.DB, key string) T {
	var zero T
	var raw string
	err := conn.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&raw)
	if err != nil {
		if err != sql.ErrNoRows {
			slog.Warn("load state", "key", key, "err", err)
		}
		return zero
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("corrupt state, starting empty", "key", key, "err", err)
		return zero
	}
	return out
}

// persist writes one key atomically. Callers hold s.mu.
func (s *Store) persist(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if _, err := s.conn.Exec(
		`INSERT OR REPLACE INTO sync_state (key, value) VALUES (?, ?)`,
		key, string(data),
	); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

// Enqueue appends an action with defaults applied: a fresh id if absent,
// attempts=0, status pending, and an idempotency token issued exactly once.
// Retries of the returned action must reuse that token.
func (s *Store) Enqueue(a Action) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = s.issuer.Issue()
	}
	if a.IdempotencyToken == "" {
		a.IdempotencyToken = s.issuer.Issue()
	}
	if a.ClientTimestamp.IsZero() {
		a.ClientTimestamp = time.Now().UTC()
	}
	a.Attempts = 0
	a.NextAttemptAt = nil
	a.Status = StatusPending

	s.actions = append(s.actions, clone(a))
	if err := s.persist(keyQueue, s.actions); err != nil {
		s.actions = s.actions[:len(s.actions)-1]
		return Action{}, err
	}
	return a, nil
}

// Actions returns the full ordered pending list. Position encodes creation
// order for the same logical stream of edits.
func (s *Store) Actions() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Action, len(s.actions))
	for i, a := range s.actions {
		out[i] = clone(a)
	}
	return out
}

// Len returns the number of queued actions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

// Head peeks (does not pop) the head action.
func (s *Store) Head() (Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.actions) == 0 {
		return Action{}, false
	}
	return clone(s.actions[0]), true
}

// UpdateHead replaces the head action's mutable execution state
// (status, attempts, nextAttemptAt) and persists.
func (s *Store) UpdateHead(a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.actions) == 0 || s.actions[0].ID != a.ID {
		return fmt.Errorf("action %s is not at the head of the queue", a.ID)
	}
	prev := s.actions[0]
	s.actions[0] = clone(a)
	if err := s.persist(keyQueue, s.actions); err != nil {
		s.actions[0] = prev
		return err
	}
	return nil
}

// RemoveHead drains the head action and persists.
func (s *Store) RemoveHead() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.actions) == 0 {
		return fmt.Errorf("queue is empty")
	}
	prev := s.actions
	s.actions = append([]Action(nil), s.actions[1:]...)
	if err := s.persist(keyQueue, s.actions); err != nil {
		s.actions = prev
		return err
	}
	return nil
}

// Remove deletes an action by id anywhere in the queue. This is the only way
// to prevent future attempts: there is no mid-flight cancellation.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.actions {
		if a.ID == id {
			prev := s.actions
			s.actions = append(append([]Action(nil), s.actions[:i]...), s.actions[i+1:]...)
			if err := s.persist(keyQueue, s.actions); err != nil {
				s.actions = prev
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// MarkProcessed increments the persistent processed counter.
func (s *Store) MarkProcessed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Processed++
	if err := s.persist(keyStats, s.stats); err != nil {
		s.stats.Processed--
		return err
	}
	return nil
}

// Processed returns how many actions have been successfully executed.
func (s *Store) Processed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.Processed
}

// Conflicts returns the current unresolved conflict list.
func (s *Store) Conflicts() []Conflict {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conflict, len(s.conflicts))
	for i, c := range s.conflicts {
		out[i] = cloneConflict(c)
	}
	return out
}

// AppendConflict records a new unresolved conflict and persists.
func (s *Store) AppendConflict(c Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = append(s.conflicts, cloneConflict(c))
	if err := s.persist(keyConflicts, s.conflicts); err != nil {
		s.conflicts = s.conflicts[:len(s.conflicts)-1]
		return err
	}
	return nil
}

// RemoveConflict deletes a conflict by originating action id, returning the
// removed record. A Conflict exists only while unresolved.
func (s *Store) RemoveConflict(actionID string) (Conflict, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conflicts {
		if c.ActionID == actionID {
			prev := s.conflicts
			s.conflicts = append(append([]Conflict(nil), s.conflicts[:i]...), s.conflicts[i+1:]...)
			if err := s.persist(keyConflicts, s.conflicts); err != nil {
				s.conflicts = prev
				return Conflict{}, false, err
			}
			return cloneConflict(c), true, nil
		}
	}
	return Conflict{}, false, nil
}
