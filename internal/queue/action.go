package queue

import (
	"encoding/json"
	"time"
)

// Method is the logical mutation verb of a queued action. The transport maps
// it to an HTTP verb at execution time.
type Method string

const (
	MethodCreate Method = "create"
	MethodUpdate Method = "update"
	MethodDelete Method = "delete"
)

// Status tracks where a queued action is in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSyncing    Status = "syncing"
	StatusSucceeded  Status = "succeeded"
	StatusConflicted Status = "conflicted"
	StatusAbandoned  Status = "abandoned"
)

// Action is a durably persisted, not-yet-confirmed mutation awaiting
// transport execution. Payload is opaque to the queue layer; entity-specific
// validation belongs to the CRUD layer, not here.
type Action struct {
	ID               string         `json:"id"`
	Method           Method         `json:"method"`
	Endpoint         string         `json:"endpoint"`
	Payload          map[string]any `json:"payload"`
	IdempotencyToken string         `json:"idempotency_token"`
	EntityType       string         `json:"entity_type,omitempty"`
	EntityID         string         `json:"entity_id,omitempty"`
	ClientTimestamp  time.Time      `json:"client_timestamp"`
	Attempts         int            `json:"attempts"`
	NextAttemptAt    *time.Time     `json:"next_attempt_at,omitempty"`
	Status           Status         `json:"status"`
}

// Ready reports whether the action is eligible for an attempt at the given time.
func (a Action) Ready(now time.Time) bool {
	return a.NextAttemptAt == nil || !a.NextAttemptAt.After(now)
}

// FieldDiff is a single field-level divergence between a locally queued
// payload and the authoritative server state.
type FieldDiff struct {
	Field  string `json:"field"`
	Local  any    `json:"local"`
	Server any    `json:"server"`
}

// Conflict records the terminal rejection of a queued action. It exists only
// while unresolved; resolving it deletes the record.
type Conflict struct {
	ActionID   string         `json:"action_id"`
	Method     Method         `json:"method"`
	Endpoint   string         `json:"endpoint"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Local      map[string]any `json:"local"`
	Server     map[string]any `json:"server,omitempty"`
	Diffs      []FieldDiff    `json:"diffs"`
	CreatedAt  time.Time      `json:"created_at"`
}

// clone deep-copies an action via JSON so callers can never alias the
// store's in-memory state.
func clone(a Action) Action {
	data, err := json.Marshal(a)
	if err != nil {
		return a
	}
	var out Action
	if err := json.Unmarshal(data, &out); err != nil {
		return a
	}
	return out
}

func cloneConflict(c Conflict) Conflict {
	data, err := json.Marshal(c)
	if err != nil {
		return c
	}
	var out Conflict
	if err := json.Unmarshal(data, &out); err != nil {
		return c
	}
	return out
}
