package reconcile

import (
	"errors"
	"log/slog"

	"github.com/mainteno/fieldsync/internal/queue"
)

// ErrConflictNotFound is returned when resolving an unknown conflict id.
var ErrConflictNotFound = errors.New("conflict not found")

// Resolver applies a caller decision to a surfaced conflict.
type Resolver struct {
	store    *queue.Store
	registry *Registry
}

// NewResolver creates a Resolver sharing the detector's observer registry.
func NewResolver(store *queue.Store, registry *Registry) *Resolver {
	return &Resolver{store: store, registry: registry}
}

// Resolve removes the conflict identified by its originating action id.
//
// With useLocal the conflict's original method/endpoint/local payload is
// re-enqueued at the tail of the queue as a new action: fresh id and a fresh
// idempotency token, because this is a new attempt at applying a now-explicit
// override, not a retry of the rejected delivery. With useLocal=false the
// server state is accepted as-is. Either branch persists and notifies
// observers that the conflict list changed.
func (r *Resolver) Resolve(actionID string, useLocal bool) error {
	c, ok, err := r.store.RemoveConflict(actionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflictNotFound
	}

	if useLocal {
		// The override must actually win: drop any stale optimistic-concurrency
		// version from the payload so the server applies it last-write-wins.
		payload := make(map[string]any, len(c.Local))
		for k, v := range c.Local {
			payload[k] = v
		}
		delete(payload, "version")

		if _, err := r.store.Enqueue(queue.Action{
			Method:     c.Method,
			Endpoint:   c.Endpoint,
			Payload:    payload,
			EntityType: c.EntityType,
			EntityID:   c.EntityID,
		}); err != nil {
			return err
		}
		slog.Info("conflict resolved, local payload re-enqueued", "action", actionID, "endpoint", c.Endpoint)
	} else {
		slog.Info("conflict resolved, server state accepted", "action", actionID, "endpoint", c.Endpoint)
	}

	r.registry.notifyChange(len(r.store.Conflicts()))
	return nil
}
