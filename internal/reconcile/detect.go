// Package reconcile surfaces version conflicts as field-level diffs and
// applies caller decisions (keep-local vs accept-server) to them.
package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/mainteno/fieldsync/internal/queue"
)

// FetchFunc reads the authoritative server state at a logical resource
// (the non-mutating counterpart of the write endpoint).
type FetchFunc func(ctx context.Context, endpoint string) (map[string]any, error)

// Detector fetches server state for a rejected action and records the
// resulting Conflict.
type Detector struct {
	store    *queue.Store
	fetch    FetchFunc
	registry *Registry
	now      func() time.Time
}

// NewDetector creates a Detector. registry may be shared with a Resolver so
// both feed the same observers.
func NewDetector(store *queue.Store, fetch FetchFunc, registry *Registry) *Detector {
	return &Detector{
		store:    store,
		fetch:    fetch,
		registry: registry,
		now:      time.Now,
	}
}

// SetClock injects the detector's clock.
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

// Detect fetches current server state for the action's resource, computes a
// field-level diff against the locally queued payload, appends the Conflict,
// persists, and notifies observers synchronously.
//
// If the server read fails the Conflict is still recorded with absent server
// state and an empty diff list: the fact that a conflict occurred must not be
// lost even when it cannot be explained.
func (d *Detector) Detect(ctx context.Context, a queue.Action) (queue.Conflict, error) {
	server, err := d.fetch(ctx, a.Endpoint)
	if err != nil {
		slog.Warn("conflict state fetch failed", "endpoint", a.Endpoint, "err", err)
		server = nil
	}

	c := queue.Conflict{
		ActionID:   a.ID,
		Method:     a.Method,
		Endpoint:   a.Endpoint,
		EntityType: a.EntityType,
		EntityID:   a.EntityID,
		Local:      a.Payload,
		Server:     server,
		Diffs:      Diff(a.Payload, server),
		CreatedAt:  d.now().UTC(),
	}

	if err := d.store.AppendConflict(c); err != nil {
		return queue.Conflict{}, err
	}
	d.registry.notifyConflict(c)
	d.registry.notifyChange(len(d.store.Conflicts()))
	return c, nil
}

// Diff computes the ordered field-level divergence between a local payload
// and fetched server state. Only keys present in the local payload are
// considered, since the client did not attempt to change anything else, and a
// key is reported only when it exists on both sides with unequal values.
func Diff(local, server map[string]any) []queue.FieldDiff {
	if len(local) == 0 || len(server) == 0 {
		return nil
	}

	fields := make([]string, 0, len(local))
	for k := range local {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	var diffs []queue.FieldDiff
	for _, f := range fields {
		sv, ok := server[f]
		if !ok {
			continue
		}
		lv := local[f]
		if !jsonEqual(lv, sv) {
			diffs = append(diffs, queue.FieldDiff{Field: f, Local: lv, Server: sv})
		}
	}
	return diffs
}

// jsonEqual compares two values by their JSON encoding, so an int queued
// locally and the float64 it decodes back into compare equal.
func jsonEqual(a, b any) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
