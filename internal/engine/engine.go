// Package engine drains the durable mutation queue against an injected
// transport execution function, applying retry with capped exponential
// backoff, strict FIFO ordering, and conflict surfacing.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mainteno/fieldsync/internal/queue"
)

// ErrConflict is the single conflict-class signal the engine recognizes.
// Executors must wrap a transport-level "version conflict" / "already
// modified" response with this sentinel; every other failure is retryable.
var ErrConflict = errors.New("version conflict")

// ExecFunc executes one mutation against the server. The payload already
// carries the action's idempotency token, so repeated delivery is safe.
type ExecFunc func(ctx context.Context, method queue.Method, endpoint string, payload map[string]any) error

// Detector records a Conflict for a definitively rejected action.
// Implemented by reconcile.Detector.
type Detector interface {
	Detect(ctx context.Context, a queue.Action) (queue.Conflict, error)
}

// Payload keys injected into the outgoing body. The queued payload itself is
// never mutated; execution works on a copy.
const (
	payloadKeyToken     = "idempotency_token"
	payloadKeyTimestamp = "client_timestamp"
)

// Defaults for the retry schedule.
const (
	DefaultBaseDelay = 2 * time.Second
	DefaultMaxDelay  = 5 * time.Minute
)

// State is the coarse user-visible engine status.
type State string

const (
	StateIdle       State = "idle"
	StateSyncing    State = "syncing"
	StateError      State = "error"
	StateConflicted State = "conflicted"
)

// Status is the aggregate surface shown to users: counts plus a coarse
// state. Individual transport errors are never surfaced per-item.
type Status struct {
	Pending    int   `json:"pending"`
	Conflicted int   `json:"conflicted"`
	Processed  int64 `json:"processed"`
	State      State `json:"state"`
}

// Engine is the sync engine. Flush is re-entrant-unsafe by design; a
// concurrent call is a no-op rather than a second drain.
type Engine struct {
	store    *queue.Store
	exec     ExecFunc
	detector Detector
	online   func() bool

	now       func() time.Time
	baseDelay time.Duration
	maxDelay  time.Duration

	mu       sync.Mutex
	flushing bool
	retrying bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the engine's clock, making backoff testable without
// real time passing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithBackoff overrides the retry schedule bounds.
func WithBackoff(base, max time.Duration) Option {
	return func(e *Engine) {
		e.baseDelay = base
		e.maxDelay = max
	}
}

// New creates an Engine. online reports current connectivity; detector
// handles conflict-class rejections.
func New(store *queue.Store, exec ExecFunc, detector Detector, online func() bool, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		exec:      exec,
		detector:  detector,
		online:    online,
		now:       time.Now,
		baseDelay: DefaultBaseDelay,
		maxDelay:  DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Flush attempts to drain the queue in strict enqueue order.
//
// An automatic flush returns immediately while offline; a manual flush may
// still be attempted and will simply fail per-item. The loop stops when the
// head action is not yet eligible for retry, and halts entirely on a
// retryable failure so that later actions never run out of order ahead of a
// still-pending one. A conflict is terminal for its action and never blocks
// the rest of the queue.
func (e *Engine) Flush(ctx context.Context, automatic bool) error {
	if automatic && !e.online() {
		return nil
	}

	e.mu.Lock()
	if e.flushing {
		e.mu.Unlock()
		return nil
	}
	e.flushing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.flushing = false
		e.mu.Unlock()
	}()

	for {
		head, ok := e.store.Head()
		if !ok {
			e.setRetrying(false)
			return nil
		}
		if !head.Ready(e.now()) {
			// Head not yet eligible; order must not be violated by
			// skipping ahead.
			return nil
		}

		head.Status = queue.StatusSyncing
		if err := e.store.UpdateHead(head); err != nil {
			return err
		}

		err := e.exec(ctx, head.Method, head.Endpoint, e.outgoingPayload(head))
		switch {
		case err == nil:
			if err := e.store.RemoveHead(); err != nil {
				return err
			}
			if err := e.store.MarkProcessed(); err != nil {
				return err
			}
			e.setRetrying(false)
			slog.Debug("action synced", "id", head.ID, "endpoint", head.Endpoint)

		case errors.Is(err, ErrConflict):
			// Terminal for this action: the server has definitively
			// rejected it. The head drains regardless of detector outcome.
			head.Status = queue.StatusConflicted
			if _, derr := e.detector.Detect(ctx, head); derr != nil {
				slog.Warn("record conflict", "id", head.ID, "err", derr)
			}
			if err := e.store.RemoveHead(); err != nil {
				return err
			}
			e.setRetrying(false)
			slog.Info("action conflicted", "id", head.ID, "endpoint", head.Endpoint)

		default:
			head.Attempts++
			next := e.now().Add(e.backoff(head.Attempts))
			head.NextAttemptAt = &next
			head.Status = queue.StatusPending
			if uerr := e.store.UpdateHead(head); uerr != nil {
				return uerr
			}
			e.setRetrying(true)
			slog.Debug("action rescheduled", "id", head.ID, "attempts", head.Attempts, "next", next, "err", err)
			return nil
		}
	}
}

// backoff computes min(maxDelay, baseDelay * 2^attempts).
func (e *Engine) backoff(attempts int) time.Duration {
	// Past 62 doublings the shift would overflow; the cap applies long before.
	if attempts > 62 {
		return e.maxDelay
	}
	d := e.baseDelay << uint(attempts)
	if d <= 0 || d > e.maxDelay {
		return e.maxDelay
	}
	return d
}

// outgoingPayload copies the queued payload and attaches the idempotency
// token (and the client timestamp, for endpoints that reconcile optimistic
// concurrency). The stored payload is left untouched.
func (e *Engine) outgoingPayload(a queue.Action) map[string]any {
	out := make(map[string]any, len(a.Payload)+2)
	for k, v := range a.Payload {
		out[k] = v
	}
	out[payloadKeyToken] = a.IdempotencyToken
	if !a.ClientTimestamp.IsZero() {
		out[payloadKeyTimestamp] = a.ClientTimestamp.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (e *Engine) setRetrying(v bool) {
	e.mu.Lock()
	e.retrying = v
	e.mu.Unlock()
}

// Status returns the aggregate queue status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	flushing, retrying := e.flushing, e.retrying
	e.mu.Unlock()

	st := Status{
		Pending:    e.store.Len(),
		Conflicted: len(e.store.Conflicts()),
		Processed:  e.store.Processed(),
		State:      StateIdle,
	}
	switch {
	case flushing:
		st.State = StateSyncing
	case st.Conflicted > 0:
		st.State = StateConflicted
	case retrying:
		st.State = StateError
	}
	return st
}
