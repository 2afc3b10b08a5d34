// Package idempotency deduplicates replayed mutation deliveries by token,
// returning the original outcome instead of re-applying the mutation.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
)

// ErrHashMismatch indicates a token was reused for a distinct request. That
// is a client defect, not a retry, and is rejected outright.
var ErrHashMismatch = errors.New("idempotency token reused with a different request")

// Record is the stored outcome of the first delivery of a mutation.
type Record struct {
	RequestHash string
	StatusCode  int
	Body        []byte
	ExpiresAt   time.Time
}

// Store holds idempotency records keyed by (tenant, token) with a fixed
// retention window. Expired entries are purged in the background, after
// which a token may legitimately be reused by a new logical mutation.
type Store struct {
	ttl     time.Duration
	records *cache.Cache
}

// DefaultTTL is the default retention window for stored outcomes.
const DefaultTTL = 24 * time.Hour

// NewStore creates a Store with the given retention window.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cleanup := ttl / 2
	if cleanup > 5*time.Minute {
		cleanup = 5 * time.Minute
	}
	return &Store{
		ttl:     ttl,
		records: cache.New(ttl, cleanup),
	}
}

// RequestHash fingerprints a delivery: same token + same hash is a retry,
// same token + different hash is token reuse.
func RequestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the stored record for (tenant, token), nil when unseen.
// A stored record whose hash differs from the presented one yields
// ErrHashMismatch.
func (s *Store) Lookup(tenant, token, requestHash string) (*Record, error) {
	v, ok := s.records.Get(key(tenant, token))
	if !ok {
		return nil, nil
	}
	rec := v.(Record)
	if rec.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	return &rec, nil
}

// Save stores the outcome of a first delivery.
func (s *Store) Save(tenant, token, requestHash string, statusCode int, body []byte) {
	rec := Record{
		RequestHash: requestHash,
		StatusCode:  statusCode,
		Body:        append([]byte(nil), body...),
		ExpiresAt:   time.Now().Add(s.ttl),
	}
	s.records.Set(key(tenant, token), rec, cache.DefaultExpiration)
}

// Len returns the number of live records (expired entries excluded lazily).
func (s *Store) Len() int {
	return s.records.ItemCount()
}

func key(tenant, token string) string {
	return tenant + "\x00" + token
}
