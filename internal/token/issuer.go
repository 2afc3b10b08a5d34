// Package token issues idempotency tokens for queued mutations.
//
// A token is generated exactly once per logical mutation, at enqueue time,
// and reused verbatim on every retry; that reuse is what lets the server
// collapse duplicate deliveries of the same mutation.
package token

import "github.com/google/uuid"

// Issuer produces tokens with negligible collision probability.
type Issuer interface {
	Issue() string
}

// uuidIssuer issues random (version 4) UUIDs: 128 bits, string-encoded.
type uuidIssuer struct{}

// NewIssuer returns the default UUID-backed issuer.
func NewIssuer() Issuer {
	return uuidIssuer{}
}

func (uuidIssuer) Issue() string {
	return uuid.NewString()
}
