// Package tokens issues short-lived stream tokens that authorize reading one
// job's progress stream without the API bearer token.
package tokens

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultTTL  = 10 * time.Minute
	defaultSize = 4096
)

// Store maps tokens to job IDs and forgets them after the TTL.
type Store struct {
	cache *expirable.LRU[string, string]
}

// New creates a Store. A non-positive ttl uses DefaultTTL.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{cache: expirable.NewLRU[string, string](defaultSize, nil, ttl)}
}

// Issue returns a new token bound to jobID.
func (s *Store) Issue(jobID string) string {
	tok := uuid.New().String()
	s.cache.Add(tok, jobID)
	return tok
}

// Valid reports whether tok is live and bound to jobID. Tokens may be reused
// until they expire so that clients can reconnect.
func (s *Store) Valid(tok, jobID string) bool {
	if tok == "" {
		return false
	}
	id, ok := s.cache.Get(tok)
	return ok && id == jobID
}

// Revoke forgets tok.
func (s *Store) Revoke(tok string) {
	s.cache.Remove(tok)
}
