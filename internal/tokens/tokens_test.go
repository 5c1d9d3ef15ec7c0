package tokens

import (
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	s := New(time.Minute)

	tok := s.Issue("job-1")
	if tok == "" {
		t.Fatal("Issue returned empty token")
	}
	if !s.Valid(tok, "job-1") {
		t.Error("token should be valid for its job")
	}
	if !s.Valid(tok, "job-1") {
		t.Error("token should stay valid on reuse")
	}
	if s.Valid(tok, "job-2") {
		t.Error("token must not authorize another job")
	}
	if s.Valid("", "job-1") || s.Valid("bogus", "job-1") {
		t.Error("unknown token accepted")
	}

	s.Revoke(tok)
	if s.Valid(tok, "job-1") {
		t.Error("revoked token still valid")
	}
}

func TestExpiry(t *testing.T) {
	s := New(30 * time.Millisecond)
	tok := s.Issue("job-1")

	time.Sleep(100 * time.Millisecond)
	if s.Valid(tok, "job-1") {
		t.Error("token valid after TTL")
	}
}

func TestIndependentStores(t *testing.T) {
	a, b := New(0), New(0)
	tok := a.Issue("job")
	if b.Valid(tok, "job") {
		t.Error("stores share state")
	}
}
