package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryTokenRevoker(t *testing.T) {
	r := NewMemoryTokenRevoker()

	revoked, err := r.IsRevoked("tok-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if revoked {
		t.Fatalf("fresh token should not be revoked")
	}

	if err := r.Revoke("tok-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err = r.IsRevoked("tok-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Fatalf("token should be revoked")
	}

	// Other tokens are unaffected.
	revoked, err = r.IsRevoked("tok-2")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if revoked {
		t.Fatalf("unrelated token should not be revoked")
	}
}

func TestMemoryTokenRevokerZeroTTLNoop(t *testing.T) {
	r := NewMemoryTokenRevoker()
	if err := r.Revoke("tok-1", 0); err != nil {
		t.Fatalf("revoke with zero ttl: %v", err)
	}
	revoked, err := r.IsRevoked("tok-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if revoked {
		t.Fatalf("zero ttl revoke should be a no-op")
	}
}

func TestRedisTokenRevoker(t *testing.T) {
	srv := miniredis.RunT(t)
	r := NewRedisTokenRevoker(srv.Addr(), "")

	if err := r.Revoke("tok-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked("tok-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Fatalf("token should be revoked")
	}

	srv.FastForward(2 * time.Minute)
	revoked, err = r.IsRevoked("tok-1")
	if err != nil {
		t.Fatalf("is revoked after expiry: %v", err)
	}
	if revoked {
		t.Fatalf("revocation should lapse with the token's ttl")
	}
}
