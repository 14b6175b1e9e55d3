package auth

import (
	"errors"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("short password: got %v, want ErrWeakPassword", err)
	}
	if err := ValidatePassword("long-enough"); err != nil {
		t.Fatalf("valid password rejected: %v", err)
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "correct-horse" {
		t.Fatalf("hash must not equal the plaintext")
	}
	if !CheckPassword("correct-horse", hash) {
		t.Fatalf("correct password rejected")
	}
	if CheckPassword("battery-staple", hash) {
		t.Fatalf("wrong password accepted")
	}
	if CheckPassword("correct-horse", "not-a-hash") {
		t.Fatalf("garbage hash accepted")
	}
}
