package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	raw, err := tokens.Sign("acc-1", "a@example.com")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := tokens.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.AccountID != "acc-1" || claims.Email != "a@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	raw, err := NewTokens("one", time.Hour).Sign("acc-1", "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewTokens("two", time.Hour).Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	tokens := NewTokens("secret", time.Minute)
	issued := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return issued }
	raw, err := tokens.Sign("acc-1", "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tokens.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := tokens.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expiry rejection, got %v", err)
	}
}

func TestSignRequiresAccount(t *testing.T) {
	if _, err := NewTokens("", 0).Sign("", ""); err == nil {
		t.Fatalf("expected error")
	}
}
