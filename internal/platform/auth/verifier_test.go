package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestSessionVerifierAcceptsValidToken(t *testing.T) {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	verifier, err := NewSessionVerifier(testSecret, WithVerifierClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewSessionVerifier: %v", err)
	}

	tokenStr := signToken(t, testSecret, jwt.MapClaims{
		"sub":        "user-1",
		"email":      "user@example.com",
		"session_id": "sess-1",
		"exp":        now.Add(time.Hour).Unix(),
		"iat":        now.Unix(),
	})

	identity, err := verifier.Verify(tokenStr)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.UserID != "user-1" || identity.Email != "user@example.com" || identity.SessionID != "sess-1" {
		t.Fatalf("identity = %+v", identity)
	}
}

func TestSessionVerifierRejectsExpiredToken(t *testing.T) {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	verifier, err := NewSessionVerifier(testSecret, WithVerifierClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewSessionVerifier: %v", err)
	}

	tokenStr := signToken(t, testSecret, jwt.MapClaims{
		"sub": "user-1",
		"exp": now.Add(-time.Minute).Unix(),
	})

	if _, err := verifier.Verify(tokenStr); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Verify error = %v, want ErrTokenExpired", err)
	}
}

func TestSessionVerifierRejectsMissingExpiry(t *testing.T) {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	verifier, err := NewSessionVerifier(testSecret, WithVerifierClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewSessionVerifier: %v", err)
	}

	tokenStr := signToken(t, testSecret, jwt.MapClaims{
		"sub": "user-1",
	})

	if _, err := verifier.Verify(tokenStr); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Verify error = %v, want ErrTokenInvalid", err)
	}
}

func TestSessionVerifierRejectsNotYetValidToken(t *testing.T) {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	verifier, err := NewSessionVerifier(testSecret, WithVerifierClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewSessionVerifier: %v", err)
	}

	tokenStr := signToken(t, testSecret, jwt.MapClaims{
		"sub": "user-1",
		"exp": now.Add(time.Hour).Unix(),
		"nbf": now.Add(time.Minute).Unix(),
	})

	if _, err := verifier.Verify(tokenStr); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Verify error = %v, want ErrTokenInvalid", err)
	}
}

func TestSessionVerifierRejectsWrongKey(t *testing.T) {
	verifier, err := NewSessionVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewSessionVerifier: %v", err)
	}

	other := []byte("ffffffffffffffffffffffffffffffff")
	tokenStr := signToken(t, other, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := verifier.Verify(tokenStr); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Verify error = %v, want ErrTokenInvalid", err)
	}
}

func TestSessionVerifierRejectsMissingSubject(t *testing.T) {
	verifier, err := NewSessionVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewSessionVerifier: %v", err)
	}

	tokenStr := signToken(t, testSecret, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := verifier.Verify(tokenStr); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Verify error = %v, want ErrTokenInvalid", err)
	}
}

func TestNewSessionVerifierRejectsShortSecret(t *testing.T) {
	if _, err := NewSessionVerifier([]byte("short")); err == nil {
		t.Fatal("NewSessionVerifier accepted a short secret")
	}
}
