package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrTokenExpired signals that the provided session token has expired.
	ErrTokenExpired = errors.New("auth: session token expired")
	// ErrTokenInvalid signals that the provided session token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: session token invalid")
)

// SessionVerifier validates HS256 session tokens issued by the auth provider.
type SessionVerifier struct {
	secret   []byte
	issuer   string
	audience string
	clock    func() time.Time
}

// VerifierOption customises SessionVerifier behaviour.
type VerifierOption func(*SessionVerifier)

// WithIssuer requires the iss claim to match the given value.
func WithIssuer(issuer string) VerifierOption {
	return func(v *SessionVerifier) {
		v.issuer = strings.TrimSpace(issuer)
	}
}

// WithAudience requires the aud claim to include the given value.
func WithAudience(audience string) VerifierOption {
	return func(v *SessionVerifier) {
		v.audience = strings.TrimSpace(audience)
	}
}

// WithVerifierClock injects a custom clock, primarily for tests.
func WithVerifierClock(clock func() time.Time) VerifierOption {
	return func(v *SessionVerifier) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// NewSessionVerifier constructs a verifier over the shared signing secret.
func NewSessionVerifier(secret []byte, opts ...VerifierOption) (*SessionVerifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: session secret must be at least 32 bytes")
	}
	v := &SessionVerifier{
		secret: secret,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

type sessionClaims struct {
	Email     string `json:"email,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token, returning the authenticated identity.
func (v *SessionVerifier) Verify(tokenStr string) (*Identity, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: verifier not configured", ErrTokenInvalid)
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	// Time-based claims are validated manually against the injected clock;
	// the parser only checks the signature and algorithm.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := &sessionClaims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	now := v.clock().UTC()
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: exp claim missing", ErrTokenInvalid)
	}
	if !claims.VerifyExpiresAt(now, true) {
		return nil, fmt.Errorf("%w: expired at %s", ErrTokenExpired, claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, fmt.Errorf("%w: token not yet valid", ErrTokenInvalid)
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenInvalid)
	}
	if v.audience != "" {
		matched := false
		for _, aud := range claims.Audience {
			if aud == v.audience {
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("%w: unexpected audience", ErrTokenInvalid)
		}
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}

	return &Identity{
		UserID:    userID,
		Email:     strings.TrimSpace(claims.Email),
		SessionID: strings.TrimSpace(claims.SessionID),
	}, nil
}
