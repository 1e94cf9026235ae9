package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const defaultCartTokenTTL = 30 * time.Minute

var (
	// ErrCartTokenInvalid covers malformed tokens, bad signatures, and
	// user mismatches. The cause is deliberately not distinguished.
	ErrCartTokenInvalid = errors.New("security: cart token invalid")
	// ErrCartTokenExpired indicates a well-formed token past its TTL.
	ErrCartTokenExpired = errors.New("security: cart token expired")
)

// CartToken is the decoded claim set of a verified cart id token.
type CartToken struct {
	CartID   string
	UserID   string
	IssuedAt time.Time
}

// CartTokenIssuer mints opaque cart id tokens bound to the requesting user.
// A token is base64url(cartID|userID|issuedAt) joined with an HMAC-SHA256 tag
// so it cannot be transplanted between users or minted client-side.
type CartTokenIssuer struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

// CartTokenOption customises the issuer.
type CartTokenOption func(*CartTokenIssuer)

// WithCartTokenTTL overrides the token lifetime.
func WithCartTokenTTL(ttl time.Duration) CartTokenOption {
	return func(i *CartTokenIssuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithCartTokenClock injects a custom clock, primarily for tests.
func WithCartTokenClock(clock func() time.Time) CartTokenOption {
	return func(i *CartTokenIssuer) {
		i.clock = clockOrDefault(clock)
	}
}

// NewCartTokenIssuer constructs an issuer with the given signing key.
func NewCartTokenIssuer(key []byte, opts ...CartTokenOption) (*CartTokenIssuer, error) {
	if len(key) < minKeyLength {
		return nil, errors.New("security: cart token key must be at least 32 bytes")
	}
	issuer := &CartTokenIssuer{key: key, ttl: defaultCartTokenTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(issuer)
		}
	}
	return issuer, nil
}

// Issue mints a token binding cartID to userID at the current time.
func (i *CartTokenIssuer) Issue(cartID, userID string) (string, error) {
	cartID = strings.TrimSpace(cartID)
	userID = strings.TrimSpace(userID)
	if cartID == "" || userID == "" {
		return "", errors.New("security: cart id and user id are required")
	}
	if strings.ContainsRune(cartID, '|') || strings.ContainsRune(userID, '|') {
		return "", errors.New("security: cart id and user id must not contain '|'")
	}

	payload := fmt.Sprintf("%s|%s|%d", cartID, userID, i.clock().Unix())
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + i.tag(payload), nil
}

// Parse verifies the token signature and TTL and checks it is bound to
// userID. Any failure other than expiry reports ErrCartTokenInvalid.
func (i *CartTokenIssuer) Parse(token, userID string) (CartToken, error) {
	encoded, tag, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || encoded == "" || tag == "" {
		return CartToken{}, ErrCartTokenInvalid
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return CartToken{}, ErrCartTokenInvalid
	}
	payload := string(raw)
	if !hmac.Equal([]byte(tag), []byte(i.tag(payload))) {
		return CartToken{}, ErrCartTokenInvalid
	}

	parts := strings.Split(payload, "|")
	if len(parts) != 3 {
		return CartToken{}, ErrCartTokenInvalid
	}
	issuedUnix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return CartToken{}, ErrCartTokenInvalid
	}

	claims := CartToken{CartID: parts[0], UserID: parts[1], IssuedAt: time.Unix(issuedUnix, 0).UTC()}
	if claims.CartID == "" || claims.UserID == "" {
		return CartToken{}, ErrCartTokenInvalid
	}
	if claims.UserID != strings.TrimSpace(userID) {
		return CartToken{}, ErrCartTokenInvalid
	}

	now := i.clock()
	if claims.IssuedAt.After(now.Add(time.Minute)) {
		return CartToken{}, ErrCartTokenInvalid
	}
	if now.Sub(claims.IssuedAt) > i.ttl {
		return CartToken{}, ErrCartTokenExpired
	}
	return claims, nil
}

func (i *CartTokenIssuer) tag(payload string) string {
	mac := hmac.New(sha256.New, i.key)
	_, _ = mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
