package security

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/oklog/ulid/v2"
)

const defaultRedirectTokenTTL = 15 * time.Minute

// ErrRedirectTokenInvalid covers every redirect token failure: decryption,
// malformed claims, expiry, and nonce problems. Callers surface it as an
// opaque validation error.
var ErrRedirectTokenInvalid = errors.New("security: redirect token invalid")

// RedirectClaims is the payload sealed inside a redirect token.
type RedirectClaims struct {
	CartID    string `json:"cart_id"`
	UserID    string `json:"user_id"`
	ReturnURL string `json:"return_url"`
	IssuedAt  int64  `json:"issued_at"`
	Nonce     string `json:"nonce"`
}

// RedirectSealer produces encrypted redirect tokens for the checkout handoff.
// Tokens are JWE compact serializations (alg dir, enc A256GCM) so the cart
// and user binding never travels in cleartext through the mall redirect.
type RedirectSealer struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

// RedirectOption customises the sealer.
type RedirectOption func(*RedirectSealer)

// WithRedirectTTL overrides the token lifetime.
func WithRedirectTTL(ttl time.Duration) RedirectOption {
	return func(s *RedirectSealer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRedirectClock injects a custom clock, primarily for tests.
func WithRedirectClock(clock func() time.Time) RedirectOption {
	return func(s *RedirectSealer) {
		s.clock = clockOrDefault(clock)
	}
}

// NewRedirectSealer constructs a sealer. Direct A256GCM encryption requires a
// key of exactly 32 bytes.
func NewRedirectSealer(key []byte, opts ...RedirectOption) (*RedirectSealer, error) {
	if len(key) != 32 {
		return nil, errors.New("security: redirect token key must be exactly 32 bytes")
	}
	sealer := &RedirectSealer{key: key, ttl: defaultRedirectTokenTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(sealer)
		}
	}
	return sealer, nil
}

// Seal encrypts the cart and user binding into a URL-safe token.
func (s *RedirectSealer) Seal(cartID, userID, returnURL string) (string, error) {
	cartID = strings.TrimSpace(cartID)
	userID = strings.TrimSpace(userID)
	if cartID == "" || userID == "" {
		return "", errors.New("security: cart id and user id are required")
	}

	claims := RedirectClaims{
		CartID:    cartID,
		UserID:    userID,
		ReturnURL: strings.TrimSpace(returnURL),
		IssuedAt:  s.clock().Unix(),
		Nonce:     ulid.Make().String(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	encrypter, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: s.key}, nil)
	if err != nil {
		return "", err
	}
	object, err := encrypter.Encrypt(payload)
	if err != nil {
		return "", err
	}
	return object.CompactSerialize()
}

// Open decrypts the token and validates its age and nonce. Every failure
// collapses to ErrRedirectTokenInvalid.
func (s *RedirectSealer) Open(token string) (RedirectClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return RedirectClaims{}, ErrRedirectTokenInvalid
	}

	object, err := jose.ParseEncrypted(token, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return RedirectClaims{}, ErrRedirectTokenInvalid
	}
	payload, err := object.Decrypt(s.key)
	if err != nil {
		return RedirectClaims{}, ErrRedirectTokenInvalid
	}

	var claims RedirectClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return RedirectClaims{}, ErrRedirectTokenInvalid
	}
	if claims.CartID == "" || claims.UserID == "" {
		return RedirectClaims{}, ErrRedirectTokenInvalid
	}
	if _, err := ulid.ParseStrict(claims.Nonce); err != nil {
		return RedirectClaims{}, ErrRedirectTokenInvalid
	}

	now := s.clock()
	issued := time.Unix(claims.IssuedAt, 0)
	if issued.After(now.Add(time.Minute)) {
		return RedirectClaims{}, ErrRedirectTokenInvalid
	}
	if now.Sub(issued) > s.ttl {
		return RedirectClaims{}, ErrRedirectTokenInvalid
	}
	return claims, nil
}
