package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/deskforge/api/internal/domain"
	"github.com/deskforge/api/internal/platform/auth"
	"github.com/deskforge/api/internal/repositories"
	"github.com/deskforge/api/internal/security"
)

// RedirectTokenOpener decrypts and validates redirect tokens.
type RedirectTokenOpener interface {
	Open(token string) (security.RedirectClaims, error)
}

// CheckoutRedirect is the resolved destination for a valid redirect token.
type CheckoutRedirect struct {
	CartID      string
	Destination string
}

// CheckoutServiceDeps wires the redirect resolution collaborators.
type CheckoutServiceDeps struct {
	Requests       repositories.PurchaseRequestRepository
	RedirectTokens RedirectTokenOpener
	Clock          func() time.Time
	Logger         func(context.Context, string, map[string]any)
}

// CheckoutService resolves redirect tokens into mall checkout destinations.
type CheckoutService struct {
	requests       repositories.PurchaseRequestRepository
	redirectTokens RedirectTokenOpener
	now            func() time.Time
	logger         func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs a CheckoutService.
func NewCheckoutService(deps CheckoutServiceDeps) (*CheckoutService, error) {
	if deps.Requests == nil {
		return nil, errors.New("checkout service: purchase request repository is required")
	}
	if deps.RedirectTokens == nil {
		return nil, errors.New("checkout service: redirect token opener is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CheckoutService{
		requests:       deps.Requests,
		redirectTokens: deps.RedirectTokens,
		now:            func() time.Time { return clock().UTC() },
		logger:         logger,
	}, nil
}

// ResolveRedirect validates the token, checks the cart belongs to the
// session user, and records the handoff. Token failures are reported as
// invalid input without detail so the token contents cannot be probed.
func (s *CheckoutService) ResolveRedirect(ctx context.Context, identity auth.Identity, token string) (CheckoutRedirect, error) {
	if !identity.Valid() {
		return CheckoutRedirect{}, fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}

	claims, err := s.redirectTokens.Open(token)
	if err != nil {
		return CheckoutRedirect{}, fmt.Errorf("%w: redirect token", ErrInvalidInput)
	}
	if claims.UserID != identity.UserID {
		return CheckoutRedirect{}, fmt.Errorf("%w: cart %s", ErrForbidden, claims.CartID)
	}
	if strings.TrimSpace(claims.ReturnURL) == "" {
		return CheckoutRedirect{}, fmt.Errorf("%w: redirect token", ErrInvalidInput)
	}

	request, err := s.requests.FindByMallCartID(ctx, claims.CartID)
	switch {
	case err == nil:
		if request.UserID != identity.UserID {
			return CheckoutRedirect{}, fmt.Errorf("%w: cart %s", ErrForbidden, claims.CartID)
		}
		if request.Status == domain.PurchaseStatusSuccess {
			if _, err := s.requests.UpdateStatus(ctx, request.ID, domain.PurchaseStatusRedirected, "", ""); err != nil {
				s.logger(ctx, "purchase_request_redirect_mark_failed", map[string]any{
					"purchase_request_id": request.ID,
					"error":               err.Error(),
				})
			}
		}
	case isNotFound(err):
		// Token outlived its purchase request record. The token itself is
		// authenticated, so the redirect still proceeds.
		s.logger(ctx, "checkout_redirect_request_missing", map[string]any{"cart_id": claims.CartID})
	default:
		return CheckoutRedirect{}, fmt.Errorf("%w: load purchase request: %v", ErrUnavailable, err)
	}

	return CheckoutRedirect{CartID: claims.CartID, Destination: claims.ReturnURL}, nil
}
