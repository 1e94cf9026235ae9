package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/deskforge/api/internal/commerce"
	domain "github.com/deskforge/api/internal/domain"
	"github.com/deskforge/api/internal/platform/auth"
	"github.com/deskforge/api/internal/platform/ratelimit"
	"github.com/deskforge/api/internal/platform/textutil"
	"github.com/deskforge/api/internal/pricing"
	"github.com/deskforge/api/internal/repositories"
)

const (
	purchaseRequestIDPrefix = "pr_"

	defaultRedirectPath = "/checkout/redirect"
	defaultRetryPath    = "/cart/retry"
)

// AuthoritativePricer recomputes totals from the live policy store.
type AuthoritativePricer interface {
	Recalculate(ctx context.Context, dims domain.Dimensions, material domain.Material) (domain.PriceBreakdown, error)
}

// CartTokenMinter issues user-bound cart id tokens.
type CartTokenMinter interface {
	Issue(cartID, userID string) (string, error)
}

// RedirectTokenSealer produces encrypted checkout redirect tokens.
type RedirectTokenSealer interface {
	Seal(cartID, userID, returnURL string) (string, error)
}

// DrawingDispatcher enqueues production drawing generation for an accepted
// purchase request.
type DrawingDispatcher interface {
	Dispatch(ctx context.Context, request domain.PurchaseRequest) error
}

// AddToCartResult is returned to the handler on a successful mall submission.
type AddToCartResult struct {
	PurchaseRequestID string
	CartID            string
	CartToken         string
	RedirectURL       string
	Breakdown         domain.PriceBreakdown
}

// CartServiceDeps wires the collaborators for cart submission.
type CartServiceDeps struct {
	Requests       repositories.PurchaseRequestRepository
	Pricer         AuthoritativePricer
	Mall           commerce.Client
	Limiter        ratelimit.Limiter
	CartTokens     CartTokenMinter
	RedirectTokens RedirectTokenSealer
	Drawings       DrawingDispatcher
	Clock          func() time.Time
	Logger         func(context.Context, string, map[string]any)
	IDGenerator    func() string
	RedirectPath   string
	RetryPath      string
}

// CartService pushes validated desk configurations into the external mall.
type CartService struct {
	requests       repositories.PurchaseRequestRepository
	pricer         AuthoritativePricer
	mall           commerce.Client
	limiter        ratelimit.Limiter
	cartTokens     CartTokenMinter
	redirectTokens RedirectTokenSealer
	drawings       DrawingDispatcher
	now            func() time.Time
	logger         func(context.Context, string, map[string]any)
	newID          func() string
	redirectPath   string
	retryPath      string
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (*CartService, error) {
	if deps.Requests == nil {
		return nil, errors.New("cart service: purchase request repository is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("cart service: pricer is required")
	}
	if deps.Mall == nil {
		return nil, errors.New("cart service: mall client is required")
	}
	if deps.Limiter == nil {
		return nil, errors.New("cart service: rate limiter is required")
	}
	if deps.CartTokens == nil {
		return nil, errors.New("cart service: cart token minter is required")
	}
	if deps.RedirectTokens == nil {
		return nil, errors.New("cart service: redirect token sealer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return purchaseRequestIDPrefix + ulid.Make().String() }
	}
	redirectPath := strings.TrimSpace(deps.RedirectPath)
	if redirectPath == "" {
		redirectPath = defaultRedirectPath
	}
	retryPath := strings.TrimSpace(deps.RetryPath)
	if retryPath == "" {
		retryPath = defaultRetryPath
	}

	return &CartService{
		requests:       deps.Requests,
		pricer:         deps.Pricer,
		mall:           deps.Mall,
		limiter:        deps.Limiter,
		cartTokens:     deps.CartTokens,
		redirectTokens: deps.RedirectTokens,
		drawings:       deps.Drawings,
		now:            func() time.Time { return clock().UTC() },
		logger:         logger,
		newID:          idGen,
		redirectPath:   redirectPath,
		retryPath:      retryPath,
	}, nil
}

// AddToCart revalidates the submission, recomputes the price from live
// policy, persists a purchase request, and pushes the item into the mall.
func (s *CartService) AddToCart(ctx context.Context, identity auth.Identity, submission domain.CartItemSubmission) (AddToCartResult, error) {
	if !identity.Valid() {
		return AddToCartResult{}, fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}
	submission.ProductName = textutil.CleanText(submission.ProductName)
	submission.Specifications = textutil.NormalizeStringMap(submission.Specifications)
	if err := validateSubmission(submission); err != nil {
		return AddToCartResult{}, err
	}

	decision, err := s.limiter.Allow(ctx, "cart:"+identity.UserID)
	if err != nil {
		s.logger(ctx, "cart_rate_limit_error", map[string]any{"error": err.Error()})
		return AddToCartResult{}, fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}
	if !decision.Allowed {
		return AddToCartResult{}, &RateLimitError{
			Limit:      decision.Limit,
			Remaining:  decision.Remaining,
			RetryAfter: decision.RetryAfter,
		}
	}

	breakdown, err := s.revalidate(ctx, submission)
	if err != nil {
		return AddToCartResult{}, err
	}

	request := domain.PurchaseRequest{
		ID:             s.newID(),
		UserID:         identity.UserID,
		ProductID:      submission.ProductID,
		ProductName:    submission.ProductName,
		Quantity:       submission.Quantity,
		UnitPrice:      breakdown.Total,
		Total:          breakdown.Total * int64(submission.Quantity),
		Dimensions:     submission.Dimensions,
		Material:       submission.Material,
		Specifications: submission.Specifications,
		Status:         domain.PurchaseStatusPending,
		CreatedAt:      s.now(),
	}
	if _, err := s.requests.Create(ctx, request); err != nil {
		s.logger(ctx, "purchase_request_create_failed", map[string]any{"error": err.Error()})
		return AddToCartResult{}, fmt.Errorf("%w: persist purchase request: %v", ErrUnavailable, err)
	}

	return s.submit(ctx, identity, request, submission.Specifications, breakdown)
}

// RetryAddToCart resubmits a failed purchase request as a fresh attempt.
func (s *CartService) RetryAddToCart(ctx context.Context, identity auth.Identity, purchaseRequestID string) (AddToCartResult, error) {
	if !identity.Valid() {
		return AddToCartResult{}, fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}
	id := strings.TrimSpace(purchaseRequestID)
	if id == "" {
		return AddToCartResult{}, fmt.Errorf("%w: purchase request id is required", ErrInvalidInput)
	}

	previous, err := s.requests.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return AddToCartResult{}, fmt.Errorf("%w: purchase request %s", ErrNotFound, id)
		}
		return AddToCartResult{}, fmt.Errorf("%w: load purchase request: %v", ErrUnavailable, err)
	}
	if previous.UserID != identity.UserID {
		return AddToCartResult{}, fmt.Errorf("%w: purchase request %s", ErrForbidden, id)
	}
	if previous.Status != domain.PurchaseStatusFailed {
		return AddToCartResult{}, fmt.Errorf("%w: purchase request %s is %s, only failed requests can be retried", ErrInvalidInput, id, previous.Status)
	}

	submission := domain.CartItemSubmission{
		ProductID:      previous.ProductID,
		ProductName:    previous.ProductName,
		Quantity:       previous.Quantity,
		UnitPrice:      previous.UnitPrice,
		Total:          previous.Total,
		Dimensions:     previous.Dimensions,
		Material:       previous.Material,
		Specifications: previous.Specifications,
	}
	return s.AddToCart(ctx, identity, submission)
}

// submit performs the mall call and the post-call bookkeeping around it.
func (s *CartService) submit(ctx context.Context, identity auth.Identity, request domain.PurchaseRequest, specifications map[string]string, breakdown domain.PriceBreakdown) (AddToCartResult, error) {
	result, err := s.mall.AddToCart(ctx, commerce.CartSubmission{
		ProductID:      request.ProductID,
		ProductName:    request.ProductName,
		Quantity:       request.Quantity,
		UnitPrice:      request.UnitPrice,
		TotalPrice:     request.Total,
		Dimensions:     request.Dimensions,
		Material:       request.Material,
		Specifications: specifications,
	})
	if err != nil {
		reason := err.Error()
		if _, updateErr := s.requests.UpdateStatus(ctx, request.ID, domain.PurchaseStatusFailed, "", reason); updateErr != nil {
			s.logger(ctx, "purchase_request_fail_mark_failed", map[string]any{
				"purchase_request_id": request.ID,
				"error":               updateErr.Error(),
			})
		}

		if errors.Is(err, commerce.ErrRejected) {
			return AddToCartResult{}, &BusinessRuleError{Reason: "mall rejected the cart item", Cause: err}
		}
		s.logger(ctx, "mall_submission_failed", map[string]any{
			"purchase_request_id": request.ID,
			"error":               reason,
		})
		return AddToCartResult{}, &MallFallbackError{
			PurchaseRequestID: request.ID,
			RetryURL:          s.retryPath + "?purchase_request_id=" + url.QueryEscape(request.ID),
			Cause:             err,
		}
	}

	if _, err := s.requests.UpdateStatus(ctx, request.ID, domain.PurchaseStatusSuccess, result.CartID, ""); err != nil {
		s.logger(ctx, "purchase_request_success_mark_failed", map[string]any{
			"purchase_request_id": request.ID,
			"error":               err.Error(),
		})
	}

	cartToken, err := s.cartTokens.Issue(result.CartID, identity.UserID)
	if err != nil {
		return AddToCartResult{}, fmt.Errorf("%w: mint cart token: %v", ErrUnavailable, err)
	}
	redirectToken, err := s.redirectTokens.Seal(result.CartID, identity.UserID, result.RedirectURL)
	if err != nil {
		return AddToCartResult{}, fmt.Errorf("%w: seal redirect token: %v", ErrUnavailable, err)
	}

	if s.drawings != nil {
		request.MallCartID = result.CartID
		if err := s.drawings.Dispatch(ctx, request); err != nil {
			s.logger(ctx, "drawing_dispatch_failed", map[string]any{
				"purchase_request_id": request.ID,
				"error":               err.Error(),
			})
		}
	}

	return AddToCartResult{
		PurchaseRequestID: request.ID,
		CartID:            result.CartID,
		CartToken:         cartToken,
		RedirectURL:       s.redirectPath + "?token=" + url.QueryEscape(redirectToken),
		Breakdown:         breakdown,
	}, nil
}

// revalidate recomputes the price from live policy and compares it against
// the client-submitted totals. The tolerance is zero: KRW amounts are
// integers and the formula is deterministic, so any difference means the
// client priced against stale policy.
func (s *CartService) revalidate(ctx context.Context, submission domain.CartItemSubmission) (domain.PriceBreakdown, error) {
	breakdown, err := s.pricer.Recalculate(ctx, submission.Dimensions, submission.Material)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidDimensions):
			return domain.PriceBreakdown{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		case errors.Is(err, pricing.ErrMaterialNotFound):
			return domain.PriceBreakdown{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		default:
			return domain.PriceBreakdown{}, fmt.Errorf("%w: authoritative pricing: %v", ErrUnavailable, err)
		}
	}

	expectedTotal := breakdown.Total * int64(submission.Quantity)
	if submission.UnitPrice != breakdown.Total || submission.Total != expectedTotal {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: submitted %d, authoritative %d", ErrPriceMismatch, submission.Total, expectedTotal)
	}
	return breakdown, nil
}

func validateSubmission(submission domain.CartItemSubmission) error {
	if strings.TrimSpace(submission.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(submission.ProductName) == "" {
		return fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}
	if submission.Quantity <= 0 || submission.Quantity > 10 {
		return fmt.Errorf("%w: quantity must be between 1 and 10", ErrInvalidInput)
	}
	if submission.UnitPrice <= 0 || submission.Total <= 0 {
		return fmt.Errorf("%w: prices must be positive", ErrInvalidInput)
	}
	if err := submission.Dimensions.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
