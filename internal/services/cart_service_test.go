package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deskforge/api/internal/commerce"
	domain "github.com/deskforge/api/internal/domain"
	"github.com/deskforge/api/internal/platform/auth"
	"github.com/deskforge/api/internal/platform/ratelimit"
)

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string       { return e.msg }
func (e *notFoundError) IsNotFound() bool    { return true }
func (e *notFoundError) IsConflict() bool    { return false }
func (e *notFoundError) IsUnavailable() bool { return false }

type fakePurchaseRepo struct {
	mu       sync.Mutex
	requests map[string]domain.PurchaseRequest
	creates  int
}

func newFakePurchaseRepo() *fakePurchaseRepo {
	return &fakePurchaseRepo{requests: make(map[string]domain.PurchaseRequest)}
}

func (f *fakePurchaseRepo) Create(_ context.Context, request domain.PurchaseRequest) (domain.PurchaseRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.requests[request.ID] = request
	return request, nil
}

func (f *fakePurchaseRepo) Get(_ context.Context, id string) (domain.PurchaseRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok {
		return domain.PurchaseRequest{}, &notFoundError{msg: "purchase request not found"}
	}
	return request, nil
}

func (f *fakePurchaseRepo) UpdateStatus(_ context.Context, id string, status domain.PurchaseStatus, mallCartID, failureReason string) (domain.PurchaseRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok {
		return domain.PurchaseRequest{}, &notFoundError{msg: "purchase request not found"}
	}
	if !request.Status.CanTransition(status) {
		return domain.PurchaseRequest{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, request.Status, status)
	}
	request.Status = status
	if mallCartID != "" {
		request.MallCartID = mallCartID
	}
	if failureReason != "" {
		request.FailureReason = failureReason
	}
	f.requests[id] = request
	return request, nil
}

func (f *fakePurchaseRepo) FindByMallCartID(_ context.Context, mallCartID string) (domain.PurchaseRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, request := range f.requests {
		if request.MallCartID == mallCartID {
			return request, nil
		}
	}
	return domain.PurchaseRequest{}, &notFoundError{msg: "purchase request not found"}
}

func (f *fakePurchaseRepo) ListPendingOlderThan(_ context.Context, cutoff time.Time, limit int) ([]domain.PurchaseRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []domain.PurchaseRequest
	for _, request := range f.requests {
		if request.Status == domain.PurchaseStatusPending && request.CreatedAt.Before(cutoff) {
			pending = append(pending, request)
		}
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (f *fakePurchaseRepo) get(id string) (domain.PurchaseRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	return request, ok
}

type fakeLimiter struct {
	decision ratelimit.Decision
	err      error
	keys     []string
}

func allowAll() *fakeLimiter {
	return &fakeLimiter{decision: ratelimit.Decision{Allowed: true, Limit: 5, Remaining: 4}}
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (ratelimit.Decision, error) {
	f.keys = append(f.keys, key)
	return f.decision, f.err
}

type fakePricer struct {
	breakdown domain.PriceBreakdown
	err       error
}

func (f *fakePricer) Recalculate(_ context.Context, dims domain.Dimensions, material domain.Material) (domain.PriceBreakdown, error) {
	if f.err != nil {
		return domain.PriceBreakdown{}, f.err
	}
	breakdown := f.breakdown
	breakdown.Dimensions = dims
	breakdown.Material = material
	return breakdown, nil
}

type fakeMall struct {
	result commerce.CartResult
	err    error
	calls  int
}

func (f *fakeMall) AddToCart(_ context.Context, _ commerce.CartSubmission) (commerce.CartResult, error) {
	f.calls++
	if f.err != nil {
		return commerce.CartResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeMall) HealthCheck(context.Context) error { return nil }

type fakeMinter struct{}

func (fakeMinter) Issue(cartID, userID string) (string, error) {
	return "ct-" + cartID + "-" + userID, nil
}

type fakeSealer struct{}

func (fakeSealer) Seal(cartID, userID, returnURL string) (string, error) {
	return "rt-" + cartID, nil
}

type recordingDispatcher struct {
	requests []domain.PurchaseRequest
	err      error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, request domain.PurchaseRequest) error {
	d.requests = append(d.requests, request)
	return d.err
}

func testIdentity() auth.Identity {
	return auth.Identity{UserID: "user-9", Email: "desk@example.com", SessionID: "sess-1"}
}

func validCartSubmission() domain.CartItemSubmission {
	return domain.CartItemSubmission{
		ProductID:   "desk-custom",
		ProductName: "Custom desk",
		Quantity:    2,
		UnitPrice:   117700,
		Total:       235400,
		Dimensions:  domain.Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 75},
		Material:    domain.MaterialWood,
	}
}

func authoritativeBreakdown() domain.PriceBreakdown {
	return domain.PriceBreakdown{
		MaterialCost: 27000,
		BaseFee:      50000,
		ShippingFee:  30000,
		Subtotal:     107000,
		Tax:          10700,
		Total:        117700,
		Mode:         domain.PricingModeAuthoritative,
	}
}

type cartFixture struct {
	service    *CartService
	repo       *fakePurchaseRepo
	mall       *fakeMall
	limiter    *fakeLimiter
	dispatcher *recordingDispatcher
}

func newCartFixture(t *testing.T, mutate func(*CartServiceDeps)) *cartFixture {
	t.Helper()
	repo := newFakePurchaseRepo()
	mall := &fakeMall{result: commerce.CartResult{CartID: "mall-1", RedirectURL: "https://mall/checkout/mall-1"}}
	limiter := allowAll()
	dispatcher := &recordingDispatcher{}

	nextID := 0
	deps := CartServiceDeps{
		Requests:       repo,
		Pricer:         &fakePricer{breakdown: authoritativeBreakdown()},
		Mall:           mall,
		Limiter:        limiter,
		CartTokens:     fakeMinter{},
		RedirectTokens: fakeSealer{},
		Drawings:       dispatcher,
		Clock:          func() time.Time { return time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC) },
		IDGenerator: func() string {
			nextID++
			return fmt.Sprintf("pr_%03d", nextID)
		},
	}
	if mutate != nil {
		mutate(&deps)
	}

	service, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return &cartFixture{service: service, repo: repo, mall: mall, limiter: limiter, dispatcher: dispatcher}
}

func TestAddToCartSuccess(t *testing.T) {
	fixture := newCartFixture(t, nil)

	result, err := fixture.service.AddToCart(context.Background(), testIdentity(), validCartSubmission())
	if err != nil {
		t.Fatalf("AddToCart: %v", err)
	}

	if result.CartID != "mall-1" {
		t.Fatalf("cartID = %q, want mall-1", result.CartID)
	}
	if result.CartToken != "ct-mall-1-user-9" {
		t.Fatalf("cartToken = %q", result.CartToken)
	}
	if !strings.HasPrefix(result.RedirectURL, "/checkout/redirect?token=") {
		t.Fatalf("redirectURL = %q", result.RedirectURL)
	}

	request, ok := fixture.repo.get(result.PurchaseRequestID)
	if !ok {
		t.Fatal("purchase request not persisted")
	}
	if request.Status != domain.PurchaseStatusSuccess {
		t.Fatalf("status = %s, want success", request.Status)
	}
	if request.MallCartID != "mall-1" {
		t.Fatalf("mallCartID = %q, want mall-1", request.MallCartID)
	}
	if request.Total != 235400 {
		t.Fatalf("total = %d, want 235400", request.Total)
	}

	if len(fixture.dispatcher.requests) != 1 {
		t.Fatalf("drawing dispatches = %d, want 1", len(fixture.dispatcher.requests))
	}
	if fixture.limiter.keys[0] != "cart:user-9" {
		t.Fatalf("rate limit key = %q, want cart:user-9", fixture.limiter.keys[0])
	}
}

func TestAddToCartSanitizesSubmissionText(t *testing.T) {
	fixture := newCartFixture(t, nil)

	submission := validCartSubmission()
	submission.ProductName = "  Custom <b>desk</b> "
	submission.Specifications = map[string]string{" finish ": "<i>matte</i>"}

	result, err := fixture.service.AddToCart(context.Background(), testIdentity(), submission)
	if err != nil {
		t.Fatalf("AddToCart: %v", err)
	}

	request, ok := fixture.repo.get(result.PurchaseRequestID)
	if !ok {
		t.Fatal("purchase request not persisted")
	}
	if request.ProductName != "Custom desk" {
		t.Fatalf("productName = %q, want %q", request.ProductName, "Custom desk")
	}
	if got := request.Specifications["finish"]; got != "matte" {
		t.Fatalf("specifications[finish] = %q, want matte", got)
	}
}

func TestAddToCartRateLimited(t *testing.T) {
	fixture := newCartFixture(t, func(deps *CartServiceDeps) {
		deps.Limiter = &fakeLimiter{decision: ratelimit.Decision{Allowed: false, Limit: 5, RetryAfter: 42 * time.Second}}
	})

	_, err := fixture.service.AddToCart(context.Background(), testIdentity(), validCartSubmission())
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if rateErr.RetryAfter != 42*time.Second {
		t.Fatalf("retryAfter = %v, want 42s", rateErr.RetryAfter)
	}
	if fixture.mall.calls != 0 {
		t.Fatalf("mall calls = %d, want 0", fixture.mall.calls)
	}
	if fixture.repo.creates != 0 {
		t.Fatalf("persisted requests = %d, want 0", fixture.repo.creates)
	}
}

func TestAddToCartPriceMismatch(t *testing.T) {
	fixture := newCartFixture(t, nil)

	submission := validCartSubmission()
	submission.Total = 200000
	_, err := fixture.service.AddToCart(context.Background(), testIdentity(), submission)
	if !errors.Is(err, ErrPriceMismatch) {
		t.Fatalf("error = %v, want ErrPriceMismatch", err)
	}
	if fixture.mall.calls != 0 {
		t.Fatalf("mall calls = %d, want 0", fixture.mall.calls)
	}
}

func TestAddToCartInvalidSubmission(t *testing.T) {
	fixture := newCartFixture(t, nil)

	cases := []struct {
		name   string
		mutate func(*domain.CartItemSubmission)
	}{
		{"missing product id", func(s *domain.CartItemSubmission) { s.ProductID = "" }},
		{"zero quantity", func(s *domain.CartItemSubmission) { s.Quantity = 0 }},
		{"quantity over limit", func(s *domain.CartItemSubmission) { s.Quantity = 11 }},
		{"negative price", func(s *domain.CartItemSubmission) { s.UnitPrice = -1 }},
		{"undersized desk", func(s *domain.CartItemSubmission) { s.Dimensions.WidthCm = 5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			submission := validCartSubmission()
			tc.mutate(&submission)
			_, err := fixture.service.AddToCart(context.Background(), testIdentity(), submission)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("error = %v, want ErrInvalidInput", err)
			}
		})
	}

	// Malformed submissions fail before the limiter and consume no budget.
	if len(fixture.limiter.keys) != 0 {
		t.Fatalf("limiter calls = %d, want 0", len(fixture.limiter.keys))
	}
}

func TestAddToCartMallUnavailableFallsBack(t *testing.T) {
	fixture := newCartFixture(t, func(deps *CartServiceDeps) {
		deps.Mall = &fakeMall{err: fmt.Errorf("%w: connection refused", commerce.ErrUnavailable)}
	})

	_, err := fixture.service.AddToCart(context.Background(), testIdentity(), validCartSubmission())
	var fallback *MallFallbackError
	if !errors.As(err, &fallback) {
		t.Fatalf("error = %v, want MallFallbackError", err)
	}
	if fallback.RetryURL != "/cart/retry?purchase_request_id="+fallback.PurchaseRequestID {
		t.Fatalf("retryURL = %q", fallback.RetryURL)
	}

	request, ok := fixture.repo.get(fallback.PurchaseRequestID)
	if !ok {
		t.Fatal("purchase request not persisted")
	}
	if request.Status != domain.PurchaseStatusFailed {
		t.Fatalf("status = %s, want failed", request.Status)
	}
	if request.FailureReason == "" {
		t.Fatal("failure reason not recorded")
	}
}

func TestAddToCartMallRejectionIsTerminal(t *testing.T) {
	fixture := newCartFixture(t, func(deps *CartServiceDeps) {
		deps.Mall = &fakeMall{err: fmt.Errorf("%w: unknown product", commerce.ErrRejected)}
	})

	_, err := fixture.service.AddToCart(context.Background(), testIdentity(), validCartSubmission())
	var businessErr *BusinessRuleError
	if !errors.As(err, &businessErr) {
		t.Fatalf("error = %v, want BusinessRuleError", err)
	}
	var fallback *MallFallbackError
	if errors.As(err, &fallback) {
		t.Fatal("rejection reported as retryable fallback")
	}
}

func TestRetryAddToCartResubmitsFailedRequest(t *testing.T) {
	fixture := newCartFixture(t, nil)

	failed := domain.PurchaseRequest{
		ID:          "pr_failed",
		UserID:      "user-9",
		ProductID:   "desk-custom",
		ProductName: "Custom desk",
		Quantity:    2,
		UnitPrice:   117700,
		Total:       235400,
		Dimensions:  domain.Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 75},
		Material:    domain.MaterialWood,
		Status:      domain.PurchaseStatusFailed,
	}
	fixture.repo.requests[failed.ID] = failed

	result, err := fixture.service.RetryAddToCart(context.Background(), testIdentity(), "pr_failed")
	if err != nil {
		t.Fatalf("RetryAddToCart: %v", err)
	}
	if result.PurchaseRequestID == "pr_failed" {
		t.Fatal("retry reused the failed request id")
	}
	if fixture.mall.calls != 1 {
		t.Fatalf("mall calls = %d, want 1", fixture.mall.calls)
	}

	fresh, ok := fixture.repo.get(result.PurchaseRequestID)
	if !ok {
		t.Fatal("retry request not persisted")
	}
	if fresh.Status != domain.PurchaseStatusSuccess {
		t.Fatalf("status = %s, want success", fresh.Status)
	}
}

func TestRetryAddToCartOwnershipAndState(t *testing.T) {
	fixture := newCartFixture(t, nil)
	fixture.repo.requests["pr_other"] = domain.PurchaseRequest{
		ID: "pr_other", UserID: "user-1", Status: domain.PurchaseStatusFailed,
	}
	fixture.repo.requests["pr_done"] = domain.PurchaseRequest{
		ID: "pr_done", UserID: "user-9", Status: domain.PurchaseStatusSuccess,
	}

	if _, err := fixture.service.RetryAddToCart(context.Background(), testIdentity(), "pr_other"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign request error = %v, want ErrForbidden", err)
	}
	if _, err := fixture.service.RetryAddToCart(context.Background(), testIdentity(), "pr_done"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("non-failed request error = %v, want ErrInvalidInput", err)
	}
	if _, err := fixture.service.RetryAddToCart(context.Background(), testIdentity(), "pr_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing request error = %v, want ErrNotFound", err)
	}
}
