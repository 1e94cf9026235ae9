package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/deskforge/api/internal/domain"
	"github.com/deskforge/api/internal/platform/auth"
	"github.com/deskforge/api/internal/platform/httpx"
	"github.com/deskforge/api/internal/security"
	"github.com/deskforge/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the authenticated cart submission endpoints.
type CartHandlers struct {
	authn *auth.Authenticator
	csrf  *security.CSRFGuard
	carts *services.CartService
}

// NewCartHandlers constructs handlers enforcing session auth and CSRF before
// invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, csrf *security.CSRFGuard, carts *services.CartService) *CartHandlers {
	return &CartHandlers{authn: authn, csrf: csrf, carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireSession())
	}
	r.Get("/csrf", h.issueCSRF)
	r.Post("/add", h.addToCart)
	r.Get("/retry", h.retry)
	r.Post("/retry", h.retry)
}

type addToCartRequest struct {
	ProductID      string            `json:"product_id"`
	ProductName    string            `json:"product_name"`
	Quantity       int               `json:"quantity"`
	UnitPrice      int64             `json:"unit_price"`
	TotalPrice     int64             `json:"total_price"`
	WidthCm        float64           `json:"width_cm"`
	DepthCm        float64           `json:"depth_cm"`
	HeightCm       float64           `json:"height_cm"`
	Material       string            `json:"material"`
	Specifications map[string]string `json:"specifications,omitempty"`
}

type addToCartResponse struct {
	CartID            string `json:"cart_id"`
	CartToken         string `json:"cart_token"`
	RedirectURL       string `json:"redirect_url"`
	PurchaseRequestID string `json:"purchase_request_id"`
	Total             int64  `json:"total"`
}

func (h *CartHandlers) issueCSRF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.csrf == nil {
		httpx.WriteError(ctx, w, httpx.NewError("csrf_unavailable", "csrf is not configured", http.StatusServiceUnavailable))
		return
	}
	token := h.csrf.SetCookie(w)
	writeJSONResponse(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *CartHandlers) addToCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !h.requireCSRF(ctx, w, r) {
		return
	}
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var req addToCartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is not valid JSON", http.StatusBadRequest))
		return
	}

	material, ok := domain.ParseMaterial(req.Material)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("material_not_found", "unknown material", http.StatusBadRequest))
		return
	}

	result, err := h.carts.AddToCart(ctx, identity, domain.CartItemSubmission{
		ProductID:      req.ProductID,
		ProductName:    req.ProductName,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		Total:          req.TotalPrice,
		Dimensions:     domain.Dimensions{WidthCm: req.WidthCm, DepthCm: req.DepthCm, HeightCm: req.HeightCm},
		Material:       material,
		Specifications: req.Specifications,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeAddToCartResult(w, result)
}

func (h *CartHandlers) retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}
	if r.Method == http.MethodPost && !h.requireCSRF(ctx, w, r) {
		return
	}
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("purchase_request_id"))
	result, err := h.carts.RetryAddToCart(ctx, identity, id)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeAddToCartResult(w, result)
}

func (h *CartHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || !identity.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return auth.Identity{}, false
	}
	return *identity, true
}

func (h *CartHandlers) requireCSRF(ctx context.Context, w http.ResponseWriter, r *http.Request) bool {
	if h.csrf == nil {
		httpx.WriteError(ctx, w, httpx.NewError("csrf_unavailable", "csrf is not configured", http.StatusServiceUnavailable))
		return false
	}
	if err := h.csrf.VerifyRequest(r); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("csrf_invalid", "csrf verification failed", http.StatusUnauthorized))
		return false
	}
	return true
}

func (h *CartHandlers) writeAddToCartResult(w http.ResponseWriter, result services.AddToCartResult) {
	writeJSONResponse(w, http.StatusOK, addToCartResponse{
		CartID:            result.CartID,
		CartToken:         result.CartToken,
		RedirectURL:       result.RedirectURL,
		PurchaseRequestID: result.PurchaseRequestID,
		Total:             result.Breakdown.Total,
	})
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	var rateErr *services.RateLimitError
	if errors.As(err, &rateErr) {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rateErr.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rateErr.Remaining))
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many cart requests", http.StatusTooManyRequests).WithRetryAfter(rateErr.RetryAfter))
		return
	}

	var fallback *services.MallFallbackError
	if errors.As(err, &fallback) {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{
			"error":               "mall_unavailable",
			"message":             "the shopping mall could not be reached, your request was saved",
			"status":              http.StatusServiceUnavailable,
			"retryUrl":            fallback.RetryURL,
			"purchase_request_id": fallback.PurchaseRequestID,
		})
		return
	}

	var businessErr *services.BusinessRuleError
	switch {
	case errors.As(err, &businessErr):
		httpx.WriteError(ctx, w, httpx.NewError("business_rule_violation", businessErr.Reason, http.StatusBadRequest))
	case errors.Is(err, services.ErrPriceMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("price_mismatch", "submitted price does not match the current policy", http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "the referenced record belongs to another user", http.StatusForbidden))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "purchase request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "a backing service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
