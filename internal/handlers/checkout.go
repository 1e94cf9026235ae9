package handlers

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/deskforge/api/internal/platform/auth"
	"github.com/deskforge/api/internal/platform/httpx"
	"github.com/deskforge/api/internal/services"
)

// In-app webviews on these platforms drop the session cookie across a 302,
// so they get an HTML page that navigates via meta refresh instead.
var webviewMarkers = []string{"KAKAOTALK", "NAVER", "Instagram", "FBAN", "FBAV"}

// CheckoutHandlers resolves encrypted redirect tokens into mall checkout URLs.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout *services.CheckoutService
}

func NewCheckoutHandlers(authn *auth.Authenticator, checkout *services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{authn: authn, checkout: checkout}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireSession())
	}
	r.Get("/redirect", h.redirect)
}

func (h *CheckoutHandlers) redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || !identity.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is unavailable", http.StatusServiceUnavailable))
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "token query parameter is required", http.StatusBadRequest))
		return
	}

	redirect, err := h.checkout.ResolveRedirect(ctx, *identity, token)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrForbidden):
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "redirect token belongs to another user", http.StatusForbidden))
		case errors.Is(err, services.ErrInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "redirect token is invalid or expired", http.StatusBadRequest))
		case errors.Is(err, services.ErrUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "a backing service is unavailable", http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
		}
		return
	}

	if isWebviewUserAgent(r.UserAgent()) {
		writeAutoRedirectPage(w, redirect.Destination)
		return
	}
	http.Redirect(w, r, redirect.Destination, http.StatusFound)
}

func isWebviewUserAgent(userAgent string) bool {
	for _, marker := range webviewMarkers {
		if strings.Contains(userAgent, marker) {
			return true
		}
	}
	return false
}

func writeAutoRedirectPage(w http.ResponseWriter, destination string) {
	escaped := html.EscapeString(destination)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="ko">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="0;url=%s">
<title>Redirecting</title>
</head>
<body>
<p>Redirecting to checkout&hellip; <a href="%s">Continue</a></p>
<script>window.location.replace(%q);</script>
</body>
</html>
`, escaped, escaped, destination)
}
