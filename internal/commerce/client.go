// Package commerce integrates with the external shopping mall that hosts the
// actual checkout. The service submits priced cart items to the mall and
// receives back a mall-side cart id and checkout redirect URL.
package commerce

import (
	"context"
	"errors"

	"github.com/deskforge/api/internal/domain"
)

var (
	// ErrRejected indicates the mall decoded the request and refused it.
	// Rejections are terminal and must not be retried.
	ErrRejected = errors.New("commerce: mall rejected the cart item")
	// ErrUnavailable indicates the mall could not be reached or answered
	// with a transport-level failure after the retry budget was spent.
	ErrUnavailable = errors.New("commerce: mall unavailable")
	// ErrMalformedResponse indicates a success response missing the cart id
	// or redirect URL.
	ErrMalformedResponse = errors.New("commerce: malformed mall response")
)

// CartSubmission is the priced desk configuration sent to the mall.
type CartSubmission struct {
	ProductID      string
	ProductName    string
	Quantity       int
	UnitPrice      int64
	TotalPrice     int64
	Dimensions     domain.Dimensions
	Material       domain.Material
	Specifications map[string]string
}

// CartResult is the normalized mall response for a successful submission.
type CartResult struct {
	CartID      string
	RedirectURL string
}

// Client is the mall integration surface. Implementations must return
// ErrUnavailable for transport failures and ErrRejected for business refusals
// so the cart service can distinguish retryable from terminal outcomes.
type Client interface {
	AddToCart(ctx context.Context, submission CartSubmission) (CartResult, error)
	HealthCheck(ctx context.Context) error
}
