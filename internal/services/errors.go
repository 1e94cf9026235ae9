// Package services implements the business operations behind the HTTP
// handlers: cart submission to the mall, checkout redirect resolution, and
// drawing job dispatch.
package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidInput indicates the caller supplied malformed or out-of-range input.
	ErrInvalidInput = errors.New("services: invalid input")
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("services: not found")
	// ErrForbidden indicates the record belongs to a different user.
	ErrForbidden = errors.New("services: forbidden")
	// ErrPriceMismatch indicates the client total disagrees with the authoritative recomputation.
	ErrPriceMismatch = errors.New("services: price mismatch")
	// ErrUnavailable indicates a backing dependency failed and the operation cannot proceed.
	ErrUnavailable = errors.New("services: unavailable")
)

// RateLimitError reports a rejected request along with the data the handler
// needs for the 429 response.
type RateLimitError struct {
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("services: rate limit exceeded, retry after %s", e.RetryAfter)
}

// MallFallbackError reports that the mall submission failed after the retry
// budget was spent, but the purchase request was persisted and the user can
// resume via the retry URL.
type MallFallbackError struct {
	PurchaseRequestID string
	RetryURL          string
	Cause             error
}

func (e *MallFallbackError) Error() string {
	return fmt.Sprintf("services: mall unavailable, purchase request %s preserved", e.PurchaseRequestID)
}

func (e *MallFallbackError) Unwrap() error {
	return e.Cause
}

// BusinessRuleError reports a terminal mall rejection that must not be retried.
type BusinessRuleError struct {
	Reason string
	Cause  error
}

func (e *BusinessRuleError) Error() string {
	return "services: " + e.Reason
}

func (e *BusinessRuleError) Unwrap() error {
	return e.Cause
}
