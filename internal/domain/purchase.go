package domain

import (
	"errors"
	"fmt"
	"time"
)

// PurchaseStatus tracks the lifecycle of a purchase request handed to the commerce mall.
type PurchaseStatus string

const (
	// PurchaseStatusPending is set before the mall submission is attempted.
	PurchaseStatusPending PurchaseStatus = "pending"
	// PurchaseStatusSuccess means the mall accepted the cart item.
	PurchaseStatusSuccess PurchaseStatus = "success"
	// PurchaseStatusFailed means the submission failed and may be retried by the user.
	PurchaseStatusFailed PurchaseStatus = "failed"
	// PurchaseStatusRedirected means the user followed the checkout redirect.
	PurchaseStatusRedirected PurchaseStatus = "redirected"
)

// ErrInvalidTransition indicates a purchase status move that the lifecycle forbids.
var ErrInvalidTransition = errors.New("domain: invalid purchase status transition")

// CanTransition reports whether the lifecycle permits moving to the target status.
// Legal moves are pending to success or failed, and success to redirected.
func (s PurchaseStatus) CanTransition(to PurchaseStatus) bool {
	switch s {
	case PurchaseStatusPending:
		return to == PurchaseStatusSuccess || to == PurchaseStatusFailed
	case PurchaseStatusSuccess:
		return to == PurchaseStatusRedirected
	default:
		return false
	}
}

// CartItemSubmission is the validated payload a user submits when adding a desk to the cart.
type CartItemSubmission struct {
	ProductID      string
	ProductName    string
	Quantity       int
	UnitPrice      int64
	Total          int64
	Dimensions     Dimensions
	Material       Material
	Specifications map[string]string
}

// PurchaseRequest records one attempt to push a configured desk into the commerce mall.
type PurchaseRequest struct {
	ID             string
	UserID         string
	ProductID      string
	ProductName    string
	Quantity       int
	UnitPrice      int64
	Total          int64
	Dimensions     Dimensions
	Material       Material
	Specifications map[string]string
	Status         PurchaseStatus
	MallCartID     string
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Transition moves the request to the target status, enforcing the lifecycle.
func (p *PurchaseRequest) Transition(to PurchaseStatus, at time.Time) error {
	if p == nil {
		return errors.New("domain: purchase request is nil")
	}
	if !p.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = at.UTC()
	return nil
}

// DrawingJobStatus tracks the production drawing generation lifecycle.
type DrawingJobStatus string

const (
	DrawingJobPending   DrawingJobStatus = "pending"
	DrawingJobPublished DrawingJobStatus = "published"
)

// DrawingJob is persisted before its message is published so a sweeper can
// re-publish jobs whose initial publish attempt was lost.
type DrawingJob struct {
	ID                string
	UserID            string
	PurchaseRequestID string
	Dimensions        Dimensions
	Material          Material
	Status            DrawingJobStatus
	CreatedAt         time.Time
	PublishedAt       *time.Time
}
