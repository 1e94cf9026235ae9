// Package repositories declares the persistence contracts consumed by the
// service layer. Implementations live in the firestore subpackage.
package repositories

import (
	"context"
	"time"

	domain "github.com/deskforge/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// PurchaseRequestRepository persists the purchase request lifecycle records
// written around every mall submission.
type PurchaseRequestRepository interface {
	// Create stores a new pending request. The request id must be unique.
	Create(ctx context.Context, request domain.PurchaseRequest) (domain.PurchaseRequest, error)
	// Get loads a request by id.
	Get(ctx context.Context, id string) (domain.PurchaseRequest, error)
	// UpdateStatus applies a transition-checked status change. MallCartID
	// and failure reason are recorded alongside when non-empty.
	UpdateStatus(ctx context.Context, id string, status domain.PurchaseStatus, mallCartID, failureReason string) (domain.PurchaseRequest, error)
	// FindByMallCartID locates the request that produced the given mall cart id.
	FindByMallCartID(ctx context.Context, mallCartID string) (domain.PurchaseRequest, error)
	// ListPendingOlderThan returns pending requests created before cutoff,
	// oldest first, capped at limit.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.PurchaseRequest, error)
}

// MaterialPolicyRepository serves the live pricing policies used by the
// authoritative calculation mode.
type MaterialPolicyRepository interface {
	// MaterialPolicy loads the policy for the material. A missing document
	// maps onto pricing.ErrMaterialNotFound at the caller.
	MaterialPolicy(ctx context.Context, material domain.Material) (domain.MaterialPolicy, error)
	// ListActive returns every active policy.
	ListActive(ctx context.Context) ([]domain.MaterialPolicy, error)
}

// DrawingJobRepository persists drawing generation jobs before they are
// published to the work queue.
type DrawingJobRepository interface {
	Create(ctx context.Context, job domain.DrawingJob) (domain.DrawingJob, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	// ListUnpublishedOlderThan supports the sweeper that republishes jobs
	// whose publish was interrupted.
	ListUnpublishedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.DrawingJob, error)
}

// HealthRepository aggregates dependency probes for the readiness endpoint.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
