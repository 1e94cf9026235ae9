package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/deskforge/api/internal/domain"
	pfirestore "github.com/deskforge/api/internal/platform/firestore"
	"github.com/deskforge/api/internal/repositories"
)

const drawingJobCollection = "drawingJobs"

type drawingJobDocument struct {
	UserID            string  `firestore:"userId"`
	PurchaseRequestID string  `firestore:"purchaseRequestId"`
	WidthCm           float64 `firestore:"widthCm"`
	DepthCm           float64 `firestore:"depthCm"`
	HeightCm          float64 `firestore:"heightCm"`
	Material          string  `firestore:"material"`
	Status            string  `firestore:"status"`

	CreatedAt   time.Time  `firestore:"createdAt"`
	PublishedAt *time.Time `firestore:"publishedAt,omitempty"`
}

// DrawingJobRepository persists drawing generation jobs. A job is written
// before its queue message is published so an interrupted publish can be
// swept up and retried.
type DrawingJobRepository struct {
	base *pfirestore.BaseRepository[drawingJobDocument]
}

// NewDrawingJobRepository constructs the repository.
func NewDrawingJobRepository(provider *pfirestore.Provider) (*DrawingJobRepository, error) {
	if provider == nil {
		return nil, errors.New("drawing job repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[drawingJobDocument](provider, drawingJobCollection)
	return &DrawingJobRepository{base: base}, nil
}

// Create stores a new pending job.
func (r *DrawingJobRepository) Create(ctx context.Context, job domain.DrawingJob) (domain.DrawingJob, error) {
	if r == nil || r.base == nil {
		return domain.DrawingJob{}, errors.New("drawing job repository not initialised")
	}
	id := strings.TrimSpace(job.ID)
	if id == "" {
		return domain.DrawingJob{}, errors.New("drawing job repository: id is required")
	}

	createdAt := job.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = domain.DrawingJobPending
	}

	doc := drawingJobDocument{
		UserID:            strings.TrimSpace(job.UserID),
		PurchaseRequestID: strings.TrimSpace(job.PurchaseRequestID),
		WidthCm:           job.Dimensions.WidthCm,
		DepthCm:           job.Dimensions.DepthCm,
		HeightCm:          job.Dimensions.HeightCm,
		Material:          string(job.Material),
		Status:            string(job.Status),
		CreatedAt:         createdAt,
	}
	if err := r.base.Set(ctx, id, doc); err != nil {
		return domain.DrawingJob{}, err
	}

	saved := job
	saved.CreatedAt = createdAt
	return saved, nil
}

// MarkPublished records a successful queue publish.
func (r *DrawingJobRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("drawing job repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return errors.New("drawing job repository: id is required")
	}

	return r.base.Update(ctx, trimmed, []firestore.Update{
		{Path: "status", Value: string(domain.DrawingJobPublished)},
		{Path: "publishedAt", Value: publishedAt.UTC()},
	})
}

// ListUnpublishedOlderThan returns pending jobs created before cutoff, oldest first.
func (r *DrawingJobRepository) ListUnpublishedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.DrawingJob, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("drawing job repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("status", "==", string(domain.DrawingJobPending)).
			Where("createdAt", "<", cutoff.UTC()).
			OrderBy("createdAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.DrawingJob, 0, len(docs))
	for _, doc := range docs {
		jobs = append(jobs, decodeDrawingJob(doc.ID, doc.Data))
	}
	return jobs, nil
}

func decodeDrawingJob(id string, doc drawingJobDocument) domain.DrawingJob {
	return domain.DrawingJob{
		ID:                id,
		UserID:            doc.UserID,
		PurchaseRequestID: doc.PurchaseRequestID,
		Dimensions: domain.Dimensions{
			WidthCm:  doc.WidthCm,
			DepthCm:  doc.DepthCm,
			HeightCm: doc.HeightCm,
		},
		Material:    domain.Material(doc.Material),
		Status:      domain.DrawingJobStatus(doc.Status),
		CreatedAt:   doc.CreatedAt,
		PublishedAt: doc.PublishedAt,
	}
}

var _ repositories.DrawingJobRepository = (*DrawingJobRepository)(nil)
