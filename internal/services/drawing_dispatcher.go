package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/deskforge/api/internal/domain"
	"github.com/deskforge/api/internal/platform/jobs"
	"github.com/deskforge/api/internal/platform/ratelimit"
	"github.com/deskforge/api/internal/repositories"
)

const (
	drawingJobIDPrefix = "dj_"

	defaultSweepAge   = 5 * time.Minute
	defaultSweepLimit = 50
)

// DrawingPublisher enqueues drawing job messages on the work queue.
type DrawingPublisher interface {
	PublishDrawingJob(ctx context.Context, message jobs.DrawingJobMessage) (string, error)
}

// DrawingServiceDeps wires the dispatcher's collaborators.
type DrawingServiceDeps struct {
	Jobs        repositories.DrawingJobRepository
	Publisher   DrawingPublisher
	Limiter     ratelimit.Limiter
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
	SweepAge    time.Duration
	SweepLimit  int
}

// DrawingService persists drawing jobs and publishes them to the queue. The
// job document is written before the publish so a crash between the two
// leaves a pending record the sweeper can pick up.
type DrawingService struct {
	jobs       repositories.DrawingJobRepository
	publisher  DrawingPublisher
	limiter    ratelimit.Limiter
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)
	newID      func() string
	sweepAge   time.Duration
	sweepLimit int
}

// NewDrawingService constructs a DrawingService.
func NewDrawingService(deps DrawingServiceDeps) (*DrawingService, error) {
	if deps.Jobs == nil {
		return nil, errors.New("drawing service: job repository is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("drawing service: publisher is required")
	}
	if deps.Limiter == nil {
		return nil, errors.New("drawing service: rate limiter is required")
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
		idGen = func() string { return drawingJobIDPrefix + ulid.Make().String() }
	}
	sweepAge := deps.SweepAge
	if sweepAge <= 0 {
		sweepAge = defaultSweepAge
	}
	sweepLimit := deps.SweepLimit
	if sweepLimit <= 0 {
		sweepLimit = defaultSweepLimit
	}

	return &DrawingService{
		jobs:       deps.Jobs,
		publisher:  deps.Publisher,
		limiter:    deps.Limiter,
		now:        func() time.Time { return clock().UTC() },
		logger:     logger,
		newID:      idGen,
		sweepAge:   sweepAge,
		sweepLimit: sweepLimit,
	}, nil
}

// Dispatch persists and publishes a drawing job for the purchase request.
func (s *DrawingService) Dispatch(ctx context.Context, request domain.PurchaseRequest) error {
	if strings.TrimSpace(request.ID) == "" || strings.TrimSpace(request.UserID) == "" {
		return fmt.Errorf("%w: purchase request id and user id are required", ErrInvalidInput)
	}

	decision, err := s.limiter.Allow(ctx, "drawing:"+request.UserID)
	if err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}
	if !decision.Allowed {
		return &RateLimitError{
			Limit:      decision.Limit,
			Remaining:  decision.Remaining,
			RetryAfter: decision.RetryAfter,
		}
	}

	job := domain.DrawingJob{
		ID:                s.newID(),
		UserID:            request.UserID,
		PurchaseRequestID: request.ID,
		Dimensions:        request.Dimensions,
		Material:          request.Material,
		Status:            domain.DrawingJobPending,
		CreatedAt:         s.now(),
	}
	if _, err := s.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("%w: persist drawing job: %v", ErrUnavailable, err)
	}

	return s.publish(ctx, job)
}

// Sweep republishes pending jobs whose initial publish never completed.
func (s *DrawingService) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.sweepAge)
	pending, err := s.jobs.ListUnpublishedOlderThan(ctx, cutoff, s.sweepLimit)
	if err != nil {
		return 0, fmt.Errorf("%w: list pending drawing jobs: %v", ErrUnavailable, err)
	}

	published := 0
	for _, job := range pending {
		if err := s.publish(ctx, job); err != nil {
			s.logger(ctx, "drawing_sweep_publish_failed", map[string]any{
				"job_id": job.ID,
				"error":  err.Error(),
			})
			continue
		}
		published++
	}
	return published, nil
}

// RunSweeper blocks, sweeping at the given interval until the context ends.
func (s *DrawingService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger(ctx, "drawing_sweep_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

func (s *DrawingService) publish(ctx context.Context, job domain.DrawingJob) error {
	message := jobs.DrawingJobMessage{
		JobID:             job.ID,
		PurchaseRequestID: job.PurchaseRequestID,
		UserID:            job.UserID,
		WidthCm:           job.Dimensions.WidthCm,
		DepthCm:           job.Dimensions.DepthCm,
		HeightCm:          job.Dimensions.HeightCm,
		Material:          string(job.Material),
	}
	if _, err := s.publisher.PublishDrawingJob(ctx, message); err != nil {
		return fmt.Errorf("%w: publish drawing job: %v", ErrUnavailable, err)
	}

	if err := s.jobs.MarkPublished(ctx, job.ID, s.now()); err != nil {
		// The message is on the queue; the sweeper may republish once. The
		// worker deduplicates on job id.
		s.logger(ctx, "drawing_job_mark_published_failed", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
	return nil
}

var _ DrawingDispatcher = (*DrawingService)(nil)
