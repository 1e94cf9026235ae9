package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/deskforge/api/internal/domain"
	"github.com/deskforge/api/internal/platform/jobs"
	"github.com/deskforge/api/internal/platform/ratelimit"
)

type fakeDrawingRepo struct {
	mu        sync.Mutex
	jobs      map[string]domain.DrawingJob
	published map[string]time.Time
	markErr   error
}

func newFakeDrawingRepo() *fakeDrawingRepo {
	return &fakeDrawingRepo{jobs: make(map[string]domain.DrawingJob), published: make(map[string]time.Time)}
}

func (f *fakeDrawingRepo) Create(_ context.Context, job domain.DrawingJob) (domain.DrawingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeDrawingRepo) MarkPublished(_ context.Context, id string, publishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	job, ok := f.jobs[id]
	if !ok {
		return &notFoundError{msg: "drawing job not found"}
	}
	job.Status = domain.DrawingJobPublished
	f.jobs[id] = job
	f.published[id] = publishedAt
	return nil
}

func (f *fakeDrawingRepo) ListUnpublishedOlderThan(_ context.Context, cutoff time.Time, limit int) ([]domain.DrawingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []domain.DrawingJob
	for _, job := range f.jobs {
		if job.Status == domain.DrawingJobPending && job.CreatedAt.Before(cutoff) {
			pending = append(pending, job)
		}
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []jobs.DrawingJobMessage
	err      error
}

func (f *fakePublisher) PublishDrawingJob(_ context.Context, message jobs.DrawingJobMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.messages = append(f.messages, message)
	return "msg-1", nil
}

func newDrawingFixture(t *testing.T, repo *fakeDrawingRepo, publisher *fakePublisher, limiter ratelimit.Limiter) *DrawingService {
	t.Helper()
	if limiter == nil {
		limiter = allowAll()
	}
	service, err := NewDrawingService(DrawingServiceDeps{
		Jobs:      repo,
		Publisher: publisher,
		Limiter:   limiter,
		Clock:     func() time.Time { return time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewDrawingService: %v", err)
	}
	return service
}

func drawingRequest() domain.PurchaseRequest {
	return domain.PurchaseRequest{
		ID:         "pr_1",
		UserID:     "user-9",
		Dimensions: domain.Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 75},
		Material:   domain.MaterialWood,
	}
}

func TestDispatchPersistsThenPublishes(t *testing.T) {
	repo := newFakeDrawingRepo()
	publisher := &fakePublisher{}
	service := newDrawingFixture(t, repo, publisher, nil)

	if err := service.Dispatch(context.Background(), drawingRequest()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(publisher.messages) != 1 {
		t.Fatalf("published = %d, want 1", len(publisher.messages))
	}
	message := publisher.messages[0]
	if message.PurchaseRequestID != "pr_1" || message.Material != "wood" {
		t.Fatalf("message = %+v", message)
	}

	job, ok := repo.jobs[message.JobID]
	if !ok {
		t.Fatal("job not persisted")
	}
	if job.Status != domain.DrawingJobPublished {
		t.Fatalf("status = %s, want published", job.Status)
	}
}

func TestDispatchLeavesPendingRecordOnPublishFailure(t *testing.T) {
	repo := newFakeDrawingRepo()
	publisher := &fakePublisher{err: errors.New("pubsub down")}
	service := newDrawingFixture(t, repo, publisher, nil)

	if err := service.Dispatch(context.Background(), drawingRequest()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}

	if len(repo.jobs) != 1 {
		t.Fatalf("persisted jobs = %d, want 1", len(repo.jobs))
	}
	for _, job := range repo.jobs {
		if job.Status != domain.DrawingJobPending {
			t.Fatalf("status = %s, want pending for sweeper pickup", job.Status)
		}
	}
}

func TestDispatchRateLimited(t *testing.T) {
	repo := newFakeDrawingRepo()
	service := newDrawingFixture(t, repo, &fakePublisher{}, &fakeLimiter{
		decision: ratelimit.Decision{Allowed: false, Limit: 10, RetryAfter: 30 * time.Second},
	})

	err := service.Dispatch(context.Background(), drawingRequest())
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if len(repo.jobs) != 0 {
		t.Fatalf("persisted jobs = %d, want 0", len(repo.jobs))
	}
}

func TestSweepRepublishesStalePendingJobs(t *testing.T) {
	repo := newFakeDrawingRepo()
	repo.jobs["dj_old"] = domain.DrawingJob{
		ID:                "dj_old",
		UserID:            "user-9",
		PurchaseRequestID: "pr_1",
		Status:            domain.DrawingJobPending,
		CreatedAt:         time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC),
	}
	repo.jobs["dj_fresh"] = domain.DrawingJob{
		ID:        "dj_fresh",
		UserID:    "user-9",
		Status:    domain.DrawingJobPending,
		CreatedAt: time.Date(2026, time.March, 1, 9, 59, 0, 0, time.UTC),
	}
	publisher := &fakePublisher{}
	service := newDrawingFixture(t, repo, publisher, nil)

	published, err := service.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if published != 1 {
		t.Fatalf("published = %d, want 1", published)
	}
	if repo.jobs["dj_old"].Status != domain.DrawingJobPublished {
		t.Fatalf("stale job status = %s, want published", repo.jobs["dj_old"].Status)
	}
	if repo.jobs["dj_fresh"].Status != domain.DrawingJobPending {
		t.Fatalf("fresh job status = %s, want still pending", repo.jobs["dj_fresh"].Status)
	}
}
