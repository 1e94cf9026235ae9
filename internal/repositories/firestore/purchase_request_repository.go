// Package firestore contains the Firestore-backed repository implementations.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/deskforge/api/internal/domain"
	pfirestore "github.com/deskforge/api/internal/platform/firestore"
	"github.com/deskforge/api/internal/repositories"
)

const purchaseRequestCollection = "purchaseRequests"

type purchaseRequestDocument struct {
	UserID         string            `firestore:"userId"`
	ProductID      string            `firestore:"productId"`
	ProductName    string            `firestore:"productName"`
	Quantity       int               `firestore:"quantity"`
	UnitPrice      int64             `firestore:"unitPrice"`
	Total          int64             `firestore:"total"`
	WidthCm        float64           `firestore:"widthCm"`
	DepthCm        float64           `firestore:"depthCm"`
	HeightCm       float64           `firestore:"heightCm"`
	Material       string            `firestore:"material"`
	Specifications map[string]string `firestore:"specifications,omitempty"`
	Status         string            `firestore:"status"`
	MallCartID     string            `firestore:"mallCartId,omitempty"`
	FailureReason  string            `firestore:"failureReason,omitempty"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// PurchaseRequestRepository persists purchase request lifecycle records.
type PurchaseRequestRepository struct {
	base     *pfirestore.BaseRepository[purchaseRequestDocument]
	provider *pfirestore.Provider
}

// NewPurchaseRequestRepository constructs the repository.
func NewPurchaseRequestRepository(provider *pfirestore.Provider) (*PurchaseRequestRepository, error) {
	if provider == nil {
		return nil, errors.New("purchase request repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[purchaseRequestDocument](provider, purchaseRequestCollection)
	return &PurchaseRequestRepository{base: base, provider: provider}, nil
}

// Create stores a new pending request.
func (r *PurchaseRequestRepository) Create(ctx context.Context, request domain.PurchaseRequest) (domain.PurchaseRequest, error) {
	if r == nil || r.base == nil {
		return domain.PurchaseRequest{}, errors.New("purchase request repository not initialised")
	}
	id := strings.TrimSpace(request.ID)
	if id == "" {
		return domain.PurchaseRequest{}, errors.New("purchase request repository: id is required")
	}
	if strings.TrimSpace(request.UserID) == "" {
		return domain.PurchaseRequest{}, errors.New("purchase request repository: user id is required")
	}

	now := time.Now().UTC()
	createdAt := request.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	if request.Status == "" {
		request.Status = domain.PurchaseStatusPending
	}

	doc := encodePurchaseRequest(request)
	doc.CreatedAt = createdAt
	doc.UpdatedAt = createdAt

	if err := r.base.Set(ctx, id, doc); err != nil {
		return domain.PurchaseRequest{}, err
	}

	saved := request
	saved.CreatedAt = createdAt
	saved.UpdatedAt = createdAt
	return saved, nil
}

// Get loads a request by id.
func (r *PurchaseRequestRepository) Get(ctx context.Context, id string) (domain.PurchaseRequest, error) {
	if r == nil || r.base == nil {
		return domain.PurchaseRequest{}, errors.New("purchase request repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return domain.PurchaseRequest{}, errors.New("purchase request repository: id is required")
	}

	doc, err := r.base.Get(ctx, trimmed)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	return decodePurchaseRequest(doc.ID, doc.Data), nil
}

// UpdateStatus applies a transition-checked status change inside a
// transaction so concurrent updates cannot skip lifecycle states.
func (r *PurchaseRequestRepository) UpdateStatus(ctx context.Context, id string, status domain.PurchaseStatus, mallCartID, failureReason string) (domain.PurchaseRequest, error) {
	if r == nil || r.provider == nil {
		return domain.PurchaseRequest{}, errors.New("purchase request repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return domain.PurchaseRequest{}, errors.New("purchase request repository: id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	ref := client.Collection(purchaseRequestCollection).Doc(trimmed)

	var updated domain.PurchaseRequest
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc purchaseRequestDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}

		current := decodePurchaseRequest(snap.Ref.ID, doc)
		if !current.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, status)
		}

		now := time.Now().UTC()
		updates := []firestore.Update{
			{Path: "status", Value: string(status)},
			{Path: "updatedAt", Value: now},
		}
		if trimmedCart := strings.TrimSpace(mallCartID); trimmedCart != "" {
			updates = append(updates, firestore.Update{Path: "mallCartId", Value: trimmedCart})
			current.MallCartID = trimmedCart
		}
		if trimmedReason := strings.TrimSpace(failureReason); trimmedReason != "" {
			updates = append(updates, firestore.Update{Path: "failureReason", Value: trimmedReason})
			current.FailureReason = trimmedReason
		}

		current.Status = status
		current.UpdatedAt = now
		updated = current
		return tx.Update(ref, updates)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return domain.PurchaseRequest{}, err
		}
		return domain.PurchaseRequest{}, pfirestore.WrapError("purchaseRequests.updateStatus", err)
	}
	return updated, nil
}

// FindByMallCartID locates the request that produced the given mall cart id.
func (r *PurchaseRequestRepository) FindByMallCartID(ctx context.Context, mallCartID string) (domain.PurchaseRequest, error) {
	if r == nil || r.base == nil {
		return domain.PurchaseRequest{}, errors.New("purchase request repository not initialised")
	}
	trimmed := strings.TrimSpace(mallCartID)
	if trimmed == "" {
		return domain.PurchaseRequest{}, errors.New("purchase request repository: mall cart id is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("mallCartId", "==", trimmed).Limit(1)
	})
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	if len(docs) == 0 {
		return domain.PurchaseRequest{}, pfirestore.WrapError("purchaseRequests.findByMallCartId", status.Error(codes.NotFound, "purchase request not found"))
	}
	return decodePurchaseRequest(docs[0].ID, docs[0].Data), nil
}

// ListPendingOlderThan returns pending requests created before cutoff, oldest first.
func (r *PurchaseRequestRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.PurchaseRequest, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("purchase request repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("status", "==", string(domain.PurchaseStatusPending)).
			Where("createdAt", "<", cutoff.UTC()).
			OrderBy("createdAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	requests := make([]domain.PurchaseRequest, 0, len(docs))
	for _, doc := range docs {
		requests = append(requests, decodePurchaseRequest(doc.ID, doc.Data))
	}
	return requests, nil
}

func encodePurchaseRequest(request domain.PurchaseRequest) purchaseRequestDocument {
	return purchaseRequestDocument{
		UserID:         strings.TrimSpace(request.UserID),
		ProductID:      strings.TrimSpace(request.ProductID),
		ProductName:    strings.TrimSpace(request.ProductName),
		Quantity:       request.Quantity,
		UnitPrice:      request.UnitPrice,
		Total:          request.Total,
		WidthCm:        request.Dimensions.WidthCm,
		DepthCm:        request.Dimensions.DepthCm,
		HeightCm:       request.Dimensions.HeightCm,
		Material:       string(request.Material),
		Specifications: request.Specifications,
		Status:         string(request.Status),
		MallCartID:     strings.TrimSpace(request.MallCartID),
		FailureReason:  strings.TrimSpace(request.FailureReason),
	}
}

func decodePurchaseRequest(id string, doc purchaseRequestDocument) domain.PurchaseRequest {
	return domain.PurchaseRequest{
		ID:          id,
		UserID:      doc.UserID,
		ProductID:   doc.ProductID,
		ProductName: doc.ProductName,
		Quantity:    doc.Quantity,
		UnitPrice:   doc.UnitPrice,
		Total:       doc.Total,
		Dimensions: domain.Dimensions{
			WidthCm:  doc.WidthCm,
			DepthCm:  doc.DepthCm,
			HeightCm: doc.HeightCm,
		},
		Material:       domain.Material(doc.Material),
		Specifications: doc.Specifications,
		Status:         domain.PurchaseStatus(doc.Status),
		MallCartID:     doc.MallCartID,
		FailureReason:  doc.FailureReason,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

var _ repositories.PurchaseRequestRepository = (*PurchaseRequestRepository)(nil)
