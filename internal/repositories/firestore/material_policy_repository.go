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

const materialPolicyCollection = "materialPolicies"

type materialPolicyDocument struct {
	BasePrice int64   `firestore:"basePrice"`
	Modifier  float64 `firestore:"modifier"`
	Active    bool    `firestore:"active"`
	Version   string  `firestore:"version"`

	UpdatedAt time.Time `firestore:"updatedAt"`
}

// MaterialPolicyRepository serves live pricing policies. Documents are keyed
// by material name.
type MaterialPolicyRepository struct {
	base *pfirestore.BaseRepository[materialPolicyDocument]
}

// NewMaterialPolicyRepository constructs the repository.
func NewMaterialPolicyRepository(provider *pfirestore.Provider) (*MaterialPolicyRepository, error) {
	if provider == nil {
		return nil, errors.New("material policy repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[materialPolicyDocument](provider, materialPolicyCollection)
	return &MaterialPolicyRepository{base: base}, nil
}

// MaterialPolicy loads the policy for the material.
func (r *MaterialPolicyRepository) MaterialPolicy(ctx context.Context, material domain.Material) (domain.MaterialPolicy, error) {
	if r == nil || r.base == nil {
		return domain.MaterialPolicy{}, errors.New("material policy repository not initialised")
	}
	name := strings.TrimSpace(string(material))
	if name == "" {
		return domain.MaterialPolicy{}, errors.New("material policy repository: material is required")
	}

	doc, err := r.base.Get(ctx, name)
	if err != nil {
		return domain.MaterialPolicy{}, err
	}
	return decodeMaterialPolicy(doc.ID, doc.Data), nil
}

// ListActive returns every active policy ordered by material name.
func (r *MaterialPolicyRepository) ListActive(ctx context.Context) ([]domain.MaterialPolicy, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("material policy repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("active", "==", true)
	})
	if err != nil {
		return nil, err
	}

	policies := make([]domain.MaterialPolicy, 0, len(docs))
	for _, doc := range docs {
		policies = append(policies, decodeMaterialPolicy(doc.ID, doc.Data))
	}
	return policies, nil
}

func decodeMaterialPolicy(id string, doc materialPolicyDocument) domain.MaterialPolicy {
	return domain.MaterialPolicy{
		Material:  domain.Material(id),
		BasePrice: doc.BasePrice,
		Modifier:  doc.Modifier,
		Active:    doc.Active,
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	}
}

var _ repositories.MaterialPolicyRepository = (*MaterialPolicyRepository)(nil)
