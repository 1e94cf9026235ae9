package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/deskforge/api/internal/domain"
)

// Fee schedule in KRW. The base fee covers manufacturing setup, the shipping
// fee is flat for all desk sizes within the manufacturing bounds.
const (
	BaseManufacturingFee int64 = 50000
	FlatShippingFee      int64 = 30000
	TaxRate                    = 0.10
)

var (
	// ErrMaterialNotFound indicates the requested material has no active pricing policy.
	ErrMaterialNotFound = errors.New("pricing: material not found")
	// ErrPolicyUnavailable indicates the live policy store could not be
	// reached and no static default exists for the material.
	ErrPolicyUnavailable = errors.New("pricing: policy source unavailable")
)

// estimateDefaults is the static policy table used for client-facing
// estimates, and the fallback when the live policy store is unreachable.
var estimateDefaults = map[domain.Material]domain.MaterialPolicy{
	domain.MaterialWood:   {Material: domain.MaterialWood, BasePrice: 50000, Modifier: 1.0, Active: true, Version: "static"},
	domain.MaterialMDF:    {Material: domain.MaterialMDF, BasePrice: 30000, Modifier: 0.8, Active: true, Version: "static"},
	domain.MaterialSteel:  {Material: domain.MaterialSteel, BasePrice: 80000, Modifier: 1.5, Active: true, Version: "static"},
	domain.MaterialMetal:  {Material: domain.MaterialMetal, BasePrice: 80000, Modifier: 1.5, Active: true, Version: "static"},
	domain.MaterialGlass:  {Material: domain.MaterialGlass, BasePrice: 120000, Modifier: 2.0, Active: true, Version: "static"},
	domain.MaterialFabric: {Material: domain.MaterialFabric, BasePrice: 40000, Modifier: 0.9, Active: true, Version: "static"},
}

// EstimateDefaults returns the static estimate policy for the material.
func EstimateDefaults(material domain.Material) (domain.MaterialPolicy, bool) {
	policy, ok := estimateDefaults[material]
	return policy, ok
}

// PolicySource provides live material policies for the authoritative mode.
type PolicySource interface {
	MaterialPolicy(ctx context.Context, material domain.Material) (domain.MaterialPolicy, error)
}

// Calculator prices desk configurations. Estimates are pure and cacheable;
// the authoritative mode consults the live policy source on every call.
type Calculator struct {
	policies PolicySource
	cache    QuoteCache
	logger   func(context.Context, string, map[string]any)
}

// CalculatorDeps wires the calculator's collaborators.
type CalculatorDeps struct {
	Policies PolicySource
	Cache    QuoteCache
	Logger   func(context.Context, string, map[string]any)
}

// NewCalculator constructs a Calculator. The policy source is required so the
// authoritative mode is always available; the cache is optional.
func NewCalculator(deps CalculatorDeps) (*Calculator, error) {
	if deps.Policies == nil {
		return nil, errors.New("pricing calculator: policy source is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Calculator{
		policies: deps.Policies,
		cache:    deps.Cache,
		logger:   logger,
	}, nil
}

// Estimate prices the configuration from the static defaults table. It never
// performs I/O and is deterministic for identical inputs.
func (c *Calculator) Estimate(dims domain.Dimensions, material domain.Material) (domain.PriceBreakdown, error) {
	if err := dims.Validate(); err != nil {
		return domain.PriceBreakdown{}, err
	}
	policy, ok := estimateDefaults[material]
	if !ok {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: %s", ErrMaterialNotFound, material)
	}
	return compute(dims, policy, domain.PricingModeEstimate), nil
}

// Quote returns a cached estimate, computing and caching on miss. The second
// return value reports whether the cache served the breakdown.
func (c *Calculator) Quote(ctx context.Context, dims domain.Dimensions, material domain.Material) (domain.PriceBreakdown, bool, error) {
	if err := dims.Validate(); err != nil {
		return domain.PriceBreakdown{}, false, err
	}
	policy, ok := estimateDefaults[material]
	if !ok {
		return domain.PriceBreakdown{}, false, fmt.Errorf("%w: %s", ErrMaterialNotFound, material)
	}

	key := QuoteKey(material, dims, policy.Version)
	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, key); ok {
			return cached, true, nil
		}
	}

	breakdown := compute(dims, policy, domain.PricingModeEstimate)
	if c.cache != nil {
		c.cache.Put(ctx, key, breakdown)
	}
	return breakdown, false, nil
}

// Recalculate prices the configuration from the live policy store. This is
// the authoritative mode used to validate client-submitted totals.
func (c *Calculator) Recalculate(ctx context.Context, dims domain.Dimensions, material domain.Material) (domain.PriceBreakdown, error) {
	if err := dims.Validate(); err != nil {
		return domain.PriceBreakdown{}, err
	}
	if _, ok := domain.ParseMaterial(string(material)); !ok {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: %s", ErrMaterialNotFound, material)
	}

	policy, err := c.policies.MaterialPolicy(ctx, material)
	if err != nil {
		if errors.Is(err, ErrMaterialNotFound) {
			return domain.PriceBreakdown{}, err
		}
		// A store outage falls back to the static defaults so carts keep
		// moving; the breakdown carries the "static" policy version.
		fallback, ok := estimateDefaults[material]
		if !ok {
			return domain.PriceBreakdown{}, fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
		}
		c.logger(ctx, "pricing_policy_fallback", map[string]any{"material": string(material), "error": err.Error()})
		return compute(dims, fallback, domain.PricingModeAuthoritative), nil
	}
	if !policy.Active {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: %s is inactive", ErrMaterialNotFound, material)
	}

	return compute(dims, policy, domain.PricingModeAuthoritative), nil
}

// compute applies the fixed formula. Rounding is half away from zero and the
// results are always KRW integers, so equal inputs yield equal breakdowns.
func compute(dims domain.Dimensions, policy domain.MaterialPolicy, mode domain.PricingMode) domain.PriceBreakdown {
	volume := dims.VolumeM3()
	materialCost := int64(math.Round(volume * float64(policy.BasePrice) * policy.Modifier))
	subtotal := BaseManufacturingFee + materialCost + FlatShippingFee
	tax := int64(math.Round(float64(subtotal) * TaxRate))

	return domain.PriceBreakdown{
		Material:      policy.Material,
		Dimensions:    dims,
		VolumeM3:      volume,
		MaterialCost:  materialCost,
		BaseFee:       BaseManufacturingFee,
		ShippingFee:   FlatShippingFee,
		Subtotal:      subtotal,
		Tax:           tax,
		Total:         subtotal + tax,
		Mode:          mode,
		PolicyVersion: policy.Version,
	}
}

// QuoteKey builds the cache key for a configuration under a policy version.
func QuoteKey(material domain.Material, dims domain.Dimensions, policyVersion string) string {
	return fmt.Sprintf("%s|%gx%gx%g|%s", material, dims.WidthCm, dims.DepthCm, dims.HeightCm, policyVersion)
}
