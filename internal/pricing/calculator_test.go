package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/deskforge/api/internal/domain"
)

type fakePolicySource struct {
	policies map[domain.Material]domain.MaterialPolicy
	err      error
	calls    int
}

func (f *fakePolicySource) MaterialPolicy(_ context.Context, material domain.Material) (domain.MaterialPolicy, error) {
	f.calls++
	if f.err != nil {
		return domain.MaterialPolicy{}, f.err
	}
	policy, ok := f.policies[material]
	if !ok {
		return domain.MaterialPolicy{}, ErrMaterialNotFound
	}
	return policy, nil
}

func newTestCalculator(t *testing.T, source PolicySource, cache QuoteCache) *Calculator {
	t.Helper()
	if source == nil {
		source = &fakePolicySource{}
	}
	calc, err := NewCalculator(CalculatorDeps{Policies: source, Cache: cache})
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	return calc
}

func TestEstimateKnownVector(t *testing.T) {
	calc := newTestCalculator(t, nil, nil)
	dims := domain.Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 75}

	breakdown, err := calc.Estimate(dims, domain.MaterialWood)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	if breakdown.VolumeM3 != 0.54 {
		t.Fatalf("volume = %v, want 0.54", breakdown.VolumeM3)
	}
	if breakdown.MaterialCost != 27000 {
		t.Fatalf("materialCost = %d, want 27000", breakdown.MaterialCost)
	}
	if breakdown.Subtotal != 107000 {
		t.Fatalf("subtotal = %d, want 107000", breakdown.Subtotal)
	}
	if breakdown.Tax != 10700 {
		t.Fatalf("tax = %d, want 10700", breakdown.Tax)
	}
	if breakdown.Total != 117700 {
		t.Fatalf("total = %d, want 117700", breakdown.Total)
	}
	if breakdown.Mode != domain.PricingModeEstimate {
		t.Fatalf("mode = %s, want estimate", breakdown.Mode)
	}
}

func TestEstimateDeterministicOverRepeatedCalls(t *testing.T) {
	calc := newTestCalculator(t, nil, nil)
	dims := domain.Dimensions{WidthCm: 137.5, DepthCm: 61.3, HeightCm: 72.9}

	first, err := calc.Estimate(dims, domain.MaterialGlass)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	for i := 0; i < 1000; i++ {
		again, err := calc.Estimate(dims, domain.MaterialGlass)
		if err != nil {
			t.Fatalf("Estimate #%d: %v", i, err)
		}
		if again != first {
			t.Fatalf("call %d diverged: %+v vs %+v", i, again, first)
		}
	}
}

func TestEstimateArithmeticInvariants(t *testing.T) {
	calc := newTestCalculator(t, nil, nil)
	configs := []struct {
		dims     domain.Dimensions
		material domain.Material
	}{
		{domain.Dimensions{WidthCm: 30, DepthCm: 30, HeightCm: 50}, domain.MaterialMDF},
		{domain.Dimensions{WidthCm: 300, DepthCm: 300, HeightCm: 120}, domain.MaterialGlass},
		{domain.Dimensions{WidthCm: 111.11, DepthCm: 55.55, HeightCm: 77.77}, domain.MaterialSteel},
		{domain.Dimensions{WidthCm: 200, DepthCm: 80, HeightCm: 70}, domain.MaterialFabric},
	}

	for _, cfg := range configs {
		b, err := calc.Estimate(cfg.dims, cfg.material)
		if err != nil {
			t.Fatalf("Estimate(%v, %s): %v", cfg.dims, cfg.material, err)
		}
		if b.Subtotal != b.BaseFee+b.MaterialCost+b.ShippingFee {
			t.Errorf("%s: subtotal %d != base %d + material %d + shipping %d", cfg.material, b.Subtotal, b.BaseFee, b.MaterialCost, b.ShippingFee)
		}
		if b.Total != b.Subtotal+b.Tax {
			t.Errorf("%s: total %d != subtotal %d + tax %d", cfg.material, b.Total, b.Subtotal, b.Tax)
		}
		if b.MaterialCost < 0 || b.Tax < 0 {
			t.Errorf("%s: negative component in %+v", cfg.material, b)
		}
	}
}

func TestEstimateRejectsInvalidDimensions(t *testing.T) {
	calc := newTestCalculator(t, nil, nil)
	_, err := calc.Estimate(domain.Dimensions{WidthCm: -1, DepthCm: 60, HeightCm: 75}, domain.MaterialWood)
	if !errors.Is(err, domain.ErrInvalidDimensions) {
		t.Fatalf("error = %v, want ErrInvalidDimensions", err)
	}
}

func TestEstimateRejectsUnknownMaterial(t *testing.T) {
	calc := newTestCalculator(t, nil, nil)
	_, err := calc.Estimate(domain.Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 75}, domain.Material("granite"))
	if !errors.Is(err, ErrMaterialNotFound) {
		t.Fatalf("error = %v, want ErrMaterialNotFound", err)
	}
}

func TestRecalculateUsesLivePolicy(t *testing.T) {
	source := &fakePolicySource{policies: map[domain.Material]domain.MaterialPolicy{
		domain.MaterialWood: {Material: domain.MaterialWood, BasePrice: 60000, Modifier: 1.2, Active: true, Version: "v7"},
	}}
	calc := newTestCalculator(t, source, nil)
	dims := domain.Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 75}

	breakdown, err := calc.Recalculate(context.Background(), dims, domain.MaterialWood)
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	// 0.54 * 60000 * 1.2 = 38880
	if breakdown.MaterialCost != 38880 {
		t.Fatalf("materialCost = %d, want 38880", breakdown.MaterialCost)
	}
	if breakdown.Mode != domain.PricingModeAuthoritative {
		t.Fatalf("mode = %s, want authoritative", breakdown.Mode)
	}
	if breakdown.PolicyVersion != "v7" {
		t.Fatalf("policyVersion = %q, want v7", breakdown.PolicyVersion)
	}
	if source.calls != 1 {
		t.Fatalf("policy source calls = %d, want 1", source.calls)
	}
}

func TestRecalculateRejectsInactivePolicy(t *testing.T) {
	source := &fakePolicySource{policies: map[domain.Material]domain.MaterialPolicy{
		domain.MaterialWood: {Material: domain.MaterialWood, BasePrice: 50000, Modifier: 1.0, Active: false, Version: "v2"},
	}}
	calc := newTestCalculator(t, source, nil)

	_, err := calc.Recalculate(context.Background(), domain.Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 75}, domain.MaterialWood)
	if !errors.Is(err, ErrMaterialNotFound) {
		t.Fatalf("error = %v, want ErrMaterialNotFound", err)
	}
}

func TestRecalculateFallsBackToDefaultsOnPolicyOutage(t *testing.T) {
	source := &fakePolicySource{err: errors.New("firestore unavailable")}
	calc := newTestCalculator(t, source, nil)

	breakdown, err := calc.Recalculate(context.Background(), domain.Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 75}, domain.MaterialWood)
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	// Static wood default 50000 * 1.0 over 0.54 m3.
	if breakdown.MaterialCost != 27000 {
		t.Fatalf("materialCost = %d, want 27000", breakdown.MaterialCost)
	}
	if breakdown.Total != 117700 {
		t.Fatalf("total = %d, want 117700", breakdown.Total)
	}
	if breakdown.PolicyVersion != "static" {
		t.Fatalf("policyVersion = %q, want static", breakdown.PolicyVersion)
	}
	if breakdown.Mode != domain.PricingModeAuthoritative {
		t.Fatalf("mode = %s, want authoritative", breakdown.Mode)
	}
}

func TestRecalculateOutageWithUnknownMaterialFails(t *testing.T) {
	source := &fakePolicySource{err: errors.New("firestore unavailable")}
	calc := newTestCalculator(t, source, nil)

	_, err := calc.Recalculate(context.Background(), domain.Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 75}, domain.Material("granite"))
	if !errors.Is(err, ErrMaterialNotFound) {
		t.Fatalf("error = %v, want ErrMaterialNotFound", err)
	}
}

func TestQuoteServesFromCache(t *testing.T) {
	cache := NewMemoryQuoteCache(0, 0, nil)
	calc := newTestCalculator(t, nil, cache)
	dims := domain.Dimensions{WidthCm: 120, DepthCm: 60, HeightCm: 75}
	ctx := context.Background()

	first, hit, err := calc.Quote(ctx, dims, domain.MaterialWood)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if hit {
		t.Fatal("first quote reported a cache hit")
	}

	second, hit, err := calc.Quote(ctx, dims, domain.MaterialWood)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !hit {
		t.Fatal("second quote missed the cache")
	}
	if first != second {
		t.Fatalf("cached breakdown differs: %+v vs %+v", first, second)
	}
}
