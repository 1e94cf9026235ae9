package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/deskforge/api/internal/domain"
	"github.com/deskforge/api/internal/pricing"
)

type stubPolicySource struct {
	policy domain.MaterialPolicy
	err    error
}

func (s *stubPolicySource) MaterialPolicy(context.Context, domain.Material) (domain.MaterialPolicy, error) {
	if s.err != nil {
		return domain.MaterialPolicy{}, s.err
	}
	return s.policy, nil
}

func newPricingServer(t *testing.T) (http.Handler, *pricing.MemoryQuoteCache) {
	t.Helper()
	cache := pricing.NewMemoryQuoteCache(5*time.Minute, 1000, nil)
	calculator, err := pricing.NewCalculator(pricing.CalculatorDeps{
		Policies: &stubPolicySource{policy: domain.MaterialPolicy{
			Material: domain.MaterialWood, BasePrice: 50000, Modifier: 1.0, Active: true, Version: "v1",
		}},
		Cache: cache,
	})
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	handlers := NewPricingHandlers(calculator, cache, nil)
	return NewRouter(WithPricingRoutes(handlers.Routes)), cache
}

func postCalculate(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/pricing/calculate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCalculateSingleKnownVector(t *testing.T) {
	router, _ := newPricingServer(t)

	rec := postCalculate(t, router, `{"width_cm":120,"depth_cm":60,"height_cm":75,"material":"wood"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var response struct {
		Result struct {
			VolumeM3     float64 `json:"volume_m3"`
			MaterialCost int64   `json:"material_cost"`
			Subtotal     int64   `json:"subtotal"`
			Tax          int64   `json:"tax"`
			Total        int64   `json:"total"`
			Mode         string  `json:"mode"`
		} `json:"result"`
		CalculationTimeMS float64 `json:"calculation_time_ms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	result := response.Result
	if result.VolumeM3 != 0.54 || result.MaterialCost != 27000 || result.Subtotal != 107000 || result.Tax != 10700 || result.Total != 117700 {
		t.Fatalf("breakdown = %+v", result)
	}
	if result.Mode != string(domain.PricingModeEstimate) {
		t.Fatalf("mode = %s, want estimate", result.Mode)
	}
}

func TestCalculateCacheStatusHeader(t *testing.T) {
	router, _ := newPricingServer(t)
	body := `{"width_cm":120,"depth_cm":60,"height_cm":75,"material":"wood"}`

	first := postCalculate(t, router, body)
	if got := first.Header().Get(cacheStatusHeader); got != cacheStatusMiss {
		t.Fatalf("first request cache status = %q, want MISS", got)
	}

	second := postCalculate(t, router, body)
	if got := second.Header().Get(cacheStatusHeader); got != cacheStatusHit {
		t.Fatalf("second request cache status = %q, want HIT", got)
	}
}

func TestCalculateBatch(t *testing.T) {
	router, _ := newPricingServer(t)

	rec := postCalculate(t, router, `{"sequence":7,"calculations":[
		{"width_cm":120,"depth_cm":60,"height_cm":75,"material":"wood"},
		{"width_cm":100,"depth_cm":50,"height_cm":70,"material":"steel"}
	]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var response struct {
		Results  []breakdownPayload `json:"results"`
		Sequence int64              `json:"sequence"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(response.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(response.Results))
	}
	if response.Results[0].Total != 117700 {
		t.Fatalf("first total = %d, want 117700", response.Results[0].Total)
	}
	if response.Sequence != 7 {
		t.Fatalf("sequence = %d, want 7", response.Sequence)
	}
}

func TestCalculateBatchTooLarge(t *testing.T) {
	router, _ := newPricingServer(t)

	items := make([]string, 11)
	for i := range items {
		items[i] = `{"width_cm":120,"depth_cm":60,"height_cm":75,"material":"wood"}`
	}
	body := fmt.Sprintf(`{"calculations":[%s]}`, strings.Join(items, ","))

	rec := postCalculate(t, router, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCalculateRejectsUnknownMaterial(t *testing.T) {
	router, _ := newPricingServer(t)

	rec := postCalculate(t, router, `{"width_cm":120,"depth_cm":60,"height_cm":75,"material":"granite"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCalculateRejectsInvalidDimensions(t *testing.T) {
	router, _ := newPricingServer(t)

	rec := postCalculate(t, router, `{"width_cm":0,"depth_cm":60,"height_cm":75,"material":"wood"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIntrospectMaterials(t *testing.T) {
	router, _ := newPricingServer(t)

	req := httptest.NewRequest(http.MethodGet, "/pricing/calculate?action=materials", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var response struct {
		Materials []struct {
			Material  string  `json:"material"`
			BasePrice int64   `json:"base_price"`
			Modifier  float64 `json:"modifier"`
		} `json:"materials"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(response.Materials) != 6 {
		t.Fatalf("materials = %d, want 6", len(response.Materials))
	}
	found := false
	for _, m := range response.Materials {
		if m.Material == "glass" {
			found = true
			if m.BasePrice != 120000 || m.Modifier != 2.0 {
				t.Fatalf("glass policy = %+v", m)
			}
		}
	}
	if !found {
		t.Fatal("glass not listed")
	}
}

func TestIntrospectCacheStats(t *testing.T) {
	router, _ := newPricingServer(t)
	postCalculate(t, router, `{"width_cm":120,"depth_cm":60,"height_cm":75,"material":"wood"}`)

	req := httptest.NewRequest(http.MethodGet, "/pricing/calculate?action=cache-stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats struct {
		Misses   int64 `json:"misses"`
		Size     int   `json:"size"`
		Capacity int   `json:"capacity"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Misses != 1 || stats.Size != 1 || stats.Capacity != 1000 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestIntrospectInvalidAction(t *testing.T) {
	router, _ := newPricingServer(t)

	req := httptest.NewRequest(http.MethodGet, "/pricing/calculate?action=bogus", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
