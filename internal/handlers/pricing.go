package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/deskforge/api/internal/domain"
	"github.com/deskforge/api/internal/platform/httpx"
	"github.com/deskforge/api/internal/pricing"
)

const (
	maxPricingBodySize = 8 * 1024
	maxBatchSize       = 10

	cacheStatusHeader = "X-Cache-Status"
	cacheStatusHit    = "HIT"
	cacheStatusMiss   = "MISS"
)

// PricingHandlers exposes the price calculation and introspection endpoints.
type PricingHandlers struct {
	calculator *pricing.Calculator
	cache      pricing.QuoteCache
	clock      func() time.Time
}

// NewPricingHandlers constructs the pricing endpoints. The cache is only used
// for the cache-stats action and may be nil.
func NewPricingHandlers(calculator *pricing.Calculator, cache pricing.QuoteCache, clock func() time.Time) *PricingHandlers {
	if clock == nil {
		clock = time.Now
	}
	return &PricingHandlers{calculator: calculator, cache: cache, clock: clock}
}

// Routes wires the /pricing endpoints onto the provided router.
func (h *PricingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/calculate", h.calculate)
	r.Get("/calculate", h.introspect)
}

type calculateItemRequest struct {
	WidthCm      float64 `json:"width_cm"`
	DepthCm      float64 `json:"depth_cm"`
	HeightCm     float64 `json:"height_cm"`
	Material     string  `json:"material"`
	UseCache     *bool   `json:"use_cache,omitempty"`
	EstimateOnly *bool   `json:"estimate_only,omitempty"`
}

type calculateRequest struct {
	calculateItemRequest
	Calculations []calculateItemRequest `json:"calculations"`
	Sequence     int64                  `json:"sequence"`
}

type breakdownPayload struct {
	Material      string  `json:"material"`
	WidthCm       float64 `json:"width_cm"`
	DepthCm       float64 `json:"depth_cm"`
	HeightCm      float64 `json:"height_cm"`
	VolumeM3      float64 `json:"volume_m3"`
	MaterialCost  int64   `json:"material_cost"`
	BaseFee       int64   `json:"base_fee"`
	ShippingFee   int64   `json:"shipping_fee"`
	Subtotal      int64   `json:"subtotal"`
	Tax           int64   `json:"tax"`
	Total         int64   `json:"total"`
	Mode          string  `json:"mode"`
	PolicyVersion string  `json:"policy_version,omitempty"`
	Cached        bool    `json:"cached"`
}

type calculateResponse struct {
	Result            *breakdownPayload  `json:"result,omitempty"`
	Results           []breakdownPayload `json:"results,omitempty"`
	CalculationTimeMS float64            `json:"calculation_time_ms"`
	Sequence          int64              `json:"sequence,omitempty"`
}

func (h *PricingHandlers) calculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.calculator == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxPricingBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var req calculateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is not valid JSON", http.StatusBadRequest))
		return
	}

	items := req.Calculations
	single := len(items) == 0
	if single {
		items = []calculateItemRequest{req.calculateItemRequest}
	}
	if len(items) > maxBatchSize {
		httpx.WriteError(ctx, w, httpx.NewError("batch_too_large", "at most 10 calculations per request", http.StatusBadRequest))
		return
	}

	start := h.clock()
	results := make([]breakdownPayload, 0, len(items))
	allHits := true
	for _, item := range items {
		payload, hit, err := h.calculateItem(ctx, item)
		if err != nil {
			h.writePricingError(ctx, w, err)
			return
		}
		if !hit {
			allHits = false
		}
		results = append(results, payload)
	}
	elapsed := h.clock().Sub(start)

	if allHits {
		w.Header().Set(cacheStatusHeader, cacheStatusHit)
	} else {
		w.Header().Set(cacheStatusHeader, cacheStatusMiss)
	}

	response := calculateResponse{
		CalculationTimeMS: float64(elapsed.Microseconds()) / 1000,
		Sequence:          req.Sequence,
	}
	if single {
		response.Result = &results[0]
	} else {
		response.Results = results
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *PricingHandlers) calculateItem(ctx context.Context, item calculateItemRequest) (breakdownPayload, bool, error) {
	dims := domain.Dimensions{WidthCm: item.WidthCm, DepthCm: item.DepthCm, HeightCm: item.HeightCm}
	material, ok := domain.ParseMaterial(item.Material)
	if !ok {
		return breakdownPayload{}, false, pricing.ErrMaterialNotFound
	}

	estimateOnly := item.EstimateOnly == nil || *item.EstimateOnly
	useCache := item.UseCache == nil || *item.UseCache

	var (
		breakdown domain.PriceBreakdown
		hit       bool
		err       error
	)
	switch {
	case !estimateOnly:
		breakdown, err = h.calculator.Recalculate(ctx, dims, material)
	case useCache:
		breakdown, hit, err = h.calculator.Quote(ctx, dims, material)
	default:
		breakdown, err = h.calculator.Estimate(dims, material)
	}
	if err != nil {
		return breakdownPayload{}, false, err
	}
	return buildBreakdownPayload(breakdown, hit), hit, nil
}

func (h *PricingHandlers) introspect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.URL.Query().Get("action") {
	case "materials":
		materials := domain.Materials()
		payload := make([]map[string]any, 0, len(materials))
		for _, material := range materials {
			policy, ok := pricing.EstimateDefaults(material)
			if !ok {
				continue
			}
			payload = append(payload, map[string]any{
				"material":   string(material),
				"base_price": policy.BasePrice,
				"modifier":   policy.Modifier,
			})
		}
		writeJSONResponse(w, http.StatusOK, map[string]any{"materials": payload})
	case "cache-stats":
		if h.cache == nil {
			httpx.WriteError(ctx, w, httpx.NewError("cache_unavailable", "price cache is not configured", http.StatusServiceUnavailable))
			return
		}
		stats := h.cache.Stats()
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"hits":      stats.Hits,
			"misses":    stats.Misses,
			"evictions": stats.Evictions,
			"expired":   stats.Expired,
			"size":      stats.Size,
			"capacity":  stats.Capacity,
		})
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_action", "action must be materials or cache-stats", http.StatusBadRequest))
	}
}

func (h *PricingHandlers) writePricingError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidDimensions):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_dimensions", err.Error(), http.StatusBadRequest))
	case errors.Is(err, pricing.ErrMaterialNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("material_not_found", "unknown or inactive material", http.StatusBadRequest))
	case errors.Is(err, pricing.ErrPolicyUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing policy store is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func buildBreakdownPayload(breakdown domain.PriceBreakdown, cached bool) breakdownPayload {
	return breakdownPayload{
		Material:      string(breakdown.Material),
		WidthCm:       breakdown.Dimensions.WidthCm,
		DepthCm:       breakdown.Dimensions.DepthCm,
		HeightCm:      breakdown.Dimensions.HeightCm,
		VolumeM3:      breakdown.VolumeM3,
		MaterialCost:  breakdown.MaterialCost,
		BaseFee:       breakdown.BaseFee,
		ShippingFee:   breakdown.ShippingFee,
		Subtotal:      breakdown.Subtotal,
		Tax:           breakdown.Tax,
		Total:         breakdown.Total,
		Mode:          string(breakdown.Mode),
		PolicyVersion: breakdown.PolicyVersion,
		Cached:        cached,
	}
}
