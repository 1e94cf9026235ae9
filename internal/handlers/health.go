package handlers

import (
	"net/http"
	"time"

	domain "github.com/deskforge/api/internal/domain"
	"github.com/deskforge/api/internal/repositories"
)

// HealthHandlers serves the liveness and readiness probes. Liveness never
// touches dependencies; readiness collects the dependency probe report.
type HealthHandlers struct {
	health  repositories.HealthRepository
	started time.Time
	version string
}

func NewHealthHandlers(health repositories.HealthRepository, version string) *HealthHandlers {
	return &HealthHandlers{health: health, started: time.Now(), version: version}
}

type healthCheckPayload struct {
	Status    string  `json:"status"`
	Detail    string  `json:"detail,omitempty"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

type healthReportPayload struct {
	Status        string                        `json:"status"`
	Version       string                        `json:"version,omitempty"`
	UptimeSeconds float64                       `json:"uptime_seconds"`
	Checks        map[string]healthCheckPayload `json:"checks,omitempty"`
}

func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, healthReportPayload{
		Status:        string(domain.HealthStatusOK),
		Version:       h.version,
		UptimeSeconds: time.Since(h.started).Seconds(),
	})
}

func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	payload := healthReportPayload{
		Status:        string(domain.HealthStatusOK),
		Version:       h.version,
		UptimeSeconds: time.Since(h.started).Seconds(),
	}
	status := http.StatusOK

	if h.health != nil {
		report, err := h.health.Collect(r.Context())
		if err != nil {
			payload.Status = string(domain.HealthStatusError)
			writeJSONResponse(w, http.StatusServiceUnavailable, payload)
			return
		}
		payload.Status = string(report.Status)
		payload.Checks = make(map[string]healthCheckPayload, len(report.Checks))
		for name, check := range report.Checks {
			payload.Checks[name] = healthCheckPayload{
				Status:    string(check.Status),
				Detail:    check.Detail,
				Error:     check.Error,
				LatencyMS: float64(check.Latency.Microseconds()) / 1000,
			}
		}
		if report.Status == domain.HealthStatusError {
			status = http.StatusServiceUnavailable
		}
	}

	writeJSONResponse(w, status, payload)
}
