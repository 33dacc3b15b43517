package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/mstgnz/montypay/infra/response"
)

// Pinger is anything whose availability can be pinged
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	ledger        Pinger
	search        Pinger
	gatewayConfig func() error
	version       string
	environment   string
	startTime     time.Time
	slowThreshold time.Duration
}

// HealthStatus represents overall system health
type HealthStatus struct {
	Status      string                    `json:"status"`
	Version     string                    `json:"version"`
	Timestamp   time.Time                 `json:"timestamp"`
	Uptime      string                    `json:"uptime"`
	Environment string                    `json:"environment"`
	Services    map[string]*ServiceHealth `json:"services"`
	System      *SystemHealth             `json:"system"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status       string `json:"status"`
	Healthy      bool   `json:"healthy"`
	Critical     bool   `json:"critical"`
	ResponseTime string `json:"response_time,omitempty"`
	Description  string `json:"description,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SystemHealth represents system resource health
type SystemHealth struct {
	GoRoutines int    `json:"goroutines"`
	Alloc      string `json:"alloc"`
	Sys        string `json:"sys"`
	GCRuns     uint32 `json:"gc_runs"`
}

// NewHealthHandler creates a new health handler. search may be nil when
// OpenSearch is disabled; gatewayConfig reports whether the merchant
// credentials are usable.
func NewHealthHandler(ledger Pinger, search Pinger, gatewayConfig func() error, version, environment string) *HealthHandler {
	return &HealthHandler{
		ledger:        ledger,
		search:        search,
		gatewayConfig: gatewayConfig,
		version:       version,
		environment:   environment,
		startTime:     time.Now(),
		slowThreshold: time.Second,
	}
}

// CheckHealth performs the health checks
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := &HealthStatus{
		Version:     h.version,
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		Environment: h.environment,
		Services: map[string]*ServiceHealth{
			"ledger":     h.checkService(ctx, h.ledger, true, "Transaction ledger"),
			"opensearch": h.checkService(ctx, h.search, false, "Reconciliation event index"),
			"montypay":   h.checkGatewayConfig(),
		},
		System: checkSystemHealth(),
	}
	health.Status = determineOverallStatus(health.Services)

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	_ = response.WriteJSON(w, statusCode, response.Response{
		Code:    statusCode,
		Success: health.Status != "unhealthy",
		Message: fmt.Sprintf("Service is %s", health.Status),
		Data:    health,
	})
}

func (h *HealthHandler) checkService(ctx context.Context, p Pinger, critical bool, description string) *ServiceHealth {
	service := &ServiceHealth{Critical: critical, Description: description}
	if p == nil {
		service.Status = "not_configured"
		return service
	}

	start := time.Now()
	err := p.Ping(ctx)
	elapsed := time.Since(start)
	service.ResponseTime = fmt.Sprintf("%dms", elapsed.Milliseconds())

	switch {
	case err != nil:
		service.Status = "unhealthy"
		service.Error = err.Error()
	case elapsed > h.slowThreshold:
		service.Status = "degraded"
		service.Healthy = true
	default:
		service.Status = "healthy"
		service.Healthy = true
	}
	return service
}

func (h *HealthHandler) checkGatewayConfig() *ServiceHealth {
	service := &ServiceHealth{Critical: true, Description: "MontyPay merchant configuration"}
	if h.gatewayConfig == nil {
		service.Status = "not_configured"
		return service
	}
	if err := h.gatewayConfig(); err != nil {
		service.Status = "unhealthy"
		service.Error = err.Error()
		return service
	}
	service.Status = "healthy"
	service.Healthy = true
	return service
}

// determineOverallStatus is unhealthy when a critical service is down and
// degraded when anything else is not healthy
func determineOverallStatus(services map[string]*ServiceHealth) string {
	status := "healthy"
	for _, service := range services {
		if service.Healthy && service.Status == "healthy" {
			continue
		}
		if service.Critical && !service.Healthy {
			return "unhealthy"
		}
		if service.Status != "not_configured" || service.Critical {
			status = "degraded"
		}
	}
	return status
}

func checkSystemHealth() *SystemHealth {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &SystemHealth{
		GoRoutines: runtime.NumGoroutine(),
		Alloc:      formatBytes(memStats.Alloc),
		Sys:        formatBytes(memStats.Sys),
		GCRuns:     memStats.NumGC,
	}
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
