package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"webharvest/internal/dispatch"
	"webharvest/internal/logging"
	"webharvest/pkg/models"
	"webharvest/pkg/utils"
)

var startTime = time.Now()

// HealthHandler handles health check requests
func HealthHandler(c echo.Context) error {
	requestID := utils.GenerateRequestID()
	logger := logging.GetGlobalLogger()

	logger.Debug("Health check requested", map[string]interface{}{"request_id": requestID})

	response := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Uptime:    time.Since(startTime),
		Checks: map[string]string{
			"api": "ok",
		},
	}
	return c.JSON(http.StatusOK, response)
}

// ReadinessHandler reports whether the dispatch layer can take traffic
func ReadinessHandler(orch *dispatch.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		checks := map[string]string{"api": "ok"}

		// ready as long as at least one breaker admits calls
		ready := false
		breakers := orch.BreakerStatus()
		for backend, bs := range breakers {
			checks["breaker_"+string(backend)] = bs.State
			if bs.State != "open" {
				ready = true
			}
		}
		if len(breakers) == 0 {
			ready = false
		}

		status := "ready"
		code := http.StatusOK
		if !ready {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, models.HealthResponse{
			Status:    status,
			Timestamp: time.Now(),
			Version:   "1.0.0",
			Uptime:    time.Since(startTime),
			Checks:    checks,
		})
	}
}

// LivenessHandler handles liveness probe requests
func LivenessHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthResponse{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Uptime:    time.Since(startTime),
	})
}
