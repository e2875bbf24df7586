package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"webharvest/internal/config"
	"webharvest/internal/dispatch"
	"webharvest/internal/logging"
	"webharvest/internal/proxy"
	"webharvest/internal/vpn"
	"webharvest/pkg/models"
	"webharvest/pkg/utils"
)

// BackendMetricsHandler exposes per-backend performance counters
func BackendMetricsHandler(orch *dispatch.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"backends":  orch.PerformanceMetrics(),
			"timestamp": time.Now(),
		})
	}
}

// BreakerStatusHandler exposes per-backend circuit breaker state
func BreakerStatusHandler(orch *dispatch.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"breakers":  orch.BreakerStatus(),
			"timestamp": time.Now(),
		})
	}
}

// BackendFeaturesHandler exposes each backend's capability flags
func BackendFeaturesHandler(orch *dispatch.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"backends": orch.SupportedFeatures(),
		})
	}
}

// PoolListHandler summarizes every proxy pool
func PoolListHandler(rotator *proxy.Rotator) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"pools":     rotator.AllStatus(),
			"timestamp": time.Now(),
		})
	}
}

// PoolStatusHandler summarizes one proxy pool
func PoolStatusHandler(rotator *proxy.Rotator) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		name := c.Param("pool")

		status, err := rotator.Status(name)
		if err != nil {
			if errors.Is(err, proxy.ErrPoolNotFound) {
				return c.JSON(http.StatusNotFound, models.ErrorResponse{
					Error:     "pool_not_found",
					Message:   err.Error(),
					RequestID: requestID,
					Timestamp: time.Now(),
				})
			}
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:     "pool_status_failed",
				Message:   err.Error(),
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}
		return c.JSON(http.StatusOK, status)
	}
}

// AddPoolRequest is the payload for registering a proxy pool
type AddPoolRequest struct {
	Name     string                `json:"name" validate:"required"`
	Strategy string                `json:"strategy"`
	Proxies  []*models.ProxyRecord `json:"proxies" validate:"required,min=1"`
}

// AddPoolHandler registers a proxy pool
func AddPoolHandler(cfg *config.Config, rotator *proxy.Rotator) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()

		var req AddPoolRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:     "invalid_request",
				Message:   "Invalid request format",
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}
		if err := validate.Struct(&req); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:     "validation_failed",
				Message:   err.Error(),
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}

		for _, p := range req.Proxies {
			if p.Status == "" {
				p.Status = models.ProxyActive
			}
			if p.HealthScore == 0 {
				p.HealthScore = 1.0
			}
		}

		pool := &proxy.Pool{
			Name:     req.Name,
			Strategy: proxy.ParseStrategy(req.Strategy),
			Proxies:  req.Proxies,
		}
		if err := rotator.AddPool(c.Request().Context(), pool); err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:     "pool_add_failed",
				Message:   err.Error(),
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}
		return c.JSON(http.StatusCreated, map[string]interface{}{
			"pool":       pool.Name,
			"proxies":    len(pool.Proxies),
			"request_id": requestID,
		})
	}
}

// VPNStatusHandler reports the VPN tunnel state
func VPNStatusHandler(manager *vpn.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		status, err := manager.Status(c.Request().Context())
		response := map[string]interface{}{
			"status":    status,
			"countries": manager.AvailableCountries(),
			"timestamp": time.Now(),
		}
		if err != nil {
			response["error"] = err.Error()
		}
		return c.JSON(http.StatusOK, response)
	}
}

// VPNRotateHandler forces a VPN identity rotation
func VPNRotateHandler(cfg *config.Config, rotator *proxy.Rotator, manager *vpn.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		logger := logging.LogWithRequestID(requestID)

		country := c.QueryParam("country")
		logger.Info("Manual VPN rotation requested", map[string]interface{}{
			"country": country,
		})

		if err := manager.Rotate(c.Request().Context(), country); err != nil {
			return c.JSON(http.StatusBadGateway, models.ErrorResponse{
				Error:     "vpn_rotation_failed",
				Message:   err.Error(),
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}
		if err := rotator.AbsorbVPNProxy(c.Request().Context()); err != nil {
			logger.Warn("Rotated but could not refresh pool VPN entry", map[string]interface{}{
				"error": err.Error(),
			})
		}

		status, _ := manager.Status(c.Request().Context())
		return c.JSON(http.StatusOK, map[string]interface{}{
			"rotated":    true,
			"status":     status,
			"request_id": requestID,
		})
	}
}
