package routes

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"webharvest/internal/api/handlers"
	"webharvest/internal/api/middleware"
	"webharvest/internal/config"
	"webharvest/internal/dispatch"
	"webharvest/internal/proxy"
	"webharvest/internal/vpn"
)

// SetupRoutes configures all API routes
func SetupRoutes(e *echo.Echo, cfg *config.Config, orch *dispatch.Orchestrator, rotator *proxy.Rotator, vpnManager *vpn.Manager) {
	// Global middleware
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(middleware.CORSConfig())
	e.Use(middleware.RequestValidation())
	e.Use(middleware.TimeoutConfig(cfg.Server.ReadTimeout))

	// Health check routes
	health := e.Group("/health")
	{
		health.GET("", handlers.HealthHandler)
		health.GET("/ready", handlers.ReadinessHandler(orch))
		health.GET("/live", handlers.LivenessHandler)
	}

	// API v1 routes
	v1 := e.Group("/api/v1")
	{
		v1.POST("/extract", handlers.ExtractHandler(cfg, orch))
		v1.POST("/extract/batch", handlers.BatchExtractHandler(cfg, orch))
		v1.POST("/extract/suggest", handlers.SuggestHandler(cfg, orch))

		// Backend monitoring routes
		backends := v1.Group("/backends")
		{
			backends.GET("/metrics", handlers.BackendMetricsHandler(orch))
			backends.GET("/breakers", handlers.BreakerStatusHandler(orch))
			backends.GET("/features", handlers.BackendFeaturesHandler(orch))
		}

		// Proxy pool routes
		pools := v1.Group("/proxies/pools")
		{
			pools.GET("", handlers.PoolListHandler(rotator))
			pools.POST("", handlers.AddPoolHandler(cfg, rotator))
			pools.GET("/:pool", handlers.PoolStatusHandler(rotator))
		}

		// VPN routes
		vpnGroup := v1.Group("/vpn")
		{
			vpnGroup.GET("/status", handlers.VPNStatusHandler(vpnManager))
			vpnGroup.POST("/rotate", handlers.VPNRotateHandler(cfg, rotator, vpnManager))
		}
	}

	// Root route
	e.GET("/", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"service": "WebHarvest Extraction Service",
			"version": "1.0.0",
			"status":  "running",
		})
	})
}
