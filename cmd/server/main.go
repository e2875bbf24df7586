package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"webharvest/internal/api/routes"
	"webharvest/internal/config"
	"webharvest/internal/dispatch"
	"webharvest/internal/extractor/factory"
	"webharvest/internal/logging"
	"webharvest/internal/proxy"
	"webharvest/internal/vpn"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logging before anything else logs
	if err := logging.InitializeLogging(cfg); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logger := logging.GetGlobalLogger()
	logger.Info("Starting WebHarvest extraction service")

	// Build the extraction engines
	extractors, err := factory.BuildAll(cfg)
	if err != nil {
		logger.Error("Failed to build extraction engines", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	// Redis persistence is optional; proxy state stays in memory without it
	var store proxy.Store
	if cfg.Redis.URL != "" {
		redisStore, err := proxy.NewRedisStore(cfg)
		if err != nil {
			logger.Warn("Redis unavailable, proxy state will not persist", map[string]interface{}{"error": err.Error()})
		} else {
			store = redisStore
		}
	}

	// VPN manager
	vpnManager, err := vpn.NewManager(cfg)
	if err != nil {
		logger.Error("Failed to initialize VPN manager", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	// Proxy rotator
	ctx := context.Background()
	rotator := proxy.NewRotator(cfg, store, vpnManager)
	if err := rotator.Initialize(ctx); err != nil {
		logger.Error("Failed to initialize proxy rotator", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	// Extraction orchestrator
	orch := dispatch.NewOrchestrator(cfg, extractors, rotator)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Setup routes
	routes.SetupRoutes(e, cfg, orch, rotator, vpnManager)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Info("Stopping extraction engines...")
		orch.Cleanup()

		logger.Info("Stopping proxy rotator...")
		if err := rotator.Close(shutdownCtx); err != nil {
			logger.Error("Error stopping proxy rotator", map[string]interface{}{"error": err.Error()})
		}

		logger.Info("Stopping HTTP server...")
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down server", map[string]interface{}{"error": err.Error()})
		}

		logger.Info("Server shutdown complete")
		_ = logging.CloseLogging()
	}()

	// Start server
	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("Server starting", map[string]interface{}{"address": address})

	if err := e.Start(address); err != nil {
		logger.Error("Server stopped", map[string]interface{}{"error": err.Error()})
	}
}
