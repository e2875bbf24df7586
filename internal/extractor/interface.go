package extractor

import (
	"context"

	"webharvest/pkg/models"
)

// Capabilities describes what a backend can do, used by callers to
// route requests and by the monitoring API.
type Capabilities struct {
	JavaScript     bool `json:"javascript"`
	Cookies        bool `json:"cookies"`
	FormSubmission bool `json:"form_submission"`
	Stealth        bool `json:"stealth"`
	Batch          bool `json:"batch"`
}

// Extractor defines the interface for all extraction backends
type Extractor interface {
	// Extract fetches and parses a single URL
	Extract(ctx context.Context, req *models.ExtractionRequest) (*models.ExtractionResult, error)

	// SetProxyConfig sets the proxy used for subsequent requests; nil clears it
	SetProxyConfig(proxy *models.ProxyRecord)

	// Capabilities reports the backend's feature flags
	Capabilities() Capabilities

	// Cleanup releases any resources held by the backend
	Cleanup()

	// IsHealthy returns true if the backend is ready to serve requests
	IsHealthy() bool
}

// BatchExtractor is implemented by backends with a native batch path
type BatchExtractor interface {
	// BatchExtract fetches several URLs, returning results in request order
	BatchExtract(ctx context.Context, reqs []*models.ExtractionRequest) ([]*models.ExtractionResult, error)
}

// Factory creates extractors by backend identifier
type Factory interface {
	// CreateExtractor creates a backend instance for the given identifier
	CreateExtractor(backend models.Backend) (Extractor, error)

	// SupportedBackends lists the backend identifiers the factory knows
	SupportedBackends() []models.Backend
}
