package factory

import (
	"fmt"

	"webharvest/internal/config"
	"webharvest/internal/extractor"
	collyengine "webharvest/internal/extractor/engines/colly"
	"webharvest/internal/extractor/engines/fetch"
	"webharvest/internal/extractor/engines/headed"
	"webharvest/pkg/models"
)

// DefaultFactory implements extractor.Factory
type DefaultFactory struct {
	config *config.Config
}

// New creates an extractor factory
func New(cfg *config.Config) extractor.Factory {
	return &DefaultFactory{config: cfg}
}

// CreateExtractor creates a backend instance for the given identifier
func (f *DefaultFactory) CreateExtractor(backend models.Backend) (extractor.Extractor, error) {
	switch backend {
	case models.BackendColly:
		return collyengine.NewEngine(f.config), nil
	case models.BackendFetch:
		return fetch.NewEngine(f.config), nil
	case models.BackendHeaded:
		return headed.NewEngine(f.config), nil
	default:
		return nil, fmt.Errorf("unsupported extraction backend: %s", backend)
	}
}

// SupportedBackends lists the backend identifiers the factory knows
func (f *DefaultFactory) SupportedBackends() []models.Backend {
	return []models.Backend{models.BackendColly, models.BackendFetch, models.BackendHeaded}
}

// BuildAll instantiates every supported backend, keyed by identifier
func BuildAll(cfg *config.Config) (map[models.Backend]extractor.Extractor, error) {
	f := New(cfg)
	extractors := make(map[models.Backend]extractor.Extractor)
	for _, backend := range f.SupportedBackends() {
		ext, err := f.CreateExtractor(backend)
		if err != nil {
			return nil, err
		}
		extractors[backend] = ext
	}
	return extractors, nil
}
