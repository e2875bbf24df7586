package dispatch

import (
	"webharvest/pkg/models"
)

// Strategy names a backend-selection policy
type Strategy string

const (
	StrategySpeedFirst       Strategy = "speed_first"
	StrategyQualityFirst     Strategy = "quality_first"
	StrategyCostOptimized    Strategy = "cost_optimized"
	StrategyReliabilityFirst Strategy = "reliability_first"
)

// ParseStrategy maps a config or query string to a Strategy,
// defaulting to speed_first for anything unrecognized.
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategySpeedFirst, StrategyQualityFirst, StrategyCostOptimized, StrategyReliabilityFirst:
		return Strategy(s)
	default:
		return StrategySpeedFirst
	}
}

// suggestBackend is the decision table behind auto backend selection.
// It is deterministic in the request shape; only reliability_first
// consults the runtime trackers.
func suggestBackend(req *models.ExtractionRequest, strategy Strategy, trackers map[models.Backend]*PerformanceTracker, minSamples int64) models.Backend {
	needsJS := req.NeedsJavaScript()
	needsAuth := req.NeedsAuthentication()
	complex := req.NeedsComplexInteraction()

	switch strategy {
	case StrategyQualityFirst:
		if needsJS || needsAuth {
			return models.BackendHeaded
		}
		if len(req.Selectors) > 0 {
			return models.BackendFetch
		}
		return models.BackendColly

	case StrategyCostOptimized:
		if !needsJS && !needsAuth {
			return models.BackendColly
		}
		if !complex {
			return models.BackendFetch
		}
		return models.BackendHeaded

	case StrategyReliabilityFirst:
		best := models.Backend("")
		bestScore := -1.0
		for backend, tracker := range trackers {
			if tracker.Requests() < minSamples {
				continue
			}
			if score := tracker.Score(); score > bestScore {
				best, bestScore = backend, score
			}
		}
		if best == "" {
			return models.BackendHeaded
		}
		return best

	default: // speed_first
		if needsJS || needsAuth || complex {
			return models.BackendHeaded
		}
		if req.IsHighPriority() {
			return models.BackendFetch
		}
		return models.BackendColly
	}
}
