package proxy

import (
	"math/rand"
	"strings"
	"time"

	"webharvest/pkg/models"
)

// RotationStrategy names a proxy-selection policy
type RotationStrategy string

const (
	StrategyRoundRobin  RotationStrategy = "round_robin"
	StrategyLeastUsed   RotationStrategy = "least_used"
	StrategyHealthBased RotationStrategy = "health_based"
	StrategyRandom      RotationStrategy = "random"
	StrategyGeographic  RotationStrategy = "geographic"
)

// ParseStrategy maps a string to a RotationStrategy, defaulting to
// round_robin for anything unrecognized.
func ParseStrategy(s string) RotationStrategy {
	switch RotationStrategy(s) {
	case StrategyRoundRobin, StrategyLeastUsed, StrategyHealthBased, StrategyRandom, StrategyGeographic:
		return RotationStrategy(s)
	default:
		return StrategyRoundRobin
	}
}

// Pool is a named collection of proxy records governed by one rotation
// strategy. Records are shared references; the pool does not copy
// them. All mutation goes through the owning Rotator's lock.
type Pool struct {
	Name                  string                `json:"name"`
	Strategy              RotationStrategy      `json:"strategy"`
	SessionTTL            time.Duration         `json:"session_ttl"`
	MaxConcurrentPerProxy int                   `json:"max_concurrent_per_proxy"`
	Proxies               []*models.ProxyRecord `json:"proxies"`
}

// proxyStats tracks per-proxy runtime counters the records themselves
// do not carry: selection count drives round_robin, in-flight drives
// least_used and the concurrency cap, recent failures drive VPN
// rotation.
type proxyStats struct {
	Selections     int64 `json:"selections"`
	InFlight       int   `json:"-"`
	RecentFailures int   `json:"recent_failures"`

	// LatencyWindow holds the most recent response times in
	// milliseconds, capped at latencyWindowSize samples.
	LatencyWindow []float64 `json:"latency_window,omitempty"`
}

const latencyWindowSize = 100

// recordLatency appends one sample, evicting the oldest past the cap
func (s *proxyStats) recordLatency(latency time.Duration) {
	s.LatencyWindow = append(s.LatencyWindow, float64(latency.Milliseconds()))
	if len(s.LatencyWindow) > latencyWindowSize {
		s.LatencyWindow = s.LatencyWindow[len(s.LatencyWindow)-latencyWindowSize:]
	}
}

// averageLatency returns the mean over the window in milliseconds
func (s *proxyStats) averageLatency() float64 {
	if len(s.LatencyWindow) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.LatencyWindow {
		sum += v
	}
	return sum / float64(len(s.LatencyWindow))
}

// selectProxy applies the pool's rotation strategy to the candidate
// list. Candidates are assumed non-empty and already filtered to
// active, within-cap proxies. stats must contain an entry for every
// candidate.
func selectProxy(candidates []*models.ProxyRecord, strategy RotationStrategy, stats map[string]*proxyStats) *models.ProxyRecord {
	switch strategy {
	case StrategyRandom:
		return candidates[rand.Intn(len(candidates))]

	case StrategyLeastUsed:
		minInFlight := stats[candidates[0].ID()].InFlight
		for _, p := range candidates[1:] {
			if n := stats[p.ID()].InFlight; n < minInFlight {
				minInFlight = n
			}
		}
		var ties []*models.ProxyRecord
		for _, p := range candidates {
			if stats[p.ID()].InFlight == minInFlight {
				ties = append(ties, p)
			}
		}
		return ties[rand.Intn(len(ties))]

	case StrategyHealthBased:
		best := candidates[0].HealthScore
		for _, p := range candidates[1:] {
			if p.HealthScore > best {
				best = p.HealthScore
			}
		}
		var ties []*models.ProxyRecord
		for _, p := range candidates {
			if p.HealthScore == best {
				ties = append(ties, p)
			}
		}
		return ties[rand.Intn(len(ties))]

	case StrategyGeographic:
		counts := make(map[string]int)
		for _, p := range candidates {
			counts[countryOf(p)]++
		}
		minCount := len(candidates) + 1
		for _, n := range counts {
			if n < minCount {
				minCount = n
			}
		}
		var countries []string
		for country, n := range counts {
			if n == minCount {
				countries = append(countries, country)
			}
		}
		chosen := countries[rand.Intn(len(countries))]
		var ties []*models.ProxyRecord
		for _, p := range candidates {
			if countryOf(p) == chosen {
				ties = append(ties, p)
			}
		}
		return ties[rand.Intn(len(ties))]

	default: // round_robin: globally least-selected proxy wins
		minSel := stats[candidates[0].ID()].Selections
		for _, p := range candidates[1:] {
			if n := stats[p.ID()].Selections; n < minSel {
				minSel = n
			}
		}
		var ties []*models.ProxyRecord
		for _, p := range candidates {
			if stats[p.ID()].Selections == minSel {
				ties = append(ties, p)
			}
		}
		return ties[rand.Intn(len(ties))]
	}
}

func countryOf(p *models.ProxyRecord) string {
	if p.Country == "" {
		return "unknown"
	}
	return p.Country
}

// matchesCountry reports whether a proxy satisfies a country hint.
// Matching is a case-insensitive substring test so "us" matches both
// "US" and "us-east".
func matchesCountry(p *models.ProxyRecord, country string) bool {
	if country == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Country), strings.ToLower(country))
}
