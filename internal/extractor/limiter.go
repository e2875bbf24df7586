package extractor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"webharvest/pkg/utils"
)

// DomainLimiter enforces a per-domain politeness rate. Each domain gets
// its own token bucket; entries that go unused are pruned so crawls over
// many hosts do not grow the map without bound.
type DomainLimiter struct {
	perSecond rate.Limit
	burst     int

	mu      sync.Mutex
	domains map[string]*domainEntry

	cleanupTicker *time.Ticker
	stop          chan struct{}
	stopOnce      sync.Once
}

type domainEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	requests int64
}

// NewDomainLimiter creates a limiter allowing requestsPerMinute to each
// domain, with small bursts permitted.
func NewDomainLimiter(requestsPerMinute int) *DomainLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	dl := &DomainLimiter{
		perSecond:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:         5,
		domains:       make(map[string]*domainEntry),
		cleanupTicker: time.NewTicker(5 * time.Minute),
		stop:          make(chan struct{}),
	}
	go dl.cleanupLoop()
	return dl
}

// Wait blocks until the domain of rawURL may be requested, or until the
// context is done.
func (dl *DomainLimiter) Wait(ctx context.Context, rawURL string) error {
	entry := dl.entryFor(utils.ExtractDomain(rawURL))
	return entry.limiter.Wait(ctx)
}

// Allow reports whether a request to the domain of rawURL may proceed
// immediately, consuming a token if so.
func (dl *DomainLimiter) Allow(rawURL string) bool {
	entry := dl.entryFor(utils.ExtractDomain(rawURL))
	return entry.limiter.Allow()
}

func (dl *DomainLimiter) entryFor(domain string) *domainEntry {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	entry, ok := dl.domains[domain]
	if !ok {
		entry = &domainEntry{
			limiter: rate.NewLimiter(dl.perSecond, dl.burst),
		}
		dl.domains[domain] = entry
	}
	entry.lastSeen = time.Now()
	entry.requests++
	return entry
}

// Stats returns per-domain request counts since startup or last prune.
func (dl *DomainLimiter) Stats() map[string]int64 {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	stats := make(map[string]int64, len(dl.domains))
	for domain, entry := range dl.domains {
		stats[domain] = entry.requests
	}
	return stats
}

func (dl *DomainLimiter) cleanupLoop() {
	for {
		select {
		case <-dl.cleanupTicker.C:
			dl.prune()
		case <-dl.stop:
			dl.cleanupTicker.Stop()
			return
		}
	}
}

func (dl *DomainLimiter) prune() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for domain, entry := range dl.domains {
		if entry.lastSeen.Before(cutoff) {
			delete(dl.domains, domain)
		}
	}
}

// Stop shuts down the background cleanup loop.
func (dl *DomainLimiter) Stop() {
	dl.stopOnce.Do(func() { close(dl.stop) })
}
