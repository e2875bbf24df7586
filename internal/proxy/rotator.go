package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"webharvest/internal/config"
	"webharvest/internal/logging"
	"webharvest/pkg/models"
)

var (
	// ErrPoolNotFound is returned when a named pool does not exist
	ErrPoolNotFound = errors.New("proxy pool not found")
	// ErrNoProxyAvailable is returned when a pool has no usable candidate
	ErrNoProxyAvailable = errors.New("no proxy available")
)

// VPNController is the slice of the VPN manager the rotator needs for
// identity rotation.
type VPNController interface {
	Rotate(ctx context.Context, country string) error
	ProxyConfig(ctx context.Context) (*models.ProxyRecord, error)
}

// stickySession pins a caller session id to one proxy identity for a
// bounded duration.
type stickySession struct {
	proxyID   string
	createdAt time.Time
	ttl       time.Duration
	requests  int
}

func (s *stickySession) expired(now time.Time) bool {
	return now.Sub(s.createdAt) > s.ttl
}

// Rotator owns every proxy pool, the sticky-session map, and the
// per-proxy runtime counters. All state is guarded by a single mutex;
// nothing escapes except copies and shared ProxyRecord pointers whose
// mutation also goes through the rotator.
type Rotator struct {
	cfg    *config.Config
	store  Store
	vpn    VPNController
	logger logging.Logger

	mu       sync.Mutex
	pools    map[string]*Pool
	sessions map[string]*stickySession
	stats    map[string]*proxyStats

	stopHealth chan struct{}
	healthDone chan struct{}

	now func() time.Time
}

// NewRotator creates a rotator. store and vpnCtrl may be nil when
// persistence or VPN rotation is disabled.
func NewRotator(cfg *config.Config, store Store, vpnCtrl VPNController) *Rotator {
	return &Rotator{
		cfg:      cfg,
		store:    store,
		vpn:      vpnCtrl,
		logger:   logging.GetGlobalLogger(),
		pools:    make(map[string]*Pool),
		sessions: make(map[string]*stickySession),
		stats:    make(map[string]*proxyStats),
		now:      time.Now,
	}
}

// Initialize restores persisted pools and starts the background health
// sweep. Safe to call with a nil store.
func (r *Rotator) Initialize(ctx context.Context) error {
	if r.store != nil {
		if err := r.loadPools(ctx); err != nil {
			return fmt.Errorf("failed to load proxy pools: %w", err)
		}
	}

	r.stopHealth = make(chan struct{})
	r.healthDone = make(chan struct{})
	go r.healthLoop()

	r.logger.Info("Proxy rotator initialized", map[string]interface{}{
		"pools": len(r.pools),
	})
	return nil
}

// Close stops background work and flushes pool state to the store
func (r *Rotator) Close(ctx context.Context) error {
	if r.stopHealth != nil {
		close(r.stopHealth)
		<-r.healthDone
	}

	if r.store != nil {
		r.mu.Lock()
		pools := make([]*Pool, 0, len(r.pools))
		for _, pool := range r.pools {
			pools = append(pools, pool)
		}
		r.mu.Unlock()

		for _, pool := range pools {
			if err := r.persistPool(ctx, pool); err != nil {
				r.logger.Warn("Failed to persist pool on shutdown", map[string]interface{}{
					"pool":  pool.Name,
					"error": err.Error(),
				})
			}
		}
		return r.store.Close()
	}
	return nil
}

// AddPool registers a pool, replacing any pool with the same name
func (r *Rotator) AddPool(ctx context.Context, pool *Pool) error {
	if pool.SessionTTL <= 0 {
		pool.SessionTTL = r.cfg.Proxy.SessionTTL
	}
	if pool.MaxConcurrentPerProxy <= 0 {
		pool.MaxConcurrentPerProxy = r.cfg.Proxy.MaxConcurrentPerProxy
	}

	r.mu.Lock()
	r.pools[pool.Name] = pool
	for _, p := range pool.Proxies {
		if _, ok := r.stats[p.ID()]; !ok {
			r.stats[p.ID()] = &proxyStats{}
		}
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.persistPool(ctx, pool); err != nil {
			return err
		}
	}
	r.logger.Info("Proxy pool added", map[string]interface{}{
		"pool":     pool.Name,
		"proxies":  len(pool.Proxies),
		"strategy": string(pool.Strategy),
	})
	return nil
}

// RemovePool drops a pool from rotation and from the store
func (r *Rotator) RemovePool(ctx context.Context, name string) error {
	r.mu.Lock()
	_, ok := r.pools[name]
	delete(r.pools, name)
	r.mu.Unlock()
	if !ok {
		return ErrPoolNotFound
	}

	if r.store != nil {
		return r.store.DeletePool(ctx, name)
	}
	return nil
}

// GetProxy picks a proxy from the named pool using the pool's default
// sticky TTL for new sessions.
func (r *Rotator) GetProxy(ctx context.Context, pool, sessionID, country string) (*models.ProxyRecord, error) {
	return r.GetProxyWithTTL(ctx, pool, sessionID, country, 0)
}

// GetProxyWithTTL picks a proxy from the named pool. When sessionID is
// set and an unexpired sticky entry points at a still-active proxy,
// that proxy is returned unconditionally. Otherwise candidates are the
// pool's active proxies matching the country hint and below the
// concurrency cap, and the pool's rotation strategy picks one. A zero
// stickyTTL falls back to the pool's session TTL.
func (r *Rotator) GetProxyWithTTL(ctx context.Context, poolName, sessionID, country string, stickyTTL time.Duration) (*models.ProxyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.pools[poolName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolName)
	}

	now := r.now()

	if sessionID != "" {
		if session, ok := r.sessions[sessionID]; ok {
			if session.expired(now) {
				delete(r.sessions, sessionID)
			} else if p := pool.findProxy(session.proxyID); p != nil && p.Status == models.ProxyActive {
				session.requests++
				stats := r.statsFor(p.ID())
				stats.Selections++
				stats.InFlight++
				return p, nil
			}
		}
	}

	var candidates []*models.ProxyRecord
	for _, p := range pool.Proxies {
		if p.Status != models.ProxyActive || !matchesCountry(p, country) {
			continue
		}
		if r.statsFor(p.ID()).InFlight >= pool.MaxConcurrentPerProxy {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: pool %s, country %q", ErrNoProxyAvailable, poolName, country)
	}

	proxy := selectProxy(candidates, pool.Strategy, r.stats)

	stats := r.statsFor(proxy.ID())
	stats.Selections++
	stats.InFlight++

	if sessionID != "" {
		ttl := stickyTTL
		if ttl <= 0 {
			ttl = pool.SessionTTL
		}
		r.sessions[sessionID] = &stickySession{
			proxyID:   proxy.ID(),
			createdAt: now,
			ttl:       ttl,
			requests:  1,
		}
	}

	return proxy, nil
}

// ReleaseProxy marks one in-flight request on the proxy as finished.
// The sticky entry, if any, outlives the release until TTL expiry.
func (r *Rotator) ReleaseProxy(proxy *models.ProxyRecord, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.statsFor(proxy.ID())
	if stats.InFlight > 0 {
		stats.InFlight--
	}
}

// ReportResult folds one request outcome into the proxy's health score
// and the rotation counters, and persists the updated stats.
func (r *Rotator) ReportResult(ctx context.Context, proxy *models.ProxyRecord, success bool, latency time.Duration) {
	r.mu.Lock()
	proxy.RecordOutcome(success, r.cfg.Proxy.HealthReward, r.cfg.Proxy.HealthPenalty)

	stats := r.statsFor(proxy.ID())
	stats.recordLatency(latency)
	if success {
		if stats.RecentFailures > 0 {
			stats.RecentFailures--
		}
	} else {
		stats.RecentFailures++
	}
	status := proxy.Status
	health := proxy.HealthScore
	statsJSON, marshalErr := json.Marshal(stats)
	r.mu.Unlock()

	if status != models.ProxyActive {
		r.logger.Warn("Proxy degraded", map[string]interface{}{
			"proxy":        proxy.ID(),
			"status":       string(status),
			"health_score": health,
		})
	}

	if r.store != nil && marshalErr == nil {
		if err := r.store.SetStats(ctx, proxy.ID(), statsJSON); err != nil {
			r.logger.Debug("Failed to persist proxy stats", map[string]interface{}{
				"proxy": proxy.ID(),
				"error": err.Error(),
			})
		}
	}
}

// RotateVPNIfNeeded sums recent failures across every tracked proxy
// and, at or above the threshold, rotates the outbound VPN identity.
// On success all recent-failure counters reset and the fresh VPN
// endpoint replaces the VPN-backed entry in every pool. Returns true
// when a rotation happened.
func (r *Rotator) RotateVPNIfNeeded(ctx context.Context, failureThreshold int) (bool, error) {
	if r.vpn == nil {
		return false, nil
	}

	r.mu.Lock()
	total := 0
	for _, stats := range r.stats {
		total += stats.RecentFailures
	}
	r.mu.Unlock()

	if total < failureThreshold {
		return false, nil
	}

	r.logger.Info("High failure rate detected, rotating VPN", map[string]interface{}{
		"recent_failures": total,
		"threshold":       failureThreshold,
	})

	if err := r.vpn.Rotate(ctx, ""); err != nil {
		return false, fmt.Errorf("vpn rotation failed: %w", err)
	}

	vpnProxy, err := r.vpn.ProxyConfig(ctx)
	if err != nil {
		return false, fmt.Errorf("vpn rotation succeeded but no proxy config: %w", err)
	}

	r.mu.Lock()
	for _, stats := range r.stats {
		stats.RecentFailures = 0
	}
	if vpnProxy != nil {
		r.absorbVPNProxyLocked(vpnProxy)
	}
	r.mu.Unlock()

	return true, nil
}

// AbsorbVPNProxy refreshes every pool's VPN-backed entry from the VPN
// controller's current endpoint. Used after a manual rotation.
func (r *Rotator) AbsorbVPNProxy(ctx context.Context) error {
	if r.vpn == nil {
		return nil
	}
	vpnProxy, err := r.vpn.ProxyConfig(ctx)
	if err != nil {
		return err
	}
	if vpnProxy == nil {
		return nil
	}

	r.mu.Lock()
	r.absorbVPNProxyLocked(vpnProxy)
	r.mu.Unlock()
	return nil
}

// absorbVPNProxyLocked swaps the fresh VPN endpoint into every pool,
// replacing any previous VPN-protocol entry. Caller holds r.mu.
func (r *Rotator) absorbVPNProxyLocked(vpnProxy *models.ProxyRecord) {
	vpnProxy.Status = models.ProxyActive
	if vpnProxy.HealthScore == 0 {
		vpnProxy.HealthScore = 1.0
	}
	if _, ok := r.stats[vpnProxy.ID()]; !ok {
		r.stats[vpnProxy.ID()] = &proxyStats{}
	}

	for _, pool := range r.pools {
		replaced := false
		for i, p := range pool.Proxies {
			if p.Protocol == models.ProxyVPN {
				pool.Proxies[i] = vpnProxy
				replaced = true
				break
			}
		}
		if !replaced {
			pool.Proxies = append(pool.Proxies, vpnProxy)
		}
	}
}

// PoolStatus summarizes one pool for the monitoring API
type PoolStatus struct {
	Name           string           `json:"name"`
	Strategy       RotationStrategy `json:"strategy"`
	TotalProxies   int              `json:"total_proxies"`
	ActiveProxies  int              `json:"active_proxies"`
	Sessions       int              `json:"active_sessions"`
	AverageHealth  float64          `json:"average_health"`
	AvgLatencyMs   float64          `json:"avg_latency_ms"`
	LatencySamples int              `json:"latency_samples"`
}

// Status returns a summary of the named pool
func (r *Rotator) Status(poolName string) (PoolStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.pools[poolName]
	if !ok {
		return PoolStatus{}, fmt.Errorf("%w: %s", ErrPoolNotFound, poolName)
	}
	return r.statusLocked(pool), nil
}

// AllStatus returns a summary of every pool keyed by name
func (r *Rotator) AllStatus() map[string]PoolStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]PoolStatus, len(r.pools))
	for name, pool := range r.pools {
		out[name] = r.statusLocked(pool)
	}
	return out
}

func (r *Rotator) statusLocked(pool *Pool) PoolStatus {
	status := PoolStatus{
		Name:         pool.Name,
		Strategy:     pool.Strategy,
		TotalProxies: len(pool.Proxies),
	}
	var healthSum, latencySum float64
	var latencySamples int
	for _, p := range pool.Proxies {
		if p.Status == models.ProxyActive {
			status.ActiveProxies++
		}
		healthSum += p.HealthScore
		if stats, ok := r.stats[p.ID()]; ok && len(stats.LatencyWindow) > 0 {
			latencySum += stats.averageLatency() * float64(len(stats.LatencyWindow))
			latencySamples += len(stats.LatencyWindow)
		}
	}
	if len(pool.Proxies) > 0 {
		status.AverageHealth = healthSum / float64(len(pool.Proxies))
	}
	if latencySamples > 0 {
		status.AvgLatencyMs = latencySum / float64(latencySamples)
		status.LatencySamples = latencySamples
	}
	now := r.now()
	for _, session := range r.sessions {
		if !session.expired(now) && pool.findProxy(session.proxyID) != nil {
			status.Sessions++
		}
	}
	return status
}

// healthLoop periodically re-derives every proxy's status from its
// health score so proxies that decayed without traffic still surface,
// and checks whether accumulated failures warrant a VPN rotation.
func (r *Rotator) healthLoop() {
	defer close(r.healthDone)

	interval := r.cfg.Proxy.HealthCheckInterval
	if interval <= 0 {
		interval = 300 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopHealth:
			return
		case <-ticker.C:
			r.sweep()
			if _, err := r.RotateVPNIfNeeded(context.Background(), r.cfg.Proxy.VPNFailureThreshold); err != nil {
				r.logger.Warn("Automatic VPN rotation failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// sweep is one pass of the background health check
func (r *Rotator) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, session := range r.sessions {
		if session.expired(now) {
			delete(r.sessions, id)
		}
	}

	for _, pool := range r.pools {
		for _, p := range pool.Proxies {
			derived := models.StatusForHealth(p.HealthScore)
			if p.Status != derived {
				r.logger.Info("Proxy status changed by health sweep", map[string]interface{}{
					"proxy": p.ID(),
					"from":  string(p.Status),
					"to":    string(derived),
				})
				p.Status = derived
			}
		}
	}
}

func (r *Rotator) statsFor(proxyID string) *proxyStats {
	stats, ok := r.stats[proxyID]
	if !ok {
		stats = &proxyStats{}
		r.stats[proxyID] = stats
	}
	return stats
}

// findProxy locates a record in the pool by identity
func (p *Pool) findProxy(proxyID string) *models.ProxyRecord {
	for _, proxy := range p.Proxies {
		if proxy.ID() == proxyID {
			return proxy
		}
	}
	return nil
}

func (r *Rotator) persistPool(ctx context.Context, pool *Pool) error {
	r.mu.Lock()
	data, err := json.Marshal(pool)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.store.SetPool(ctx, pool.Name, data)
}

func (r *Rotator) loadPools(ctx context.Context) error {
	names, err := r.store.ListPools(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		data, err := r.store.GetPool(ctx, name)
		if err != nil || data == nil {
			continue
		}
		var pool Pool
		if err := json.Unmarshal(data, &pool); err != nil {
			r.logger.Warn("Skipping corrupt persisted pool", map[string]interface{}{
				"pool":  name,
				"error": err.Error(),
			})
			continue
		}
		r.pools[pool.Name] = &pool
		for _, p := range pool.Proxies {
			stats := &proxyStats{}
			if data, err := r.store.GetStats(ctx, p.ID()); err == nil && data != nil {
				_ = json.Unmarshal(data, stats)
				stats.InFlight = 0
			}
			r.stats[p.ID()] = stats
		}
	}
	return nil
}
