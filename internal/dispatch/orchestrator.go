package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"webharvest/internal/config"
	"webharvest/internal/extractor"
	"webharvest/internal/logging"
	"webharvest/pkg/models"
	"webharvest/pkg/utils"
)

// ProxySource is the slice of the rotator the orchestrator needs.
type ProxySource interface {
	GetProxy(ctx context.Context, pool, sessionID, country string) (*models.ProxyRecord, error)
	ReleaseProxy(proxy *models.ProxyRecord, sessionID string)
	ReportResult(ctx context.Context, proxy *models.ProxyRecord, success bool, latency time.Duration)
}

// Orchestrator coordinates extraction dispatch. It owns one circuit
// breaker and one performance tracker per backend, consults the proxy
// rotator when a request asks for one, and converts every failure an
// engine can produce into a failed result. It never returns an error
// to its caller.
type Orchestrator struct {
	cfg     *config.Config
	proxies ProxySource
	logger  logging.Logger

	mu         sync.RWMutex
	extractors map[models.Backend]extractor.Extractor
	breakers   map[models.Backend]*CircuitBreaker
	trackers   map[models.Backend]*PerformanceTracker
}

// NewOrchestrator builds an orchestrator over the given backends.
// Breakers and trackers are created here for every backend and live
// for the process lifetime. proxies may be nil when proxying is
// disabled.
func NewOrchestrator(cfg *config.Config, extractors map[models.Backend]extractor.Extractor, proxies ProxySource) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		proxies:    proxies,
		logger:     logging.GetGlobalLogger(),
		extractors: extractors,
		breakers:   make(map[models.Backend]*CircuitBreaker),
		trackers:   make(map[models.Backend]*PerformanceTracker),
	}
	for backend := range extractors {
		o.breakers[backend] = NewCircuitBreaker(cfg.Dispatch.FailureThreshold, cfg.Dispatch.RecoveryTimeout, cfg.Dispatch.HalfOpenMaxCalls)
		o.trackers[backend] = NewPerformanceTracker()
	}
	return o
}

// Extract dispatches a single request and always returns a result.
func (o *Orchestrator) Extract(ctx context.Context, req *models.ExtractionRequest) *models.ExtractionResult {
	requestID := req.ID
	if requestID == "" {
		requestID = utils.GenerateRequestID()
	}

	backend, ok := o.resolveBackend(req)
	if !ok {
		o.logger.Warn("All backends unavailable", map[string]interface{}{
			"request_id": requestID,
			"url":        req.URL,
		})
		return models.FailedResult(requestID, models.ErrBackendUnavailable, "all backend circuit breakers are open")
	}

	return o.dispatch(ctx, req, requestID, backend)
}

// BatchExtract dispatches several requests, preserving input order in
// the returned slice. Requests are grouped by resolved backend; each
// group runs concurrently with the others.
func (o *Orchestrator) BatchExtract(ctx context.Context, reqs []*models.ExtractionRequest) []*models.ExtractionResult {
	results := make([]*models.ExtractionResult, len(reqs))

	groups := make(map[models.Backend][]batchItem)

	for i, req := range reqs {
		id := req.ID
		if id == "" {
			id = utils.GenerateRequestID()
		}
		backend := req.Backend
		if backend == "" || backend == models.BackendAuto {
			backend = o.SuggestBackend(req, ParseStrategy(o.cfg.Dispatch.Strategy))
		}
		groups[backend] = append(groups[backend], batchItem{index: i, req: req, id: id})
	}

	var wg sync.WaitGroup
	for backend, group := range groups {
		breaker, known := o.breakerFor(backend)
		if !known || !breaker.Allow() {
			kind := models.ErrCircuitOpen
			msg := fmt.Sprintf("circuit breaker open for backend %s", backend)
			if !known {
				kind = models.ErrBackendUnavailable
				msg = fmt.Sprintf("unknown backend %s", backend)
			}
			for _, it := range group {
				results[it.index] = models.FailedResult(it.id, kind, msg)
			}
			continue
		}

		wg.Add(1)
		go func(backend models.Backend, group []batchItem) {
			defer wg.Done()
			if o.dispatchGroupBatch(ctx, backend, group, results) {
				return
			}
			for _, it := range group {
				results[it.index] = o.dispatch(ctx, it.req, it.id, backend)
			}
		}(backend, group)
	}
	wg.Wait()

	return results
}

// batchItem ties a request to its slot in the batch result slice
type batchItem struct {
	index int
	req   *models.ExtractionRequest
	id    string
}

// dispatchGroupBatch routes a whole group through the backend's native
// batch path when one exists. Returns false when the group should fall
// back to per-request dispatch: no batch capability, or proxy use
// requested (proxies are negotiated per request).
func (o *Orchestrator) dispatchGroupBatch(ctx context.Context, backend models.Backend, group []batchItem, results []*models.ExtractionResult) bool {
	o.mu.RLock()
	ext := o.extractors[backend]
	o.mu.RUnlock()

	batcher, ok := ext.(extractor.BatchExtractor)
	if !ok || len(group) < 2 {
		return false
	}
	for _, it := range group {
		if it.req.UseProxy {
			return false
		}
	}

	reqs := make([]*models.ExtractionRequest, len(group))
	for i, it := range group {
		reqs[i] = it.req
	}

	start := time.Now()
	batchResults, err := batcher.BatchExtract(ctx, reqs)
	if err != nil || len(batchResults) != len(group) {
		if err != nil {
			o.logger.Warn("Native batch path failed, falling back to per-request dispatch", map[string]interface{}{
				"backend": string(backend),
				"error":   err.Error(),
			})
		}
		return false
	}
	perRequest := time.Since(start) / time.Duration(len(group))

	for i, it := range group {
		result := batchResults[i]
		if result == nil {
			result = models.FailedResult(it.id, models.ErrExtractorCrashed, "extractor returned no result")
		}
		result.RequestID = it.id
		result.Backend = backend
		if result.ResponseTime == 0 {
			result.ResponseTime = perRequest
		}
		o.recordOutcome(backend, result.ResponseTime, result.Succeeded())
		results[it.index] = result
	}
	return true
}

// SuggestBackend applies the selection strategy's decision table to
// the request shape and current performance stats.
func (o *Orchestrator) SuggestBackend(req *models.ExtractionRequest, strategy Strategy) models.Backend {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return suggestBackend(req, strategy, o.trackers, int64(o.cfg.Dispatch.MinSamples))
}

// resolveBackend picks the effective backend for a request: the pinned
// backend when its breaker admits calls, otherwise the first admissible
// backend walking the fallback ring. The second return is false when
// every breaker rejects.
func (o *Orchestrator) resolveBackend(req *models.ExtractionRequest) (models.Backend, bool) {
	backend := req.Backend
	if backend == "" || backend == models.BackendAuto {
		backend = o.SuggestBackend(req, ParseStrategy(o.cfg.Dispatch.Strategy))
	}

	for range models.KnownBackends {
		if breaker, ok := o.breakerFor(backend); ok && breaker.Allow() {
			return backend, true
		}
		backend = backend.Fallback()
	}
	return "", false
}

// dispatch runs one admitted request against its backend and records
// the outcome into the breaker, the tracker, and (when a proxy was
// used) the rotator. The caller has already consumed a breaker
// admission for this backend.
func (o *Orchestrator) dispatch(ctx context.Context, req *models.ExtractionRequest, requestID string, backend models.Backend) *models.ExtractionResult {
	o.mu.RLock()
	ext := o.extractors[backend]
	o.mu.RUnlock()
	if ext == nil {
		return models.FailedResult(requestID, models.ErrBackendUnavailable, fmt.Sprintf("no extractor registered for backend %s", backend))
	}

	var proxy *models.ProxyRecord
	if req.UseProxy && o.proxies != nil {
		pool := req.ProxyPool
		if pool == "" {
			pool = o.cfg.Proxy.DefaultPool
		}
		p, err := o.proxies.GetProxy(ctx, pool, req.SessionID, req.Country)
		if err != nil {
			o.logger.Warn("Proceeding without proxy", map[string]interface{}{
				"request_id": requestID,
				"pool":       pool,
				"error":      err.Error(),
			})
		} else {
			proxy = p
			ext.SetProxyConfig(proxy)
			defer ext.SetProxyConfig(nil)
		}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	result := o.invoke(ctx, ext, req, requestID)
	latency := time.Since(start)

	result.RequestID = requestID
	result.Backend = backend
	result.ResponseTime = latency
	if proxy != nil {
		result.ProxyUsed = proxy.ID()
		result.ProxyCountry = proxy.Country
	}

	success := result.Succeeded()
	o.recordOutcome(backend, latency, success)
	if proxy != nil {
		o.proxies.ReportResult(ctx, proxy, success, latency)
		o.proxies.ReleaseProxy(proxy, req.SessionID)
	}

	o.logger.Debug("Dispatch complete", map[string]interface{}{
		"request_id": requestID,
		"backend":    string(backend),
		"status":     string(result.Status),
		"latency":    utils.FormatDuration(latency),
	})

	return result
}

// invoke calls the engine behind a recover guard and maps engine
// errors into failed results.
func (o *Orchestrator) invoke(ctx context.Context, ext extractor.Extractor, req *models.ExtractionRequest, requestID string) (result *models.ExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Extractor panicked", map[string]interface{}{
				"request_id": requestID,
				"url":        req.URL,
				"panic":      fmt.Sprintf("%v", r),
			})
			result = models.FailedResult(requestID, models.ErrExtractorCrashed, fmt.Sprintf("extractor panicked: %v", r))
		}
	}()

	res, err := ext.Extract(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &models.ExtractionResult{
				RequestID:    requestID,
				Status:       models.StatusTimeout,
				ErrorKind:    models.ErrTimeout,
				ErrorMessage: err.Error(),
			}
		}
		return models.FailedResult(requestID, models.ErrExtractorCrashed, err.Error())
	}
	if res == nil {
		return models.FailedResult(requestID, models.ErrExtractorCrashed, "extractor returned no result")
	}
	return res
}

func (o *Orchestrator) breakerFor(backend models.Backend) (*CircuitBreaker, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	breaker, ok := o.breakers[backend]
	return breaker, ok
}

func (o *Orchestrator) recordOutcome(backend models.Backend, latency time.Duration, success bool) {
	o.mu.RLock()
	breaker := o.breakers[backend]
	tracker := o.trackers[backend]
	o.mu.RUnlock()

	if tracker != nil {
		tracker.Record(latency, success)
	}
	if breaker != nil {
		if success {
			breaker.RecordSuccess()
		} else {
			breaker.RecordFailure()
		}
	}
}

// PerformanceMetrics returns per-backend tracker snapshots
func (o *Orchestrator) PerformanceMetrics() map[models.Backend]PerformanceStats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	metrics := make(map[models.Backend]PerformanceStats, len(o.trackers))
	for backend, tracker := range o.trackers {
		metrics[backend] = tracker.Stats()
	}
	return metrics
}

// BreakerStatus returns per-backend circuit breaker snapshots
func (o *Orchestrator) BreakerStatus() map[models.Backend]BreakerStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	status := make(map[models.Backend]BreakerStatus, len(o.breakers))
	for backend, breaker := range o.breakers {
		status[backend] = breaker.Status()
	}
	return status
}

// SupportedFeatures returns each backend's capability flags
func (o *Orchestrator) SupportedFeatures() map[models.Backend]extractor.Capabilities {
	o.mu.RLock()
	defer o.mu.RUnlock()

	features := make(map[models.Backend]extractor.Capabilities, len(o.extractors))
	for backend, ext := range o.extractors {
		features[backend] = ext.Capabilities()
	}
	return features
}

// Cleanup releases every backend's resources
func (o *Orchestrator) Cleanup() {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, ext := range o.extractors {
		ext.Cleanup()
	}
}
