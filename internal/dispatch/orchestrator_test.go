package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webharvest/internal/config"
	"webharvest/internal/extractor"
	"webharvest/pkg/models"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	caps  extractor.Capabilities
	fn    func(req *models.ExtractionRequest) (*models.ExtractionResult, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, req *models.ExtractionRequest) (*models.ExtractionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return &models.ExtractionResult{Status: models.StatusSuccess, StatusCode: 200}, nil
}

func (f *fakeExtractor) SetProxyConfig(proxy *models.ProxyRecord) {}

func (f *fakeExtractor) Capabilities() extractor.Capabilities { return f.caps }

func (f *fakeExtractor) Cleanup() {}

func (f *fakeExtractor) IsHealthy() bool { return true }

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeProxySource struct {
	mu       sync.Mutex
	proxy    *models.ProxyRecord
	err      error
	reports  int
	releases int
}

func (f *fakeProxySource) GetProxy(ctx context.Context, pool, sessionID, country string) (*models.ProxyRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.proxy, nil
}

func (f *fakeProxySource) ReleaseProxy(proxy *models.ProxyRecord, sessionID string) {
	f.mu.Lock()
	f.releases++
	f.mu.Unlock()
}

func (f *fakeProxySource) ReportResult(ctx context.Context, proxy *models.ProxyRecord, success bool, latency time.Duration) {
	f.mu.Lock()
	f.reports++
	f.mu.Unlock()
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Dispatch.FailureThreshold = 5
	cfg.Dispatch.RecoveryTimeout = 60 * time.Second
	cfg.Dispatch.HalfOpenMaxCalls = 3
	cfg.Dispatch.Strategy = "speed_first"
	cfg.Dispatch.MinSamples = 10
	cfg.Proxy.DefaultPool = "default"
	return cfg
}

func testOrchestrator(proxies ProxySource) (*Orchestrator, map[models.Backend]*fakeExtractor) {
	fakes := map[models.Backend]*fakeExtractor{
		models.BackendColly:  {caps: extractor.Capabilities{Cookies: true}},
		models.BackendFetch:  {caps: extractor.Capabilities{Cookies: true}},
		models.BackendHeaded: {caps: extractor.Capabilities{JavaScript: true, Stealth: true}},
	}
	extractors := make(map[models.Backend]extractor.Extractor, len(fakes))
	for backend, fake := range fakes {
		extractors[backend] = fake
	}
	return NewOrchestrator(testConfig(), extractors, proxies), fakes
}

func TestExtractSuccess(t *testing.T) {
	o, fakes := testOrchestrator(nil)

	req := &models.ExtractionRequest{ID: "req-1", URL: "https://example.com", Backend: models.BackendColly}
	result := o.Extract(context.Background(), req)

	require.NotNil(t, result)
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, "req-1", result.RequestID)
	assert.Equal(t, models.BackendColly, result.Backend)
	assert.Equal(t, 1, fakes[models.BackendColly].callCount())

	stats := o.PerformanceMetrics()[models.BackendColly]
	assert.Equal(t, int64(1), stats.Requests)
	assert.Equal(t, int64(1), stats.Successes)
}

func TestExtractGeneratesRequestID(t *testing.T) {
	o, _ := testOrchestrator(nil)

	result := o.Extract(context.Background(), &models.ExtractionRequest{URL: "https://example.com", Backend: models.BackendFetch})
	assert.NotEmpty(t, result.RequestID)
}

func TestExtractConvertsEngineErrorToFailedResult(t *testing.T) {
	o, fakes := testOrchestrator(nil)
	fakes[models.BackendFetch].fn = func(req *models.ExtractionRequest) (*models.ExtractionResult, error) {
		return nil, fmt.Errorf("connection reset")
	}

	result := o.Extract(context.Background(), &models.ExtractionRequest{URL: "https://example.com", Backend: models.BackendFetch})

	require.NotNil(t, result)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, models.ErrExtractorCrashed, result.ErrorKind)
	assert.Contains(t, result.ErrorMessage, "connection reset")
}

func TestExtractRecoversFromPanic(t *testing.T) {
	o, fakes := testOrchestrator(nil)
	fakes[models.BackendColly].fn = func(req *models.ExtractionRequest) (*models.ExtractionResult, error) {
		panic("boom")
	}

	result := o.Extract(context.Background(), &models.ExtractionRequest{URL: "https://example.com", Backend: models.BackendColly})

	require.NotNil(t, result)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, models.ErrExtractorCrashed, result.ErrorKind)
}

func TestExtractFallsBackWhenPinnedBreakerOpen(t *testing.T) {
	o, fakes := testOrchestrator(nil)

	breaker, _ := o.breakerFor(models.BackendColly)
	for i := 0; i < 5; i++ {
		breaker.RecordFailure()
	}

	result := o.Extract(context.Background(), &models.ExtractionRequest{URL: "https://example.com", Backend: models.BackendColly})

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, models.BackendFetch, result.Backend, "open breaker must route to the next backend in the ring")
	assert.Equal(t, 0, fakes[models.BackendColly].callCount())
	assert.Equal(t, 1, fakes[models.BackendFetch].callCount())
}

func TestExtractAllBackendsDown(t *testing.T) {
	o, fakes := testOrchestrator(nil)

	for _, backend := range models.KnownBackends {
		breaker, ok := o.breakerFor(backend)
		require.True(t, ok)
		for i := 0; i < 5; i++ {
			breaker.RecordFailure()
		}
	}

	result := o.Extract(context.Background(), &models.ExtractionRequest{URL: "https://example.com", Backend: models.BackendColly})

	require.NotNil(t, result)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, models.ErrBackendUnavailable, result.ErrorKind)
	for backend, fake := range fakes {
		assert.Equal(t, 0, fake.callCount(), "backend %s must not be invoked when every breaker is open", backend)
	}
}

func TestExtractUsesProxyAndReportsOutcome(t *testing.T) {
	proxies := &fakeProxySource{proxy: &models.ProxyRecord{Host: "10.0.0.1", Port: 8080, Protocol: models.ProxyHTTP, Country: "US"}}
	o, _ := testOrchestrator(proxies)

	req := &models.ExtractionRequest{URL: "https://example.com", Backend: models.BackendFetch, UseProxy: true}
	result := o.Extract(context.Background(), req)

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, "10.0.0.1:8080:http", result.ProxyUsed)
	assert.Equal(t, "US", result.ProxyCountry)
	assert.Equal(t, 1, proxies.reports)
	assert.Equal(t, 1, proxies.releases)
}

func TestExtractProceedsWithoutProxyOnAcquireFailure(t *testing.T) {
	proxies := &fakeProxySource{err: fmt.Errorf("pool exhausted")}
	o, _ := testOrchestrator(proxies)

	result := o.Extract(context.Background(), &models.ExtractionRequest{URL: "https://example.com", Backend: models.BackendColly, UseProxy: true})

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Empty(t, result.ProxyUsed)
	assert.Equal(t, 0, proxies.reports)
}

func TestBatchExtractPreservesOrder(t *testing.T) {
	o, _ := testOrchestrator(nil)

	var reqs []*models.ExtractionRequest
	for i := 0; i < 12; i++ {
		backend := models.KnownBackends[i%len(models.KnownBackends)]
		reqs = append(reqs, &models.ExtractionRequest{
			ID:      fmt.Sprintf("req-%d", i),
			URL:     fmt.Sprintf("https://example.com/%d", i),
			Backend: backend,
		})
	}

	results := o.BatchExtract(context.Background(), reqs)

	require.Len(t, results, len(reqs))
	for i, result := range results {
		require.NotNil(t, result, "result %d missing", i)
		assert.Equal(t, reqs[i].ID, result.RequestID, "result %d out of order", i)
		assert.Equal(t, reqs[i].Backend, result.Backend)
	}
}

func TestBatchExtractShortCircuitsOpenBreakerGroup(t *testing.T) {
	o, fakes := testOrchestrator(nil)

	breaker, _ := o.breakerFor(models.BackendHeaded)
	for i := 0; i < 5; i++ {
		breaker.RecordFailure()
	}

	reqs := []*models.ExtractionRequest{
		{ID: "a", URL: "https://example.com/a", Backend: models.BackendColly},
		{ID: "b", URL: "https://example.com/b", Backend: models.BackendHeaded},
		{ID: "c", URL: "https://example.com/c", Backend: models.BackendColly},
	}
	results := o.BatchExtract(context.Background(), reqs)

	require.Len(t, results, 3)
	assert.Equal(t, models.StatusSuccess, results[0].Status)
	assert.Equal(t, models.StatusFailed, results[1].Status)
	assert.Equal(t, models.ErrCircuitOpen, results[1].ErrorKind)
	assert.Equal(t, models.StatusSuccess, results[2].Status)
	assert.Equal(t, 0, fakes[models.BackendHeaded].callCount())
}

func TestSuggestBackendSpeedFirst(t *testing.T) {
	o, _ := testOrchestrator(nil)

	js := &models.ExtractionRequest{URL: "https://example.com", WaitConditions: []string{"networkidle"}}
	assert.Equal(t, models.BackendHeaded, o.SuggestBackend(js, StrategySpeedFirst))

	auth := &models.ExtractionRequest{URL: "https://example.com", AuthType: models.AuthForm}
	assert.Equal(t, models.BackendHeaded, o.SuggestBackend(auth, StrategySpeedFirst))

	urgent := &models.ExtractionRequest{URL: "https://example.com", Priority: models.PriorityUrgent}
	assert.Equal(t, models.BackendFetch, o.SuggestBackend(urgent, StrategySpeedFirst))

	plain := &models.ExtractionRequest{URL: "https://example.com"}
	assert.Equal(t, models.BackendColly, o.SuggestBackend(plain, StrategySpeedFirst))
}

func TestSuggestBackendQualityFirst(t *testing.T) {
	o, _ := testOrchestrator(nil)

	js := &models.ExtractionRequest{URL: "https://example.com", WaitConditions: []string{"javascript"}}
	assert.Equal(t, models.BackendHeaded, o.SuggestBackend(js, StrategyQualityFirst))

	selectors := &models.ExtractionRequest{URL: "https://example.com", Selectors: map[string]string{"title": "h1"}}
	assert.Equal(t, models.BackendFetch, o.SuggestBackend(selectors, StrategyQualityFirst))

	plain := &models.ExtractionRequest{URL: "https://example.com"}
	assert.Equal(t, models.BackendColly, o.SuggestBackend(plain, StrategyQualityFirst))
}

func TestSuggestBackendCostOptimized(t *testing.T) {
	o, _ := testOrchestrator(nil)

	plain := &models.ExtractionRequest{URL: "https://example.com"}
	assert.Equal(t, models.BackendColly, o.SuggestBackend(plain, StrategyCostOptimized))

	js := &models.ExtractionRequest{URL: "https://example.com", WaitConditions: []string{"networkidle"}}
	assert.Equal(t, models.BackendFetch, o.SuggestBackend(js, StrategyCostOptimized))

	complex := &models.ExtractionRequest{URL: "https://example.com", WaitConditions: []string{"networkidle", "selector:#app", "delay:2s"}}
	assert.Equal(t, models.BackendHeaded, o.SuggestBackend(complex, StrategyCostOptimized))
}

func TestSuggestBackendReliabilityFirst(t *testing.T) {
	o, _ := testOrchestrator(nil)
	req := &models.ExtractionRequest{URL: "https://example.com"}

	// no backend has enough samples yet
	assert.Equal(t, models.BackendHeaded, o.SuggestBackend(req, StrategyReliabilityFirst))

	for i := 0; i < 10; i++ {
		o.trackers[models.BackendColly].Record(100*time.Millisecond, false)
		o.trackers[models.BackendFetch].Record(100*time.Millisecond, true)
	}
	assert.Equal(t, models.BackendFetch, o.SuggestBackend(req, StrategyReliabilityFirst))
}

func TestBreakerStatusSnapshot(t *testing.T) {
	o, fakes := testOrchestrator(nil)
	fakes[models.BackendColly].fn = func(req *models.ExtractionRequest) (*models.ExtractionResult, error) {
		return models.FailedResult(req.ID, models.ErrHTTP, "500"), nil
	}

	o.Extract(context.Background(), &models.ExtractionRequest{URL: "https://example.com", Backend: models.BackendColly})

	status := o.BreakerStatus()[models.BackendColly]
	assert.Equal(t, "closed", status.State)
	assert.Equal(t, 1, status.FailureCount)
}
