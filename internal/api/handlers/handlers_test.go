package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webharvest/internal/config"
	"webharvest/internal/dispatch"
	"webharvest/internal/extractor"
	"webharvest/internal/proxy"
	"webharvest/pkg/models"
)

type fakeExtractor struct{}

func (f *fakeExtractor) Extract(ctx context.Context, req *models.ExtractionRequest) (*models.ExtractionResult, error) {
	return &models.ExtractionResult{
		Status:     models.StatusSuccess,
		StatusCode: 200,
		Data:       map[string]interface{}{"title": "ok"},
	}, nil
}

func (f *fakeExtractor) SetProxyConfig(p *models.ProxyRecord) {}

func (f *fakeExtractor) Capabilities() extractor.Capabilities {
	return extractor.Capabilities{Cookies: true}
}

func (f *fakeExtractor) Cleanup() {}

func (f *fakeExtractor) IsHealthy() bool { return true }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Dispatch.FailureThreshold = 5
	cfg.Dispatch.RecoveryTimeout = 60 * time.Second
	cfg.Dispatch.HalfOpenMaxCalls = 3
	cfg.Dispatch.Strategy = "speed_first"
	cfg.Dispatch.MinSamples = 10
	cfg.Proxy.DefaultPool = "default"
	cfg.Proxy.SessionTTL = 30 * time.Minute
	cfg.Proxy.MaxConcurrentPerProxy = 5
	return cfg
}

func testOrchestrator(cfg *config.Config) *dispatch.Orchestrator {
	extractors := map[models.Backend]extractor.Extractor{
		models.BackendColly:  &fakeExtractor{},
		models.BackendFetch:  &fakeExtractor{},
		models.BackendHeaded: &fakeExtractor{},
	}
	return dispatch.NewOrchestrator(cfg, extractors, nil)
}

func doJSON(t *testing.T, handler echo.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, handler(c))
	return rec
}

func TestExtractHandlerSuccess(t *testing.T) {
	cfg := testConfig()
	h := ExtractHandler(cfg, testOrchestrator(cfg))

	rec := doJSON(t, h, http.MethodPost, "/api/v1/extract", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ExtractionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, models.StatusSuccess, resp.Result.Status)
}

func TestExtractHandlerRejectsMissingURL(t *testing.T) {
	cfg := testConfig()
	h := ExtractHandler(cfg, testOrchestrator(cfg))

	rec := doJSON(t, h, http.MethodPost, "/api/v1/extract", `{"selectors":{"a":"b"}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation_failed", resp.Error)
}

func TestExtractHandlerRejectsMalformedBody(t *testing.T) {
	cfg := testConfig()
	h := ExtractHandler(cfg, testOrchestrator(cfg))

	rec := doJSON(t, h, http.MethodPost, "/api/v1/extract", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp.Error)
}

func TestBatchExtractHandlerOrdersResults(t *testing.T) {
	cfg := testConfig()
	h := BatchExtractHandler(cfg, testOrchestrator(cfg))

	body := `{"requests":[{"url":"https://a.example.com"},{"url":"https://b.example.com"}]}`
	rec := doJSON(t, h, http.MethodPost, "/api/v1/extract/batch", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.BatchExtractionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Results, 2)
}

func TestBatchExtractHandlerRejectsEmptyBatch(t *testing.T) {
	cfg := testConfig()
	h := BatchExtractHandler(cfg, testOrchestrator(cfg))

	rec := doJSON(t, h, http.MethodPost, "/api/v1/extract/batch", `{"requests":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuggestHandlerUsesStrategyParam(t *testing.T) {
	cfg := testConfig()
	h := SuggestHandler(cfg, testOrchestrator(cfg))

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/extract/suggest?strategy=cost_optimized", strings.NewReader(`{"url":"https://example.com"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, h(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "colly", resp["backend"])
	assert.Equal(t, "cost_optimized", resp["strategy"])
}

func TestHealthHandlers(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, HealthHandler(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestReadinessHandlerReady(t *testing.T) {
	cfg := testConfig()
	h := ReadinessHandler(testOrchestrator(cfg))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "closed", resp.Checks["breaker_colly"])
}

func TestPoolStatusHandlerNotFound(t *testing.T) {
	cfg := testConfig()
	rotator := proxy.NewRotator(cfg, nil, nil)
	h := PoolStatusHandler(rotator)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/proxies/pools/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("pool")
	c.SetParamValues("missing")
	require.NoError(t, h(c))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddPoolThenStatus(t *testing.T) {
	cfg := testConfig()
	rotator := proxy.NewRotator(cfg, nil, nil)

	body := `{"name":"residential","strategy":"health_based","proxies":[{"host":"10.0.0.1","port":8080,"protocol":"http"}]}`
	rec := doJSON(t, AddPoolHandler(cfg, rotator), http.MethodPost, "/api/v1/proxies/pools", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/proxies/pools/residential", nil)
	statusRec := httptest.NewRecorder()
	c := e.NewContext(req, statusRec)
	c.SetParamNames("pool")
	c.SetParamValues("residential")
	require.NoError(t, PoolStatusHandler(rotator)(c))
	require.Equal(t, http.StatusOK, statusRec.Code)

	var status proxy.PoolStatus
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.TotalProxies)
	assert.Equal(t, 1, status.ActiveProxies)
}
