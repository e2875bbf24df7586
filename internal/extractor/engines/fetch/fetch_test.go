package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webharvest/internal/config"
	"webharvest/pkg/models"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Engines.Fetch.Timeout = 5 * time.Second
	cfg.Engines.Fetch.MaxRetries = 2
	cfg.Engines.Fetch.RetryDelay = 10 * time.Millisecond
	cfg.Engines.Fetch.MaxConns = 10
	cfg.Engines.Fetch.RateLimit = 6000
	return cfg
}

func TestExtractParsesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Hello</title></head><body><h1 id="h">World</h1></body></html>`))
	}))
	defer srv.Close()

	e := NewEngine(testConfig())
	result, err := e.Extract(context.Background(), &models.ExtractionRequest{
		URL:       srv.URL,
		Selectors: map[string]string{"heading": "#h"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, "Hello", result.Data["title"])
	assert.Equal(t, "World", result.Data["heading"])
	assert.Contains(t, result.RawHTML, "<h1")
}

func TestExtractSendsHeadersAndAuth(t *testing.T) {
	var gotHeader, gotAuth, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Custom")
		gotAuth = r.Header.Get("Authorization")
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	e := NewEngine(testConfig())
	_, err := e.Extract(context.Background(), &models.ExtractionRequest{
		URL:             srv.URL,
		Headers:         map[string]string{"X-Custom": "yes"},
		Cookies:         map[string]string{"session": "abc"},
		AuthType:        models.AuthBearer,
		AuthCredentials: map[string]string{"token": "t0ken"},
	})
	require.NoError(t, err)

	assert.Equal(t, "yes", gotHeader)
	assert.Equal(t, "Bearer t0ken", gotAuth)
	assert.Equal(t, "abc", gotCookie)
}

func TestExtractClassifiesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := NewEngine(testConfig())
	result, err := e.Extract(context.Background(), &models.ExtractionRequest{URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, models.StatusRateLimited, result.Status)
	assert.Equal(t, models.ErrRateLimited, result.ErrorKind)
	assert.Equal(t, 429, result.StatusCode)
}

func TestExtractRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// kill the connection to force a network-level error
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte("<html><head><title>Second try</title></head></html>"))
	}))
	defer srv.Close()

	e := NewEngine(testConfig())
	result, err := e.Extract(context.Background(), &models.ExtractionRequest{URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 1, result.RetryCount)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExtractExhaustsRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj := w.(http.Hijacker)
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer srv.Close()

	e := NewEngine(testConfig())
	_, err := e.Extract(context.Background(), &models.ExtractionRequest{URL: srv.URL})
	assert.Error(t, err)
}

func TestExtractHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	e := NewEngine(testConfig())
	_, err := e.Extract(ctx, &models.ExtractionRequest{URL: srv.URL})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetProxyConfigRebuildsClient(t *testing.T) {
	e := NewEngine(testConfig())
	before := e.httpClient()

	e.SetProxyConfig(&models.ProxyRecord{Host: "10.0.0.1", Port: 8080, Protocol: models.ProxyHTTP})
	after := e.httpClient()
	assert.NotSame(t, before, after)

	e.SetProxyConfig(nil)
	direct := e.httpClient()
	assert.NotSame(t, after, direct)
}
