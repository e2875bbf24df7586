package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"webharvest/internal/config"
	"webharvest/internal/extractor"
	"webharvest/internal/logging"
	"webharvest/pkg/models"
	"webharvest/pkg/utils"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Engine is the mid-tier backend: a plain HTTP client plus selector
// parsing. It retries transient failures with linear backoff and
// jitter, which the dispatch layer deliberately does not do itself.
type Engine struct {
	cfg     *config.Config
	logger  logging.Logger
	limiter *extractor.DomainLimiter

	mu     sync.RWMutex
	proxy  *models.ProxyRecord
	client *http.Client
}

// NewEngine creates a fetch engine from the service config
func NewEngine(cfg *config.Config) *Engine {
	e := &Engine{
		cfg:     cfg,
		logger:  logging.GetGlobalLogger(),
		limiter: extractor.NewDomainLimiter(cfg.Engines.Fetch.RateLimit),
	}
	e.client = e.buildClient(nil)
	return e
}

func (e *Engine) buildClient(proxy *models.ProxyRecord) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        e.cfg.Engines.Fetch.MaxConns,
		MaxConnsPerHost:     e.cfg.Engines.Fetch.MaxConns,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if proxy != nil {
		if proxyURL, err := url.Parse(proxy.URL()); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   e.cfg.Engines.Fetch.Timeout,
	}
}

// SetProxyConfig swaps the outbound proxy; nil restores direct dialing
func (e *Engine) SetProxyConfig(proxy *models.ProxyRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.proxy = proxy
	e.client = e.buildClient(proxy)
}

func (e *Engine) httpClient() *http.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// Extract fetches the URL and parses the response body. Network-level
// failures are retried up to the configured budget; HTTP error codes
// are terminal and classified into the result.
func (e *Engine) Extract(ctx context.Context, req *models.ExtractionRequest) (*models.ExtractionResult, error) {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.Engines.Fetch.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.retryDelay(attempt)
			e.logger.Debug("Retrying fetch", map[string]interface{}{
				"url":     req.URL,
				"attempt": attempt,
				"delay":   delay.String(),
			})
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := e.fetchOnce(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		result.RetryCount = attempt
		return result, nil
	}
	return nil, fmt.Errorf("fetch failed after %d attempts: %w", maxRetries+1, lastErr)
}

// retryDelay is a linear backoff with up to 50% random jitter
func (e *Engine) retryDelay(attempt int) time.Duration {
	base := e.cfg.Engines.Fetch.RetryDelay
	if base <= 0 {
		base = time.Second
	}
	delay := base * time.Duration(attempt)
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}

func (e *Engine) fetchOnce(ctx context.Context, req *models.ExtractionRequest) (*models.ExtractionResult, error) {
	if err := e.limiter.Wait(ctx, req.URL); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL: %w", err)
	}

	ua := utils.GetStringOrDefault(e.cfg.Engines.Fetch.UserAgent, defaultUserAgent)
	httpReq.Header.Set("User-Agent", ua)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")

	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	for name, value := range req.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	applyAuth(httpReq, req)

	resp, err := e.httpClient().Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	status, errKind := extractor.ClassifyHTTPStatus(resp.StatusCode)
	result := &models.ExtractionResult{
		Status:     status,
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
		ErrorKind:  errKind,
	}
	if status != models.StatusSuccess {
		result.ErrorMessage = fmt.Sprintf("HTTP %d from %s", resp.StatusCode, req.URL)
		return result, nil
	}

	data, links, images, err := extractor.ParseDocument(string(body), result.FinalURL, req)
	if err != nil {
		return nil, err
	}
	result.Data = data
	result.Links = links
	result.Images = images
	result.RawHTML = string(body)
	return result, nil
}

// applyAuth maps the request's auth directive onto HTTP headers. Form
// auth needs a browser flow and is left to the headed backend.
func applyAuth(httpReq *http.Request, req *models.ExtractionRequest) {
	switch req.AuthType {
	case models.AuthBasic:
		user := req.AuthCredentials["username"]
		pass := req.AuthCredentials["password"]
		httpReq.SetBasicAuth(user, pass)
	case models.AuthBearer:
		if token := req.AuthCredentials["token"]; token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	case models.AuthCustom:
		for name, value := range req.AuthCredentials {
			httpReq.Header.Set(name, value)
		}
	}
}

// Capabilities reports the fetch feature set
func (e *Engine) Capabilities() extractor.Capabilities {
	return extractor.Capabilities{
		Cookies: true,
		Batch:   false,
	}
}

// Cleanup closes idle connections and stops the domain limiter
func (e *Engine) Cleanup() {
	e.limiter.Stop()
	if transport, ok := e.httpClient().Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// IsHealthy reports readiness; the fetch engine holds no external state
func (e *Engine) IsHealthy() bool {
	return true
}
