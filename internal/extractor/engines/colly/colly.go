package colly

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	colly "github.com/gocolly/colly/v2"
	"golang.org/x/sync/errgroup"

	"webharvest/internal/config"
	"webharvest/internal/extractor"
	"webharvest/internal/logging"
	"webharvest/pkg/models"
	"webharvest/pkg/utils"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Engine is the lightweight crawling backend built on colly. No
// JavaScript, no sessions held open, cheap enough to run wide.
type Engine struct {
	cfg    *config.Config
	logger logging.Logger

	mu    sync.RWMutex
	proxy *models.ProxyRecord
}

// NewEngine creates a colly engine from the service config
func NewEngine(cfg *config.Config) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logging.GetGlobalLogger(),
	}
}

// SetProxyConfig sets the proxy for subsequent collectors
func (e *Engine) SetProxyConfig(proxy *models.ProxyRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.proxy = proxy
}

func (e *Engine) currentProxy() *models.ProxyRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.proxy
}

// Extract crawls a single URL, retrying network-level failures with
// linear backoff and jitter. HTTP error codes are terminal.
func (e *Engine) Extract(ctx context.Context, req *models.ExtractionRequest) (*models.ExtractionResult, error) {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.Engines.Colly.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			base := e.cfg.Engines.Colly.RetryDelay
			if base <= 0 {
				base = time.Second
			}
			delay := base * time.Duration(attempt)
			delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := e.extractOnce(ctx, req)
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
	return nil, fmt.Errorf("crawl failed after %d attempts: %w", maxRetries+1, lastErr)
}

// extractOnce runs one crawl with a fresh collector. Collectors are
// cheap to build and keeping them per-call avoids cross-request state.
func (e *Engine) extractOnce(ctx context.Context, req *models.ExtractionRequest) (*models.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ua := utils.GetStringOrDefault(e.cfg.Engines.Colly.UserAgent, defaultUserAgent)

	c := colly.NewCollector(
		colly.UserAgent(ua),
		colly.MaxDepth(1),
	)
	timeout := e.cfg.Engines.Colly.Timeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}
	c.SetRequestTimeout(timeout)

	rateLimit := e.cfg.Engines.Colly.RateLimit
	if rateLimit > 0 {
		_ = c.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: e.cfg.Engines.Colly.Parallelism,
			Delay:       time.Minute / time.Duration(rateLimit),
		})
	}

	if proxy := e.currentProxy(); proxy != nil {
		if err := c.SetProxy(proxy.URL()); err != nil {
			return nil, fmt.Errorf("failed to set proxy: %w", err)
		}
	}

	if len(req.Cookies) > 0 {
		cookies := make([]*http.Cookie, 0, len(req.Cookies))
		for name, value := range req.Cookies {
			cookies = append(cookies, &http.Cookie{Name: name, Value: value})
		}
		if err := c.SetCookies(req.URL, cookies); err != nil {
			e.logger.Debug("Failed to set cookies", map[string]interface{}{
				"url":   req.URL,
				"error": err.Error(),
			})
		}
	}

	c.OnRequest(func(r *colly.Request) {
		for name, value := range req.Headers {
			r.Headers.Set(name, value)
		}
	})

	var (
		statusCode int
		body       []byte
		finalURL   string
		visitErr   error
	)
	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = r.Body
		finalURL = r.Request.URL.String()
	})
	c.OnError(func(r *colly.Response, err error) {
		statusCode = r.StatusCode
		if r.Request != nil {
			finalURL = r.Request.URL.String()
		}
		visitErr = err
	})

	if err := c.Visit(req.URL); err != nil {
		return nil, fmt.Errorf("visit failed: %w", err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if visitErr != nil && statusCode == 0 {
		return nil, fmt.Errorf("crawl failed: %w", visitErr)
	}

	if finalURL == "" {
		finalURL = req.URL
	}
	status, errKind := extractor.ClassifyHTTPStatus(statusCode)
	result := &models.ExtractionResult{
		Status:     status,
		StatusCode: statusCode,
		FinalURL:   finalURL,
		ErrorKind:  errKind,
	}
	if status != models.StatusSuccess {
		result.ErrorMessage = fmt.Sprintf("HTTP %d from %s", statusCode, req.URL)
		return result, nil
	}

	data, links, images, err := extractor.ParseDocument(string(body), finalURL, req)
	if err != nil {
		return nil, err
	}
	result.Data = data
	result.Links = links
	result.Images = images
	result.RawHTML = string(body)
	return result, nil
}

// BatchExtract crawls several URLs concurrently, bounded by the
// configured parallelism. Results keep the input order; individual
// failures become failed results rather than aborting the batch.
func (e *Engine) BatchExtract(ctx context.Context, reqs []*models.ExtractionRequest) ([]*models.ExtractionResult, error) {
	results := make([]*models.ExtractionResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	parallelism := e.cfg.Engines.Colly.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	g.SetLimit(parallelism)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			result, err := e.Extract(gctx, req)
			if err != nil {
				result = models.FailedResult(req.ID, models.ErrExtractorCrashed, err.Error())
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Capabilities reports the colly feature set
func (e *Engine) Capabilities() extractor.Capabilities {
	return extractor.Capabilities{
		Cookies: true,
		Batch:   true,
	}
}

// Cleanup releases engine resources; collectors are per-call
func (e *Engine) Cleanup() {}

// IsHealthy reports readiness
func (e *Engine) IsHealthy() bool {
	return true
}
