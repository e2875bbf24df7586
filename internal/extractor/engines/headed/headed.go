package headed

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/semaphore"

	"webharvest/internal/config"
	"webharvest/internal/extractor"
	"webharvest/internal/logging"
	"webharvest/pkg/models"
)

// Engine is the heavyweight backend: full browser automation through
// rod. Every in-flight extraction holds a browser page, so concurrency
// is capped by a weighted semaphore sized from config.
type Engine struct {
	cfg     *config.Config
	logger  logging.Logger
	manager *browserManager
	sem     *semaphore.Weighted

	mu    sync.RWMutex
	proxy *models.ProxyRecord
}

// NewEngine creates a headed engine from the service config
func NewEngine(cfg *config.Config) *Engine {
	maxContexts := cfg.Engines.Headed.MaxContexts
	if maxContexts <= 0 {
		maxContexts = 3
	}
	return &Engine{
		cfg:     cfg,
		logger:  logging.GetGlobalLogger(),
		manager: newBrowserManager(cfg),
		sem:     semaphore.NewWeighted(int64(maxContexts)),
	}
}

// SetProxyConfig sets the proxy for subsequent page loads
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

// Extract renders the URL in a browser context. Blocks until a context
// slot is free or ctx is done.
func (e *Engine) Extract(ctx context.Context, req *models.ExtractionRequest) (*models.ExtractionResult, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for browser context: %w", err)
	}
	defer e.sem.Release(1)

	page, err := e.manager.page(ctx, e.currentProxy())
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rod.Try(func() { page.MustClose() })
	}()

	if len(req.Cookies) > 0 {
		e.applyCookies(page, req)
	}

	navTimeout := e.cfg.Engines.Headed.NavigationTimeout
	if req.Timeout > 0 && req.Timeout < navTimeout {
		navTimeout = req.Timeout
	}
	if err := navigate(ctx, page, req.URL, navTimeout); err != nil {
		return nil, err
	}

	if req.AuthType == models.AuthForm {
		if err := e.submitLoginForm(page, req); err != nil {
			return &models.ExtractionResult{
				Status:       models.StatusFailed,
				ErrorKind:    models.ErrAuthFailed,
				ErrorMessage: err.Error(),
			}, nil
		}
	}

	if err := e.applyWaitConditions(ctx, page, req); err != nil {
		return nil, err
	}

	var html string
	if err := rod.Try(func() { html = page.MustHTML() }); err != nil {
		return nil, fmt.Errorf("failed to read page HTML: %w", err)
	}
	finalURL := req.URL
	_ = rod.Try(func() { finalURL = page.MustInfo().URL })

	data, links, images, err := extractor.ParseDocument(html, finalURL, req)
	if err != nil {
		return nil, err
	}

	return &models.ExtractionResult{
		Status:     models.StatusSuccess,
		StatusCode: 200,
		FinalURL:   finalURL,
		Data:       data,
		Links:      links,
		Images:     images,
		RawHTML:    html,
	}, nil
}

// applyWaitConditions runs the request's wait directives in order.
// Supported forms: "networkidle", "javascript", "selector:<css>",
// "delay:<duration>".
func (e *Engine) applyWaitConditions(ctx context.Context, page *rod.Page, req *models.ExtractionRequest) error {
	settle := e.cfg.Engines.Headed.SettleDelay
	if settle <= 0 {
		settle = 2 * time.Second
	}

	for _, cond := range req.WaitConditions {
		switch {
		case cond == "networkidle":
			if err := rod.Try(func() {
				page.Timeout(settle * 5).MustWaitRequestIdle()()
			}); err != nil {
				e.logger.Debug("Network idle wait gave up", map[string]interface{}{
					"url":   req.URL,
					"error": err.Error(),
				})
			}
		case cond == "javascript":
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(settle):
			}
		case strings.HasPrefix(cond, "selector:"):
			selector := strings.TrimPrefix(cond, "selector:")
			if err := waitForSelector(page, selector, e.cfg.Engines.Headed.NavigationTimeout); err != nil {
				return err
			}
		case strings.HasPrefix(cond, "delay:"):
			d, err := time.ParseDuration(strings.TrimPrefix(cond, "delay:"))
			if err != nil {
				return fmt.Errorf("invalid delay wait condition %q: %w", cond, err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		default:
			e.logger.Debug("Ignoring unknown wait condition", map[string]interface{}{
				"condition": cond,
			})
		}
	}
	return nil
}

func (e *Engine) applyCookies(page *rod.Page, req *models.ExtractionRequest) {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return
	}
	cookies := make([]*proto.NetworkCookieParam, 0, len(req.Cookies))
	for name, value := range req.Cookies {
		cookies = append(cookies, &proto.NetworkCookieParam{
			Name:   name,
			Value:  value,
			Domain: parsed.Hostname(),
			Path:   "/",
		})
	}
	if err := page.SetCookies(cookies); err != nil {
		e.logger.Debug("Failed to set cookies", map[string]interface{}{
			"url":   req.URL,
			"error": err.Error(),
		})
	}
}

// submitLoginForm fills and submits a login form using the selectors
// and values carried in the auth credentials.
func (e *Engine) submitLoginForm(page *rod.Page, req *models.ExtractionRequest) error {
	creds := req.AuthCredentials
	userSel := creds["username_selector"]
	passSel := creds["password_selector"]
	submitSel := creds["submit_selector"]
	if userSel == "" {
		userSel = `input[type="email"], input[name="username"], input[name="email"]`
	}
	if passSel == "" {
		passSel = `input[type="password"]`
	}
	if submitSel == "" {
		submitSel = `button[type="submit"], input[type="submit"]`
	}

	err := rod.Try(func() {
		page.MustElement(userSel).MustInput(creds["username"])
		page.MustElement(passSel).MustInput(creds["password"])
		page.MustElement(submitSel).MustClick()
		page.MustWaitLoad()
	})
	if err != nil {
		return fmt.Errorf("login form submission failed: %w", err)
	}
	return nil
}

// Capabilities reports the headed feature set
func (e *Engine) Capabilities() extractor.Capabilities {
	return extractor.Capabilities{
		JavaScript:     true,
		Cookies:        true,
		FormSubmission: true,
		Stealth:        e.cfg.Engines.Headed.StealthMode,
	}
}

// Cleanup closes all managed browsers
func (e *Engine) Cleanup() {
	e.manager.cleanup()
}

// IsHealthy reports whether the managed browsers are reachable
func (e *Engine) IsHealthy() bool {
	return e.manager.healthy()
}
