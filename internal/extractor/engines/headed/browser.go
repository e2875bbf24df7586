package headed

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"webharvest/internal/config"
	"webharvest/internal/logging"
	"webharvest/pkg/models"
)

// browserManager keeps one rod browser per outbound identity (direct
// or a specific proxy) and hands out stealth pages from it. Proxies
// are a launch-time property of Chromium, hence the per-identity
// browsers.
type browserManager struct {
	cfg    *config.Config
	logger logging.Logger

	mu       sync.Mutex
	browsers map[string]*rod.Browser // keyed by proxy URL, "" = direct
}

func newBrowserManager(cfg *config.Config) *browserManager {
	return &browserManager{
		cfg:      cfg,
		logger:   logging.GetGlobalLogger(),
		browsers: make(map[string]*rod.Browser),
	}
}

// page returns a fresh page routed through the given proxy. The caller
// must close the page when done.
func (bm *browserManager) page(ctx context.Context, proxy *models.ProxyRecord) (*rod.Page, error) {
	browser, err := bm.browserFor(proxy)
	if err != nil {
		return nil, err
	}
	return bm.newPage(browser)
}

func (bm *browserManager) browserFor(proxy *models.ProxyRecord) (*rod.Browser, error) {
	key := ""
	if proxy != nil {
		key = proxy.URL()
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()

	if browser, ok := bm.browsers[key]; ok {
		if browserHealthy(browser) {
			return browser, nil
		}
		browser.MustClose()
		delete(bm.browsers, key)
	}

	browser, err := bm.launch(key)
	if err != nil {
		return nil, err
	}
	bm.browsers[key] = browser
	return browser, nil
}

func (bm *browserManager) launch(proxyURL string) (*rod.Browser, error) {
	l := launcher.New().
		Headless(bm.cfg.Engines.Headed.HeadlessMode).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-web-security").
		Set("disable-background-timer-throttling").
		Set("disable-backgrounding-occluded-windows").
		Set("disable-renderer-backgrounding").
		Set("disable-gpu").          // prevents GPU context failures in containers
		Set("disable-dev-shm-usage") // container shared memory is too small for Chromium

	if chromePath := systemChromePath(); chromePath != "" {
		l = l.Bin(chromePath)
	} else {
		bm.logger.Warn("System Chrome not found, rod will download a browser", map[string]interface{}{})
	}
	if proxyURL != "" {
		l = l.Proxy(proxyURL)
	}
	if ua := bm.cfg.Engines.Headed.UserAgent; ua != "" {
		l = l.Set("user-agent", ua)
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	bm.logger.Info("Browser instance created", map[string]interface{}{
		"proxied": proxyURL != "",
	})
	return browser, nil
}

// newPage opens a page, with stealth patches applied when enabled
func (bm *browserManager) newPage(browser *rod.Browser) (*rod.Page, error) {
	var page *rod.Page
	var err error
	if bm.cfg.Engines.Headed.StealthMode {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1,
	}); err != nil {
		bm.logger.Warn("Failed to set viewport", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if ua := bm.cfg.Engines.Headed.UserAgent; ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			bm.logger.Warn("Failed to set user agent", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return page, nil
}

func browserHealthy(browser *rod.Browser) bool {
	return rod.Try(func() {
		browser.MustPages()
	}) == nil
}

// cleanup closes every managed browser
func (bm *browserManager) cleanup() {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	for key, browser := range bm.browsers {
		if browserHealthy(browser) {
			browser.MustClose()
		}
		delete(bm.browsers, key)
	}
	bm.logger.Info("Browser manager cleanup completed", map[string]interface{}{})
}

func (bm *browserManager) healthy() bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	for _, browser := range bm.browsers {
		if !browserHealthy(browser) {
			return false
		}
	}
	return true
}

// navigate drives the page to the URL and waits for the load event
func navigate(ctx context.Context, page *rod.Page, url string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := rod.Try(func() {
		page.Context(navCtx).MustNavigate(url).MustWaitLoad()
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// waitForSelector blocks until the selector matches an element
func waitForSelector(page *rod.Page, selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := rod.Try(func() {
		page.Context(ctx).MustElement(selector)
	})
	if err != nil {
		return fmt.Errorf("element %q not found within %s: %w", selector, timeout, err)
	}
	return nil
}

// systemChromePath finds an installed Chrome/Chromium binary
func systemChromePath() string {
	if chromeBin := os.Getenv("CHROME_BIN"); chromeBin != "" {
		if _, err := os.Stat(chromeBin); err == nil {
			return chromeBin
		}
	}
	if chromePath := os.Getenv("CHROME_PATH"); chromePath != "" {
		if _, err := os.Stat(chromePath); err == nil {
			return chromePath
		}
	}

	commonPaths := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/opt/google/chrome/chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
