package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// loginScript posts the credentials from inside the page so the browser's
// own cookie store picks up the session. cred.t is the request budget in
// milliseconds.
const loginScript = `async (cred) => {
  const params = new URLSearchParams({username: cred.u, password: cred.p});
  await fetch('/index.html?commit=login', {
    method: 'POST',
    headers: {'Content-Type': 'application/x-www-form-urlencoded', 'X-Requested-With': 'XMLHttpRequest'},
    body: params,
    signal: AbortSignal.timeout(cred.t)
  });
}`

// defaultBrowserTimeout bounds each browser step when ctx has no deadline.
const defaultBrowserTimeout = 30 * time.Second

// BrowserFetcher drives headless Chromium through the login sequence. The
// playwright driver and the browser are started on first use and shared by
// later calls; every Fetch runs in a fresh browser context. Close releases
// the browser.
type BrowserFetcher struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewBrowser constructs a BrowserFetcher. Nothing is launched until the
// first Fetch.
func NewBrowser(cfg Config, logger *slog.Logger) *BrowserFetcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &BrowserFetcher{cfg: cfg, logger: logger}
}

// Fetch implements Fetcher. Playwright calls are not context-aware, so the
// remaining ctx budget is passed to each step as its timeout, and steps
// without a timeout option run under runStep.
func (f *BrowserFetcher) Fetch(ctx context.Context) ([]byte, error) {
	start := time.Now()
	base := f.cfg.BaseURL()

	f.mu.Lock()
	defer f.mu.Unlock()

	browser, err := f.ensureBrowser()
	if err != nil {
		return nil, &FetchError{Stage: "browser", Err: err}
	}

	bctx, err := browser.NewContext()
	if err != nil {
		return nil, &FetchError{Stage: "browser", Err: fmt.Errorf("new context: %w", err)}
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, &FetchError{Stage: "browser", Err: fmt.Errorf("new page: %w", err)}
	}

	// 1) login page
	if err := f.gotoPage(ctx, page, base+LoginPagePath); err != nil {
		return nil, &FetchError{Stage: "login", URL: base + LoginPagePath, Err: err}
	}

	// 2) AJAX login
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Stage: "login", URL: base + LoginPostPath, Err: err}
	}
	cred := map[string]interface{}{"u": f.cfg.User, "p": f.cfg.Password, "t": stepTimeout(ctx)}
	if err := runStep(ctx, func() error {
		_, err := page.Evaluate(loginScript, cred)
		return err
	}); err != nil {
		return nil, &FetchError{Stage: "login", URL: base + LoginPostPath, Err: err}
	}

	// 3) main page cements the session
	if err := f.gotoPage(ctx, page, base+MainPagePath); err != nil {
		return nil, &FetchError{Stage: "main", URL: base + MainPagePath, Err: err}
	}

	// 4) the document itself
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Stage: "status", URL: base + StatusPath, Err: err}
	}
	resp, err := page.Goto(base+StatusPath, playwright.PageGotoOptions{
		Timeout: playwright.Float(stepTimeout(ctx)),
	})
	if err != nil {
		return nil, &FetchError{Stage: "status", URL: base + StatusPath, Err: err}
	}
	if resp == nil {
		return nil, &FetchError{Stage: "status", URL: base + StatusPath, Err: fmt.Errorf("no response")}
	}
	if s := resp.Status(); s < 200 || s > 299 {
		return nil, &FetchError{Stage: "status", URL: base + StatusPath, Err: fmt.Errorf("unexpected status %d", s)}
	}
	var text string
	if err := runStep(ctx, func() (err error) {
		text, err = resp.Text()
		return err
	}); err != nil {
		return nil, &FetchError{Stage: "status", URL: base + StatusPath, Err: err}
	}
	body := []byte(text)
	if err := checkXML(body); err != nil {
		return nil, &FetchError{Stage: "status", URL: base + StatusPath, Err: err}
	}

	f.logger.Debug("fetcher: document retrieved",
		"mode", "browser",
		"host", f.cfg.Host,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return body, nil
}

// Close shuts down the browser and the playwright driver if they were
// started.
func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	if f.browser != nil {
		if err := f.browser.Close(); err != nil {
			firstErr = err
		}
		f.browser = nil
	}
	if f.pw != nil {
		if err := f.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.pw = nil
	}
	return firstErr
}

// ensureBrowser starts playwright and Chromium once. Callers hold f.mu.
func (f *BrowserFetcher) ensureBrowser() (playwright.Browser, error) {
	if f.browser != nil && f.browser.IsConnected() {
		return f.browser, nil
	}
	if f.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("could not start playwright: %w", err)
		}
		f.pw = pw
	}
	browser, err := f.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("could not launch browser: %w", err)
	}
	f.browser = browser
	f.logger.Info("fetcher: headless browser started", "host", f.cfg.Host)
	return browser, nil
}

func (f *BrowserFetcher) gotoPage(ctx context.Context, page playwright.Page, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(stepTimeout(ctx)),
	})
	return err
}

// runStep runs fn and gives up when ctx is done. An abandoned fn is unblocked
// when Fetch closes the browser context.
func runStep(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stepTimeout converts the remaining ctx budget to playwright milliseconds.
func stepTimeout(ctx context.Context) float64 {
	d := defaultBrowserTimeout
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
		if d < time.Millisecond {
			d = time.Millisecond
		}
	}
	return float64(d.Milliseconds())
}
