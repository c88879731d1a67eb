package fetcher

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/carlmjohnson/requests"
)

// userAgent matches a desktop browser; some firmware refuses unknown agents.
const userAgent = "Mozilla/5.0 (X11; Linux x86_64) siteboss_exporter"

// HTTPFetcher logs in and downloads SiteStatus.xml over plain HTTP. Each
// Fetch starts from an empty cookie jar so a stale session never leaks into
// the next cycle. It is safe for concurrent use.
type HTTPFetcher struct {
	cfg       Config
	transport http.RoundTripper
	logger    *slog.Logger
}

// NewHTTP constructs an HTTPFetcher. transport may be nil for
// http.DefaultTransport.
func NewHTTP(cfg Config, transport http.RoundTripper, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HTTPFetcher{cfg: cfg, transport: transport, logger: logger}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	start := time.Now()
	base := f.cfg.BaseURL()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, &FetchError{Stage: "login", URL: base, Err: err}
	}
	cl := &http.Client{Jar: jar, Transport: f.transport}

	var discard bytes.Buffer

	// 1) login page sets the initial session cookie
	if err := requests.URL(base).Client(cl).Path(LoginPagePath).
		UserAgent(userAgent).
		ToBytesBuffer(&discard).
		Fetch(ctx); err != nil {
		return nil, &FetchError{Stage: "login", URL: base + LoginPagePath, Err: err}
	}

	// 2) AJAX login
	discard.Reset()
	if err := requests.URL(base).Client(cl).Path(LoginPostPath).
		Param("commit", "login").
		UserAgent(userAgent).
		Header("X-Requested-With", "XMLHttpRequest").
		BodyForm(url.Values{"username": {f.cfg.User}, "password": {f.cfg.Password}}).
		Post().
		ToBytesBuffer(&discard).
		Fetch(ctx); err != nil {
		return nil, &FetchError{Stage: "login", URL: base + LoginPostPath, Err: err}
	}

	// 3) main page cements the session
	discard.Reset()
	if err := requests.URL(base).Client(cl).Path(MainPagePath).
		UserAgent(userAgent).
		ToBytesBuffer(&discard).
		Fetch(ctx); err != nil {
		return nil, &FetchError{Stage: "main", URL: base + MainPagePath, Err: err}
	}

	// 4) the document itself
	var body bytes.Buffer
	if err := requests.URL(base).Client(cl).Path(StatusPath).
		UserAgent(userAgent).
		ToBytesBuffer(&body).
		Fetch(ctx); err != nil {
		return nil, &FetchError{Stage: "status", URL: base + StatusPath, Err: err}
	}
	if err := checkXML(body.Bytes()); err != nil {
		return nil, &FetchError{Stage: "status", URL: base + StatusPath, Err: err}
	}

	f.logger.Debug("fetcher: document retrieved",
		"mode", "http",
		"host", f.cfg.Host,
		"bytes", body.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return body.Bytes(), nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
