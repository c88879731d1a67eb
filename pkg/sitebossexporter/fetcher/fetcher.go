// Package fetcher retrieves the raw SiteStatus.xml document from a SiteBoss
// unit. A unit only serves the document to a logged-in session, so every
// device fetch replays the web UI login sequence:
//
//	GET  /UnitLogin.html
//	POST /index.html?commit=login   (form username/password, XMLHttpRequest)
//	GET  /UnitMain.html
//	GET  /SiteStatus.xml
//
// HTTPFetcher does this over plain HTTP with a cookie jar; BrowserFetcher
// drives headless Chromium through playwright for firmware that only accepts
// a real browser session. FileFetcher reads a saved document from disk.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Device paths of the login sequence.
const (
	LoginPagePath = "/UnitLogin.html"
	LoginPostPath = "/index.html"
	MainPagePath  = "/UnitMain.html"
	StatusPath    = "/SiteStatus.xml"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fetcher interface
// ─────────────────────────────────────────────────────────────────────────────

// Fetcher returns one raw document per call. Implementations honour ctx
// cancellation and deadlines and report every failure as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────────────────────────────────────

// ErrNotXML is wrapped by FetchError when the unit answered with something
// other than an XML document, typically the HTML login page after a
// rejected login.
var ErrNotXML = errors.New("got HTML instead of XML")

// FetchError reports a failed retrieval. Stage names the step that failed:
// "login", "main", "status", "browser" or "read".
type FetchError struct {
	Stage string
	URL   string
	Err   error
}

func (e *FetchError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("fetcher: %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("fetcher: %s %s: %v", e.Stage, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ─────────────────────────────────────────────────────────────────────────────
// Device settings
// ─────────────────────────────────────────────────────────────────────────────

// Config identifies the unit and the credentials used to log in.
type Config struct {
	// Host is a host[:port] or a full base URL. "http://" is assumed when no
	// scheme is given.
	Host     string
	User     string
	Password string
}

// BaseURL returns the scheme-qualified base URL without a trailing slash.
func (c Config) BaseURL() string {
	base := strings.TrimRight(c.Host, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return base
}

// checkXML rejects bodies that do not start with an XML declaration.
func checkXML(body []byte) error {
	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("<?xml")) {
		return ErrNotXML
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// FileFetcher
// ─────────────────────────────────────────────────────────────────────────────

// FileFetcher reads a saved SiteStatus.xml from Path on every call.
type FileFetcher struct {
	Path string
}

// Fetch implements Fetcher.
func (f FileFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Stage: "read", URL: f.Path, Err: err}
	}
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &FetchError{Stage: "read", URL: f.Path, Err: err}
	}
	return raw, nil
}
