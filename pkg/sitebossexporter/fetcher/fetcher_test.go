package fetcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpbank/siteboss_exporter/pkg/sitebossexporter/fetcher"
)

const statusXML = `<?xml version="1.0" encoding="UTF-8"?>
<SiteStatus><Unit_Serial>SN123</Unit_Serial></SiteStatus>`

const loginHTML = `<!DOCTYPE html><html><body>Please log in</body></html>`

// fakeUnit mimics the SiteBoss web UI: the XML is only served to a session
// that completed the AJAX login.
type fakeUnit struct {
	user, password string
	statusCode     int
	delay          time.Duration
	logins         atomic.Int32
}

func (u *fakeUnit) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(fetcher.LoginPagePath, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "anon", Path: "/"})
		_, _ = w.Write([]byte(loginHTML))
	})
	mux.HandleFunc(fetcher.LoginPostPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "login", r.URL.Query().Get("commit"))
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		c, err := r.Cookie("sid")
		assert.NoError(t, err, "login page cookie should be replayed")
		if err == nil {
			assert.Equal(t, "anon", c.Value)
		}
		assert.NoError(t, r.ParseForm())
		u.logins.Add(1)
		if r.PostForm.Get("username") == u.user && r.PostForm.Get("password") == u.password {
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "authed", Path: "/"})
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc(fetcher.MainPagePath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>main</html>"))
	})
	mux.HandleFunc(fetcher.StatusPath, func(w http.ResponseWriter, r *http.Request) {
		if u.delay > 0 {
			select {
			case <-time.After(u.delay):
			case <-r.Context().Done():
				return
			}
		}
		if u.statusCode != 0 {
			w.WriteHeader(u.statusCode)
			return
		}
		if c, err := r.Cookie("sid"); err != nil || c.Value != "authed" {
			_, _ = w.Write([]byte(loginHTML))
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(statusXML))
	})
	return mux
}

func newUnit(t *testing.T, u *fakeUnit) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(u.handler(t))
	t.Cleanup(srv.Close)
	return srv
}

// ─────────────────────────────────────────────────────────────────────────────
// HTTPFetcher
// ─────────────────────────────────────────────────────────────────────────────

func TestHTTPFetcher_Success(t *testing.T) {
	unit := &fakeUnit{user: "admin", password: "secret"}
	srv := newUnit(t, unit)

	f := fetcher.NewHTTP(fetcher.Config{Host: srv.URL, User: "admin", Password: "secret"}, nil, nil)
	raw, err := f.Fetch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, statusXML, string(raw))
	assert.EqualValues(t, 1, unit.logins.Load())
}

func TestHTTPFetcher_FreshSessionPerFetch(t *testing.T) {
	unit := &fakeUnit{user: "admin", password: "secret"}
	srv := newUnit(t, unit)
	f := fetcher.NewHTTP(fetcher.Config{Host: srv.URL, User: "admin", Password: "secret"}, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, unit.logins.Load())
}

func TestHTTPFetcher_RejectedLoginIsNotXML(t *testing.T) {
	srv := newUnit(t, &fakeUnit{user: "admin", password: "secret"})

	f := fetcher.NewHTTP(fetcher.Config{Host: srv.URL, User: "admin", Password: "wrong"}, nil, nil)
	_, err := f.Fetch(context.Background())

	var fe *fetcher.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "status", fe.Stage)
	assert.ErrorIs(t, err, fetcher.ErrNotXML)
	assert.Contains(t, err.Error(), "got HTML instead")
}

func TestHTTPFetcher_ServerError(t *testing.T) {
	srv := newUnit(t, &fakeUnit{user: "u", password: "p", statusCode: http.StatusInternalServerError})

	f := fetcher.NewHTTP(fetcher.Config{Host: srv.URL, User: "u", Password: "p"}, nil, nil)
	_, err := f.Fetch(context.Background())

	var fe *fetcher.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "status", fe.Stage)
	assert.True(t, strings.HasSuffix(fe.URL, fetcher.StatusPath))
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	srv := newUnit(t, &fakeUnit{user: "u", password: "p", delay: 2 * time.Second})

	f := fetcher.NewHTTP(fetcher.Config{Host: srv.URL, User: "u", Password: "p"}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.Fetch(ctx)

	var fe *fetcher.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPFetcher_UnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	f := fetcher.NewHTTP(fetcher.Config{Host: host}, nil, nil)
	_, err := f.Fetch(context.Background())

	var fe *fetcher.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "login", fe.Stage)
}

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

func TestConfig_BaseURL(t *testing.T) {
	cases := map[string]string{
		"192.168.1.254":         "http://192.168.1.254",
		"10.0.0.1:8080/":        "http://10.0.0.1:8080",
		"https://unit.example/": "https://unit.example",
	}
	for in, want := range cases {
		assert.Equal(t, want, fetcher.Config{Host: in}.BaseURL(), in)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// FileFetcher
// ─────────────────────────────────────────────────────────────────────────────

func TestFileFetcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SiteStatus.xml")
	require.NoError(t, os.WriteFile(path, []byte(statusXML), 0o644))

	raw, err := fetcher.FileFetcher{Path: path}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, statusXML, string(raw))
}

func TestFileFetcher_Missing(t *testing.T) {
	_, err := fetcher.FileFetcher{Path: filepath.Join(t.TempDir(), "nope.xml")}.Fetch(context.Background())

	var fe *fetcher.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "read", fe.Stage)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileFetcher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fetcher.FileFetcher{Path: "unused"}.Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

var (
	_ fetcher.Fetcher = (*fetcher.HTTPFetcher)(nil)
	_ fetcher.Fetcher = (*fetcher.BrowserFetcher)(nil)
	_ fetcher.Fetcher = fetcher.FileFetcher{}
)
