package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/codezoo/codezoo/internal/compile"
	"github.com/codezoo/codezoo/internal/config"
	"github.com/codezoo/codezoo/internal/pen"
	"github.com/codezoo/codezoo/internal/preprocess"
	"github.com/codezoo/codezoo/internal/preview"
	"github.com/codezoo/codezoo/internal/store"
)

type testEnv struct {
	srv   *Server
	ts    *httptest.Server
	store *store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

// newTestEnvWith starts a server on a fresh SQLite store; configure may
// adjust the config first.
func newTestEnvWith(t *testing.T, configure func(*config.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	_, err = st.Migrate(ctx)
	require.NoError(t, err)

	secure := false
	cfg := config.DefaultConfig()
	cfg.Auth = config.AuthConfig{BcryptCost: bcrypt.MinCost, SecureCookies: &secure}
	cfg.Editor.Debounce = "10ms"
	cfg.Editor.AutosaveDelay = "1h"
	cfg.API = &config.APIConfig{RateLimit: &config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000}}
	if configure != nil {
		configure(cfg)
	}

	srv := New(Options{
		Config:   cfg,
		Store:    st,
		Compiler: compile.New(compile.Options{Runner: preprocess.NewRegistry(nil)}),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, ts: ts, store: st}
}

// client returns an HTTP client with its own cookie jar that does not
// follow redirects.
func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// signUp registers a user and returns a client carrying the session cookie.
func (e *testEnv) signUp(t *testing.T, email string) *http.Client {
	t.Helper()
	c := e.client(t)
	resp, err := c.PostForm(e.ts.URL+"/auth/register", url.Values{
		"email":    {email},
		"password": {"password1"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/app", resp.Header.Get("Location"))
	return c
}

func (e *testEnv) do(t *testing.T, c *http.Client, method, path, body string) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func (e *testEnv) createPen(t *testing.T, c *http.Client) pen.Pen {
	t.Helper()
	resp, body := e.do(t, c, http.MethodPost, "/api/pens", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	var p pen.Pen
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	return p
}

func TestRootRedirectsToApp(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, env.client(t), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/app", resp.Header.Get("Location"))
}

func TestUnauthenticatedAccess(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
		wantLoc  string
	}{
		{"dashboard redirects", http.MethodGet, "/app", http.StatusSeeOther, "/auth/login"},
		{"editor redirects", http.MethodGet, "/app/p/whatever", http.StatusSeeOther, "/auth/login"},
		{"api is 401", http.MethodGet, "/api/pens", http.StatusUnauthorized, ""},
		{"compile is 401", http.MethodPost, "/api/compile", http.StatusUnauthorized, ""},
		{"websocket is 401", http.MethodGet, "/ws/editor", http.StatusUnauthorized, ""},
		{"login page", http.MethodGet, "/auth/login", http.StatusOK, ""},
		{"register page", http.MethodGet, "/auth/register", http.StatusOK, ""},
		{"unknown public pen", http.MethodGet, "/p/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.do(t, c, tt.method, tt.path, "")
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantLoc != "" {
				assert.Equal(t, tt.wantLoc, resp.Header.Get("Location"))
			}
		})
	}
}

func TestRegisterLoginLogout(t *testing.T) {
	env := newTestEnv(t)
	c := env.signUp(t, "ada@example.com")

	resp, body := env.do(t, c, http.MethodGet, "/app", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "You have no pens yet")
	assert.Contains(t, body, "ada@example.com")

	resp, _ = env.do(t, c, http.MethodGet, "/auth/login", "")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "signed-in users skip the login page")

	resp, _ = env.do(t, c, http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/login", resp.Header.Get("Location"))

	resp, _ = env.do(t, c, http.MethodGet, "/app", "")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	fresh := env.client(t)
	resp, err := fresh.PostForm(env.ts.URL+"/auth/login", url.Values{"email": {"ADA@example.com"}, "password": {"password1"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, _ = env.do(t, fresh, http.MethodGet, "/app", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthFormErrors(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "taken@example.com")

	tests := []struct {
		name     string
		path     string
		form     url.Values
		wantCode int
		wantText string
	}{
		{"short password", "/auth/register", url.Values{"email": {"a@example.com"}, "password": {"short"}}, http.StatusBadRequest, "password must be at least 8 characters"},
		{"bad email", "/auth/register", url.Values{"email": {"nope"}, "password": {"password1"}}, http.StatusBadRequest, "email must be a valid email address"},
		{"email taken", "/auth/register", url.Values{"email": {"taken@example.com"}, "password": {"password1"}}, http.StatusConflict, "already exists"},
		{"wrong password", "/auth/login", url.Values{"email": {"taken@example.com"}, "password": {"wrong-password"}}, http.StatusUnauthorized, "Invalid email or password."},
		{"missing fields", "/auth/login", url.Values{}, http.StatusBadRequest, "Email and password are required."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := env.client(t).PostForm(env.ts.URL+tt.path, tt.form)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Contains(t, string(body), tt.wantText)
			assert.Empty(t, resp.Cookies())
		})
	}
}

func TestDashboardListsPens(t *testing.T) {
	env := newTestEnv(t)
	c := env.signUp(t, "a@example.com")

	resp, _ := env.do(t, c, http.MethodPost, "/app/pens", "")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/app/p/"))

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/app", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err = c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Pens []pen.Summary `json:"pens"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Pens, 1)
	assert.Equal(t, store.DefaultTitle, out.Pens[0].Title)
}

func TestEditorPage(t *testing.T) {
	env := newTestEnv(t)
	c := env.signUp(t, "a@example.com")
	p := env.createPen(t, c)

	resp, body := env.do(t, c, http.MethodGet, "/app/p/"+p.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `data-pen-id="`+p.ID+`"`)
	assert.Contains(t, body, `sandbox="allow-scripts"`)
	assert.Contains(t, body, `<option value="markdown">`)
	assert.Contains(t, body, "/assets/codezoo-editor.js")

	resp, _ = env.do(t, c, http.MethodGet, "/app/p/00000000-0000-0000-0000-000000000000", "")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/app", resp.Header.Get("Location"))

	other := env.signUp(t, "b@example.com")
	resp, _ = env.do(t, other, http.MethodGet, "/app/p/"+p.ID, "")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "pens are private to their owner")
}

func TestPreviewRoutes(t *testing.T) {
	env := newTestEnv(t)
	c := env.signUp(t, "a@example.com")
	p := env.createPen(t, c)

	resp, body := env.do(t, c, http.MethodGet, "/preview/"+p.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, preview.ContentSecurityPolicy, resp.Header.Get("Content-Security-Policy"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Contains(t, body, store.DefaultHTML)

	u, err := env.store.UserByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	env.srv.Previews().Put(u.ID, p.ID, "<p>registered</p>")
	_, body = env.do(t, c, http.MethodGet, "/preview/"+p.ID, "")
	assert.Equal(t, "<p>registered</p>", body)

	resp, _ = env.do(t, c, http.MethodGet, "/preview/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPublicPen(t *testing.T) {
	env := newTestEnv(t)
	c := env.signUp(t, "a@example.com")
	p := env.createPen(t, c)

	resp, body := env.do(t, c, http.MethodPost, "/api/pens/"+p.ID+"/revisions",
		`{"html":"# Hello","css":"h1{color:red}","js":"","preprocessors":{"html":"markdown"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	resp, body = env.do(t, c, http.MethodPatch, "/api/pens/"+p.ID, `{"slug":"hello-world"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	anon := env.client(t)
	resp, _ = env.do(t, anon, http.MethodGet, "/p/hello-world", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "private pens are not public")

	resp, body = env.do(t, c, http.MethodPatch, "/api/pens/"+p.ID, `{"visibility":"PUBLIC"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = env.do(t, anon, http.MethodGet, "/p/hello-world", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, preview.ContentSecurityPolicy, resp.Header.Get("Content-Security-Policy"))
	assert.Contains(t, body, "<h1>Hello</h1>")
	assert.Contains(t, body, "<style>h1{color:red}</style>")
}

func TestAssets(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	resp, body := env.do(t, c, http.MethodGet, "/assets/codezoo-editor.js", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	assert.Contains(t, body, "/ws/editor")

	resp, _ = env.do(t, c, http.MethodGet, "/assets/missing.js", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
