package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/tinyblog/blog/config"
	"github.com/tinyblog/blog/internal/db"
	"github.com/tinyblog/blog/internal/services"
	"github.com/tinyblog/blog/internal/session"
	"github.com/tinyblog/blog/internal/store"
)

var csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

type testApp struct {
	srv      *httptest.Server
	accounts *services.AccountService
	posts    *services.PostService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	cfg := config.Config{Database: config.DatabaseConfig{
		URL: "sqlite://" + filepath.Join(t.TempDir(), "handlers.db"),
	}}
	conn, err := db.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.MigrateUp(conn))

	logger, _ := test.NewNullLogger()
	accounts := services.NewAccountService(store.NewAccountRepository(conn))
	posts := services.NewPostService(store.NewPostRepository(conn))
	sessions := session.NewManager(session.NewMemoryStore(), "handler-secret", session.Options{})
	views, err := NewViews(sessions)
	require.NoError(t, err)

	authHandler := NewAuthHandler(accounts, sessions, views, logger)
	postHandler := NewPostHandler(posts, sessions, views, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		sessions.Middleware,
		Identity(accounts, logger),
	)
	AuthRouter(router, authHandler)
	PostRouter(router, postHandler, authHandler.RequireAuth)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testApp{srv: srv, accounts: accounts, posts: posts}
}

// browser is an HTTP client that keeps cookies and does not follow
// redirects.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (a *testApp) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: a.srv.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Get(b.base + path)
	require.NoError(b.t, err)
	return resp, readBody(b.t, resp)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.PostForm(b.base+path, form)
	require.NoError(b.t, err)
	return resp, readBody(b.t, resp)
}

// submit loads the form at path and posts it back with the page's CSRF
// token.
func (b *browser) submit(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	_, page := b.get(path)
	match := csrfPattern.FindStringSubmatch(page)
	require.Len(b.t, match, 2, "form at %s has no csrf token", path)
	form.Set(csrfField, match[1])
	return b.post(path, form)
}

func (b *browser) register(username, password string) {
	b.t.Helper()
	resp, _ := b.submit("/register", url.Values{
		"username":         {username},
		"password":         {password},
		"confirm_password": {password},
	})
	require.Equal(b.t, http.StatusSeeOther, resp.StatusCode)
}

func (b *browser) login(username, password string) {
	b.t.Helper()
	resp, _ := b.submit("/login", url.Values{"username": {username}, "password": {password}})
	require.Equal(b.t, http.StatusSeeOther, resp.StatusCode)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func location(resp *http.Response) string {
	return resp.Header.Get("Location")
}

func countOf(body, substr string) int {
	return strings.Count(body, substr)
}
