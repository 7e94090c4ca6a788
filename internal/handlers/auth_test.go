package handlers

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinyblog/blog/internal/services"
)

func TestRegister_CreatesAccountAndRedirectsToLogin(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	resp, _ := b.submit("/register", url.Values{
		"username":         {"alice"},
		"password":         {"pw1234"},
		"confirm_password": {"pw1234"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", location(resp))

	_, page := b.get("/login")
	assert.Contains(t, page, msgRegistered)

	account, err := app.accounts.Authenticate(context.Background(), services.LoginInput{Username: "alice", Password: "pw1234"})
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)
}

func TestRegister_InlineErrors(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	b.register("alice", "pw1234")

	tests := []struct {
		name    string
		form    url.Values
		message string
	}{
		{
			name:    "duplicate username",
			form:    url.Values{"username": {"alice"}, "password": {"x1"}, "confirm_password": {"x1"}},
			message: "That username is taken. Please choose a different one.",
		},
		{
			name:    "mismatched confirmation",
			form:    url.Values{"username": {"bob"}, "password": {"x1"}, "confirm_password": {"x2"}},
			message: "Field must be equal to password.",
		},
		{
			name:    "short username",
			form:    url.Values{"username": {"b"}, "password": {"x1"}, "confirm_password": {"x1"}},
			message: "Field must be at least 2 characters long.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fresh := app.browser(t)
			resp, page := fresh.submit("/register", tc.form)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, page, tc.message)
		})
	}
}

func TestLogin_SuccessFollowsLocalNext(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	b.register("alice", "pw1234")

	resp, _ := b.get("/post/new")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?next=%2Fpost%2Fnew", location(resp))

	resp, _ = b.submit("/login?next=%2Fpost%2Fnew", url.Values{"username": {"alice"}, "password": {"pw1234"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/post/new", location(resp))

	resp, page := b.get("/post/new")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, msgLoginSucceeded)
	assert.Contains(t, page, "alice")
}

func TestLogin_IgnoresExternalNext(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	b.register("alice", "pw1234")

	resp, _ := b.submit("/login?next="+url.QueryEscape("https://evil.example"), url.Values{"username": {"alice"}, "password": {"pw1234"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", location(resp))
}

func TestLogin_FailureIsGeneric(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	b.register("alice", "pw1234")

	for _, form := range []url.Values{
		{"username": {"alice"}, "password": {"wrong"}},
		{"username": {"nobody"}, "password": {"pw1234"}},
	} {
		resp, page := b.submit("/login", form)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, page, msgLoginFailed)
		assert.Contains(t, page, `href="/login"`, "still anonymous")
	}
}

func TestLogout_ClearsIdentity(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	b.register("alice", "pw1234")
	b.login("alice", "pw1234")

	resp, _ := b.get("/logout")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", location(resp))

	_, page := b.get("/")
	assert.Contains(t, page, msgLoggedOut)
	assert.Contains(t, page, `href="/login"`)

	resp, _ = b.get("/post/new")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestLogout_RequiresLogin(t *testing.T) {
	app := newTestApp(t)
	resp, _ := app.browser(t).get("/logout")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?next=%2Flogout", location(resp))
}

func TestAuthenticatedVisitorsSkipAuthPages(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	b.register("alice", "pw1234")
	b.login("alice", "pw1234")

	for _, path := range []string{"/login", "/register"} {
		resp, _ := b.get(path)
		assert.Equal(t, http.StatusFound, resp.StatusCode, path)
		assert.Equal(t, "/", location(resp), path)
	}
}

func TestPostWithoutCSRFTokenIsRejected(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	resp, _ := b.post("/register", url.Values{
		"username":         {"mallory"},
		"password":         {"pw1234"},
		"confirm_password": {"pw1234"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err := app.accounts.Authenticate(context.Background(), services.LoginInput{Username: "mallory", Password: "pw1234"})
	assert.ErrorIs(t, err, services.ErrInvalidCredentials)
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"":                     "/",
		"/post/new":            "/post/new",
		"/?page=2":             "/?page=2",
		"//evil.example":       "/",
		"/\\evil.example":      "/",
		"https://evil.example": "/",
		"post/new":             "/",
		"/ok\r\nSet-Cookie: x": "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeNext(in), "safeNext(%q)", in)
	}
}
