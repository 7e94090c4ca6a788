//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tinyblog/blog/config"
	"github.com/tinyblog/blog/internal/server"
	"github.com/tinyblog/blog/types"
)

const (
	serverPort = 18080
)

var (
	baseURL     = fmt.Sprintf("http://localhost:%d", serverPort)
	csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dir, err := os.MkdirTemp("", "blog-e2e")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	srv, err := startServer(ctx, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = os.RemoveAll(dir)
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = os.RemoveAll(dir)
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

func TestBlogLifecycle(t *testing.T) {
	username := fmt.Sprintf("u%d", time.Now().UnixNano()%1_000_000_000)
	client := newBrowser(t)

	resp := client.get(t, "/post/new")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect for anonymous /post/new, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != "/login?next=%2Fpost%2Fnew" {
		t.Fatalf("unexpected login redirect: %q", got)
	}

	resp = client.submit(t, "/register", url.Values{
		"username":         {username},
		"password":         {"pw1234"},
		"confirm_password": {"pw1234"},
	})
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login" {
		t.Fatalf("register: status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp = client.submit(t, "/register", url.Values{
		"username":         {username},
		"password":         {"other1"},
		"confirm_password": {"other1"},
	})
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.body, "That username is taken") {
		t.Fatalf("expected duplicate username to be rejected inline, got %d", resp.StatusCode)
	}

	resp = client.submit(t, "/login?next=%2Fpost%2Fnew", url.Values{
		"username": {username},
		"password": {"pw1234"},
	})
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/post/new" {
		t.Fatalf("login: status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	content := "hello world " + username
	resp = client.submit(t, "/post/new", url.Values{"content": {content}})
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("create post: status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	posts := listPosts(t)
	if len(posts) == 0 || posts[0].Content != content || posts[0].Author != username {
		t.Fatalf("expected newest post %q by %s first, got %+v", content, username, posts)
	}

	resp = client.get(t, "/logout")
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("logout: status %d", resp.StatusCode)
	}
	resp = client.get(t, "/post/new")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect after logout, got %d", resp.StatusCode)
	}
}

func TestLoginFailureIsGeneric(t *testing.T) {
	client := newBrowser(t)
	resp := client.submit(t, "/login", url.Values{
		"username": {"nobody-here"},
		"password": {"whatever"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected login page, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.body, "Login unsuccessful. Please check username and password.") {
		t.Fatalf("expected generic failure message")
	}
}

type response struct {
	*http.Response
	body string
}

type browser struct {
	client *http.Client
}

func newBrowser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &browser{client: &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (b *browser) get(t *testing.T, path string) response {
	t.Helper()
	resp, err := b.client.Get(baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return readResponse(t, resp)
}

func (b *browser) submit(t *testing.T, path string, form url.Values) response {
	t.Helper()
	page := b.get(t, path)
	match := csrfPattern.FindStringSubmatch(page.body)
	if len(match) != 2 {
		t.Fatalf("no csrf token on %s (status %d)", path, page.StatusCode)
	}
	form.Set("csrf_token", match[1])

	resp, err := b.client.PostForm(baseURL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return readResponse(t, resp)
}

func readResponse(t *testing.T, resp *http.Response) response {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return response{Response: resp, body: string(body)}
}

func listPosts(t *testing.T) []types.Post {
	t.Helper()
	resp, err := http.Get(baseURL + "/api/posts")
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list posts: status %d", resp.StatusCode)
	}
	var posts []types.Post
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		t.Fatalf("decode posts: %v", err)
	}
	return posts
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

// startServer runs the server against E2E_DATABASE_URL, or a fresh SQLite
// file when it is unset.
func startServer(ctx context.Context, dir string) (*server.Server, error) {
	_ = os.Setenv("SECRET_KEY", "e2e-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("SESSION_STORE", "memory")
	_ = os.Setenv("MQ_BACKEND", "")
	if dsn := os.Getenv("E2E_DATABASE_URL"); dsn != "" {
		_ = os.Setenv("DATABASE_URL", dsn)
	} else {
		_ = os.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(dir, "e2e.db"))
	}

	cfg := config.LoadConfig()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}
