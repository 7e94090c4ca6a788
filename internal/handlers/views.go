package handlers

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/tinyblog/blog/internal/services"
	"github.com/tinyblog/blog/internal/session"
	"github.com/tinyblog/blog/types"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	pageIndex    = "index.html"
	pageRegister = "register.html"
	pageLogin    = "login.html"
	pagePost     = "post.html"
)

// formPages carry a CSRF field. Other pages leave an anonymous visitor
// without a stored session.
var formPages = map[string]bool{
	pageRegister: true,
	pageLogin:    true,
	pagePost:     true,
}

// Views renders the HTML pages. Each page is parsed together with the
// shared layout.
type Views struct {
	pages    map[string]*template.Template
	sessions *session.Manager
}

func NewViews(sessions *session.Manager) (*Views, error) {
	pages := make(map[string]*template.Template)
	for _, page := range []string{pageIndex, pageRegister, pageLogin, pagePost} {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", page, err)
		}
		pages[page] = tmpl
	}
	return &Views{pages: pages, sessions: sessions}, nil
}

type pageData struct {
	Title         string
	Identity      types.Account
	Flashes       []types.Flash
	CSRFToken     string
	Form          map[string]string
	Errors        map[string]string
	Posts         []types.Post
	MaxPostLength int
}

// render pops pending flashes, ensures a CSRF token for form pages and writes
// page. The
// page is executed into a buffer so a template error still yields a clean
// 500 response.
func (v *Views) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) error {
	tmpl, ok := v.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}

	flashes, err := v.sessions.PopFlashes(w, r)
	if err != nil {
		return fmt.Errorf("pop flashes: %w", err)
	}
	if formPages[page] {
		token, err := v.sessions.CSRFToken(w, r)
		if err != nil {
			return fmt.Errorf("csrf token: %w", err)
		}
		data.CSRFToken = token
	}

	data.Identity = CurrentIdentity(r.Context())
	data.Flashes = flashes
	data.MaxPostLength = services.MaxPostLength

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("render %s: %w", page, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
	return nil
}
