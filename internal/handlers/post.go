package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/tinyblog/blog/internal/services"
	"github.com/tinyblog/blog/internal/session"
	"github.com/tinyblog/blog/types"
)

const msgPostCreated = "Your post has been created!"

// PostHandler serves the post listing and the new post form.
type PostHandler struct {
	posts    *services.PostService
	sessions *session.Manager
	views    *Views
	logger   *logrus.Logger
}

func NewPostHandler(posts *services.PostService, sessions *session.Manager, views *Views, logger *logrus.Logger) *PostHandler {
	return &PostHandler{
		posts:    posts,
		sessions: sessions,
		views:    views,
		logger:   logger,
	}
}

// PostRouter registers post routes on the given router. The new post form
// checks its CSRF token only after authMiddleware has let the request in.
func PostRouter(r chi.Router, handler *PostHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Get("/", handler.Index)
	r.Route("/post/new", func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}
		r.Use(VerifyCSRF(handler.logger))
		r.Get("/", handler.NewPostForm)
		r.Post("/", handler.CreatePost)
	})
	r.Get("/api/posts", handler.ListPosts)
}

// Index renders every post, newest first.
func (h *PostHandler) Index(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.List(r.Context())
	if err != nil {
		serverError(w, r, h.logger, err)
		return
	}
	if err := h.views.render(w, r, http.StatusOK, pageIndex, pageData{Posts: posts}); err != nil {
		serverError(w, r, h.logger, err)
	}
}

func (h *PostHandler) NewPostForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, nil, nil)
}

// CreatePost stores a post for the logged-in account.
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	in := services.PostInput{Content: r.PostFormValue("content")}

	post, err := h.posts.Create(r.Context(), in, CurrentIdentity(r.Context()))
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			h.renderForm(w, r, map[string]string{"content": in.Content}, verr.Fields)
			return
		}
		serverError(w, r, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{"post_id": post.ID, "account_id": post.AccountID}).Info("post created")
	if err := h.sessions.AddFlash(w, r, types.Flash{Category: types.FlashSuccess, Message: msgPostCreated}); err != nil {
		serverError(w, r, h.logger, err)
		return
	}
	redirect(w, r, "/")
}

// ListPosts returns the posts as JSON, newest first.
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("list posts")
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *PostHandler) renderForm(w http.ResponseWriter, r *http.Request, form, fieldErrs map[string]string) {
	data := pageData{Title: "New post", Form: form, Errors: fieldErrs}
	if err := h.views.render(w, r, http.StatusOK, pagePost, data); err != nil {
		serverError(w, r, h.logger, err)
	}
}
