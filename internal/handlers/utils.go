package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/tinyblog/blog/internal/session"
	"github.com/tinyblog/blog/internal/store"
	"github.com/tinyblog/blog/types"
)

type contextKey string

const contextIdentityKey contextKey = "identity"

const csrfField = "csrf_token"

// AccountLookup resolves the account bound to a session.
type AccountLookup interface {
	GetByID(ctx context.Context, id int) (types.Account, error)
}

// Identity resolves the session's account once per request. A session
// pointing at an account that no longer exists is treated as anonymous.
// It must run after session.Manager.Middleware.
func Identity(accounts AccountLookup, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := types.Anonymous
			if s, ok := session.FromContext(r.Context()); ok && s.Authenticated() {
				account, err := accounts.GetByID(r.Context(), s.AccountID)
				switch {
				case err == nil:
					identity = account
				case errors.Is(err, store.ErrNotFound):
				default:
					serverError(w, r, logger, err)
					return
				}
			}
			ctx := context.WithValue(r.Context(), contextIdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CurrentIdentity returns the account making the request, or
// types.Anonymous.
func CurrentIdentity(ctx context.Context) types.Account {
	account, ok := ctx.Value(contextIdentityKey).(types.Account)
	if !ok {
		return types.Anonymous
	}
	return account
}

// VerifyCSRF rejects state-changing requests whose csrf_token form field does
// not match the session's token. Routers install it per route group, after
// any auth middleware.
func VerifyCSRF(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if !session.VerifyCSRF(r, r.PostFormValue(csrfField)) {
				logger.WithFields(logrus.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"path":       r.URL.Path,
				}).Warn("rejected request with invalid csrf token")
				http.Error(w, "The CSRF token is missing or invalid.", http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// safeNext returns next when it is a path on this site, "/" otherwise.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	if strings.ContainsAny(next, "\r\n") {
		return "/"
	}
	return next
}

func redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func serverError(w http.ResponseWriter, r *http.Request, logger *logrus.Logger, err error) {
	logger.WithError(err).WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	}).Error("request failed")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
