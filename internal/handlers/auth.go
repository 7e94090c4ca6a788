package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/tinyblog/blog/internal/services"
	"github.com/tinyblog/blog/internal/session"
	"github.com/tinyblog/blog/types"
)

const (
	msgLoginRequired  = "Please log in to access this page."
	msgRegistered     = "Your account has been created! You can now log in."
	msgLoginSucceeded = "Login successful!"
	msgLoginFailed    = "Login unsuccessful. Please check username and password."
	msgLoggedOut      = "You have been logged out."
)

// AuthHandler serves registration, login and logout pages.
type AuthHandler struct {
	accounts *services.AccountService
	sessions *session.Manager
	views    *Views
	logger   *logrus.Logger
}

func NewAuthHandler(accounts *services.AccountService, sessions *session.Manager, views *Views, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		sessions: sessions,
		views:    views,
		logger:   logger,
	}
}

// AuthRouter registers auth routes on the given router. Form posts are
// checked for a CSRF token after logged-in visitors have been redirected.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Group(func(r chi.Router) {
		r.Use(RedirectAuthenticated, VerifyCSRF(handler.logger))
		r.Get("/register", handler.RegisterForm)
		r.Post("/register", handler.Register)
		r.Get("/login", handler.LoginForm)
		r.Post("/login", handler.Login)
	})
	r.With(handler.RequireAuth).Get("/logout", handler.Logout)
}

// RequireAuth sends anonymous visitors to the login page, remembering
// where they were headed.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !CurrentIdentity(r.Context()).IsAnonymous() {
			next.ServeHTTP(w, r)
			return
		}
		if err := h.sessions.AddFlash(w, r, types.Flash{Category: types.FlashInfo, Message: msgLoginRequired}); err != nil {
			serverError(w, r, h.logger, err)
			return
		}
		target := "/login?next=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusFound)
	})
}

// RedirectAuthenticated sends logged-in visitors away from the
// register and login pages.
func RedirectAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !CurrentIdentity(r.Context()).IsAnonymous() {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AuthHandler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.renderRegister(w, r, http.StatusOK, nil, nil)
}

// Register creates an account and sends the visitor to the login page.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	in := services.RegisterInput{
		Username:        r.PostFormValue("username"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}

	account, err := h.accounts.Register(r.Context(), in)
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			h.renderRegister(w, r, http.StatusOK, map[string]string{"username": in.Username}, verr.Fields)
			return
		}
		serverError(w, r, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{"account_id": account.ID, "username": account.Username}).Info("account registered")
	if err := h.sessions.AddFlash(w, r, types.Flash{Category: types.FlashSuccess, Message: msgRegistered}); err != nil {
		serverError(w, r, h.logger, err)
		return
	}
	redirect(w, r, "/login")
}

func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.renderLogin(w, r, nil, nil)
}

// Login binds the account to a fresh session and follows a local "next"
// parameter.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	in := services.LoginInput{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
		Remember: isChecked(r.PostFormValue("remember")),
	}
	form := map[string]string{"username": in.Username}

	account, err := h.accounts.Authenticate(r.Context(), in)
	if err != nil {
		var verr *services.ValidationError
		switch {
		case errors.As(err, &verr):
			h.renderLogin(w, r, form, verr.Fields)
		case errors.Is(err, services.ErrInvalidCredentials):
			if err := h.sessions.AddFlash(w, r, types.Flash{Category: types.FlashDanger, Message: msgLoginFailed}); err != nil {
				serverError(w, r, h.logger, err)
				return
			}
			h.renderLogin(w, r, form, nil)
		default:
			serverError(w, r, h.logger, err)
		}
		return
	}

	if err := h.sessions.Login(w, r, account.ID, in.Remember); err != nil {
		serverError(w, r, h.logger, err)
		return
	}
	if err := h.sessions.AddFlash(w, r, types.Flash{Category: types.FlashSuccess, Message: msgLoginSucceeded}); err != nil {
		serverError(w, r, h.logger, err)
		return
	}
	redirect(w, r, safeNext(r.URL.Query().Get("next")))
}

// Logout ends the session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(w, r); err != nil {
		serverError(w, r, h.logger, err)
		return
	}
	if err := h.sessions.AddFlash(w, r, types.Flash{Category: types.FlashInfo, Message: msgLoggedOut}); err != nil {
		serverError(w, r, h.logger, err)
		return
	}
	redirect(w, r, "/")
}

func (h *AuthHandler) renderRegister(w http.ResponseWriter, r *http.Request, status int, form, fieldErrs map[string]string) {
	data := pageData{Title: "Register", Form: form, Errors: fieldErrs}
	if err := h.views.render(w, r, status, pageRegister, data); err != nil {
		serverError(w, r, h.logger, err)
	}
}

func (h *AuthHandler) renderLogin(w http.ResponseWriter, r *http.Request, form, fieldErrs map[string]string) {
	data := pageData{Title: "Log in", Form: form, Errors: fieldErrs}
	if err := h.views.render(w, r, http.StatusOK, pageLogin, data); err != nil {
		serverError(w, r, h.logger, err)
	}
}

// isChecked mirrors how browsers submit a checkbox: present means on.
func isChecked(value string) bool {
	switch value {
	case "", "0", "false", "off":
		return false
	default:
		return true
	}
}
