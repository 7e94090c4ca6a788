package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tinyblog/blog/types"
)

const (
	defaultCookieName  = "session"
	defaultTTL         = 24 * time.Hour
	defaultRememberTTL = 30 * 24 * time.Hour
)

// ErrNoMiddleware is returned when a request did not pass through
// Manager.Middleware.
var ErrNoMiddleware = errors.New("session middleware not installed")

type contextKey string

const contextStateKey contextKey = "session"

// Options tune cookie naming and lifetimes.
type Options struct {
	CookieName string
	// TTL bounds a session created without "remember me". Its cookie has
	// no expiry and ends with the browser session.
	TTL time.Duration
	// RememberTTL bounds a "remember me" login; its cookie persists.
	RememberTTL time.Duration
	Secure      bool
}

// Manager loads sessions for requests and writes them back with a signed
// cookie.
type Manager struct {
	store  Store
	secret []byte
	opts   Options
	now    func() time.Time
}

// state is the per-request handle stored in the request context.
type state struct {
	session   Session
	persisted bool
}

func NewManager(store Store, secret string, opts Options) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = defaultCookieName
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.RememberTTL <= 0 {
		opts.RememberTTL = defaultRememberTTL
	}
	return &Manager{
		store:  store,
		secret: []byte(secret),
		opts:   opts,
		now:    time.Now,
	}
}

// Middleware attaches the request's session to its context. Requests with a
// missing, forged, expired, or revoked cookie get a fresh anonymous session
// that is only stored once something is written to it.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := m.load(r)
		ctx := context.WithValue(r.Context(), contextStateKey, st)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns a copy of the session attached by Middleware.
func FromContext(ctx context.Context) (Session, bool) {
	st, ok := ctx.Value(contextStateKey).(*state)
	if !ok {
		return Session{}, false
	}
	return st.session, true
}

// Login binds accountID to a new session id, carrying pending flashes over.
// Rotating the id on login keeps a pre-login cookie from becoming
// authenticated.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, accountID int, remember bool) error {
	st, err := stateFrom(r.Context())
	if err != nil {
		return err
	}
	if err := m.discard(r.Context(), st); err != nil {
		return err
	}

	ttl := m.opts.TTL
	if remember {
		ttl = m.opts.RememberTTL
	}
	flashes := st.session.Flashes
	st.session = m.newSession(ttl)
	st.session.AccountID = accountID
	st.session.Remember = remember
	st.session.Flashes = flashes
	return m.save(r.Context(), w, st)
}

// Logout revokes the current session and starts an anonymous one. It is
// safe to call without an authenticated session.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	st, err := stateFrom(r.Context())
	if err != nil {
		return err
	}
	if err := m.discard(r.Context(), st); err != nil {
		return err
	}
	st.session = m.newSession(m.opts.TTL)
	return m.save(r.Context(), w, st)
}

// AddFlash queues a notice for the next rendered page.
func (m *Manager) AddFlash(w http.ResponseWriter, r *http.Request, flash types.Flash) error {
	st, err := stateFrom(r.Context())
	if err != nil {
		return err
	}
	st.session.Flashes = append(st.session.Flashes, flash)
	return m.save(r.Context(), w, st)
}

// PopFlashes returns and clears the queued notices.
func (m *Manager) PopFlashes(w http.ResponseWriter, r *http.Request) ([]types.Flash, error) {
	st, err := stateFrom(r.Context())
	if err != nil {
		return nil, err
	}
	if len(st.session.Flashes) == 0 {
		return nil, nil
	}
	flashes := st.session.Flashes
	st.session.Flashes = nil
	if err := m.save(r.Context(), w, st); err != nil {
		return nil, err
	}
	return flashes, nil
}

// CSRFToken returns the session's form token, storing the session first if
// needed so the token survives until the form is submitted.
func (m *Manager) CSRFToken(w http.ResponseWriter, r *http.Request) (string, error) {
	st, err := stateFrom(r.Context())
	if err != nil {
		return "", err
	}
	if !st.persisted {
		if err := m.save(r.Context(), w, st); err != nil {
			return "", err
		}
	}
	return st.session.CSRFToken, nil
}

// VerifyCSRF reports whether token matches the stored session's token.
func VerifyCSRF(r *http.Request, token string) bool {
	st, err := stateFrom(r.Context())
	if err != nil || !st.persisted || token == "" || st.session.CSRFToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(st.session.CSRFToken)) == 1
}

func (m *Manager) load(r *http.Request) *state {
	cookie, err := r.Cookie(m.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return &state{session: m.newSession(m.opts.TTL)}
	}

	claims, err := m.parseToken(cookie.Value)
	if err != nil {
		return &state{session: m.newSession(m.opts.TTL)}
	}

	s, err := m.store.Get(r.Context(), claims.ID)
	if err != nil || !m.now().Before(s.ExpiresAt) || claims.Subject != subject(s.AccountID) {
		return &state{session: m.newSession(m.opts.TTL)}
	}
	return &state{session: s, persisted: true}
}

func (m *Manager) newSession(ttl time.Duration) Session {
	now := m.now().UTC()
	return Session{
		ID:        uuid.NewString(),
		CSRFToken: newToken(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func (m *Manager) discard(ctx context.Context, st *state) error {
	if !st.persisted {
		return nil
	}
	if err := m.store.Delete(ctx, st.session.ID); err != nil {
		return err
	}
	st.persisted = false
	return nil
}

func (m *Manager) save(ctx context.Context, w http.ResponseWriter, st *state) error {
	if err := m.store.Save(ctx, st.session); err != nil {
		return err
	}
	st.persisted = true

	token, err := m.issueToken(st.session)
	if err != nil {
		return err
	}

	cookie := &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if st.session.Remember {
		cookie.Expires = st.session.ExpiresAt
		cookie.MaxAge = int(st.session.ExpiresAt.Sub(m.now()).Seconds())
	}
	replaceCookie(w, cookie)
	return nil
}

// replaceCookie sets cookie, dropping any earlier Set-Cookie for the same
// name written during this request.
func replaceCookie(w http.ResponseWriter, cookie *http.Cookie) {
	header := w.Header()
	prefix := cookie.Name + "="
	existing := header.Values("Set-Cookie")
	header.Del("Set-Cookie")
	for _, value := range existing {
		if !strings.HasPrefix(value, prefix) {
			header.Add("Set-Cookie", value)
		}
	}
	http.SetCookie(w, cookie)
}

func (m *Manager) issueToken(s Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        s.ID,
		Subject:   subject(s.AccountID),
		IssuedAt:  jwt.NewNumericDate(m.now()),
		ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) parseToken(tokenString string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		return jwt.RegisteredClaims{}, err
	}
	if !token.Valid {
		return jwt.RegisteredClaims{}, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.ID) == "" {
		return jwt.RegisteredClaims{}, errors.New("missing session id")
	}
	return claims, nil
}

func stateFrom(ctx context.Context) (*state, error) {
	st, ok := ctx.Value(contextStateKey).(*state)
	if !ok {
		return nil, ErrNoMiddleware
	}
	return st, nil
}

func subject(accountID int) string {
	if accountID <= 0 {
		return ""
	}
	return strconv.Itoa(accountID)
}

func newToken() string {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("session: read random token: %v", err))
	}
	return hex.EncodeToString(buf[:])
}
