// Package session keeps per-visitor state on the server and binds it to the
// browser with a signed cookie.
//
// A session exists for every visitor who needs one (a flash notice, a CSRF
// token for a form, a login). Only the session id travels in the cookie,
// wrapped in an HS256 token so a forged or expired cookie is rejected before
// the store is consulted.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/tinyblog/blog/types"
)

// ErrNotFound is returned by a Store for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Session is the server-side record behind a session cookie.
type Session struct {
	ID        string        `json:"id"`
	AccountID int           `json:"account_id"`
	Remember  bool          `json:"remember"`
	CSRFToken string        `json:"csrf_token"`
	Flashes   []types.Flash `json:"flashes,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Authenticated reports whether the session is bound to an account.
func (s Session) Authenticated() bool {
	return s.AccountID > 0
}

// Store persists sessions until their ExpiresAt.
type Store interface {
	Get(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
}
