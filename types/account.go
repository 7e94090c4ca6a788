package types

import "time"

// Account represents a registered author.
type Account struct {
	// ID is the unique identifier of the account.
	ID int `json:"id" db:"id"`

	// Username is the unique login name chosen at registration.
	Username string `json:"username" db:"username"`

	// PasswordHash stores the bcrypt hash of the account password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the account was registered.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Anonymous is the identity of a request without an authenticated session.
var Anonymous = Account{}

// IsAnonymous reports whether a is the anonymous identity.
func (a Account) IsAnonymous() bool {
	return a.ID == 0
}
