package types

import "time"

// Post is a short text entry written by an account.
type Post struct {
	// ID is the unique identifier of the post. IDs grow with insertion order.
	ID int `json:"id" db:"id"`

	// Content is the text body of the post.
	Content string `json:"content" db:"content"`

	// CreatedAt is set by the server when the post is stored.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// AccountID references the owning account. It never changes.
	AccountID int `json:"account_id" db:"account_id"`

	// Author is the owner's username, populated on reads.
	Author string `json:"author" db:"author"`
}
