package services

import (
	"errors"
	"sort"
	"strings"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown username
// and for a wrong password alike.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrAnonymousAuthor is returned when a post is attempted without an account.
var ErrAnonymousAuthor = errors.New("post author must be an authenticated account")

// ValidationError reports rejected form input, one message per field.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Field returns the message for field, or "" when the field passed.
func (e *ValidationError) Field(field string) string {
	if e == nil {
		return ""
	}
	return e.Fields[field]
}
