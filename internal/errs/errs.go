// Package errs holds the error taxonomy shared by the sync core.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired means there is no current user. Reads turn it into empty
	// results; writes return it so the UI can redirect to sign-in.
	ErrAuthRequired = errors.New("auth required")
	// ErrMalformedTimestamp is non-fatal: the message is kept and shown with its raw timestamp.
	ErrMalformedTimestamp = errors.New("malformed timestamp")
	// ErrEmptyMessage rejects a send with neither text nor attachment.
	ErrEmptyMessage = errors.New("empty message")
	ErrNotFound     = errors.New("not found")
	// ErrNotMember rejects a chat-scoped command from a user outside the chat.
	ErrNotMember = errors.New("not a member of the chat")
)

// WriteError is returned when the store rejected a mutation. No local state was
// changed on its behalf.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("write %s: %v", e.Op, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// FetchError is returned alongside an empty result when a read failed.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Op, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// Write wraps err as a WriteError; nil stays nil.
func Write(op string, err error) error {
	if err == nil {
		return nil
	}
	return &WriteError{Op: op, Err: err}
}

// Fetch wraps err as a FetchError; nil stays nil.
func Fetch(op string, err error) error {
	if err == nil {
		return nil
	}
	return &FetchError{Op: op, Err: err}
}

// IsWrite reports whether err is or wraps a WriteError.
func IsWrite(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}

// IsFetch reports whether err is or wraps a FetchError.
func IsFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
