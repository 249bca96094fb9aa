// ABOUTME: CredentialStore interface and storage error types
// ABOUTME: Shared contract for the memory, file, and SQLite credential backends

package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key has no stored value
var ErrNotFound = errors.New("not found")

// ErrorCode is the code reported for every backend failure.
const ErrorCode = "storage_error"

// CredentialStore is durable, secret-safe key/value storage.
type CredentialStore interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Error wraps a backend failure with the operation and key that caused it.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s %q: %v", ErrorCode, e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the generic storage error code.
func (e *Error) Code() string { return ErrorCode }

func wrapErr(op, key string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}
