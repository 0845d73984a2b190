// Package apperr holds sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrOutsideRoot   = errors.New("path outside scan root")

	// ErrNotLoaded is returned when an index is used before it was opened.
	ErrNotLoaded = errors.New("index not loaded")
	// ErrClosed is returned when an index is mutated after Close.
	ErrClosed = errors.New("index closed")
)
