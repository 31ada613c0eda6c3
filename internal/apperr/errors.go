// Package apperr holds the sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalid       = errors.New("invalid input")

	// Draft storage. Both are handled inside the draft layer and never
	// block editing.
	ErrStorageUnavailable = errors.New("draft storage unavailable")
	ErrDraftCorrupt       = errors.New("draft corrupt")

	// Authoritative operations, surfaced to the user.
	ErrFetchFailed = errors.New("authoritative fetch failed")
	ErrSaveFailed  = errors.New("authoritative save failed")

	ErrSessionClosed = errors.New("editor session closed")
)
