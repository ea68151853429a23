package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert violates the key_hash
	// uniqueness constraint.
	ErrConflict = errors.New("conflict")
)
