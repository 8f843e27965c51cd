package store

import "errors"

var (
	// ErrNotFound is returned when no record matches the given key.
	ErrNotFound = errors.New("record not found")
	// ErrMissingEntityKey is returned when a write lacks the identifier the
	// table dedups on.
	ErrMissingEntityKey = errors.New("missing entity key")
	// ErrClosed is returned when the underlying database has been closed.
	ErrClosed = errors.New("store closed")
)
