package store

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRow indicates a row is missing part of its key.
	ErrInvalidRow = errors.New("invalid row")
)
