package core

import (
	"errors"
	"fmt"
	"strings"

	"firesync/internal/db"
	"firesync/internal/location"
)

// Errors returned by the adapters. Every returned error wraps exactly one of
// them, so callers branch with errors.Is.
var (
	// ErrPathUnavailable means the location provider had no path; no backend
	// call was made.
	ErrPathUnavailable = location.ErrPathUnavailable
	ErrNotFound        = db.ErrNotFound
	ErrSerialization   = errors.New("serialization failure")
	ErrBackend         = errors.New("backend failure")
	ErrInvalidID       = errors.New("invalid document id")
)

func serializationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSerialization, fmt.Sprintf(format, args...))
}

// backendError wraps err from the backend. NotFound keeps its own identity.
func backendError(op string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrBackend, err)
}

func validateID(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
