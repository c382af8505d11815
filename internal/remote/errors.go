package remote

import "errors"

var (
	// ErrDuplicate signals a unique-constraint violation, e.g. saving a
	// listing that is already saved. Callers treat it as a benign outcome.
	ErrDuplicate = errors.New("duplicate record")

	// ErrNotFound signals the requested record does not exist remotely.
	ErrNotFound = errors.New("record not found")

	// ErrNotAuthenticated signals the operation was refused before any
	// state mutation because no user is signed in.
	ErrNotAuthenticated = errors.New("not authenticated")
)
