package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when a credential is missing or rejected.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the caller is neither owner nor member of a board.
	ErrForbidden = errors.New("forbidden")
	// ErrBoardNotFound is returned when no board exists for an id.
	ErrBoardNotFound = errors.New("board not found")
	ErrColumnNotFound = errors.New("column not found")
	ErrCardNotFound   = errors.New("card not found")
	// ErrVersionConflict indicates the stored board changed since it was read.
	ErrVersionConflict = errors.New("version conflict")
)

// IsNotFound reports whether err refers to a missing board, column or card.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBoardNotFound) || errors.Is(err, ErrColumnNotFound) || errors.Is(err, ErrCardNotFound)
}

// PersistenceError wraps a failure of the board store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError reports a malformed inbound payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid payload: " + e.Reason
	}
	return fmt.Sprintf("invalid payload: %s: %s", e.Field, e.Reason)
}
