package domain

import (
	"errors"
	"fmt"
)

// NotFound errors.
var (
	// ErrVersionNotFound is returned when a protocol version ID cannot be resolved.
	ErrVersionNotFound = errors.New("protocol version not found")
	// ErrNoActiveVersion is returned when a protocol has no published active version.
	ErrNoActiveVersion = errors.New("no active version for protocol")
	// ErrSessionNotFound is returned when a session ID cannot be found in the store.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNodeNotFound is returned when a node ID is not part of the version.
	ErrNodeNotFound = errors.New("node not found in protocol version")
)

// InvalidState errors.
var (
	ErrSessionComplete   = errors.New("session is already complete")
	ErrSessionIncomplete = errors.New("session is still pending")
	ErrNothingToUndo     = errors.New("nothing to undo")
	ErrSessionBusy       = errors.New("session is busy")
	ErrHopLimit          = errors.New("traversal exceeded hop limit")
)

// Protocol shape errors.
var (
	// ErrEmptyProtocol is returned for a version with zero nodes. It is not a dead end.
	ErrEmptyProtocol = errors.New("protocol version has no nodes")
	// ErrNoEntryNode is returned when no node can serve as the entry point.
	ErrNoEntryNode = errors.New("protocol version has no usable entry node")
)

// Validation errors.
var (
	ErrValidation       = errors.New("validation failed")
	ErrInputKind        = fmt.Errorf("%w: response does not match node input", ErrValidation)
	ErrDuplicateLocalID = errors.New("local session id already reconciled")
)

// ValidationError describes a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid is a shorthand for building a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ErrorKind is the coarse error taxonomy surfaced to callers.
type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindInvalidState ErrorKind = "invalid_state"
	KindValidation   ErrorKind = "validation"
	KindInternal     ErrorKind = "internal"
)

// Kind classifies an error. Nil errors have no kind.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrVersionNotFound),
		errors.Is(err, ErrNoActiveVersion),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrNodeNotFound):
		return KindNotFound
	case errors.Is(err, ErrSessionComplete),
		errors.Is(err, ErrSessionIncomplete),
		errors.Is(err, ErrNothingToUndo),
		errors.Is(err, ErrSessionBusy),
		errors.Is(err, ErrHopLimit),
		errors.Is(err, ErrDuplicateLocalID):
		return KindInvalidState
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrEmptyProtocol),
		errors.Is(err, ErrNoEntryNode):
		return KindValidation
	}
	return KindInternal
}
