// Package apperr defines the error kinds the clinic core reports to its
// callers: validation failures the operator can fix, storage conflicts on
// unique or referential constraints, and everything else.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind classifies an error for presentation.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// ValidationError is a domain-level precondition failure. Operations that
// return it have not changed any state.
type ValidationError struct {
	Field    string
	Msg      string
	NotFound bool
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Msg
	}
	return e.Msg
}

// Validation returns a ValidationError with a formatted message.
func Validation(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidField returns a ValidationError bound to a field name.
func InvalidField(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing referenced entity. It is a validation error.
func NotFound(entity string, id interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf("%s %v not found", entity, id), NotFound: true}
}

// ParseID parses an entity identifier typed by the operator.
func ParseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, InvalidField(field, "invalid identifier format")
	}
	return id, nil
}

// ConflictError wraps a storage-level uniqueness or referential violation.
type ConflictError struct {
	Msg string
	Err error
}

func (e *ConflictError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Conflict wraps err as a ConflictError.
func Conflict(msg string, err error) error {
	return &ConflictError{Msg: msg, Err: err}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a not-found validation error.
func IsNotFound(err error) bool {
	var v *ValidationError
	return errors.As(err, &v) && v.NotFound
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// Classify returns the kind of err. A bulk error takes the kind shared by all
// of its rows, or internal when they differ.
func Classify(err error) Kind {
	var bulk *BulkError
	if errors.As(err, &bulk) {
		return bulk.kind()
	}
	switch {
	case IsValidation(err):
		return KindValidation
	case IsConflict(err):
		return KindConflict
	default:
		return KindInternal
	}
}

// RowError is the failure of one row in a bulk operation.
type RowError struct {
	ID  string
	Err error
}

// BulkError collects the per-row failures of a bulk operation. Rows that are
// not listed were applied.
type BulkError struct {
	Op   string
	Rows []RowError
}

func (e *BulkError) Error() string {
	parts := make([]string, 0, len(e.Rows))
	for _, r := range e.Rows {
		parts = append(parts, fmt.Sprintf("%s: %v", r.ID, r.Err))
	}
	return fmt.Sprintf("%s failed for %d row(s): %s", e.Op, len(e.Rows), strings.Join(parts, "; "))
}

// Unwrap exposes the row errors to errors.Is and errors.As.
func (e *BulkError) Unwrap() []error {
	errs := make([]error, 0, len(e.Rows))
	for _, r := range e.Rows {
		errs = append(errs, r.Err)
	}
	return errs
}

func (e *BulkError) kind() Kind {
	if len(e.Rows) == 0 {
		return KindInternal
	}
	first := Classify(e.Rows[0].Err)
	for _, r := range e.Rows[1:] {
		if Classify(r.Err) != first {
			return KindInternal
		}
	}
	return first
}
