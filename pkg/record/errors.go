package record

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/alphadevx/alpha-sub000/pkg/types"
)

// Error kinds. Callers match with errors.Is; providers wrap them with context.
var (
	ErrInvalidValue      = types.ErrInvalidValue
	ErrValidationFailed  = errors.New("validation failed")
	ErrNotFound          = errors.New("record not found")
	ErrLocking           = errors.New("optimistic lock failure")
	ErrStale             = errors.New("record must be reloaded after a failed save")
	ErrFailedSave        = errors.New("failed to save record")
	ErrFailedDelete      = errors.New("failed to delete record")
	ErrBadTableName      = errors.New("bad table name")
	ErrFailedIndexCreate = errors.New("failed to create index")
	ErrCustomQuery       = errors.New("custom query failed")
	ErrUnknownProvider   = errors.New("unknown persistence provider")
	ErrUnknownField      = errors.New("unknown field")
	ErrTxActive          = errors.New("transaction already active")
	ErrNoTx              = errors.New("no active transaction")
)

// ValidationError aggregates the field failures found by Save. It also
// carries unique constraint violations reported by a backend.
type ValidationError struct {
	Type   string
	Fields map[string]error
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Fields[name]))
	}
	return fmt.Sprintf("%s %s: %s", e.Type, ErrValidationFailed, strings.Join(parts, "; "))
}

// Unwrap exposes ErrValidationFailed followed by the field failures, in
// field name order, so errors.Is sees the cause of each.
func (e *ValidationError) Unwrap() []error {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]error, 0, len(names)+1)
	out = append(out, ErrValidationFailed)
	for _, name := range names {
		out = append(out, e.Fields[name])
	}
	return out
}

// UniqueViolation builds the ValidationError reported when a save collides
// with the unique constraint over fields.
func UniqueViolation(typeName string, fields ...string) *ValidationError {
	return &ValidationError{
		Type:   typeName,
		Fields: map[string]error{strings.Join(fields, ","): errors.New("value must be unique")},
	}
}
