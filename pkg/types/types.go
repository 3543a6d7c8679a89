// Package types defines the typed field values a record is composed of. Every
// value carries a validation rule and a maximum size, and marshals to and from
// the scalar string form that the persistence providers bind to SQL.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// ErrInvalidValue is returned when a value violates a field's rule or size.
var ErrInvalidValue = errors.New("invalid value")

// Kind identifies a field value type. Providers map kinds to column types.
type Kind string

const (
	KindInteger   Kind = "integer"
	KindDouble    Kind = "double"
	KindSmallText Kind = "smalltext"
	KindText      Kind = "text"
	KindLargeText Kind = "largetext"
	KindBoolean   Kind = "boolean"
	KindDate      Kind = "date"
	KindTimestamp Kind = "timestamp"
	KindEnum      Kind = "enum"
	KindDEnum     Kind = "denum"
	KindRelation  Kind = "relation"
)

// Default maximum sizes, in characters.
const (
	IntegerSize   = 11
	DoubleSize    = 13
	SmallTextSize = 255
	TextSize      = 65535
	LargeTextSize = 16777215
)

// Type is the contract every field value satisfies.
type Type interface {
	Kind() Kind
	// Value returns the storable scalar representation; "" means unset.
	Value() string
	// SetValue validates and assigns v, returning an error wrapping
	// ErrInvalidValue on violation. The current value is kept on failure.
	SetValue(v string) error
	// Validate re-checks the current value.
	Validate() error
	Size() int
	Rule() string
	Helper() string
}

// scalar holds the state shared by the simple value types.
type scalar struct {
	value  string
	size   int
	rule   *regexp.Regexp
	helper string
}

func (s *scalar) Value() string  { return s.value }
func (s *scalar) Size() int      { return s.size }
func (s *scalar) Helper() string { return s.helper }

func (s *scalar) Rule() string {
	if s.rule == nil {
		return ""
	}
	return s.rule.String()
}

// SetSize overrides the maximum size.
func (s *scalar) SetSize(n int) { s.size = n }

// SetRule overrides the validation rule and the helper text reported when it fails.
func (s *scalar) SetRule(pattern, helper string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile rule: %w", err)
	}
	s.rule = re
	s.helper = helper
	return nil
}

func (s *scalar) Validate() error { return s.check(s.value) }

func (s *scalar) check(v string) error {
	if s.size > 0 && utf8.RuneCountInString(v) > s.size {
		return invalid(fmt.Sprintf("value exceeds maximum size of %d", s.size), v)
	}
	if s.rule != nil && !s.rule.MatchString(v) {
		return invalid(s.helper, v)
	}
	return nil
}

func invalid(helper, v string) error {
	if len(v) > 40 {
		v = v[:40] + "..."
	}
	return fmt.Errorf("%w %q: %s", ErrInvalidValue, v, helper)
}
