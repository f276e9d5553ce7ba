package payload

import (
	"errors"
	"fmt"
)

// FieldErrorKind classifies a field validation failure
type FieldErrorKind int

const (
	// MissingField means a required field is absent
	MissingField FieldErrorKind = iota
	// InvalidFieldType means a field is present with the wrong JSON type
	InvalidFieldType
	// InvalidEnumValue means a field has the right type but an unknown value
	InvalidEnumValue
)

func (k FieldErrorKind) String() string {
	switch k {
	case MissingField:
		return "missing field"
	case InvalidFieldType:
		return "invalid field type"
	case InvalidEnumValue:
		return "invalid enum value"
	default:
		return fmt.Sprintf("FieldErrorKind(%d)", int(k))
	}
}

// FieldError reports a validation failure on a single payload field
type FieldError struct {
	Kind  FieldErrorKind
	Field string
	Value string // offending raw value, empty for MissingField
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %q", e.Kind, e.Field)
	}
	return fmt.Sprintf("%s: %q = %s", e.Kind, e.Field, e.Value)
}

// NewMissingField builds a MissingField error
func NewMissingField(field string) *FieldError {
	return &FieldError{Kind: MissingField, Field: field}
}

// NewInvalidEnumValue builds an InvalidEnumValue error
func NewInvalidEnumValue(field, value string) *FieldError {
	return &FieldError{Kind: InvalidEnumValue, Field: field, Value: value}
}

// IsMissingField reports whether err is a MissingField error
func IsMissingField(err error) bool { return hasKind(err, MissingField) }

// IsInvalidFieldType reports whether err is an InvalidFieldType error
func IsInvalidFieldType(err error) bool { return hasKind(err, InvalidFieldType) }

// IsInvalidEnumValue reports whether err is an InvalidEnumValue error
func IsInvalidEnumValue(err error) bool { return hasKind(err, InvalidEnumValue) }

func hasKind(err error, kind FieldErrorKind) bool {
	var fe *FieldError
	return errors.As(err, &fe) && fe.Kind == kind
}
