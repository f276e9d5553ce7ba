// Package payload parses raw bus message text and gives typed, checked
// access to its fields.
//
// Parse accepts any syntactically valid JSON document. Field semantics are
// left to callers; Value only answers whether a field exists and whether it
// has the requested type.
package payload

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fluxorio/appbridge/pkg/core"
)

// Value is a parsed message payload
type Value struct {
	raw  string
	root gjson.Result
}

// Parse parses raw message text.
// Fails with core.ErrMalformedPayload if raw is not valid JSON or is a bare
// null.
func Parse(raw string) (Value, error) {
	if strings.TrimSpace(raw) == "" {
		return Value{}, core.ErrMalformedPayload
	}
	if !gjson.Valid(raw) {
		return Value{}, core.ErrMalformedPayload
	}
	root := gjson.Parse(raw)
	if root.Type == gjson.Null {
		return Value{}, core.ErrMalformedPayload
	}
	return Value{raw: raw, root: root}, nil
}

// Raw returns the original message text
func (v Value) Raw() string {
	return v.raw
}

// IsObject reports whether the payload is a JSON object
func (v Value) IsObject() bool {
	return v.root.IsObject()
}

// Has reports whether the payload is an object carrying field name
func (v Value) Has(name string) bool {
	_, ok := v.field(name)
	return ok
}

// String returns the string field name.
// Absent fields fail with MissingField, non-string fields with InvalidFieldType.
func (v Value) String(name string) (string, error) {
	f, ok := v.field(name)
	if !ok {
		return "", &FieldError{Kind: MissingField, Field: name}
	}
	if f.Type != gjson.String {
		return "", &FieldError{Kind: InvalidFieldType, Field: name, Value: f.Raw}
	}
	return f.Str, nil
}

// Bool returns the boolean field name.
// Absent fields fail with MissingField, non-boolean fields with InvalidFieldType.
func (v Value) Bool(name string) (bool, error) {
	f, ok := v.field(name)
	if !ok {
		return false, &FieldError{Kind: MissingField, Field: name}
	}
	if !f.IsBool() {
		return false, &FieldError{Kind: InvalidFieldType, Field: name, Value: f.Raw}
	}
	return f.Bool(), nil
}

// field looks name up as a literal top-level key; no gjson path syntax applies.
func (v Value) field(name string) (gjson.Result, bool) {
	if !v.root.IsObject() {
		return gjson.Result{}, false
	}
	var (
		found gjson.Result
		ok    bool
	)
	v.root.ForEach(func(key, value gjson.Result) bool {
		if key.Str == name {
			found, ok = value, true
			return false
		}
		return true
	})
	return found, ok
}
