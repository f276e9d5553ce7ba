package config

import (
	"fmt"
	"reflect"
	"strings"
)

// RequiredFields fails if any of the named fields holds its zero value.
// Nested fields use dot notation (e.g. "Bus.URL").
func RequiredFields(fields ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		var missing []string
		for _, name := range fields {
			fieldVal, err := lookup(config, name)
			if err != nil {
				return err
			}
			if fieldVal.IsZero() {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("required fields are missing: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

// RangeValidator checks that a numeric field lies in [min, max].
// time.Duration fields are compared in nanoseconds.
func RangeValidator(fieldName string, min, max float64) Validator {
	return ValidatorFunc(func(config interface{}) error {
		fieldVal, err := lookup(config, fieldName)
		if err != nil {
			return err
		}

		var n float64
		switch fieldVal.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n = float64(fieldVal.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n = float64(fieldVal.Uint())
		case reflect.Float32, reflect.Float64:
			n = fieldVal.Float()
		default:
			return fmt.Errorf("field %s is not numeric", fieldName)
		}

		if n < min || n > max {
			return fmt.Errorf("field %s value %v is out of range [%v, %v]", fieldName, n, min, max)
		}
		return nil
	})
}

// OneOfValidator checks that a field equals one of the allowed values
func OneOfValidator(fieldName string, allowedValues ...interface{}) Validator {
	return ValidatorFunc(func(config interface{}) error {
		fieldVal, err := lookup(config, fieldName)
		if err != nil {
			return err
		}

		got := fieldVal.Interface()
		for _, allowed := range allowedValues {
			if reflect.DeepEqual(got, allowed) {
				return nil
			}
		}
		return fmt.Errorf("field %s value %v is not one of allowed values: %v", fieldName, got, allowedValues)
	})
}

// lookup resolves a dot separated field path on a struct or struct pointer
func lookup(config interface{}, fieldPath string) (reflect.Value, error) {
	current := reflect.ValueOf(config)
	for _, part := range strings.Split(fieldPath, ".") {
		if current.Kind() == reflect.Ptr {
			if current.IsNil() {
				return reflect.Value{}, fmt.Errorf("field %s not found", fieldPath)
			}
			current = current.Elem()
		}
		if current.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field %s not found", fieldPath)
		}
		current = current.FieldByName(part)
		if !current.IsValid() {
			return reflect.Value{}, fmt.Errorf("field %s not found", fieldPath)
		}
	}
	return current, nil
}
