// Package config loads appbridge configuration from YAML or JSON files with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// DefaultEnvPrefix prefixes environment overrides, e.g. APPBRIDGE_BUS_URL
const DefaultEnvPrefix = "APPBRIDGE"

// Validator validates configuration
type Validator interface {
	Validate(config interface{}) error
}

// ValidatorFunc is a function that validates configuration
type ValidatorFunc func(config interface{}) error

func (f ValidatorFunc) Validate(config interface{}) error {
	return f(config)
}

// Load loads configuration from a file.
// ".json" files are read as JSON, ".toml" files as TOML, everything else
// as YAML.
func Load(path string, target interface{}) error {
	switch {
	case strings.HasSuffix(path, ".json"):
		return LoadJSON(path, target)
	case strings.HasSuffix(path, ".toml"):
		return LoadTOML(path, target)
	default:
		return LoadYAML(path, target)
	}
}

// Save writes configuration to a file, choosing the format like Load
func Save(path string, config interface{}) error {
	switch {
	case strings.HasSuffix(path, ".json"):
		return SaveJSON(path, config)
	case strings.HasSuffix(path, ".toml"):
		return SaveTOML(path, config)
	default:
		return SaveYAML(path, config)
	}
}

// LoadWithEnv loads configuration from file and applies environment variable overrides
func LoadWithEnv(path string, prefix string, target interface{}) error {
	if err := Load(path, target); err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}
	if err := ApplyEnvOverrides(prefix, target); err != nil {
		return fmt.Errorf("failed to apply env overrides: %w", err)
	}
	return nil
}

// ApplyEnvOverrides sets struct fields from environment variables.
//
// Variable names are PREFIX_ followed by the upper-cased yaml key path joined
// with '_' (field name when there is no yaml tag). For example Bus.URL with
// tags `yaml:"bus"` and `yaml:"url"` reads APPBRIDGE_BUS_URL.
func ApplyEnvOverrides(prefix string, target interface{}) error {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	val := reflect.ValueOf(target)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to a struct")
	}
	return applyEnvToStruct(prefix, val.Elem())
}

// envName returns the key segment for a struct field
func envName(field reflect.StructField) string {
	name := field.Name
	if tag, ok := field.Tag.Lookup("yaml"); ok {
		if key, _, _ := strings.Cut(tag, ","); key != "" && key != "-" {
			name = key
		}
	}
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func applyEnvToStruct(prefix string, val reflect.Value) error {
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if !field.CanSet() || fieldType.Tag.Get("yaml") == "-" {
			continue
		}
		envKey := prefix + "_" + envName(fieldType)

		if field.Kind() == reflect.Struct {
			if err := applyEnvToStruct(envKey, field); err != nil {
				return err
			}
			continue
		}
		if field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct {
			if field.IsNil() {
				field.Set(reflect.New(field.Type().Elem()))
			}
			if err := applyEnvToStruct(envKey, field.Elem()); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldFromEnv(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setFieldFromEnv(field reflect.Value, envValue string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(envValue)
		if err != nil {
			return fmt.Errorf("invalid duration value: %s", envValue)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(envValue, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer value: %s", envValue)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(envValue, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value: %s", envValue)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(envValue, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float value: %s", envValue)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(envValue)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %s", envValue)
		}
		field.SetBool(b)
	case reflect.Slice:
		parts := strings.Split(envValue, ",")
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, part := range parts {
			if err := setFieldFromEnv(slice.Index(i), strings.TrimSpace(part)); err != nil {
				return err
			}
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate runs validators in order and returns the first failure
func Validate(config interface{}, validators ...Validator) error {
	for _, validator := range validators {
		if err := validator.Validate(config); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}
