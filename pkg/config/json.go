package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// LoadJSON loads configuration from a JSON file. Unknown keys are rejected.
// Durations are given in nanoseconds in JSON.
func LoadJSON(path string, target interface{}) error {
	// #nosec G304 -- config path comes from the command line
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON %s: %w", path, err)
	}
	return nil
}

// SaveJSON writes configuration to an indented JSON file with 0600 permissions
func SaveJSON(path string, config interface{}) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	return nil
}
