package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadTOML loads configuration from a TOML file. Like LoadYAML it rejects
// keys that do not map to a field.
func LoadTOML(path string, target interface{}) error {
	md, err := toml.DecodeFile(path, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal TOML %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("failed to unmarshal TOML %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// SaveTOML writes configuration to a TOML file with 0600 permissions
func SaveTOML(path string, config interface{}) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to marshal TOML: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write TOML file: %w", err)
	}
	return nil
}
