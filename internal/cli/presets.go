package cli

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadYAMLOver decodes the YAML file at path on top of dst, so keys missing
// from the file keep the values already in dst.
func loadYAMLOver(path string, dst any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read preset: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("parse preset %s: %w", path, err)
	}
	return nil
}
