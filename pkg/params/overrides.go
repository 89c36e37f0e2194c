package params

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadOverrides reads a YAML file mapping bare parameter keys to values,
// used to shadow SSM for local development runs:
//
//	LookBackPeriod: "14"
//	ChangeThreshold: "0.3"
//	UsageTypes: "USW2-BoxUsage,*-DataTransfer-Out-Bytes"
//
// An empty path returns nil (no overrides).
func LoadOverrides(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides file: %w", err)
	}

	overrides := make(map[string]string)
	if err := yaml.Unmarshal(b, &overrides); err != nil {
		return nil, fmt.Errorf("parse overrides file %s: %w", path, err)
	}
	return overrides, nil
}
