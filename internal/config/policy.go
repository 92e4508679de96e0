package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tbruckner/privd/internal/privd/types"
)

// LoadPolicy reads and normalizes the managed policy document. An empty
// path yields the built-in defaults (no restrictions, default expiration).
func LoadPolicy(path string) (types.PolicyConfig, error) {
	var cfg types.PolicyConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return types.PolicyConfig{}, fmt.Errorf("read policy %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return types.PolicyConfig{}, fmt.Errorf("parse policy %s: %w", path, err)
		}
	}

	if err := cfg.Normalize(); err != nil {
		return types.PolicyConfig{}, fmt.Errorf("policy %s: %w", path, err)
	}
	return cfg, nil
}
