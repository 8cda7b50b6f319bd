package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// overlayFile applies a YAML file on top of cfg. Missing files are ignored.
// Secret fields are tagged yaml:"-" and can only come from the environment.
func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return Parse(data, cfg)
}

// Parse decodes YAML config data into cfg. Only keys present in data
// replace the values already in cfg.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}
