package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const maxSupportedSchemaVersion = 1

// Migrate checks the schema_version of raw YAML before it is decoded.
// Version 0 (absent) is treated as version 1.
func Migrate(raw []byte) error {
	var base struct {
		SchemaVersion int `yaml:"schema_version"`
	}
	if err := yaml.Unmarshal(raw, &base); err != nil {
		return fmt.Errorf("parse schema_version: %w", err)
	}

	switch {
	case base.SchemaVersion == 0 || base.SchemaVersion == 1:
		return nil
	default:
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)",
			base.SchemaVersion, maxSupportedSchemaVersion)
	}
}
