package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct validation tags and
// the cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}

	// Tags cannot express "archive needs a bucket only when enabled".
	if cfg.Storage.Archive.Enabled && cfg.Storage.Archive.Bucket == "" {
		return fmt.Errorf("storage.archive.bucket is required when the archive backend is enabled")
	}
	if cfg.Storage.Relational.Driver == "postgres" && cfg.Storage.Relational.DSN == "" {
		return fmt.Errorf("storage.relational.dsn is required with the postgres driver")
	}
	if !cfg.Storage.Relational.Enabled && !cfg.Storage.TimeSeries.Enabled && !cfg.Storage.Archive.Enabled {
		return fmt.Errorf("at least one storage backend must be enabled")
	}

	return nil
}
