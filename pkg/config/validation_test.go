package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidTransportPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Transport.Port = 70000 // Out of range

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_MissingDeviceID(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Device.ID = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for missing device id")
	}
}

func TestValidate_MissingTransportHost(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Transport.Host = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for missing transport host")
	}
}

func TestValidate_ConfidenceThresholdRange(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Discovery.ConfidenceThreshold = 150

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for confidence threshold above 100")
	}
}

func TestValidate_ArchiveNeedsBucket(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Archive.Enabled = true

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for archive without bucket")
	}
	if !strings.Contains(err.Error(), "bucket") {
		t.Errorf("Expected bucket error, got: %v", err)
	}

	cfg.Storage.Archive.Bucket = "weights"
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config with bucket set, got: %v", err)
	}
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Relational.Driver = "postgres"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for postgres driver without dsn")
	}
}

func TestValidate_AtLeastOneBackend(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Relational.Enabled = false
	cfg.Storage.TimeSeries.Enabled = false
	cfg.Storage.Archive.Enabled = false

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error with no backends enabled")
	}
}
