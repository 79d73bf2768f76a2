package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func setConfigHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	return tmpDir
}

func TestInitConfig_Success(t *testing.T) {
	setConfigHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# ScaleBridge Configuration File",
		"logging:",
		"device:",
		"transport:",
		"stability:",
		"discovery:",
		"templates:",
		"storage:",
	}
	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	// The generated file must be well-formed YAML.
	var doc map[string]any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
	if _, ok := doc["transport"]; !ok {
		t.Error("generated YAML missing transport section")
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	setConfigHome(t)

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("first InitConfig failed: %v", err)
	}
	if _, err := InitConfig(false); err == nil {
		t.Fatal("expected error when config already exists")
	}
	if _, err := InitConfig(true); err != nil {
		t.Fatalf("InitConfig with force failed: %v", err)
	}
}

func TestInitConfig_LoadsAndValidates(t *testing.T) {
	setConfigHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load of generated config failed: %v", err)
	}
	if cfg.Device.ID != "scale-1" {
		t.Errorf("Device.ID = %q, want scale-1", cfg.Device.ID)
	}
	if cfg.Transport.Port != 4001 {
		t.Errorf("Transport.Port = %d, want 4001", cfg.Transport.Port)
	}
	if int(cfg.Transport.ReadBufferSize) != 4096 {
		t.Errorf("ReadBufferSize = %d, want 4096", int(cfg.Transport.ReadBufferSize))
	}
}

func TestInitConfigToPath_CustomLocation(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.yaml")

	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
}
