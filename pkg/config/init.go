package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented configuration written by "scalebridge init".
// Values mirror GetDefaultConfig; keep the two in sync.
const sampleConfig = `# ScaleBridge Configuration File
#
# Every option can be overridden through environment variables using the
# SCALEBRIDGE_ prefix, e.g. SCALEBRIDGE_LOGGING_LEVEL=DEBUG.

logging:
  level: INFO        # DEBUG, INFO, WARN, ERROR
  format: text       # text or json
  output: stdout     # stdout, stderr, or a file path

telemetry:
  enabled: false
  endpoint: localhost:4317
  insecure: true
  sample_rate: 1.0
  profiling:
    enabled: false
    endpoint: http://localhost:4040

metrics:
  enabled: false
  port: 9090

shutdown_timeout: 30s

# The scale this agent ingests from.
device:
  id: scale-1
  type: scale

# Serial-to-Ethernet converter endpoint.
transport:
  host: 192.168.1.100
  port: 4001
  dial_timeout: 10s
  read_buffer_size: 4KiB
  backoff_base: 100ms
  backoff_cap: 2s

# Signal stability monitoring.
stability:
  sample_buffer_size: 200
  analysis_interval: 2s
  min_samples_for_analysis: 10
  stability_threshold: 80
  dropout_threshold: 5s
  allow_unknown_signals: true

# Protocol discovery.
discovery:
  minimum_frames: 20
  baseline_timeout: 30s
  max_buffered_frames: 1000
  confidence_threshold: 85
  test_frame_limit: 50
  save_templates: true
  session_ttl: 1h

# Protocol template persistence.
templates:
  cached: true
  database:
    type: sqlite
    # sqlite:
    #   path: /var/lib/scalebridge/templates.db
    # postgres:
    #   host: localhost
    #   port: 5432
    #   user: scalebridge
    #   password: ""
    #   database: scalebridge

# Storage backends and routing.
storage:
  relational:
    enabled: true
    driver: sqlite   # sqlite or postgres
    # path: /var/lib/scalebridge/readings.db
    # dsn: "host=localhost user=scalebridge dbname=readings"
    batch_size: 200
  time_series:
    enabled: true
    # path: /var/lib/scalebridge/tsdb
    retention: 720h
  archive:
    enabled: false
    # bucket: scalebridge-archive
    # region: eu-west-1
    # endpoint: ""
    # prefix: readings
`

// InitConfig writes the sample configuration file to the default location
// and returns its path. An existing file is only overwritten with force.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the sample configuration file to the given path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
