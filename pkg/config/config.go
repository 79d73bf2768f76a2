package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/scalebridge/internal/bytesize"
	templatestore "github.com/marmos91/scalebridge/pkg/template/store"
)

// Config represents the scalebridge configuration.
//
// This structure captures the static configuration of one scalebridge
// instance:
//   - Logging configuration
//   - Telemetry/tracing configuration
//   - Device identity and converter transport settings
//   - Signal stability monitoring thresholds
//   - Protocol discovery settings
//   - Template database connection
//   - Storage backends and routing
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (SCALEBRIDGE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Device identifies the scale or I/O module behind the converter
	Device DeviceConfig `mapstructure:"device" yaml:"device"`

	// Transport configures the TCP link to the serial-to-Ethernet converter
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Stability configures the signal stability monitor
	Stability StabilityConfig `mapstructure:"stability" yaml:"stability"`

	// Discovery configures the protocol discovery engine
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`

	// Templates configures the protocol template database.
	// Environment variable overrides:
	//   SCALEBRIDGE_TEMPLATES_TYPE overrides the backend type
	Templates TemplatesConfig `mapstructure:"templates" yaml:"templates"`

	// Storage configures the reading storage backends and routing
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	// Set to false in production with a TLS-enabled collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// 1.0 = sample all traces, 0.5 = sample 50%, 0.0 = no sampling
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
// When enabled, CPU and memory profiles are continuously sent to a Pyroscope
// server for flame graph visualization and performance analysis.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// DeviceConfig identifies the weighing device behind the converter.
type DeviceConfig struct {
	// ID is the stable device identifier used on stored readings
	ID string `mapstructure:"id" validate:"required" yaml:"id"`

	// Type describes the device class (e.g., "scale", "adam-6051").
	// The storage router classifies readings by this value.
	Type string `mapstructure:"type" yaml:"type"`
}

// TransportConfig configures the TCP connection to the serial-to-Ethernet
// converter carrying the device's serial output.
type TransportConfig struct {
	// Host is the converter address (required)
	Host string `mapstructure:"host" validate:"required" yaml:"host"`

	// Port is the converter data port
	// Default: 4001 (factory default on most converters)
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// DialTimeout bounds a single connection attempt
	// Default: 5s
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`

	// ReadBufferSize is the socket read buffer size
	// Supports human-readable formats: "4Ki", "64KB"
	// Default: 4Ki
	ReadBufferSize bytesize.ByteSize `mapstructure:"read_buffer_size" yaml:"read_buffer_size,omitempty"`

	// BackoffBase is the initial reconnect backoff
	// Default: 100ms
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`

	// BackoffCap bounds the exponential reconnect backoff
	// Default: 30s
	BackoffCap time.Duration `mapstructure:"backoff_cap" yaml:"backoff_cap"`
}

// StabilityConfig configures the signal stability monitor.
type StabilityConfig struct {
	// SampleBufferSize bounds the rolling analysis window
	// Default: 200
	SampleBufferSize int `mapstructure:"sample_buffer_size" yaml:"sample_buffer_size"`

	// AnalysisInterval is the cadence of the analysis tick
	// Default: 2s
	AnalysisInterval time.Duration `mapstructure:"analysis_interval" yaml:"analysis_interval"`

	// MinSamplesForAnalysis is the minimum window population before the
	// state machine moves off its current state
	// Default: 10
	MinSamplesForAnalysis int `mapstructure:"min_samples_for_analysis" yaml:"min_samples_for_analysis"`

	// StabilityThreshold is the overall score at or above which the link
	// is considered stable (0-100)
	// Default: 80
	StabilityThreshold float64 `mapstructure:"stability_threshold" validate:"omitempty,gte=0,lte=100" yaml:"stability_threshold"`

	// DropoutThreshold is the inter-arrival gap treated as a dropout
	// Default: 5s
	DropoutThreshold time.Duration `mapstructure:"dropout_threshold" yaml:"dropout_threshold"`

	// AllowUnknownSignals lets frames pass the filter before enough
	// samples have accumulated to judge the signal
	// Default: true
	AllowUnknownSignals bool `mapstructure:"allow_unknown_signals" yaml:"allow_unknown_signals"`
}

// DiscoveryConfig configures the protocol discovery engine.
type DiscoveryConfig struct {
	// MinimumFramesForAnalysis is how many frames the baseline capture
	// collects before template testing starts
	// Default: 20
	MinimumFramesForAnalysis int `mapstructure:"minimum_frames" yaml:"minimum_frames"`

	// BaselineCaptureTimeout bounds the baseline capture
	// Default: 30s
	BaselineCaptureTimeout time.Duration `mapstructure:"baseline_timeout" yaml:"baseline_timeout"`

	// MaxBufferedFrames bounds the per-session frame buffer
	// Default: 1000
	MaxBufferedFrames int `mapstructure:"max_buffered_frames" yaml:"max_buffered_frames"`

	// ConfidenceThreshold is the automatic match cutoff (0-100)
	// Default: 85
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" validate:"omitempty,gte=0,lte=100" yaml:"confidence_threshold"`

	// TestFrameLimit caps how many captured frames each template is
	// scored against
	// Default: 50
	TestFrameLimit int `mapstructure:"test_frame_limit" yaml:"test_frame_limit"`

	// SaveTemplates controls whether synthesized templates are persisted
	// Default: true
	SaveTemplates bool `mapstructure:"save_templates" yaml:"save_templates"`

	// SessionTTL is how long an idle session survives before the
	// supervisor cancels it
	// Default: 1h
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
}

// TemplatesConfig configures the protocol template store.
type TemplatesConfig struct {
	// Database is the template database connection (SQLite or PostgreSQL)
	Database templatestore.Config `mapstructure:"database" yaml:"database"`

	// Cached wraps the store in a read-through cache.
	// Default: true
	Cached bool `mapstructure:"cached" yaml:"cached"`
}

// StorageConfig configures the reading storage backends. Each backend can be
// enabled independently; the router fails over along the policy chain when a
// backend is down.
type StorageConfig struct {
	// Relational is the SQL backend for discrete weighings and configuration
	Relational RelationalBackendConfig `mapstructure:"relational" yaml:"relational"`

	// TimeSeries is the embedded Badger backend for continuous data
	TimeSeries TimeSeriesBackendConfig `mapstructure:"time_series" yaml:"time_series"`

	// Archive is the S3-compatible object storage backend of last resort
	Archive ArchiveBackendConfig `mapstructure:"archive" yaml:"archive"`
}

// RelationalBackendConfig configures the SQL reading backend.
type RelationalBackendConfig struct {
	// Enabled controls whether the backend is registered
	// Default: true
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Driver selects the SQL driver: "sqlite" or "postgres"
	// Default: sqlite
	Driver string `mapstructure:"driver" validate:"omitempty,oneof=sqlite postgres" yaml:"driver"`

	// Path is the SQLite database file path
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// DSN is the PostgreSQL connection string
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty"`

	// BatchSize is the insert batch size
	// Default: 200
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

// TimeSeriesBackendConfig configures the embedded time-series backend.
type TimeSeriesBackendConfig struct {
	// Enabled controls whether the backend is registered
	// Default: true
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Path is the Badger data directory. Empty runs in-memory.
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// Retention expires readings after this duration. Zero keeps forever.
	Retention time.Duration `mapstructure:"retention" yaml:"retention,omitempty"`
}

// ArchiveBackendConfig configures the S3-compatible archive backend.
type ArchiveBackendConfig struct {
	// Enabled controls whether the backend is registered
	// Default: false (requires credentials)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Bucket is the target bucket name
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty"`

	// Region is the bucket region
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint overrides the S3 endpoint (for MinIO and compatibles)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// Prefix is prepended to every object key
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SCALEBRIDGE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: User-friendly error with instructions if config not found
func MustLoad(configPath string) (*Config, error) {
	// Determine config path
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  scalebridge init\n\n"+
				"Or specify a custom config file:\n"+
				"  scalebridge <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  scalebridge init --config %s",
				configPath, configPath)
		}
	}

	// Load configuration
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file with restricted permissions (0600 = owner read/write only).
	// Config files may contain database credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use SCALEBRIDGE_ prefix and underscores
	// Example: SCALEBRIDGE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("SCALEBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/scalebridge/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		// Other errors are problems
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use
// human-readable sizes like "4Ki", "64KB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to ByteSize
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse human-readable string like "4Ki", "64KB"
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to time.Duration
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse duration string like "30s", "5m", "1h"
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "scalebridge")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "scalebridge")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
