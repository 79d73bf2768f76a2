package config

import (
	"strings"
	"time"

	"github.com/marmos91/scalebridge/internal/bytesize"
	"github.com/marmos91/scalebridge/pkg/discovery"
	"github.com/marmos91/scalebridge/pkg/stability"
	"github.com/marmos91/scalebridge/pkg/transport"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyTransportDefaults(&cfg.Transport)
	applyStabilityDefaults(&cfg.Stability)
	applyDiscoveryDefaults(&cfg.Discovery)
	applyTemplatesDefaults(&cfg.Templates)
	applyStorageDefaults(&cfg.Storage)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)
	// No need to set, zero value is false

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	// Apply profiling defaults
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Enabled defaults to false (opt-in for profiling)
	// No need to set, zero value is false

	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	// Default profile types include CPU, memory allocation, and goroutines
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyTransportDefaults sets converter transport defaults.
func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.Port == 0 {
		cfg.Port = transport.DefaultPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = transport.DefaultDialTimeout
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = bytesize.ByteSize(transport.DefaultReadBufferSize)
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = transport.DefaultBackoffBase
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = transport.DefaultBackoffCap
	}
}

// applyStabilityDefaults sets stability monitor defaults.
func applyStabilityDefaults(cfg *StabilityConfig) {
	if cfg.SampleBufferSize == 0 {
		cfg.SampleBufferSize = stability.DefaultSampleBufferSize
	}
	if cfg.AnalysisInterval == 0 {
		cfg.AnalysisInterval = stability.DefaultAnalysisInterval
	}
	if cfg.MinSamplesForAnalysis == 0 {
		cfg.MinSamplesForAnalysis = stability.DefaultMinSamplesForAnalysis
	}
	if cfg.StabilityThreshold == 0 {
		cfg.StabilityThreshold = stability.DefaultStabilityThreshold
	}
	if cfg.DropoutThreshold == 0 {
		cfg.DropoutThreshold = stability.DefaultDropoutThreshold
	}
}

// applyDiscoveryDefaults sets discovery engine defaults.
func applyDiscoveryDefaults(cfg *DiscoveryConfig) {
	if cfg.MinimumFramesForAnalysis == 0 {
		cfg.MinimumFramesForAnalysis = discovery.DefaultMinimumFrames
	}
	if cfg.BaselineCaptureTimeout == 0 {
		cfg.BaselineCaptureTimeout = discovery.DefaultBaselineCaptureTimeout
	}
	if cfg.MaxBufferedFrames == 0 {
		cfg.MaxBufferedFrames = discovery.DefaultMaxBufferedFrames
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = discovery.DefaultConfidenceThreshold
	}
	if cfg.TestFrameLimit == 0 {
		cfg.TestFrameLimit = discovery.DefaultTestFrameLimit
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = discovery.DefaultSessionTTL
	}
}

// applyTemplatesDefaults sets template store defaults.
func applyTemplatesDefaults(cfg *TemplatesConfig) {
	cfg.Database.ApplyDefaults()
}

// applyStorageDefaults sets reading storage defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Relational.Driver == "" {
		cfg.Relational.Driver = "sqlite"
	}
	if cfg.Relational.BatchSize == 0 {
		cfg.Relational.BatchSize = 200
	}
	// Archive stays disabled unless configured; it needs credentials
	// and a bucket. Relational and time-series paths default inside
	// their repository constructors.
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Device: DeviceConfig{
			ID:   "scale-1",
			Type: "scale",
		},
		Transport: TransportConfig{
			Host: "192.168.1.100",
		},
		Discovery: DiscoveryConfig{
			SaveTemplates: true,
		},
		Templates: TemplatesConfig{
			Cached: true,
		},
		Storage: StorageConfig{
			Relational: RelationalBackendConfig{Enabled: true},
			TimeSeries: TimeSeriesBackendConfig{Enabled: true},
		},
		Stability: StabilityConfig{
			AllowUnknownSignals: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
