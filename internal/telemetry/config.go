package telemetry

// Config holds the tracing settings passed to Init.
type Config struct {
	Enabled bool

	// ServiceName identifies this process in the trace backend.
	ServiceName string

	ServiceVersion string

	// Endpoint is the OTLP gRPC endpoint, e.g. "localhost:4317".
	Endpoint string

	// Insecure disables TLS on the exporter connection.
	Insecure bool

	// SampleRate is the fraction of traces to keep, from 0.0 to 1.0.
	SampleRate float64
}

// DefaultConfig returns the settings used when the config file has no
// telemetry section: tracing off, local collector endpoints.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "scalebridge",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
