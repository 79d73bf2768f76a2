package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that log
// aggregation and querying work across the transport, discovery, and
// storage subsystems.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Device & Transport
	// ========================================================================
	KeyDeviceID   = "device_id"   // Logical device identifier
	KeyChannel    = "channel"     // Device channel number
	KeyRemoteAddr = "remote_addr" // Serial-to-Ethernet converter address (host:port)
	KeyConnState  = "conn_state"  // Transport state: connecting, connected, disconnected
	KeyBytes      = "bytes"       // Byte count for a chunk or frame
	KeyAttempt    = "attempt"     // Reconnect/retry attempt number

	// ========================================================================
	// Discovery
	// ========================================================================
	KeySessionID  = "session_id" // Discovery session identifier
	KeyPhase      = "phase"      // Discovery session phase
	KeyTemplate   = "template"   // Template name
	KeyConfidence = "confidence" // Template match confidence (0-100)
	KeyStep       = "step"       // Interactive discovery step number
	KeyFrames     = "frames"     // Number of captured frames

	// ========================================================================
	// Stability
	// ========================================================================
	KeyStabilityState = "stability_state" // Signal state: stable, noisy, ...
	KeyStabilityScore = "stability_score" // Overall stability score (0-100)
	KeySamples        = "samples"         // Sample window population

	// ========================================================================
	// Storage
	// ========================================================================
	KeyBackend        = "backend"        // Repository backend name
	KeyClassification = "classification" // Reading classification
	KeyBatchSize      = "batch_size"     // Number of readings in a batch
	KeyQuality        = "quality"        // Reading quality

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyOperation  = "operation"   // Sub-operation type for complex operations
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// DeviceID returns a slog.Attr for the logical device identifier
func DeviceID(id string) slog.Attr {
	return slog.String(KeyDeviceID, id)
}

// Channel returns a slog.Attr for the device channel
func Channel(ch int) slog.Attr {
	return slog.Int(KeyChannel, ch)
}

// RemoteAddr returns a slog.Attr for the converter endpoint
func RemoteAddr(addr string) slog.Attr {
	return slog.String(KeyRemoteAddr, addr)
}

// ConnState returns a slog.Attr for the transport connection state
func ConnState(state string) slog.Attr {
	return slog.String(KeyConnState, state)
}

// Bytes returns a slog.Attr for a byte count
func Bytes(n int) slog.Attr {
	return slog.Int(KeyBytes, n)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// SessionID returns a slog.Attr for a discovery session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// Phase returns a slog.Attr for a discovery session phase
func Phase(p fmt.Stringer) slog.Attr {
	return slog.String(KeyPhase, p.String())
}

// Template returns a slog.Attr for a template name
func Template(name string) slog.Attr {
	return slog.String(KeyTemplate, name)
}

// Confidence returns a slog.Attr for a match confidence score
func Confidence(c float64) slog.Attr {
	return slog.Float64(KeyConfidence, c)
}

// Step returns a slog.Attr for an interactive discovery step number
func Step(n int) slog.Attr {
	return slog.Int(KeyStep, n)
}

// Frames returns a slog.Attr for a captured frame count
func Frames(n int) slog.Attr {
	return slog.Int(KeyFrames, n)
}

// StabilityState returns a slog.Attr for the signal stability state
func StabilityState(s fmt.Stringer) slog.Attr {
	return slog.String(KeyStabilityState, s.String())
}

// StabilityScore returns a slog.Attr for the overall stability score
func StabilityScore(score float64) slog.Attr {
	return slog.Float64(KeyStabilityScore, score)
}

// Samples returns a slog.Attr for the sample window population
func Samples(n int) slog.Attr {
	return slog.Int(KeySamples, n)
}

// Backend returns a slog.Attr for a repository backend name
func Backend(name string) slog.Attr {
	return slog.String(KeyBackend, name)
}

// Classification returns a slog.Attr for a reading classification
func Classification(c fmt.Stringer) slog.Attr {
	return slog.String(KeyClassification, c.String())
}

// BatchSize returns a slog.Attr for a batch size
func BatchSize(n int) slog.Attr {
	return slog.Int(KeyBatchSize, n)
}

// Quality returns a slog.Attr for a reading quality
func Quality(q fmt.Stringer) slog.Attr {
	return slog.String(KeyQuality, q.String())
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation returns a slog.Attr for a sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}
