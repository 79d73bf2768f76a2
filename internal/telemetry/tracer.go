package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for scalebridge operations.
// These follow OpenTelemetry semantic conventions where applicable.
// Generic keys use their OTel names, scalebridge-specific keys use a
// component prefix.
const (
	// ========================================================================
	// Device and transport attributes
	// ========================================================================
	AttrDeviceID    = "device.id"
	AttrDeviceType  = "device.type"
	AttrRemoteAddr  = "net.peer.address"
	AttrRemotePort  = "net.peer.port"
	AttrBytesRecv   = "transport.bytes_received"
	AttrReconnects  = "transport.reconnects"
	AttrSignalState = "signal.state"
	AttrSignalScore = "signal.score"

	// ========================================================================
	// Discovery session attributes
	// ========================================================================
	AttrSessionID  = "discovery.session_id"
	AttrPhase      = "discovery.phase"
	AttrFrames     = "discovery.frames"
	AttrStep       = "discovery.step"
	AttrConfidence = "discovery.confidence"

	// ========================================================================
	// Template and parser attributes
	// ========================================================================
	AttrTemplate       = "template.name"
	AttrTemplateOrigin = "template.origin"
	AttrFieldCount     = "template.fields"

	// ========================================================================
	// Storage routing attributes
	// ========================================================================
	AttrBackend        = "storage.backend"
	AttrClassification = "storage.classification"
	AttrBatchSize      = "storage.batch_size"
	AttrQuality        = "reading.quality"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	// Transport spans
	SpanTransportConnect = "transport.connect"
	SpanTransportRead    = "transport.read"

	// Discovery spans
	SpanDiscoveryBaseline   = "discovery.baseline"
	SpanDiscoveryPhaseA     = "discovery.phase_a"
	SpanDiscoveryStep       = "discovery.step"
	SpanDiscoverySynthesize = "discovery.synthesize"
	SpanDiscoveryFinalize   = "discovery.finalize"

	// Parser spans
	SpanParseFrame = "parser.parse"

	// Storage spans
	SpanStorageRoute      = "storage.route"
	SpanStorageRouteBatch = "storage.route_batch"
	SpanStorageWrite      = "storage.write"
)

// DeviceID returns an attribute for the device identifier
func DeviceID(id string) attribute.KeyValue {
	return attribute.String(AttrDeviceID, id)
}

// DeviceType returns an attribute for the device type
func DeviceType(t string) attribute.KeyValue {
	return attribute.String(AttrDeviceType, t)
}

// RemoteAddr returns an attribute for the converter address
func RemoteAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrRemoteAddr, addr)
}

// SessionID returns an attribute for the discovery session ID
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// Phase returns an attribute for the discovery phase name
func Phase(phase string) attribute.KeyValue {
	return attribute.String(AttrPhase, phase)
}

// Frames returns an attribute for a captured frame count
func Frames(n int) attribute.KeyValue {
	return attribute.Int(AttrFrames, n)
}

// Step returns an attribute for an interactive step index
func Step(i int) attribute.KeyValue {
	return attribute.Int(AttrStep, i)
}

// Confidence returns an attribute for a confidence score
func Confidence(score float64) attribute.KeyValue {
	return attribute.Float64(AttrConfidence, score)
}

// Template returns an attribute for a template name
func Template(name string) attribute.KeyValue {
	return attribute.String(AttrTemplate, name)
}

// TemplateOrigin returns an attribute for where a template came from
func TemplateOrigin(origin string) attribute.KeyValue {
	return attribute.String(AttrTemplateOrigin, origin)
}

// Backend returns an attribute for a storage backend name
func Backend(name string) attribute.KeyValue {
	return attribute.String(AttrBackend, name)
}

// Classification returns an attribute for a reading classification
func Classification(class string) attribute.KeyValue {
	return attribute.String(AttrClassification, class)
}

// BatchSize returns an attribute for a storage batch size
func BatchSize(n int) attribute.KeyValue {
	return attribute.Int(AttrBatchSize, n)
}

// Quality returns an attribute for a reading quality code
func Quality(q string) attribute.KeyValue {
	return attribute.String(AttrQuality, q)
}

// SignalState returns an attribute for the stability monitor state
func SignalState(state string) attribute.KeyValue {
	return attribute.String(AttrSignalState, state)
}

// SignalScore returns an attribute for the stability score
func SignalScore(score float64) attribute.KeyValue {
	return attribute.Float64(AttrSignalScore, score)
}

// StartSessionSpan starts a span for a discovery session operation.
// This is a convenience function that sets common attributes.
func StartSessionSpan(ctx context.Context, name, sessionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		SessionID(sessionID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartStorageSpan starts a span for a storage routing operation.
func StartStorageSpan(ctx context.Context, name string, class string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Classification(class),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartTransportSpan starts a span for a transport operation against a
// converter endpoint.
func StartTransportSpan(ctx context.Context, name, addr string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		RemoteAddr(addr),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}
