// Package stability classifies the quality of a live serial byte stream and
// adaptively filters frames before they reach the discovery engine or the
// runtime parser.
//
// Industrial scale links are electrically noisy: poorly shielded RS-232 runs
// pick up null bytes, spurious control characters, and dropouts. The monitor
// keeps a rolling window of recent samples, analyzes it on a fixed cadence,
// and drives a small state machine whose current state selects the filtering
// strategy.
package stability

import (
	"time"
)

// State is the machine-level classification of the current link/signal
// quality.
type State int

const (
	StateUnknown State = iota
	StateStable
	StateUnstable
	StateNoisy
	StateIntermittent
	StateCorrupted
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateUnstable:
		return "unstable"
	case StateNoisy:
		return "noisy"
	case StateIntermittent:
		return "intermittent"
	case StateCorrupted:
		return "corrupted"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Sample is a single observed chunk with derived per-sample statistics.
type Sample struct {
	Bytes           []byte
	Timestamp       time.Time
	Valid           bool
	Length          int
	HasNullBytes    bool
	HasControlChars bool

	// SignalStrength is the ratio of printable/whitelisted bytes, 0..1.
	SignalStrength float64
}

// NewSample derives per-sample statistics from a chunk.
func NewSample(data []byte, ts time.Time, valid bool) Sample {
	s := Sample{
		Bytes:     data,
		Timestamp: ts,
		Valid:     valid,
		Length:    len(data),
	}

	printable := 0
	for _, b := range data {
		switch {
		case b == 0:
			s.HasNullBytes = true
		case b >= 32 || b == '\t' || b == '\n' || b == '\r':
			printable++
		default:
			s.HasControlChars = true
		}
	}
	if len(data) > 0 {
		s.SignalStrength = float64(printable) / float64(len(data))
	}
	return s
}

// Analysis holds the statistics computed over the sample window at one tick.
// Rates are 0..1; consistency and quality scores are 0..100.
type Analysis struct {
	ValidRate          float64
	NullRate           float64
	BadControlRate     float64
	MeanSignalStrength float64
	SignalVariance     float64 // variance of signal strength on the 0..100 scale

	MeanLength float64
	MaxLength  int

	LengthConsistency float64
	TimingConsistency float64
	DataQuality       float64

	CorruptionDetected bool
	DropoutsDetected   bool
	NoiseDetected      bool
	TimingIssues       bool
}

// Report is published by the monitor on each analysis tick.
type Report struct {
	Timestamp          time.Time
	State              State
	Score              float64
	Analysis           Analysis
	SampleCount        int
	RecommendedActions []string
}

// Config holds monitor tuning parameters.
type Config struct {
	// SampleBufferSize bounds the rolling window.
	SampleBufferSize int

	// AnalysisInterval is the cadence of the analysis tick.
	AnalysisInterval time.Duration

	// MinSamplesForAnalysis is the minimum window population before the
	// state machine is allowed to move off its current state.
	MinSamplesForAnalysis int

	// StabilityThreshold is the overall score at or above which the link is
	// considered stable.
	StabilityThreshold float64

	// DropoutThreshold is the inter-arrival gap treated as a dropout.
	DropoutThreshold time.Duration

	// AllowUnknownSignals lets frames pass the filter while the state is
	// still Unknown (before enough samples accumulate).
	AllowUnknownSignals bool
}

// Defaults for the stability monitor.
const (
	DefaultSampleBufferSize      = 200
	DefaultAnalysisInterval      = 2 * time.Second
	DefaultMinSamplesForAnalysis = 10
	DefaultStabilityThreshold    = 80.0
	DefaultDropoutThreshold      = 5 * time.Second
)

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.SampleBufferSize == 0 {
		c.SampleBufferSize = DefaultSampleBufferSize
	}
	if c.AnalysisInterval == 0 {
		c.AnalysisInterval = DefaultAnalysisInterval
	}
	if c.MinSamplesForAnalysis == 0 {
		c.MinSamplesForAnalysis = DefaultMinSamplesForAnalysis
	}
	if c.StabilityThreshold == 0 {
		c.StabilityThreshold = DefaultStabilityThreshold
	}
	if c.DropoutThreshold == 0 {
		c.DropoutThreshold = DefaultDropoutThreshold
	}
}

// recommendedActions maps each state to a prioritized list of operator
// actions. Every state other than Stable carries at least one.
var recommendedActions = map[State][]string{
	StateUnknown: {
		"Wait for more samples to accumulate",
	},
	StateUnstable: {
		"Check cable shielding and connector seating",
		"Verify the scale is powered and transmitting",
	},
	StateNoisy: {
		"Check cable shielding",
		"Verify ground connections",
		"Move the serial cable away from power lines and motors",
	},
	StateIntermittent: {
		"Check for loose connectors",
		"Verify the converter is not dropping the serial link",
		"Confirm the scale transmit interval",
	},
	StateCorrupted: {
		"Verify baud rate, parity, and data bits match the scale",
		"Replace or reroute the serial cable",
	},
	StateDisconnected: {
		"Check the scale power and serial cable",
		"Verify the converter TCP port is reachable",
	},
}

// ActionsFor returns the recommended operator actions for a state.
func ActionsFor(state State) []string {
	actions := recommendedActions[state]
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}
