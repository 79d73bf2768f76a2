// Package discovery implements protocol discovery for scales of unknown
// make and model.
//
// Discovery runs in two phases. Phase A passively matches captured frames
// against the template library, scoring each candidate. When no template
// reaches the required confidence, phase B guides an operator through
// placing known weights on the scale and correlates the observed stream
// with the expected values; on success a new template is synthesized and
// can be persisted.
package discovery

import (
	"errors"
	"time"

	"github.com/marmos91/scalebridge/pkg/template"
)

// Sentinel errors surfaced to callers.
var (
	ErrSessionNotFound    = errors.New("discovery: session not found")
	ErrInvalidPhase       = errors.New("discovery: operation not valid in current phase")
	ErrAlreadyCompleted   = errors.New("discovery: session already completed")
	ErrNoFramesCaptured   = errors.New("discovery: no frames captured")
	ErrLowCorrelation     = errors.New("discovery: correlation below synthesis threshold")
	ErrSynthesisFailed    = errors.New("discovery: template synthesis failed")
	ErrTransportRequired  = errors.New("discovery: session requires a live transport")
	ErrInvalidGuidance    = errors.New("discovery: invalid interactive guidance")
	ErrConfigInvalid      = errors.New("discovery: invalid session configuration")
)

// Phase is the lifecycle phase of a discovery session.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseCapturingData
	PhaseTestingTemplates
	PhaseInteractiveDiscovery
	PhaseGeneratingTemplate
	PhaseCompleted
	PhaseFailed
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseCapturingData:
		return "capturing_data"
	case PhaseTestingTemplates:
		return "testing_templates"
	case PhaseInteractiveDiscovery:
		return "interactive_discovery"
	case PhaseGeneratingTemplate:
		return "generating_template"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase is a terminal state.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// validTransitions is the phase graph. The only permitted back-edge is
// InteractiveDiscovery -> CapturingData (additional sampling); any phase may
// move to Failed or Cancelled.
var validTransitions = map[Phase][]Phase{
	PhaseInitializing:         {PhaseCapturingData},
	PhaseCapturingData:        {PhaseTestingTemplates, PhaseInteractiveDiscovery},
	PhaseTestingTemplates:     {PhaseCompleted, PhaseInteractiveDiscovery},
	PhaseInteractiveDiscovery: {PhaseGeneratingTemplate, PhaseCapturingData},
	PhaseGeneratingTemplate:   {PhaseCompleted},
}

// CanTransition reports whether from -> to is a legal phase transition.
func CanTransition(from, to Phase) bool {
	if from.Terminal() {
		return false
	}
	if to == PhaseFailed || to == PhaseCancelled {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Frame is one filtered chunk captured during baseline sampling.
type Frame struct {
	Bytes     []byte
	Timestamp time.Time
	ValidHint bool
}

// Config holds per-session discovery tuning.
type Config struct {
	// DeviceID identifies the scale under discovery.
	DeviceID string

	// MinimumFramesForAnalysis stops baseline capture once reached.
	MinimumFramesForAnalysis int

	// BaselineCaptureTimeout bounds baseline capture.
	BaselineCaptureTimeout time.Duration

	// MaxBufferedFrames bounds the per-session capture buffer.
	MaxBufferedFrames int

	// ConfidenceThreshold is the phase A confidence required to complete
	// without the interactive phase.
	ConfidenceThreshold float64

	// TestFrameLimit caps the frames fed to each template test.
	TestFrameLimit int

	// SaveTemplate persists the winning template at completion.
	SaveTemplate bool
}

// Discovery defaults. Overridable per session through Config.
const (
	DefaultMinimumFrames          = 20
	DefaultBaselineCaptureTimeout = 30 * time.Second
	DefaultMaxBufferedFrames      = 1000
	DefaultConfidenceThreshold    = 85.0
	DefaultTestFrameLimit         = 50
	DefaultStepScoreThreshold     = 70.0
	DefaultSynthesisThreshold     = 70.0
)

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.MinimumFramesForAnalysis == 0 {
		c.MinimumFramesForAnalysis = DefaultMinimumFrames
	}
	if c.BaselineCaptureTimeout == 0 {
		c.BaselineCaptureTimeout = DefaultBaselineCaptureTimeout
	}
	if c.MaxBufferedFrames == 0 {
		c.MaxBufferedFrames = DefaultMaxBufferedFrames
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.TestFrameLimit == 0 {
		c.TestFrameLimit = DefaultTestFrameLimit
	}
}

// Validate rejects configurations that cannot drive a session.
func (c *Config) Validate() error {
	if c.MinimumFramesForAnalysis < 1 {
		return ErrConfigInvalid
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 100 {
		return ErrConfigInvalid
	}
	if c.MaxBufferedFrames < c.MinimumFramesForAnalysis {
		return ErrConfigInvalid
	}
	return nil
}

// TemplateResult is the outcome of testing one template against captured
// frames.
type TemplateResult struct {
	TemplateName     string
	Confidence       float64
	ParseRate        float64
	FrameConsistency float64
	FormatMatch      float64
	DataQuality      float64
	SuccessfulParses int
	FramesTested     int

	// SampleFields holds up to five extracted field maps for inspection.
	SampleFields []map[string]any
}

// StepStatus is the state of one interactive discovery step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepInProgress
	StepCompleted
	StepFailed
)

func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepInProgress:
		return "in_progress"
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StepGuidance describes one operator action of the interactive phase.
type StepGuidance struct {
	// Action names the operator action ("place_weight", "remove_weight").
	Action string

	// ExpectedWeight is the known weight placed on the scale, when the
	// action involves one.
	ExpectedWeight *float64

	// Instructions is the operator-facing text.
	Instructions string

	// CaptureTime is the stream capture window for this step.
	CaptureTime time.Duration
}

// InteractiveGuidance is the full operator script for phase B.
type InteractiveGuidance struct {
	Steps []StepGuidance

	// MinimumSteps is the number of completed steps required before a
	// template may be synthesized.
	MinimumSteps int
}

// Validate rejects unusable guidance.
func (g *InteractiveGuidance) Validate() error {
	if len(g.Steps) == 0 {
		return ErrInvalidGuidance
	}
	if g.MinimumSteps < 1 || g.MinimumSteps > len(g.Steps) {
		return ErrInvalidGuidance
	}
	for _, s := range g.Steps {
		if s.CaptureTime <= 0 {
			return ErrInvalidGuidance
		}
	}
	return nil
}

// StepAnalysis holds the per-step capture statistics.
type StepAnalysis struct {
	Confidence        float64
	DetectedPatterns  []string
	IsStable          bool
	FormatConsistency float64
}

// Step is one executed interactive discovery step.
type Step struct {
	StepNumber    int
	Action        string
	ExpectedValue *float64
	Instructions  string
	CapturedData  []string
	Analysis      StepAnalysis
	Status        StepStatus

	Score             float64
	WeightCorrelation float64
	TimingConsistency float64
	DataConsistency   float64
}

// CorrelationResult is the outcome of the interactive phase.
type CorrelationResult struct {
	// Overall is the mean of completed step scores.
	Overall float64

	CompletedSteps int
	FailedSteps    int

	// RecommendedAction is derived from the overall correlation band.
	RecommendedAction string
}

// Recommended next actions by correlation band.
const (
	ActionGenerateTemplate     = "Generate template"
	ActionGenerateWithValidate = "Generate template with validation"
	ActionCollectMoreData      = "Collect more data"
	ActionReviewSetup          = "Review setup"
)

// recommendAction maps an overall correlation onto the next action.
func recommendAction(overall float64) string {
	switch {
	case overall >= 85:
		return ActionGenerateTemplate
	case overall >= 70:
		return ActionGenerateWithValidate
	case overall >= 50:
		return ActionCollectMoreData
	default:
		return ActionReviewSetup
	}
}

// Result is the terminal outcome of a discovery session.
type Result struct {
	SessionID        string
	Success          bool
	BestTemplate     *template.Template
	Confidence       float64
	Duration         time.Duration
	CapturedFrames   int
	TestedTemplates  int
	InteractiveSteps int

	// Reason carries the failure reason for unsuccessful sessions.
	Reason string
}
