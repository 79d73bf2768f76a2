package discovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/scalebridge/pkg/template"
)

// Session is one discovery session. All state is guarded by the internal
// mutex; the session is safe for concurrent access from the engine, the
// supervisor and status queries.
type Session struct {
	mu sync.Mutex

	ID        string
	Config    Config
	StartedAt time.Time

	phase        Phase
	phaseChanged time.Time

	frames          []Frame
	templateResults []TemplateResult
	steps           []*Step
	correlation     *CorrelationResult

	bestTemplate   *template.Template
	bestConfidence float64

	// crlfLines and lfLines count line terminators seen during interactive
	// capture, used to pick the synthesized delimiter.
	crlfLines int
	lfLines   int

	failReason string

	// note is a one-shot human-readable line describing the most recent
	// transition, consumed by the next progress event.
	note string
}

// NewSession creates an initializing session with the given configuration.
func NewSession(cfg Config) (*Session, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		Config:       cfg,
		StartedAt:    now,
		phase:        PhaseInitializing,
		phaseChanged: now,
	}, nil
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// transition moves the session to the target phase, enforcing the phase
// graph. Transitions out of a terminal phase are rejected.
func (s *Session) transition(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to Phase) error {
	if s.phase.Terminal() {
		return fmt.Errorf("%w: session %s is %s", ErrAlreadyCompleted, s.ID, s.phase)
	}
	if !CanTransition(s.phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPhase, s.phase, to)
	}
	s.phase = to
	s.phaseChanged = time.Now()
	return nil
}

// fail moves the session to Failed with a reason, from any non-terminal phase.
func (s *Session) fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return
	}
	s.phase = PhaseFailed
	s.phaseChanged = time.Now()
	s.failReason = reason
}

// cancel moves the session to Cancelled. Cancelling a terminal session is a
// no-op.
func (s *Session) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return
	}
	s.phase = PhaseCancelled
	s.phaseChanged = time.Now()
}

// setNote stores a transition message for the next progress event.
func (s *Session) setNote(note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.note = note
}

// takeNote returns the pending transition message and clears it.
func (s *Session) takeNote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	note := s.note
	s.note = ""
	return note
}

// addFrame appends a captured frame, honoring the buffer bound. Returns the
// new frame count.
func (s *Session) addFrame(f Frame) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) >= s.Config.MaxBufferedFrames {
		return len(s.frames)
	}
	s.frames = append(s.frames, f)
	return len(s.frames)
}

// Frames returns a copy of the captured frames.
func (s *Session) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// FrameCount returns the number of captured frames.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *Session) setTemplateResults(results []TemplateResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templateResults = results
}

// TemplateResults returns a copy of the phase A results, best first.
func (s *Session) TemplateResults() []TemplateResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TemplateResult, len(s.templateResults))
	copy(out, s.templateResults)
	return out
}

func (s *Session) setBest(tmpl *template.Template, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bestTemplate = tmpl
	s.bestConfidence = confidence
}

// Best returns the best template found so far and its confidence.
func (s *Session) Best() (*template.Template, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestTemplate, s.bestConfidence
}

func (s *Session) addStep(step *Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

// Steps returns the executed interactive steps.
func (s *Session) Steps() []*Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Step, len(s.steps))
	copy(out, s.steps)
	return out
}

func (s *Session) setCorrelation(c *CorrelationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correlation = c
}

// Correlation returns the interactive phase result, or nil before phase B.
func (s *Session) Correlation() *CorrelationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.correlation
}

func (s *Session) countLineEndings(crlf, lf int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crlfLines += crlf
	s.lfLines += lf
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	SessionID      string
	DeviceID       string
	Phase          Phase
	StartedAt      time.Time
	CapturedFrames int
	BestTemplate   string
	BestConfidence float64
	StepsCompleted int
	StepsFailed    int
	FailReason     string
}

// Snapshot returns the current session status.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		SessionID:      s.ID,
		DeviceID:       s.Config.DeviceID,
		Phase:          s.phase,
		StartedAt:      s.StartedAt,
		CapturedFrames: len(s.frames),
		BestConfidence: s.bestConfidence,
		FailReason:     s.failReason,
	}
	if s.bestTemplate != nil {
		st.BestTemplate = s.bestTemplate.TemplateName
	}
	for _, step := range s.steps {
		switch step.Status {
		case StepCompleted:
			st.StepsCompleted++
		case StepFailed:
			st.StepsFailed++
		}
	}
	return st
}

// result builds the terminal Result for the session.
func (s *Session) result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := Result{
		SessionID:        s.ID,
		Success:          s.phase == PhaseCompleted,
		BestTemplate:     s.bestTemplate,
		Confidence:       s.bestConfidence,
		Duration:         time.Since(s.StartedAt),
		CapturedFrames:   len(s.frames),
		TestedTemplates:  len(s.templateResults),
		InteractiveSteps: len(s.steps),
		Reason:           s.failReason,
	}
	return r
}
