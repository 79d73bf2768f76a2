package discovery

import (
	"errors"
	"testing"
	"time"
)

func TestPhaseTransitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseInitializing, PhaseCapturingData, true},
		{PhaseCapturingData, PhaseTestingTemplates, true},
		{PhaseCapturingData, PhaseInteractiveDiscovery, true},
		{PhaseTestingTemplates, PhaseCompleted, true},
		{PhaseTestingTemplates, PhaseInteractiveDiscovery, true},
		{PhaseInteractiveDiscovery, PhaseGeneratingTemplate, true},
		{PhaseInteractiveDiscovery, PhaseCapturingData, true},
		{PhaseGeneratingTemplate, PhaseCompleted, true},
		{PhaseCapturingData, PhaseFailed, true},
		{PhaseInitializing, PhaseCancelled, true},

		{PhaseInitializing, PhaseTestingTemplates, false},
		{PhaseCapturingData, PhaseCompleted, false},
		{PhaseCompleted, PhaseCapturingData, false},
		{PhaseCancelled, PhaseCapturingData, false},
		{PhaseFailed, PhaseCompleted, false},
		{PhaseCompleted, PhaseFailed, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestSessionTransitionEnforced(t *testing.T) {
	sess, err := NewSession(Config{DeviceID: "dev"})
	if err != nil {
		t.Fatal(err)
	}

	if err := sess.transition(PhaseTestingTemplates); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("skip transition err = %v, want ErrInvalidPhase", err)
	}
	if err := sess.transition(PhaseCapturingData); err != nil {
		t.Fatalf("legal transition: %v", err)
	}

	sess.cancel()
	if err := sess.transition(PhaseTestingTemplates); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("terminal transition err = %v, want ErrAlreadyCompleted", err)
	}
}

func TestCancelTerminalNoOp(t *testing.T) {
	sess, err := NewSession(Config{DeviceID: "dev"})
	if err != nil {
		t.Fatal(err)
	}
	sess.fail("boom")
	sess.cancel()
	if got := sess.Phase(); got != PhaseFailed {
		t.Errorf("phase = %s, want failed after cancel no-op", got)
	}
}

func TestFrameBufferBound(t *testing.T) {
	sess, err := NewSession(Config{
		DeviceID:                 "dev",
		MinimumFramesForAnalysis: 2,
		MaxBufferedFrames:        3,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		sess.addFrame(Frame{Bytes: []byte("x"), Timestamp: time.Now()})
	}
	if got := sess.FrameCount(); got != 3 {
		t.Errorf("frames = %d, want buffer bound 3", got)
	}
}

func TestConfigValidate(t *testing.T) {
	bad := Config{MinimumFramesForAnalysis: 100, MaxBufferedFrames: 10}
	bad.BaselineCaptureTimeout = time.Second
	bad.ConfidenceThreshold = 85
	bad.TestFrameLimit = 50
	if err := bad.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("err = %v, want ErrConfigInvalid", err)
	}

	var good Config
	good.ApplyDefaults()
	if err := good.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestGuidanceValidate(t *testing.T) {
	g := InteractiveGuidance{}
	if err := g.Validate(); !errors.Is(err, ErrInvalidGuidance) {
		t.Errorf("empty guidance err = %v", err)
	}

	g = InteractiveGuidance{
		Steps:        []StepGuidance{{Action: "place_weight", CaptureTime: time.Second}},
		MinimumSteps: 2,
	}
	if err := g.Validate(); !errors.Is(err, ErrInvalidGuidance) {
		t.Errorf("minimum above step count err = %v", err)
	}

	g.MinimumSteps = 1
	if err := g.Validate(); err != nil {
		t.Errorf("valid guidance err = %v", err)
	}
}

func TestSnapshotCountsSteps(t *testing.T) {
	sess, err := NewSession(Config{DeviceID: "dev"})
	if err != nil {
		t.Fatal(err)
	}
	sess.addStep(&Step{Status: StepCompleted})
	sess.addStep(&Step{Status: StepCompleted})
	sess.addStep(&Step{Status: StepFailed})

	snap := sess.Snapshot()
	if snap.StepsCompleted != 2 || snap.StepsFailed != 1 {
		t.Errorf("steps = %d/%d, want 2/1", snap.StepsCompleted, snap.StepsFailed)
	}
	if snap.DeviceID != "dev" {
		t.Errorf("device = %q", snap.DeviceID)
	}
}
