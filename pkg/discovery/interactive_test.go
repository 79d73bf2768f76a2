package discovery

import (
	"testing"
	"time"
)

func ptr(v float64) *float64 { return &v }

func stepLines(line string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = line
	}
	return out
}

func TestAnalyzeStepExactWeight(t *testing.T) {
	step := &Step{
		StepNumber:   1,
		Action:       "place_weight",
		CapturedData: stepLines("ST,GS,+00123.5,kg", 10),
	}
	analyzeStep(step, StepGuidance{
		ExpectedWeight: ptr(123.5),
		CaptureTime:    5 * time.Second,
	})

	if step.WeightCorrelation != 100 {
		t.Errorf("weight correlation = %.1f, want 100", step.WeightCorrelation)
	}
	if step.Status != StepCompleted {
		t.Errorf("status = %s, want completed", step.Status)
	}
	if step.Score < DefaultStepScoreThreshold {
		t.Errorf("score = %.1f, want >= %.0f", step.Score, DefaultStepScoreThreshold)
	}
}

func TestAnalyzeStepWrongWeightFails(t *testing.T) {
	step := &Step{
		StepNumber:   1,
		Action:       "place_weight",
		CapturedData: stepLines("ST,GS,+00999.9,kg", 10),
	}
	analyzeStep(step, StepGuidance{
		ExpectedWeight: ptr(1.0),
		CaptureTime:    5 * time.Second,
	})

	if step.WeightCorrelation != 0 {
		t.Errorf("weight correlation = %.1f, want 0", step.WeightCorrelation)
	}
	if step.Status != StepFailed {
		t.Errorf("status = %s, want failed", step.Status)
	}
}

func TestAnalyzeStepNoData(t *testing.T) {
	step := &Step{StepNumber: 1, Action: "place_weight"}
	analyzeStep(step, StepGuidance{ExpectedWeight: ptr(5), CaptureTime: time.Second})
	if step.Status != StepFailed {
		t.Errorf("status = %s, want failed", step.Status)
	}
}

func TestAnalyzeStepNoExpectedWeight(t *testing.T) {
	// Tare and removal steps have no target weight; a live stream is enough.
	step := &Step{
		StepNumber:   2,
		Action:       "remove_weight",
		CapturedData: stepLines("ST,GS,+00000.0,kg", 8),
	}
	analyzeStep(step, StepGuidance{CaptureTime: 5 * time.Second})
	if step.WeightCorrelation != 100 {
		t.Errorf("weight correlation = %.1f, want 100", step.WeightCorrelation)
	}
}

func TestWeightCorrelationClosestToken(t *testing.T) {
	// The closest numeric token wins even when other numbers appear first.
	lines := []string{"ST,GS,+00050.0,kg", "ST,GS,+00051.0,kg"}
	got := weightCorrelation(lines, ptr(50.0))
	if got != 100 {
		t.Errorf("correlation = %.1f, want 100", got)
	}

	half := weightCorrelation([]string{"25.0"}, ptr(50.0))
	if half != 50 {
		t.Errorf("correlation = %.1f, want 50", half)
	}
}

func TestWeightCorrelationNoNumericToken(t *testing.T) {
	if got := weightCorrelation([]string{"no digits here"}, ptr(5)); got != 0 {
		t.Errorf("correlation = %.1f, want 0", got)
	}
}

func TestFormatConsistencyUniformLines(t *testing.T) {
	uniform := formatConsistency(stepLines("ST,GS,+00123.5,kg", 12))
	if uniform != 100 {
		t.Errorf("uniform consistency = %.1f, want 100", uniform)
	}

	mixed := formatConsistency([]string{"ST,GS,+00123.5,kg", "ERROR", "??", "x"})
	if mixed >= uniform {
		t.Errorf("mixed consistency %.1f not below uniform %.1f", mixed, uniform)
	}

	if got := formatConsistency(nil); got != 0 {
		t.Errorf("empty consistency = %.1f, want 0", got)
	}
	if got := formatConsistency([]string{"only one"}); got != 100 {
		t.Errorf("single line consistency = %.1f, want 100", got)
	}
}

func TestTimingConsistencyRateCap(t *testing.T) {
	// Many more lines than expected saturate the rate component.
	fast := timingConsistency(100, 5*time.Second, 100)
	if fast != 100 {
		t.Errorf("fast timing = %.1f, want 100", fast)
	}

	slow := timingConsistency(1, 10*time.Second, 100)
	if slow >= fast {
		t.Errorf("slow timing %.1f not below fast %.1f", slow, fast)
	}
}

func TestDetectPatterns(t *testing.T) {
	patterns := detectPatterns(stepLines("ST,GS,+00123.5,kg", 5))
	want := map[string]bool{"numeric": true, "comma_separated": true, "fixed_width": true}
	for _, p := range patterns {
		if !want[p] {
			t.Errorf("unexpected pattern %q", p)
		}
		delete(want, p)
	}
	for p := range want {
		t.Errorf("missing pattern %q", p)
	}
}

func TestCorrelateBands(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		action string
	}{
		{"generate", []float64{90, 92}, ActionGenerateTemplate},
		{"validate", []float64{75, 78}, ActionGenerateWithValidate},
		{"more data", []float64{55, 60}, ActionCollectMoreData},
		{"review", []float64{10, 20}, ActionReviewSetup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var steps []*Step
			for _, s := range tt.scores {
				steps = append(steps, &Step{Status: StepCompleted, Score: s})
			}
			steps = append(steps, &Step{Status: StepFailed})

			res := correlate(steps)
			if res.CompletedSteps != len(tt.scores) {
				t.Errorf("completed = %d, want %d", res.CompletedSteps, len(tt.scores))
			}
			if res.FailedSteps != 1 {
				t.Errorf("failed = %d, want 1", res.FailedSteps)
			}
			if res.RecommendedAction != tt.action {
				t.Errorf("action = %q, want %q", res.RecommendedAction, tt.action)
			}
		})
	}
}
