package discovery

import (
	"reflect"
	"testing"

	"github.com/marmos91/scalebridge/pkg/template"
)

// csvSession builds a session whose interactive phase captured a comma
// separated stream no built-in template understands.
func csvSession(t *testing.T) *Session {
	t.Helper()
	sess, err := NewSession(Config{DeviceID: "scale-7"})
	if err != nil {
		t.Fatal(err)
	}

	steps := []*Step{
		{
			StepNumber:    1,
			Action:        "place_weight",
			ExpectedValue: ptr(123.5),
			CapturedData:  stepLines("ST,GS,+00123.5,kg", 10),
			Status:        StepCompleted,
			Score:         95,
		},
		{
			StepNumber:    2,
			Action:        "place_weight",
			ExpectedValue: ptr(250.0),
			CapturedData:  stepLines("ST,GS,+00250.0,kg", 10),
			Status:        StepCompleted,
			Score:         93,
		},
		{
			StepNumber:   3,
			Action:       "remove_weight",
			CapturedData: stepLines("ST,GS,+00000.0,kg", 10),
			Status:       StepCompleted,
			Score:        90,
		},
	}
	for _, s := range steps {
		sess.addStep(s)
	}
	sess.setCorrelation(correlate(steps))
	sess.countLineEndings(30, 0)
	return sess
}

func TestSynthesizeCSVTemplate(t *testing.T) {
	sess := csvSession(t)

	tmpl, err := Synthesize(sess, 2)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	if tmpl.Framing.Delimiter != "\r\n" {
		t.Errorf("delimiter = %q, want CRLF", tmpl.Framing.Delimiter)
	}
	if tmpl.Framing.Encoding != "ascii" {
		t.Errorf("encoding = %q, want ascii", tmpl.Framing.Encoding)
	}

	if len(tmpl.Fields) != 2 {
		t.Fatalf("fields = %d, want weight and unit", len(tmpl.Fields))
	}
	weight := tmpl.Fields[0]
	if weight.Name != "weight" || weight.Rule.Kind != template.RuleOffset {
		t.Fatalf("first field = %+v, want offset weight rule", weight)
	}
	if weight.Rule.Offset != 6 || weight.Rule.Length != 8 {
		t.Errorf("weight rule offset/length = %d/%d, want 6/8", weight.Rule.Offset, weight.Rule.Length)
	}
	if weight.DecimalPlaces != 1 {
		t.Errorf("decimal places = %d, want 1", weight.DecimalPlaces)
	}
	if tmpl.Fields[1].Name != "unit" {
		t.Errorf("second field = %s, want unit", tmpl.Fields[1].Name)
	}

	if err := tmpl.Validate(); err != nil {
		t.Errorf("synthesized template invalid: %v", err)
	}
	if tmpl.IsBuiltin {
		t.Error("synthesized template must not be builtin")
	}
	if tmpl.Tags["origin"] != "interactive_discovery" {
		t.Errorf("origin tag = %q", tmpl.Tags["origin"])
	}
}

func TestSynthesizeDeterministic(t *testing.T) {
	sess := csvSession(t)

	a, err := Synthesize(sess, 2)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Synthesize(sess, 2)
	if err != nil {
		t.Fatal(err)
	}

	// Timestamps aside, two runs over the same captures must agree.
	b.CreatedAt, b.ModifiedAt = a.CreatedAt, a.ModifiedAt
	if !reflect.DeepEqual(a, b) {
		t.Errorf("synthesis not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestSynthesizeRetestConfidence(t *testing.T) {
	// Parsing the captured stream with the freshly synthesized template must
	// score at least as well as the correlation that produced it.
	sess := csvSession(t)
	tmpl, err := Synthesize(sess, 2)
	if err != nil {
		t.Fatal(err)
	}
	sess.setBest(tmpl, sess.Correlation().Overall)

	e := NewEngine(nil, nil, nil)
	res := e.RetestSynthesized(sess)
	if res.Confidence < sess.Correlation().Overall {
		t.Errorf("retest confidence %.1f below correlation %.1f",
			res.Confidence, sess.Correlation().Overall)
	}
	if w, ok := res.SampleFields[0]["weight"].(float64); !ok || w != 123.5 {
		t.Errorf("retest weight = %v, want 123.5", res.SampleFields[0]["weight"])
	}
}

func TestSynthesizeTooFewSteps(t *testing.T) {
	sess := csvSession(t)
	if _, err := Synthesize(sess, 5); err == nil {
		t.Fatal("expected error for too few completed steps")
	}
}

func TestSynthesizeLowCorrelation(t *testing.T) {
	sess, err := NewSession(Config{DeviceID: "scale-8"})
	if err != nil {
		t.Fatal(err)
	}
	step := &Step{
		StepNumber:   1,
		CapturedData: stepLines("ST,GS,+00003.0,kg", 3),
		Status:       StepCompleted,
		Score:        40,
	}
	sess.addStep(step)
	sess.setCorrelation(correlate([]*Step{step}))

	if _, err := Synthesize(sess, 1); err == nil {
		t.Fatal("expected low correlation error")
	}
}

func TestSynthesizeStabilityCodeFallback(t *testing.T) {
	// Streams without a known unit but with a short trailing code get a
	// stability enum field instead.
	sess, err := NewSession(Config{DeviceID: "scale-9"})
	if err != nil {
		t.Fatal(err)
	}
	steps := []*Step{
		{
			StepNumber:    1,
			ExpectedValue: ptr(12.0),
			CapturedData:  stepLines("W +012.00 OK", 10),
			Status:        StepCompleted,
			Score:         90,
		},
		{
			StepNumber:    2,
			ExpectedValue: ptr(30.0),
			CapturedData:  stepLines("W +030.00 OK", 10),
			Status:        StepCompleted,
			Score:         88,
		},
	}
	for _, s := range steps {
		sess.addStep(s)
	}
	sess.setCorrelation(correlate(steps))
	sess.countLineEndings(0, 20)

	tmpl, err := Synthesize(sess, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tmpl.Fields) != 2 || tmpl.Fields[1].Name != "stability" {
		t.Fatalf("fields = %+v, want weight plus stability", tmpl.Fields)
	}
	if tmpl.Framing.Delimiter != "\n" {
		t.Errorf("delimiter = %q, want LF", tmpl.Framing.Delimiter)
	}
}
