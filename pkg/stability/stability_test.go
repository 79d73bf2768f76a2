package stability

import (
	"bytes"
	"fmt"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		SampleBufferSize:      50,
		AnalysisInterval:      time.Second,
		MinSamplesForAnalysis: 10,
		StabilityThreshold:    80,
		DropoutThreshold:      5 * time.Second,
	}
}

// feedFrames adds n copies of frame at a fixed interval ending at base.
func feedFrames(m *Monitor, frame []byte, n int, base time.Time, interval time.Duration) {
	for i := 0; i < n; i++ {
		m.AddSample(frame, base.Add(time.Duration(i)*interval), true)
	}
}

func TestNewSample(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		wantNull    bool
		wantControl bool
		wantSignal  float64
	}{
		{"clean ascii", []byte("12.345 kg\r\n"), false, false, 1.0},
		{"null bytes", []byte{'1', 0, '2', 0}, true, false, 0.5},
		{"control chars", []byte{'1', 0x1b, '2', '3'}, false, true, 0.75},
		{"empty", nil, false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSample(tt.data, time.Now(), true)
			if s.HasNullBytes != tt.wantNull {
				t.Errorf("HasNullBytes = %v, want %v", s.HasNullBytes, tt.wantNull)
			}
			if s.HasControlChars != tt.wantControl {
				t.Errorf("HasControlChars = %v, want %v", s.HasControlChars, tt.wantControl)
			}
			if s.SignalStrength != tt.wantSignal {
				t.Errorf("SignalStrength = %v, want %v", s.SignalStrength, tt.wantSignal)
			}
		})
	}
}

func TestWindowEviction(t *testing.T) {
	cfg := testConfig()
	cfg.SampleBufferSize = 5
	m := NewMonitor(cfg)

	feedFrames(m, []byte("x"), 8, time.Now(), time.Second)
	if got := m.SampleCount(); got != 5 {
		t.Errorf("window population = %d, want 5", got)
	}
}

func TestStableClassification(t *testing.T) {
	m := NewMonitor(testConfig())
	base := time.Now()
	feedFrames(m, []byte("\x02S     12.345 kg \x03\r\n"), 30, base, time.Second)

	report := m.Tick(base.Add(30 * time.Second))
	if report.State != StateStable {
		t.Fatalf("state = %v (score %.1f), want stable", report.State, report.Score)
	}
	if report.Score < 80 {
		t.Errorf("score = %.1f, want >= 80", report.Score)
	}
}

func TestDisconnectedClassification(t *testing.T) {
	m := NewMonitor(testConfig())
	base := time.Now()
	for i := 0; i < 20; i++ {
		m.AddSample(nil, base.Add(time.Duration(i)*time.Second), false)
	}

	report := m.Tick(base.Add(20 * time.Second))
	if report.State != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", report.State)
	}
	if report.Analysis.ValidRate >= 0.1 {
		t.Errorf("valid rate = %.2f, want < 0.1", report.Analysis.ValidRate)
	}
}

func TestCorruptedClassification(t *testing.T) {
	m := NewMonitor(testConfig())
	base := time.Now()
	// Heavy nulls and rogue control bytes in most frames.
	frame := []byte{0, 0, 0x1b, 0x05, 0, '1', 0, 0x07, 0, 0}
	for i := 0; i < 20; i++ {
		m.AddSample(frame, base.Add(time.Duration(i)*time.Second), true)
	}

	report := m.Tick(base.Add(20 * time.Second))
	if report.State != StateCorrupted {
		t.Fatalf("state = %v (quality %.1f), want corrupted",
			report.State, report.Analysis.DataQuality)
	}
}

func TestMinSamplesBoundary(t *testing.T) {
	cfg := testConfig()
	m := NewMonitor(cfg)
	base := time.Now()

	// One sample short of the minimum: state must not move off Unknown.
	feedFrames(m, []byte("12.345 kg\r\n"), cfg.MinSamplesForAnalysis-1, base, time.Second)
	report := m.Tick(base)
	if report.State != StateUnknown {
		t.Fatalf("state with %d samples = %v, want unknown",
			cfg.MinSamplesForAnalysis-1, report.State)
	}

	// One more sample crosses the threshold.
	m.AddSample([]byte("12.345 kg\r\n"), base.Add(time.Duration(cfg.MinSamplesForAnalysis)*time.Second), true)
	report = m.Tick(base)
	if report.State == StateUnknown {
		t.Fatal("state did not change once the minimum window population was reached")
	}
}

func TestRecommendedActions(t *testing.T) {
	states := []State{
		StateUnknown, StateUnstable, StateNoisy,
		StateIntermittent, StateCorrupted, StateDisconnected,
	}
	for _, s := range states {
		if len(ActionsFor(s)) == 0 {
			t.Errorf("state %v carries no recommended actions", s)
		}
	}
}

func TestFilterByState(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		data     []byte
		wantOK   bool
		wantData []byte
	}{
		{"stable passes through", StateStable, []byte("12.3 kg\r\n"), true, []byte("12.3 kg\r\n")},
		{"unstable passes through", StateUnstable, []byte("12.3 kg\r\n"), true, []byte("12.3 kg\r\n")},
		{"noisy drops nulls", StateNoisy, []byte{'1', 0, '2', '.', '3'}, true, []byte("12.3")},
		{"noisy rejects heavy loss", StateNoisy, []byte{0, 0, 0, 0, 0, 0, '1', '2', '3', '4'}, false, nil},
		{"intermittent needs digit", StateIntermittent, []byte("weight: 5"), true, []byte("weight: 5")},
		{"intermittent rejects no digit", StateIntermittent, []byte("ready"), false, nil},
		{"corrupted rejects null", StateCorrupted, []byte{'1', 0, '2'}, false, nil},
		{"corrupted rejects control burst", StateCorrupted, []byte{0x1b, 0x05, '1', '2', '3'}, false, nil},
		{"corrupted accepts clean", StateCorrupted, []byte("12.3 kg\r\n"), true, []byte("12.3 kg\r\n")},
		{"disconnected rejects", StateDisconnected, []byte("12.3"), false, nil},
		{"unknown rejects by default", StateUnknown, []byte("12.3"), false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := filterForState(tt.data, tt.state, false)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !bytes.Equal(got, tt.wantData) {
				t.Errorf("filtered = %q, want %q", got, tt.wantData)
			}
		})
	}
}

func TestFilterAllowUnknown(t *testing.T) {
	got, ok := filterForState([]byte("12.3"), StateUnknown, true)
	if !ok || !bytes.Equal(got, []byte("12.3")) {
		t.Errorf("filter(unknown, allow) = %q, %v; want pass-through", got, ok)
	}
}

func TestFilterIdempotent(t *testing.T) {
	inputs := [][]byte{
		[]byte("12.345 kg\r\n"),
		{'1', 0, '2', 0x1b, '.', '3', ' ', 'k', 'g'},
		[]byte("ST,GS,+00123.5,kg\r\n"),
	}
	states := []State{StateStable, StateNoisy, StateIntermittent, StateCorrupted}

	for _, state := range states {
		for i, in := range inputs {
			t.Run(fmt.Sprintf("%v/%d", state, i), func(t *testing.T) {
				once, ok1 := filterForState(in, state, false)
				if !ok1 {
					return
				}
				twice, ok2 := filterForState(once, state, false)
				if !ok2 {
					t.Fatalf("second filter rejected output of first: %q", once)
				}
				if !bytes.Equal(once, twice) {
					t.Errorf("filter not idempotent: %q -> %q", once, twice)
				}
			})
		}
	}
}

func TestFilterPure(t *testing.T) {
	in := []byte{'1', 0, '2'}
	orig := append([]byte(nil), in...)
	filterForState(in, StateNoisy, false)
	if !bytes.Equal(in, orig) {
		t.Errorf("filter mutated its input: %v", in)
	}
}

func TestDisconnectedFilterRejectsEverything(t *testing.T) {
	m := NewMonitor(testConfig())
	base := time.Now()
	for i := 0; i < 20; i++ {
		m.AddSample(nil, base.Add(time.Duration(i)*time.Second), false)
	}
	m.Tick(base)

	for _, data := range [][]byte{[]byte("a"), []byte("12.3"), {0}} {
		if _, ok := m.Filter(data); ok {
			t.Errorf("filter accepted %q while disconnected", data)
		}
	}
}

func TestReportSubscription(t *testing.T) {
	m := NewMonitor(testConfig())
	var reports []Report
	token := m.Subscribe(func(r Report) { reports = append(reports, r) })

	base := time.Now()
	feedFrames(m, []byte("12.345 kg\r\n"), 20, base, time.Second)
	m.Tick(base)
	m.Tick(base.Add(time.Second))

	if len(reports) != 2 {
		t.Fatalf("received %d reports, want 2", len(reports))
	}
	if reports[0].SampleCount != 20 {
		t.Errorf("sample count = %d, want 20", reports[0].SampleCount)
	}

	m.Unsubscribe(token)
	m.Tick(base.Add(2 * time.Second))
	if len(reports) != 2 {
		t.Error("handler invoked after unsubscribe")
	}
}

func TestDropoutDetection(t *testing.T) {
	cfg := testConfig()
	cfg.DropoutThreshold = 2 * time.Second
	m := NewMonitor(cfg)

	base := time.Now()
	// Every third gap is a 10s dropout; the rest arrive every second. Half
	// the samples are invalid so the dropout branch is reachable.
	ts := base
	for i := 0; i < 20; i++ {
		if i%3 == 2 {
			ts = ts.Add(10 * time.Second)
		} else {
			ts = ts.Add(time.Second)
		}
		m.AddSample([]byte("12.3"), ts, i%2 == 0)
	}

	report := m.Tick(ts)
	if !report.Analysis.DropoutsDetected {
		t.Fatal("dropouts not detected")
	}
	if report.State != StateIntermittent {
		t.Errorf("state = %v, want intermittent", report.State)
	}
}
