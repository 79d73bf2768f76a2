package discovery

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/scalebridge/pkg/stability"
	templatestore "github.com/marmos91/scalebridge/pkg/template/store"
	"github.com/marmos91/scalebridge/pkg/transport"
)

// scaleServer is an in-process converter endpoint that repeats one frame at
// a fixed interval to every client.
type scaleServer struct {
	ln       net.Listener
	frame    []byte
	interval time.Duration

	mu     sync.Mutex
	closed bool
}

func newScaleServer(t *testing.T, frame string, interval time.Duration) *scaleServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &scaleServer{ln: ln, frame: []byte(frame), interval: interval}
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *scaleServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()
			for range ticker.C {
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if closed {
					return
				}
				if _, err := conn.Write(s.frame); err != nil {
					return
				}
			}
		}(conn)
	}
}

func (s *scaleServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *scaleServer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ln.Close()
}

func testClient(t *testing.T, port int) *transport.Client {
	t.Helper()
	tc := transport.New(transport.Config{Host: "127.0.0.1", Port: port})
	if err := tc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(tc.Stop)
	return tc
}

func testStabilityConfig() stability.Config {
	return stability.Config{
		SampleBufferSize:      100,
		AnalysisInterval:      50 * time.Millisecond,
		MinSamplesForAnalysis: 5,
		StabilityThreshold:    80,
		DropoutThreshold:      2 * time.Second,
		AllowUnknownSignals:   true,
	}
}

func newTestEngine(t *testing.T, tc *transport.Client) (*Engine, *templatestore.MemoryStore) {
	t.Helper()
	store, err := templatestore.NewMemory()
	if err != nil {
		t.Fatal(err)
	}
	monitor := stability.NewMonitor(testStabilityConfig())
	return NewEngine(tc, monitor, store), store
}

func TestBaselineCapturesMinimumFrames(t *testing.T) {
	srv := newScaleServer(t, "\x02S     12.345 kg \x03\r\n", 10*time.Millisecond)
	tc := testClient(t, srv.Port())
	engine, _ := newTestEngine(t, tc)

	sess, err := NewSession(Config{
		DeviceID:                 "bench-scale",
		MinimumFramesForAnalysis: 5,
		BaselineCaptureTimeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.RunBaseline(ctx, sess); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	if got := sess.FrameCount(); got < 5 {
		t.Errorf("frames = %d, want >= 5", got)
	}
	if got := sess.Phase(); got != PhaseCapturingData {
		t.Errorf("phase = %s, want capturing_data", got)
	}
}

func TestBaselineTimeoutWithoutSignal(t *testing.T) {
	// A silent endpoint. Baseline capture must give up after its window and
	// hand the session to the interactive phase with zero frames.
	srv := newScaleServer(t, "", time.Hour)
	tc := testClient(t, srv.Port())
	engine, _ := newTestEngine(t, tc)

	sess, err := NewSession(Config{
		DeviceID:                 "silent-scale",
		MinimumFramesForAnalysis: 5,
		BaselineCaptureTimeout:   150 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.RunBaseline(ctx, sess); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	if got := sess.FrameCount(); got != 0 {
		t.Errorf("frames = %d, want 0", got)
	}
	if got := sess.Phase(); got != PhaseInteractiveDiscovery {
		t.Errorf("phase = %s, want interactive_discovery", got)
	}
}

func TestPhaseACompletesOnKnownProtocol(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	sess, err := NewSession(Config{DeviceID: "bench-scale", MinimumFramesForAnalysis: 5})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.transition(PhaseCapturingData); err != nil {
		t.Fatal(err)
	}
	for _, f := range repeatFrames("\x02S     12.345 kg \x03", 20) {
		sess.addFrame(f)
	}

	if err := engine.RunPhaseA(context.Background(), sess); err != nil {
		t.Fatalf("phase A: %v", err)
	}

	if got := sess.Phase(); got != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", got)
	}
	best, confidence := sess.Best()
	if best == nil || best.TemplateName != "mettler_toledo_standard" {
		t.Fatalf("best template = %v, want mettler_toledo_standard", best)
	}
	if confidence < 85 {
		t.Errorf("confidence = %.1f, want >= 85", confidence)
	}

	results := sess.TemplateResults()
	if len(results) != 6 {
		t.Errorf("tested templates = %d, want 6", len(results))
	}
}

func TestPhaseAFallsToInteractiveOnUnknownProtocol(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	sess, err := NewSession(Config{DeviceID: "bench-scale", MinimumFramesForAnalysis: 5})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.transition(PhaseCapturingData); err != nil {
		t.Fatal(err)
	}
	for _, f := range repeatFrames("ST,GS,+00123.5,kg", 20) {
		sess.addFrame(f)
	}

	if err := engine.RunPhaseA(context.Background(), sess); err != nil {
		t.Fatalf("phase A: %v", err)
	}
	if got := sess.Phase(); got != PhaseInteractiveDiscovery {
		t.Fatalf("phase = %s, want interactive_discovery", got)
	}
	if best, _ := sess.Best(); best != nil {
		t.Errorf("best = %s, want none", best.TemplateName)
	}
}

func TestPhaseANoFrames(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	sess, err := NewSession(Config{DeviceID: "bench-scale"})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.transition(PhaseCapturingData); err != nil {
		t.Fatal(err)
	}
	if err := engine.RunPhaseA(context.Background(), sess); err == nil {
		t.Fatal("expected error for empty capture")
	}
}

func TestInteractiveSynthesizesFromLiveStream(t *testing.T) {
	srv := newScaleServer(t, "ST,GS,+00123.5,kg\r\n", 20*time.Millisecond)
	tc := testClient(t, srv.Port())
	engine, _ := newTestEngine(t, tc)

	sess, err := NewSession(Config{DeviceID: "bench-scale"})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.transition(PhaseCapturingData); err != nil {
		t.Fatal(err)
	}
	if err := sess.transition(PhaseInteractiveDiscovery); err != nil {
		t.Fatal(err)
	}

	guidance := InteractiveGuidance{
		MinimumSteps: 1,
		Steps: []StepGuidance{
			{
				Action:         "place_weight",
				ExpectedWeight: ptr(123.5),
				Instructions:   "Place the 123.5 kg reference weight",
				CaptureTime:    400 * time.Millisecond,
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	corr, err := engine.RunInteractive(ctx, sess, guidance)
	if err != nil {
		t.Fatalf("interactive: %v", err)
	}
	if corr.CompletedSteps != 1 {
		t.Fatalf("completed steps = %d, want 1", corr.CompletedSteps)
	}
	if corr.Overall < DefaultSynthesisThreshold {
		t.Fatalf("correlation = %.1f, want >= %.0f", corr.Overall, DefaultSynthesisThreshold)
	}

	if got := sess.Phase(); got != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", got)
	}
	best, _ := sess.Best()
	if best == nil {
		t.Fatal("expected synthesized template")
	}
	if best.Framing.Delimiter != "\r\n" {
		t.Errorf("delimiter = %q, want CRLF", best.Framing.Delimiter)
	}
}

func TestInteractiveRequiresInteractivePhase(t *testing.T) {
	engine, _ := newTestEngine(t, testClient(t, newScaleServer(t, "x\n", time.Hour).Port()))
	sess, err := NewSession(Config{DeviceID: "bench-scale"})
	if err != nil {
		t.Fatal(err)
	}

	guidance := InteractiveGuidance{
		MinimumSteps: 1,
		Steps:        []StepGuidance{{Action: "place_weight", CaptureTime: time.Millisecond}},
	}
	if _, err := engine.RunInteractive(context.Background(), sess, guidance); err == nil {
		t.Fatal("expected phase error")
	}
}
