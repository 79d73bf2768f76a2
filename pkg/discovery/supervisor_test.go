package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/scalebridge/pkg/template"
	templatestore "github.com/marmos91/scalebridge/pkg/template/store"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newTestSupervisor(t *testing.T) (*Supervisor, *templatestore.MemoryStore) {
	t.Helper()
	store, err := templatestore.NewMemory()
	if err != nil {
		t.Fatal(err)
	}
	return NewSupervisor(store), store
}

func TestSupervisorKnownProtocolEndToEnd(t *testing.T) {
	srv := newScaleServer(t, "\x02S     12.345 kg \x03\r\n", 10*time.Millisecond)
	tc := testClient(t, srv.Port())
	sv, store := newTestSupervisor(t)

	var (
		mu      sync.Mutex
		results []Result
	)
	sv.SubscribeResults(func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})

	id, err := sv.Start(context.Background(), tc, Config{
		DeviceID:                 "bench-scale",
		MinimumFramesForAnalysis: 5,
		BaselineCaptureTimeout:   5 * time.Second,
	}, testStabilityConfig())
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, 10*time.Second, func() bool {
		st, err := sv.GetStatus(id)
		return err == nil && st.Phase == PhaseCompleted
	})

	st, err := sv.GetStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if st.BestTemplate != "mettler_toledo_standard" {
		t.Errorf("best = %q, want mettler_toledo_standard", st.BestTemplate)
	}

	// Exactly one terminal result.
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	})
	if _, err := sv.Complete(context.Background(), id, false); err != nil {
		t.Fatalf("complete: %v", err)
	}
	mu.Lock()
	if len(results) != 1 {
		t.Errorf("results delivered = %d, want exactly 1", len(results))
	}
	success := results[0].Success
	mu.Unlock()
	if !success {
		t.Error("result not successful")
	}

	// The matched template's usage must be recorded exactly once.
	tmpl, err := store.Get(context.Background(), "mettler_toledo_standard")
	if err != nil {
		t.Fatal(err)
	}
	if tmpl.UsageCount != 1 {
		t.Errorf("usage count = %d, want 1", tmpl.UsageCount)
	}
}

func TestSupervisorInteractiveFlowPersistsTemplate(t *testing.T) {
	srv := newScaleServer(t, "ST,GS,+00123.5,kg\r\n", 20*time.Millisecond)
	tc := testClient(t, srv.Port())
	sv, store := newTestSupervisor(t)

	id, err := sv.Start(context.Background(), tc, Config{
		DeviceID:                 "mystery-scale",
		MinimumFramesForAnalysis: 5,
		BaselineCaptureTimeout:   5 * time.Second,
		SaveTemplate:             true,
	}, testStabilityConfig())
	if err != nil {
		t.Fatal(err)
	}

	// No built-in matches this stream, so the session parks in the
	// interactive phase.
	waitFor(t, 10*time.Second, func() bool {
		st, err := sv.GetStatus(id)
		return err == nil && st.Phase == PhaseInteractiveDiscovery
	})

	guidance := InteractiveGuidance{
		MinimumSteps: 1,
		Steps: []StepGuidance{{
			Action:         "place_weight",
			ExpectedWeight: ptr(123.5),
			CaptureTime:    400 * time.Millisecond,
		}},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	corr, err := sv.ContinueInteractive(ctx, id, guidance)
	if err != nil {
		t.Fatalf("interactive: %v", err)
	}
	if corr.CompletedSteps != 1 {
		t.Fatalf("completed steps = %d, want 1", corr.CompletedSteps)
	}

	st, err := sv.GetStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", st.Phase)
	}

	// The synthesized template was persisted and its usage recorded.
	tmpl, err := store.Get(context.Background(), st.BestTemplate)
	if err != nil {
		t.Fatalf("persisted template: %v", err)
	}
	if tmpl.UsageCount != 1 {
		t.Errorf("usage count = %d, want 1", tmpl.UsageCount)
	}
	if tmpl.IsBuiltin {
		t.Error("synthesized template stored as builtin")
	}
}

func TestSupervisorDiscardedTemplateLeavesStoreUntouched(t *testing.T) {
	srv := newScaleServer(t, "ST,GS,+00123.5,kg\r\n", 20*time.Millisecond)
	tc := testClient(t, srv.Port())
	sv, store := newTestSupervisor(t)

	id, err := sv.Start(context.Background(), tc, Config{
		DeviceID:                 "mystery-scale",
		MinimumFramesForAnalysis: 5,
		BaselineCaptureTimeout:   5 * time.Second,
		SaveTemplate:             false,
	}, testStabilityConfig())
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, 10*time.Second, func() bool {
		st, err := sv.GetStatus(id)
		return err == nil && st.Phase == PhaseInteractiveDiscovery
	})

	guidance := InteractiveGuidance{
		MinimumSteps: 1,
		Steps: []StepGuidance{{
			Action:         "place_weight",
			ExpectedWeight: ptr(123.5),
			CaptureTime:    400 * time.Millisecond,
		}},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := sv.ContinueInteractive(ctx, id, guidance); err != nil {
		t.Fatalf("interactive: %v", err)
	}

	st, err := sv.GetStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", st.Phase)
	}

	// A discarded synthesized template never reaches the store, so no
	// usage counters exist to update for it.
	if _, err := store.Get(context.Background(), st.BestTemplate); !errors.Is(err, template.ErrNotFound) {
		t.Errorf("store get = %v, want ErrNotFound", err)
	}
}

func TestSupervisorProgressMonotone(t *testing.T) {
	srv := newScaleServer(t, "\x02S     12.345 kg \x03\r\n", 10*time.Millisecond)
	tc := testClient(t, srv.Port())
	sv, _ := newTestSupervisor(t)

	var (
		mu       sync.Mutex
		percents []float64
		done     bool
	)
	sv.SubscribeProgress(func(ev ProgressEvent) {
		mu.Lock()
		percents = append(percents, ev.Percent)
		if ev.Phase.Terminal() {
			done = true
		}
		mu.Unlock()
	})

	if _, err := sv.Start(context.Background(), tc, Config{
		DeviceID:                 "bench-scale",
		MinimumFramesForAnalysis: 5,
		BaselineCaptureTimeout:   5 * time.Second,
	}, testStabilityConfig()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 10*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done
	})

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress regressed: %.0f after %.0f", percents[i], percents[i-1])
		}
	}
	if percents[len(percents)-1] != 100 {
		t.Errorf("final progress = %.0f, want 100", percents[len(percents)-1])
	}
}

func TestSupervisorProgressEventsCarryMessages(t *testing.T) {
	srv := newScaleServer(t, "\x02S     12.345 kg \x03\r\n", 10*time.Millisecond)
	tc := testClient(t, srv.Port())
	sv, _ := newTestSupervisor(t)

	var (
		mu     sync.Mutex
		events []ProgressEvent
		done   bool
	)
	sv.SubscribeProgress(func(ev ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		if ev.Phase.Terminal() {
			done = true
		}
		mu.Unlock()
	})

	id, err := sv.Start(context.Background(), tc, Config{
		DeviceID:                 "bench-scale",
		MinimumFramesForAnalysis: 5,
		BaselineCaptureTimeout:   5 * time.Second,
	}, testStabilityConfig())
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, 10*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done
	})

	mu.Lock()
	for i, ev := range events {
		if ev.Message == "" {
			t.Errorf("event %d (%s) has no message", i, ev.Phase)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("event %d (%s) has no timestamp", i, ev.Phase)
		}
	}
	mu.Unlock()

	// A transition note, like the one recorded when the connection drops
	// mid-capture, takes precedence over the generic phase message.
	sv.mu.Lock()
	m := sv.sessions[id]
	sv.mu.Unlock()
	m.sess.setNote("connection lost during baseline capture after 3 frames, switching to interactive discovery")
	mu.Lock()
	seen := len(events)
	mu.Unlock()
	sv.publishProgress(m)

	mu.Lock()
	last := events[len(events)-1]
	if len(events) == seen || !strings.Contains(last.Message, "connection lost") {
		t.Errorf("note not surfaced, last message = %q", last.Message)
	}
	mu.Unlock()

	sv.publishProgress(m)
	mu.Lock()
	last = events[len(events)-1]
	mu.Unlock()
	if strings.Contains(last.Message, "connection lost") {
		t.Errorf("note repeated on next event: %q", last.Message)
	}
}

func TestSupervisorLateProgressSubscriberSeesCurrentPhase(t *testing.T) {
	srv := newScaleServer(t, "ST,GS,+00123.5,kg\r\n", 20*time.Millisecond)
	tc := testClient(t, srv.Port())
	sv, _ := newTestSupervisor(t)

	id, err := sv.Start(context.Background(), tc, Config{
		DeviceID:                 "mystery-scale",
		MinimumFramesForAnalysis: 5,
		BaselineCaptureTimeout:   5 * time.Second,
	}, testStabilityConfig())
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, 10*time.Second, func() bool {
		st, err := sv.GetStatus(id)
		return err == nil && st.Phase == PhaseInteractiveDiscovery
	})

	got := make(chan ProgressEvent, 1)
	sv.SubscribeProgress(func(ev ProgressEvent) {
		select {
		case got <- ev:
		default:
		}
	})

	select {
	case ev := <-got:
		if ev.SessionID != id || ev.Phase != PhaseInteractiveDiscovery {
			t.Errorf("replayed event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("late subscriber received no replay")
	}
}

func TestSupervisorCancel(t *testing.T) {
	srv := newScaleServer(t, "", time.Hour)
	tc := testClient(t, srv.Port())
	sv, _ := newTestSupervisor(t)

	id, err := sv.Start(context.Background(), tc, Config{
		DeviceID:               "silent-scale",
		BaselineCaptureTimeout: time.Hour,
	}, testStabilityConfig())
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		st, err := sv.GetStatus(id)
		return err == nil && st.Phase == PhaseCapturingData
	})

	if err := sv.Cancel(id); err != nil {
		t.Fatal(err)
	}
	st, err := sv.GetStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase != PhaseCancelled {
		t.Errorf("phase = %s, want cancelled", st.Phase)
	}

	// Cancelling again is a no-op.
	if err := sv.Cancel(id); err != nil {
		t.Errorf("second cancel: %v", err)
	}
}

func TestSupervisorUnknownSession(t *testing.T) {
	sv, _ := newTestSupervisor(t)
	if _, err := sv.GetStatus("nope"); err != ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
	if err := sv.Cancel("nope"); err != ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSupervisorSweepExpiresStaleSessions(t *testing.T) {
	srv := newScaleServer(t, "", time.Hour)
	tc := testClient(t, srv.Port())
	sv, _ := newTestSupervisor(t)
	sv.SetSessionTTL(50 * time.Millisecond)

	id, err := sv.Start(context.Background(), tc, Config{
		DeviceID:               "silent-scale",
		BaselineCaptureTimeout: time.Hour,
	}, testStabilityConfig())
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	sv.sweep(time.Now())

	st, err := sv.GetStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Phase.Terminal() {
		t.Errorf("phase = %s, want terminal after sweep", st.Phase)
	}
}
