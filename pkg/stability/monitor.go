package stability

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/scalebridge/internal/logger"
)

// ReportHandler receives stability reports published on each analysis tick.
type ReportHandler func(Report)

// Monitor keeps a rolling window of stream samples, analyzes it on a fixed
// cadence, and exposes the adaptive frame filter.
//
// Producers (transport callbacks) call AddSample and Filter; the analysis
// tick is the single consumer of the window. All methods are safe for
// concurrent use.
type Monitor struct {
	cfg Config

	mu        sync.Mutex
	window    []Sample
	state     State
	lastScore float64
	lastTick  Report
	subs      map[int]ReportHandler
	nextSubID int
}

// NewMonitor creates a stability monitor. Run must be called to start the
// analysis tick.
func NewMonitor(cfg Config) *Monitor {
	cfg.ApplyDefaults()
	return &Monitor{
		cfg:    cfg,
		window: make([]Sample, 0, cfg.SampleBufferSize),
		state:  StateUnknown,
		subs:   make(map[int]ReportHandler),
	}
}

// State returns the state observed at the last analysis tick.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastReport returns the most recent report, or a zero report before the
// first tick.
func (m *Monitor) LastReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTick
}

// Subscribe registers a handler invoked on every analysis tick. Reports are
// serialized per monitor instance.
func (m *Monitor) Subscribe(h ReportHandler) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	m.subs[m.nextSubID] = h
	return m.nextSubID
}

// Unsubscribe removes a handler. Unknown tokens are ignored.
func (m *Monitor) Unsubscribe(token int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, token)
}

// AddSample appends a sample to the window, evicting the oldest when the
// window is full.
func (m *Monitor) AddSample(data []byte, ts time.Time, valid bool) {
	sample := NewSample(data, ts, valid)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.window) >= m.cfg.SampleBufferSize {
		m.window = m.window[1:]
	}
	m.window = append(m.window, sample)
}

// SampleCount returns the current window population.
func (m *Monitor) SampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.window)
}

// Run drives the analysis tick until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.AnalysisInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(time.Now().UTC())
		}
	}
}

// Tick runs one analysis pass and publishes the resulting report. Exposed
// separately from Run so callers with their own schedulers (and tests) can
// drive the cadence.
func (m *Monitor) Tick(now time.Time) Report {
	m.mu.Lock()
	snapshot := make([]Sample, len(m.window))
	copy(snapshot, m.window)
	prevState := m.state
	m.mu.Unlock()

	a := analyze(snapshot, m.cfg.DropoutThreshold)
	score := overallScore(a)

	state := prevState
	if len(snapshot) >= m.cfg.MinSamplesForAnalysis {
		state = nextState(a, score, m.cfg.StabilityThreshold)
	}

	report := Report{
		Timestamp:          now,
		State:              state,
		Score:              score,
		Analysis:           a,
		SampleCount:        len(snapshot),
		RecommendedActions: ActionsFor(state),
	}

	m.mu.Lock()
	m.state = state
	m.lastScore = score
	m.lastTick = report
	handlers := make([]ReportHandler, 0, len(m.subs))
	for _, h := range m.subs {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	if state != prevState {
		logger.Info("signal state changed",
			logger.StabilityState(state),
			logger.StabilityScore(score),
			logger.Samples(len(snapshot)))
	}

	for _, h := range handlers {
		h(report)
	}
	return report
}

// Control characters tolerated by the filter beyond printable ASCII. STX and
// ETX appear in enveloped scale frames, tab/CR/LF in delimited ones.
func filterWhitelisted(b byte) bool {
	return b >= 32 || b == 0x02 || b == 0x03 || b == '\t' || b == '\n' || b == '\r'
}

// Filter returns a possibly trimmed copy of data, or ok=false to reject the
// chunk, according to the state observed at the last analysis tick.
//
// The operation is pure with respect to its input and idempotent for a fixed
// state: filtering an already filtered chunk returns it unchanged.
func (m *Monitor) Filter(data []byte) ([]byte, bool) {
	m.mu.Lock()
	state := m.state
	allowUnknown := m.cfg.AllowUnknownSignals
	m.mu.Unlock()

	return filterForState(data, state, allowUnknown)
}

func filterForState(data []byte, state State, allowUnknown bool) ([]byte, bool) {
	switch state {
	case StateStable, StateUnstable:
		out := make([]byte, len(data))
		copy(out, data)
		return out, true

	case StateNoisy:
		kept := make([]byte, 0, len(data))
		for _, b := range data {
			if b != 0 && filterWhitelisted(b) {
				kept = append(kept, b)
			}
		}
		if len(data) > 0 && float64(len(kept))/float64(len(data)) < 0.7 {
			return nil, false
		}
		return kept, true

	case StateIntermittent:
		for _, b := range data {
			if b >= '0' && b <= '9' {
				out := make([]byte, len(data))
				copy(out, data)
				return out, true
			}
		}
		return nil, false

	case StateCorrupted:
		unexpected := 0
		for _, b := range data {
			if b == 0 {
				return nil, false
			}
			if !filterWhitelisted(b) {
				unexpected++
			}
		}
		if len(data) > 0 && float64(unexpected)/float64(len(data)) > 0.1 {
			return nil, false
		}
		out := make([]byte, len(data))
		copy(out, data)
		return out, true

	case StateDisconnected:
		return nil, false

	default: // StateUnknown
		if !allowUnknown {
			return nil, false
		}
		out := make([]byte, len(data))
		copy(out, data)
		return out, true
	}
}
