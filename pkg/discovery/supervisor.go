package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/scalebridge/internal/logger"
	"github.com/marmos91/scalebridge/pkg/stability"
	"github.com/marmos91/scalebridge/pkg/template"
	templatestore "github.com/marmos91/scalebridge/pkg/template/store"
	"github.com/marmos91/scalebridge/pkg/transport"
)

// DefaultSessionTTL is how long an idle session may live before the sweeper
// cancels it.
const DefaultSessionTTL = time.Hour

// ProgressEvent is a progress update for one session. Progress percent is
// monotonically non-decreasing for the lifetime of a session, and every
// event carries a human-readable message and emission timestamp.
type ProgressEvent struct {
	SessionID string
	Phase     Phase
	Percent   float64
	Frames    int
	Message   string
	Timestamp time.Time
}

// ProgressHandler receives session progress events.
type ProgressHandler func(ProgressEvent)

// ResultHandler receives exactly one terminal result per session.
type ResultHandler func(Result)

// StabilityHandler receives stability reports tagged with their session.
type StabilityHandler func(sessionID string, report stability.Report)

// phaseProgress maps each phase onto a baseline progress percentage.
var phaseProgress = map[Phase]float64{
	PhaseInitializing:         0,
	PhaseCapturingData:        10,
	PhaseTestingTemplates:     40,
	PhaseInteractiveDiscovery: 60,
	PhaseGeneratingTemplate:   90,
	PhaseCompleted:            100,
	PhaseFailed:               100,
	PhaseCancelled:            100,
}

// phaseMessage describes what the session is doing in each phase. A failed
// snapshot appends its reason.
func phaseMessage(snap Status) string {
	switch snap.Phase {
	case PhaseInitializing:
		return "session created"
	case PhaseCapturingData:
		return "capturing baseline frames"
	case PhaseTestingTemplates:
		return "testing templates against captured frames"
	case PhaseInteractiveDiscovery:
		return "awaiting operator guidance"
	case PhaseGeneratingTemplate:
		return "synthesizing template from guided steps"
	case PhaseCompleted:
		return "discovery completed"
	case PhaseFailed:
		if snap.FailReason != "" {
			return "discovery failed: " + snap.FailReason
		}
		return "discovery failed"
	case PhaseCancelled:
		return "session cancelled"
	default:
		return ""
	}
}

type managedSession struct {
	sess    *Session
	engine  *Engine
	monitor *stability.Monitor
	cancel  context.CancelFunc

	lastPercent float64
	lastReport  *stability.Report
	bumped      bool
	saved       bool
	resultSent  bool
	touchedAt   time.Time
}

// Supervisor owns all discovery sessions: it starts them, relays their
// progress, stability and result streams, and sweeps abandoned sessions.
type Supervisor struct {
	mu       sync.Mutex
	store    templatestore.Store
	sessions map[string]*managedSession
	ttl      time.Duration

	nextToken     int
	progressSubs  map[int]ProgressHandler
	resultSubs    map[int]ResultHandler
	stabilitySubs map[int]StabilityHandler
}

// NewSupervisor creates a supervisor backed by the given template store.
func NewSupervisor(store templatestore.Store) *Supervisor {
	return &Supervisor{
		store:         store,
		sessions:      make(map[string]*managedSession),
		ttl:           DefaultSessionTTL,
		progressSubs:  make(map[int]ProgressHandler),
		resultSubs:    make(map[int]ResultHandler),
		stabilitySubs: make(map[int]StabilityHandler),
	}
}

// SetSessionTTL overrides the idle session lifetime.
func (sv *Supervisor) SetSessionTTL(ttl time.Duration) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if ttl > 0 {
		sv.ttl = ttl
	}
}

// SubscribeProgress registers a progress handler. The handler immediately
// receives the current phase of every live session, so subscribers joining
// mid-session see where each session stands.
func (sv *Supervisor) SubscribeProgress(h ProgressHandler) int {
	sv.mu.Lock()
	token := sv.nextToken
	sv.nextToken++
	sv.progressSubs[token] = h
	var replay []ProgressEvent
	for _, m := range sv.sessions {
		snap := m.sess.Snapshot()
		replay = append(replay, ProgressEvent{
			SessionID: snap.SessionID,
			Phase:     snap.Phase,
			Percent:   m.lastPercent,
			Frames:    snap.CapturedFrames,
			Message:   phaseMessage(snap),
			Timestamp: time.Now(),
		})
	}
	sv.mu.Unlock()

	for _, ev := range replay {
		h(ev)
	}
	return token
}

// SubscribeResults registers a terminal result handler.
func (sv *Supervisor) SubscribeResults(h ResultHandler) int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	token := sv.nextToken
	sv.nextToken++
	sv.resultSubs[token] = h
	return token
}

// SubscribeStability registers a stability handler. The handler immediately
// receives the last report of every session that has one.
func (sv *Supervisor) SubscribeStability(h StabilityHandler) int {
	sv.mu.Lock()
	token := sv.nextToken
	sv.nextToken++
	sv.stabilitySubs[token] = h
	type last struct {
		id     string
		report stability.Report
	}
	var replay []last
	for id, m := range sv.sessions {
		if m.lastReport != nil {
			replay = append(replay, last{id, *m.lastReport})
		}
	}
	sv.mu.Unlock()

	for _, l := range replay {
		h(l.id, l.report)
	}
	return token
}

// Unsubscribe removes a handler registered by any of the Subscribe methods.
func (sv *Supervisor) Unsubscribe(token int) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	delete(sv.progressSubs, token)
	delete(sv.resultSubs, token)
	delete(sv.stabilitySubs, token)
}

// Start creates a session and runs baseline capture plus template testing in
// the background. It returns the session ID immediately.
func (sv *Supervisor) Start(ctx context.Context, tc *transport.Client, cfg Config, stabCfg stability.Config) (string, error) {
	if tc == nil {
		return "", ErrTransportRequired
	}
	sess, err := NewSession(cfg)
	if err != nil {
		return "", err
	}

	monitor := stability.NewMonitor(stabCfg)
	engine := NewEngine(tc, monitor, sv.store)

	runCtx, cancel := context.WithCancel(ctx)
	m := &managedSession{
		sess:      sess,
		engine:    engine,
		monitor:   monitor,
		cancel:    cancel,
		touchedAt: time.Now(),
	}

	sv.mu.Lock()
	sv.sessions[sess.ID] = m
	sv.mu.Unlock()

	monitor.Subscribe(func(r stability.Report) {
		sv.publishStability(sess.ID, r)
	})

	go sv.runAutomatic(runCtx, m)

	logger.Info("discovery session started",
		logger.SessionID(sess.ID),
		logger.DeviceID(cfg.DeviceID),
	)
	return sess.ID, nil
}

// runAutomatic drives baseline capture and phase A. The session ends up
// Completed, Failed, or parked in InteractiveDiscovery awaiting guidance.
func (sv *Supervisor) runAutomatic(ctx context.Context, m *managedSession) {
	sess := m.sess
	sv.publishProgress(m)

	if err := m.engine.RunBaseline(ctx, sess); err != nil {
		if !errors.Is(err, context.Canceled) {
			sess.fail(err.Error())
		}
		sv.finalize(ctx, m, sess.Config.SaveTemplate)
		return
	}
	sv.publishProgress(m)

	if sess.Phase() == PhaseInteractiveDiscovery {
		// Baseline ended without enough signal; wait for operator guidance.
		return
	}

	if err := m.engine.RunPhaseA(ctx, sess); err != nil {
		sess.fail(err.Error())
	}
	sv.publishProgress(m)

	if sess.Phase().Terminal() {
		sv.finalize(ctx, m, sess.Config.SaveTemplate)
	}
}

// ContinueInteractive runs phase B for a session parked in
// InteractiveDiscovery. It blocks for the duration of the guided steps.
func (sv *Supervisor) ContinueInteractive(ctx context.Context, sessionID string, guidance InteractiveGuidance) (*CorrelationResult, error) {
	m, err := sv.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	sv.touch(m)

	corr, err := m.engine.RunInteractive(ctx, m.sess, guidance)
	sv.publishProgress(m)
	if m.sess.Phase().Terminal() {
		sv.finalize(ctx, m, m.sess.Config.SaveTemplate)
	}
	return corr, err
}

// Complete finalizes a Completed session, optionally persisting a
// synthesized template, and returns the terminal result.
func (sv *Supervisor) Complete(ctx context.Context, sessionID string, save bool) (Result, error) {
	m, err := sv.lookup(sessionID)
	if err != nil {
		return Result{}, err
	}
	if !m.sess.Phase().Terminal() {
		return Result{}, ErrInvalidPhase
	}
	sv.finalize(ctx, m, save)
	return m.sess.result(), nil
}

// Cancel cancels a running session. Cancelling a session that already
// reached a terminal phase is a no-op.
func (sv *Supervisor) Cancel(sessionID string) error {
	m, err := sv.lookup(sessionID)
	if err != nil {
		return err
	}
	if m.sess.Phase().Terminal() {
		return nil
	}
	m.cancel()
	m.sess.cancel()
	sv.publishProgress(m)
	sv.finalize(context.Background(), m, false)
	return nil
}

// GetStatus returns a point-in-time snapshot of a session.
func (sv *Supervisor) GetStatus(sessionID string) (Status, error) {
	m, err := sv.lookup(sessionID)
	if err != nil {
		return Status{}, err
	}
	return m.sess.Snapshot(), nil
}

// Run sweeps sessions exceeding the idle TTL until the context ends.
func (sv *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sv.sweep(time.Now())
		}
	}
}

// sweep cancels sessions idle past the TTL and drops terminal ones from the
// session map once their result has been delivered.
func (sv *Supervisor) sweep(now time.Time) {
	sv.mu.Lock()
	var expired []*managedSession
	for id, m := range sv.sessions {
		if now.Sub(m.touchedAt) < sv.ttl {
			continue
		}
		if m.sess.Phase().Terminal() && m.resultSent {
			delete(sv.sessions, id)
			continue
		}
		expired = append(expired, m)
	}
	sv.mu.Unlock()

	for _, m := range expired {
		logger.Warn("sweeping stale discovery session", logger.SessionID(m.sess.ID))
		m.cancel()
		m.sess.cancel()
		sv.finalize(context.Background(), m, false)
	}
}

func (sv *Supervisor) lookup(sessionID string) (*managedSession, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	m, ok := sv.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return m, nil
}

func (sv *Supervisor) touch(m *managedSession) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	m.touchedAt = time.Now()
}

// finalize persists the winning template when asked, records usage exactly
// once, and delivers the terminal result exactly once.
func (sv *Supervisor) finalize(ctx context.Context, m *managedSession, save bool) {
	sess := m.sess
	if !sess.Phase().Terminal() {
		return
	}
	best, _ := sess.Best()

	sv.mu.Lock()
	shouldSave := save && !m.saved && best != nil && !best.IsBuiltin && sess.Phase() == PhaseCompleted
	if shouldSave {
		m.saved = true
	}
	sv.mu.Unlock()

	if shouldSave {
		if _, err := sv.store.Get(ctx, best.TemplateName); errors.Is(err, template.ErrNotFound) {
			if err := sv.store.Save(ctx, best); err != nil {
				logger.Error("persist discovered template",
					logger.SessionID(sess.ID),
					logger.Template(best.TemplateName),
					logger.Err(err),
				)
			}
		}
	}

	sv.mu.Lock()
	shouldBump := !m.bumped && best != nil && sess.Phase() == PhaseCompleted
	if shouldBump {
		m.bumped = true
	}
	sendResult := !m.resultSent
	if sendResult {
		m.resultSent = true
	}
	handlers := make([]ResultHandler, 0, len(sv.resultSubs))
	for _, h := range sv.resultSubs {
		handlers = append(handlers, h)
	}
	sv.mu.Unlock()

	if shouldBump {
		if _, err := sv.store.Get(ctx, best.TemplateName); err == nil {
			if err := sv.store.BumpUsage(ctx, best.TemplateName, true); err != nil {
				logger.Error("record template usage",
					logger.Template(best.TemplateName),
					logger.Err(err),
				)
			}
		}
	}

	if sendResult {
		result := sess.result()
		for _, h := range handlers {
			h(result)
		}
	}
}

// publishProgress emits a progress event for the session. The percentage is
// clamped to be non-decreasing.
func (sv *Supervisor) publishProgress(m *managedSession) {
	snap := m.sess.Snapshot()

	sv.mu.Lock()
	pct := phaseProgress[snap.Phase]
	if pct < m.lastPercent {
		pct = m.lastPercent
	}
	m.lastPercent = pct
	m.touchedAt = time.Now()
	handlers := make([]ProgressHandler, 0, len(sv.progressSubs))
	for _, h := range sv.progressSubs {
		handlers = append(handlers, h)
	}
	sv.mu.Unlock()

	msg := m.sess.takeNote()
	if msg == "" {
		msg = phaseMessage(snap)
	}
	ev := ProgressEvent{
		SessionID: snap.SessionID,
		Phase:     snap.Phase,
		Percent:   pct,
		Frames:    snap.CapturedFrames,
		Message:   msg,
		Timestamp: time.Now(),
	}
	for _, h := range handlers {
		h(ev)
	}
}

// publishStability forwards a monitor report to stability subscribers,
// keeping the last report per session for late joiners.
func (sv *Supervisor) publishStability(sessionID string, r stability.Report) {
	sv.mu.Lock()
	if m, ok := sv.sessions[sessionID]; ok {
		m.lastReport = &r
	}
	handlers := make([]StabilityHandler, 0, len(sv.stabilitySubs))
	for _, h := range sv.stabilitySubs {
		handlers = append(handlers, h)
	}
	sv.mu.Unlock()

	for _, h := range handlers {
		h(sessionID, r)
	}
}
