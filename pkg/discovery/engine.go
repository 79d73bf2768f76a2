package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/scalebridge/internal/logger"
	"github.com/marmos91/scalebridge/pkg/stability"
	"github.com/marmos91/scalebridge/pkg/template"
	templatestore "github.com/marmos91/scalebridge/pkg/template/store"
	"github.com/marmos91/scalebridge/pkg/transport"
)

// Engine drives a single discovery session against one transport. The
// engine owns no session bookkeeping; the supervisor does.
type Engine struct {
	transport *transport.Client
	monitor   *stability.Monitor
	store     templatestore.Store
}

// NewEngine wires an engine to a transport, a stability monitor and the
// template store.
func NewEngine(tc *transport.Client, monitor *stability.Monitor, store templatestore.Store) *Engine {
	return &Engine{
		transport: tc,
		monitor:   monitor,
		store:     store,
	}
}

// RunBaseline captures filtered frames from the transport until the minimum
// frame count is reached, the capture window elapses, or the stream is
// classified Disconnected. It feeds every received chunk to the stability
// monitor and stores only chunks the monitor's filter accepts.
//
// On a Disconnected classification the session skips straight to the
// interactive phase with whatever frames were captured, possibly none.
func (e *Engine) RunBaseline(ctx context.Context, sess *Session) error {
	if e.transport == nil {
		return ErrTransportRequired
	}
	if err := sess.transition(PhaseCapturingData); err != nil {
		return err
	}

	disconnected := make(chan struct{}, 1)
	stabilityToken := e.monitor.Subscribe(func(r stability.Report) {
		if r.State == stability.StateDisconnected {
			select {
			case disconnected <- struct{}{}:
			default:
			}
		}
	})
	defer e.monitor.Unsubscribe(stabilityToken)

	frames := make(chan Frame, 256)
	dataToken := e.transport.SubscribeData(func(chunk transport.Chunk) {
		e.monitor.AddSample(chunk.Data, chunk.ReceivedAt, true)
		filtered, ok := e.monitor.Filter(chunk.Data)
		if !ok {
			return
		}
		select {
		case frames <- Frame{Bytes: filtered, Timestamp: chunk.ReceivedAt, ValidHint: true}:
		default:
		}
	})
	defer e.transport.Unsubscribe(dataToken)

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()
	go e.monitor.Run(monitorCtx)

	deadline := time.NewTimer(sess.Config.BaselineCaptureTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-disconnected:
			logger.Warn("signal lost during baseline capture, entering interactive discovery",
				logger.SessionID(sess.ID),
				logger.Frames(sess.FrameCount()),
			)
			sess.setNote(fmt.Sprintf(
				"connection lost during baseline capture after %d frames, switching to interactive discovery",
				sess.FrameCount()))
			return sess.transition(PhaseInteractiveDiscovery)
		case <-deadline.C:
			if sess.FrameCount() == 0 {
				return sess.transition(PhaseInteractiveDiscovery)
			}
			return nil
		case f := <-frames:
			if sess.addFrame(f) >= sess.Config.MinimumFramesForAnalysis {
				return nil
			}
		}
	}
}

// RunPhaseA tests all active templates against the captured frames, ordered
// by effective priority. When the best candidate reaches the session's
// confidence threshold the session completes; otherwise it moves to the
// interactive phase.
func (e *Engine) RunPhaseA(ctx context.Context, sess *Session) error {
	if err := sess.transition(PhaseTestingTemplates); err != nil {
		return err
	}

	frames := sess.Frames()
	if len(frames) == 0 {
		return fmt.Errorf("%w: session %s", ErrNoFramesCaptured, sess.ID)
	}

	all, err := e.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	candidates := make([]*template.Template, 0, len(all))
	for _, t := range all {
		if t.IsActive {
			candidates = append(candidates, t)
		}
	}

	results := TestTemplates(candidates, frames, sess.Config.TestFrameLimit)
	sess.setTemplateResults(results)

	if len(results) > 0 && results[0].Confidence >= sess.Config.ConfidenceThreshold {
		best := findTemplate(candidates, results[0].TemplateName)
		sess.setBest(best, results[0].Confidence)
		logger.Info("template matched",
			logger.SessionID(sess.ID),
			logger.Template(results[0].TemplateName),
			logger.Confidence(results[0].Confidence),
		)
		return sess.transition(PhaseCompleted)
	}

	logger.Info("no template reached confidence threshold, entering interactive discovery",
		logger.SessionID(sess.ID),
		logger.Frames(len(frames)),
	)
	return sess.transition(PhaseInteractiveDiscovery)
}

// RunInteractive executes the guided phase B: each step captures the stream
// for its window and correlates it with the expected weight. When enough
// steps complete and the overall correlation clears the synthesis threshold,
// a template is synthesized and the session completes.
func (e *Engine) RunInteractive(ctx context.Context, sess *Session, guidance InteractiveGuidance) (*CorrelationResult, error) {
	if err := guidance.Validate(); err != nil {
		return nil, err
	}
	if sess.Phase() != PhaseInteractiveDiscovery {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPhase, sess.Phase())
	}
	if e.transport == nil {
		return nil, ErrTransportRequired
	}

	for i, sg := range guidance.Steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		step := e.runStep(ctx, sess, i+1, sg)
		sess.addStep(step)
	}

	corr := correlate(sess.Steps())
	sess.setCorrelation(corr)

	if corr.CompletedSteps < guidance.MinimumSteps || corr.Overall < DefaultSynthesisThreshold {
		return corr, nil
	}

	if err := sess.transition(PhaseGeneratingTemplate); err != nil {
		return corr, err
	}
	tmpl, err := Synthesize(sess, guidance.MinimumSteps)
	if err != nil {
		sess.fail(err.Error())
		return corr, err
	}
	sess.setBest(tmpl, corr.Overall)

	logger.Info("template synthesized",
		logger.SessionID(sess.ID),
		logger.Template(tmpl.TemplateName),
		logger.Confidence(corr.Overall),
	)
	return corr, sess.transition(PhaseCompleted)
}

// RetestSynthesized runs the freshly synthesized template against all lines
// captured during the interactive phase and returns its confidence.
func (e *Engine) RetestSynthesized(sess *Session) TemplateResult {
	tmpl, _ := sess.Best()
	if tmpl == nil {
		return TemplateResult{}
	}
	var frames []Frame
	now := time.Now()
	for _, s := range sess.Steps() {
		if s.Status != StepCompleted {
			continue
		}
		for _, line := range s.CapturedData {
			frames = append(frames, Frame{Bytes: []byte(line), Timestamp: now})
		}
	}
	return TestTemplate(tmpl, frames, sess.Config.TestFrameLimit)
}

func findTemplate(candidates []*template.Template, name string) *template.Template {
	for _, t := range candidates {
		if t.TemplateName == name {
			return t
		}
	}
	return nil
}
