package commands

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/scalebridge/internal/logger"
	"github.com/marmos91/scalebridge/pkg/config"
	"github.com/marmos91/scalebridge/pkg/parser"
	"github.com/marmos91/scalebridge/pkg/stability"
	"github.com/marmos91/scalebridge/pkg/storage"
	"github.com/marmos91/scalebridge/pkg/transport"
)

const (
	// flushInterval is how often buffered readings are routed to storage.
	flushInterval = time.Second

	// maxPending triggers an early flush before the next tick.
	maxPending = 100

	// drainTimeout bounds the final flush during shutdown.
	drainTimeout = 5 * time.Second
)

// pipeline is the ingest loop of the running agent: converter bytes flow
// through the stability filter, complete frames are parsed with the active
// template and the resulting readings are batched into the storage router.
type pipeline struct {
	cfg     *config.Config
	tc      *transport.Client
	monitor *stability.Monitor
	parser  *parser.Parser
	router  *storage.Router

	delimiter []byte

	mu      sync.Mutex
	buf     []byte
	pending []*storage.Reading

	kick chan struct{}
}

func newPipeline(cfg *config.Config, tc *transport.Client, monitor *stability.Monitor, p *parser.Parser, router *storage.Router) *pipeline {
	delim := p.Template().Framing.Delimiter
	if delim == "" {
		delim = "\r\n"
	}
	return &pipeline{
		cfg:       cfg,
		tc:        tc,
		monitor:   monitor,
		parser:    p,
		router:    router,
		delimiter: []byte(delim),
		kick:      make(chan struct{}, 1),
	}
}

// Run ingests until the context is cancelled, then drains the pending batch.
func (p *pipeline) Run(ctx context.Context) error {
	go p.monitor.Run(ctx)

	token := p.tc.SubscribeData(p.onChunk)
	defer p.tc.Unsubscribe(token)

	if err := p.tc.Start(ctx); err != nil {
		return err
	}
	defer p.tc.Stop()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			p.flush(drainCtx)
			cancel()
			return nil
		case <-ticker.C:
			p.flush(ctx)
		case <-p.kick:
			p.flush(ctx)
		}
	}
}

// onChunk feeds the stability monitor and assembles complete frames from the
// raw byte stream. Chunks failing the stability filter never reach the parser.
func (p *pipeline) onChunk(chunk transport.Chunk) {
	filtered, ok := p.monitor.Filter(chunk.Data)
	p.monitor.AddSample(chunk.Data, chunk.ReceivedAt, ok)
	if !ok {
		return
	}

	p.mu.Lock()
	p.buf = append(p.buf, filtered...)
	var frames []string
	for {
		idx := bytes.Index(p.buf, p.delimiter)
		if idx < 0 {
			break
		}
		frames = append(frames, string(p.buf[:idx]))
		p.buf = p.buf[idx+len(p.delimiter):]
	}
	p.mu.Unlock()

	for _, frame := range frames {
		if frame == "" {
			continue
		}
		p.ingestFrame(frame, chunk.ReceivedAt)
	}
}

// ingestFrame parses one frame and queues the resulting reading. Frames
// without an extractable weight are dropped.
func (p *pipeline) ingestFrame(frame string, ts time.Time) {
	parsed := p.parser.Parse(frame)

	value, hasWeight := parsed.Fields["weight"].(float64)
	if !hasWeight {
		logger.Debug("frame dropped, no weight field",
			logger.DeviceID(p.cfg.Device.ID),
			logger.Template(p.parser.Template().TemplateName),
		)
		return
	}

	unit, _ := parsed.Fields["unit"].(string)
	reading := storage.NewReading(p.cfg.Device.ID, p.cfg.Device.Type, value, unit)
	reading.Timestamp = ts

	if s, ok := parsed.Fields["stability"].(string); ok {
		reading.Status = s
	} else if s, ok := parsed.Fields["status"].(string); ok {
		reading.Status = s
	}

	if !parsed.Valid {
		reading.Quality = storage.QualityUncertain
		reading.Metadata = map[string]string{"error": strings.Join(parsed.Errors, "; ")}
	}

	p.mu.Lock()
	p.pending = append(p.pending, reading)
	full := len(p.pending) >= maxPending
	p.mu.Unlock()

	if full {
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}
}

// flush routes the pending batch through the storage router.
func (p *pipeline) flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	result, err := p.router.RouteBatch(ctx, batch)
	if err != nil {
		logger.Warn("batch routing incomplete",
			logger.DeviceID(p.cfg.Device.ID),
			logger.BatchSize(len(batch)),
			logger.Err(err),
		)
		return
	}
	logger.Debug("batch routed",
		logger.DeviceID(p.cfg.Device.ID),
		logger.BatchSize(result.Total),
		"written", result.Written,
		"failed", result.Failed,
	)
}
