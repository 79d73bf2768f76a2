// Package transport implements the raw-TCP link to a serial-to-Ethernet
// converter. The converter tunnels an RS-232 scale stream over a plain TCP
// socket, so the transport is byte-transparent: no framing logic lives here.
// Frames are recovered downstream by the active protocol template.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/marmos91/scalebridge/internal/logger"
)

// Sentinel errors surfaced by the transport.
var (
	ErrConnect      = errors.New("transport: connect failed")
	ErrRead         = errors.New("transport: read failed")
	ErrWrite        = errors.New("transport: write failed")
	ErrCancelled    = errors.New("transport: cancelled")
	ErrNotConnected = errors.New("transport: not connected")
)

// State is the connection state of the transport.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Chunk is a slice of bytes as delivered by the socket, stamped with the
// UTC reception time.
type Chunk struct {
	Data       []byte
	ReceivedAt time.Time
}

// DataHandler receives byte chunks in arrival order.
type DataHandler func(Chunk)

// StateHandler receives connection state transitions.
type StateHandler func(State)

// Config holds transport tuning parameters.
type Config struct {
	Host string
	Port int

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration

	// ReadBufferSize is the size of the socket read buffer.
	ReadBufferSize int

	// BackoffBase and BackoffCap bound the reconnect backoff.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = DefaultBackoffCap
	}
}

// Defaults for the transport. Port 4001 is the factory default data port on
// most serial-to-Ethernet converters (Moxa NPort, USR-TCP232).
const (
	DefaultPort           = 4001
	DefaultDialTimeout    = 5 * time.Second
	DefaultReadBufferSize = 4096
	DefaultBackoffBase    = 100 * time.Millisecond
	DefaultBackoffCap     = 2 * time.Second
)

// Client maintains a TCP connection to the converter, delivering received
// bytes to subscribers and re-establishing the link with bounded exponential
// backoff when reads fail.
//
// Thread safety: all methods are safe for concurrent use. Data handlers are
// invoked sequentially from a single reader goroutine, so chunks are observed
// in arrival order.
type Client struct {
	cfg Config

	mu         sync.Mutex
	conn       net.Conn
	state      State
	dataSubs   map[int]DataHandler
	stateSubs  map[int]StateHandler
	nextSubID  int
	running    bool
	cancelLoop context.CancelFunc
	done       chan struct{}
}

// New creates a transport client for the given endpoint. The client does not
// connect until Start is called.
func New(cfg Config) *Client {
	cfg.ApplyDefaults()
	return &Client{
		cfg:       cfg,
		state:     StateDisconnected,
		dataSubs:  make(map[int]DataHandler),
		stateSubs: make(map[int]StateHandler),
	}
}

// Addr returns the remote endpoint as host:port.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscribeData registers a handler for received chunks and returns a token
// for Unsubscribe. Handlers run on the reader goroutine and must not block.
func (c *Client) SubscribeData(h DataHandler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	c.dataSubs[c.nextSubID] = h
	return c.nextSubID
}

// SubscribeState registers a handler for connection state transitions.
func (c *Client) SubscribeState(h StateHandler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	c.stateSubs[c.nextSubID] = h
	return c.nextSubID
}

// Unsubscribe removes a previously registered handler. Unknown tokens are
// ignored.
func (c *Client) Unsubscribe(token int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dataSubs, token)
	delete(c.stateSubs, token)
}

// Start launches the connect/read loop. It returns immediately; the loop runs
// until the context is cancelled or Stop is called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancelLoop = cancel
	c.running = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(loopCtx)
	return nil
}

// Stop cancels the connect/read loop and closes the connection. It blocks
// until the loop has exited.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancelLoop
	done := c.done
	c.mu.Unlock()

	cancel()
	c.closeConn()
	<-done
}

// Send writes the given bytes to the converter. Used to transmit a template's
// request-weight (or auxiliary) command.
func (c *Client) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// run is the connect/read loop. Each failed dial or read backs off with
// bounded exponential delay before the next attempt.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(StateDisconnected)

	boff := &backoff.Backoff{
		Min:    c.cfg.BackoffBase,
		Max:    c.cfg.BackoffCap,
		Factor: 2,
		Jitter: true,
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		attempt++
		c.setState(StateConnecting)

		dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", c.Addr())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("connection attempt failed",
				logger.RemoteAddr(c.Addr()),
				logger.Attempt(attempt),
				logger.Err(fmt.Errorf("%w: %v", ErrConnect, err)))
			if !sleepCtx(ctx, boff.Duration()) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)
		boff.Reset()
		logger.Info("connected to converter", logger.RemoteAddr(c.Addr()))

		err = c.readLoop(ctx, conn)
		c.closeConn()
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}
		logger.Warn("connection lost, reconnecting",
			logger.RemoteAddr(c.Addr()),
			logger.Err(err))
		if !sleepCtx(ctx, boff.Duration()) {
			return
		}
	}
}

// readLoop reads chunks until the connection fails or the context is done.
func (c *Client) readLoop(ctx context.Context, conn net.Conn) error {
	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}

		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.dispatch(Chunk{Data: data, ReceivedAt: time.Now().UTC()})
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRead, err)
		}
	}
}

func (c *Client) dispatch(chunk Chunk) {
	c.mu.Lock()
	handlers := make([]DataHandler, 0, len(c.dataSubs))
	for _, h := range c.dataSubs {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(chunk)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	handlers := make([]StateHandler, 0, len(c.stateSubs))
	for _, h := range c.stateSubs {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// sleepCtx waits for d or until the context is done. Returns false when the
// context expired first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
