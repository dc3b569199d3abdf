package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"tradeguard/internal/observability"
)

var (
	// ErrClosed is returned by Connect after Disconnect.
	ErrClosed = errors.New("stream: client closed")
	// ErrAlreadyConnected is returned by Connect when a link is live or being established.
	ErrAlreadyConnected = errors.New("stream: already connected")
)

// State is the link status of a Client.
type State int

const (
	// Disconnected is the initial state and the state after an explicit Disconnect.
	Disconnected State = iota
	// Connected means the link is established and frames are being read.
	Connected
	// DisconnectedAfterError means the link was lost to a transport error or close.
	DisconnectedAfterError
)

var stateNames = []string{"disconnected", "connected", "disconnected_after_error"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ReconnectPolicy decides what happens after a live link drops.
// MaxAttempts of zero only logs the intent to reconnect after Delay.
type ReconnectPolicy struct {
	Delay       time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Options tune the client.
type Options struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
	Header           http.Header
	Reconnect        ReconnectPolicy
	Clock            clockwork.Clock
	Metrics          *observability.Metrics
}

// Client owns one logical connection to the event stream and republishes
// every parsed event through its Relay.
type Client struct {
	opts    Options
	dialer  *websocket.Dialer
	relay   *Relay
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	address      string
	connecting   bool
	reconnecting bool
	closed       bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New constructs a disconnected client.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Reconnect.Delay <= 0 {
		opts.Reconnect.Delay = 3 * time.Second
	}
	if opts.Reconnect.MaxDelay < opts.Reconnect.Delay {
		opts.Reconnect.MaxDelay = opts.Reconnect.Delay
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		relay:   NewRelay(),
		clock:   opts.Clock,
		metrics: opts.Metrics,
		logger:  logger.With().Str("component", "stream_client").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.metrics.SetConnectionState(Disconnected.String(), stateNames)
	return c
}

// Relay exposes the latest-message slot to the single subscriber.
func (c *Client) Relay() *Relay {
	return c.relay
}

// State returns the current link status.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Latest returns the most recently published message.
func (c *Client) Latest() (Message, bool) {
	msg, _, ok := c.relay.Latest()
	return msg, ok
}

// Connect establishes the link to address. A failed attempt is logged once,
// leaves the state unchanged and is not retried.
func (c *Client) Connect(ctx context.Context, address string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connecting || c.reconnecting || c.state == Connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.address = address
	c.mu.Unlock()

	conn, err := c.dial(ctx, address)

	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()

	if err != nil {
		c.logger.Error().Err(err).Str("address", address).Msg("stream connection failed")
		return err
	}
	if !c.install(conn) {
		_ = conn.Close()
		return ErrClosed
	}

	c.logger.Info().Str("address", address).Msg("stream connected")
	return nil
}

// Disconnect closes the link and stops any pending reconnection. It releases
// the transport exactly once and is safe to call repeatedly.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.conn = nil
		c.setStateLocked(Disconnected)
		c.mu.Unlock()

		c.cancel()

		if conn != nil {
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
			_ = conn.Close()
			c.logger.Info().Msg("stream disconnected")
		}
	})
	c.wg.Wait()
}

func (c *Client) dial(ctx context.Context, address string) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, address, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", address, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	if c.opts.ReadLimit > 0 {
		conn.SetReadLimit(c.opts.ReadLimit)
	}
	return conn, nil
}

// install makes conn the live link and starts its read loop.
func (c *Client) install(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	c.setStateLocked(Connected)
	c.wg.Add(1)
	go c.readLoop(conn)
	return true
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn, err)
			return
		}
		c.handleFrame(kind, payload)
	}
}

// handleFrame parses one inbound frame. Bad frames are dropped without
// touching the connection or the previously published message.
func (c *Client) handleFrame(kind int, payload []byte) {
	c.metrics.FramesReceived.Inc()

	if kind != websocket.TextMessage {
		c.metrics.FrameParseErrors.Inc()
		c.logger.Error().Int("frame_type", kind).Int("bytes", len(payload)).Msg("discarding non-text stream frame")
		return
	}

	msg, err := ParseMessage(payload)
	if err != nil {
		c.metrics.FrameParseErrors.Inc()
		c.logger.Error().Err(err).Int("bytes", len(payload)).Msg("failed to parse stream frame")
		return
	}
	if msg.IsControl() {
		c.logger.Info().Str("type", msg.Type).Msg("stream greeting received")
		return
	}

	seq := c.relay.Publish(msg)
	c.logger.Debug().
		Int64("event_id", msg.ID).
		Str("severity", msg.Severity.String()).
		Uint64("seq", seq).
		Msg("stream message published")
}

// handleDrop runs when the read loop of conn fails. Teardown initiated by
// Disconnect is ignored here because conn is no longer the live link.
func (c *Client) handleDrop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.setStateLocked(DisconnectedAfterError)
	address := c.address
	policy := c.opts.Reconnect
	if policy.MaxAttempts > 0 {
		c.reconnecting = true
		c.wg.Add(1)
	}
	c.mu.Unlock()

	_ = conn.Close()

	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Warn().Err(cause).Msg("stream connection closed by peer")
	} else {
		c.logger.Error().Err(cause).Msg("stream connection lost")
	}

	if policy.MaxAttempts == 0 {
		c.logger.Info().Dur("delay", policy.Delay).Msg("stream reconnection intended; automatic retry disabled")
		return
	}

	c.logger.Info().Dur("delay", policy.Delay).Int("max_attempts", policy.MaxAttempts).Msg("stream reconnection scheduled")
	go c.reconnect(address, policy)
}

// reconnect retries the dial with exponential backoff until it succeeds,
// the attempts run out or the client is disconnected.
func (c *Client) reconnect(address string, policy ReconnectPolicy) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	delay := policy.Delay
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		timer := c.clock.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		conn, err := c.dial(c.ctx, address)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.metrics.ReconnectAttempts.WithLabelValues("error").Inc()
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("stream reconnection attempt failed")
			delay *= 2
			if delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
			continue
		}

		if !c.install(conn) {
			_ = conn.Close()
			return
		}
		c.metrics.ReconnectAttempts.WithLabelValues("success").Inc()
		c.logger.Info().Int("attempt", attempt).Str("address", address).Msg("stream reconnected")
		return
	}

	c.logger.Error().Int("attempts", policy.MaxAttempts).Msg("stream reconnection attempts exhausted")
}

func (c *Client) setStateLocked(state State) {
	c.state = state
	c.metrics.SetConnectionState(state.String(), stateNames)
}
