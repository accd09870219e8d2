package socketclient

import (
	"bufio"
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codefionn/sockpong/internal/config"
	"github.com/codefionn/sockpong/internal/consts"
	"github.com/codefionn/sockpong/internal/logger"
	"github.com/codefionn/sockpong/internal/metrics"
	"github.com/codefionn/sockpong/internal/outqueue"
	"github.com/codefionn/sockpong/internal/protocol"
	"github.com/codefionn/sockpong/internal/transport"
)

// ErrStopped is returned by SendMessage after Stop
var ErrStopped = errors.New("client stopped")

// ConnectionState represents the current state of the socket connection
type ConnectionState int32

const (
	// StateDisconnected indicates the client holds no connection
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates a connect cycle is running
	StateConnecting
	// StateConnected indicates the client holds a live connection
	StateConnected
	// StateStopped indicates the client has been stopped; it is final
	StateStopped
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds client configuration
type Config struct {
	// SocketPath is the path to the Unix socket
	SocketPath string
	// ReconnectLimit is the number of connect attempts per cycle
	ReconnectLimit int
	// BaseDelay is the delay after the first failed attempt; it doubles after each failure
	BaseDelay time.Duration
	// MaxDelay caps a single delay (0 = uncapped)
	MaxDelay time.Duration
	// ConnectTimeout bounds one dial
	ConnectTimeout time.Duration
	// ReadTimeout treats a silent server as disconnected (0 = wait forever)
	ReadTimeout time.Duration
	// WriteTimeout bounds one write (0 = none)
	WriteTimeout time.Duration
	// QueueCapacity bounds the outbound queue (0 = unbounded)
	QueueCapacity int
	// OverflowPolicy applies when a bounded queue is full
	OverflowPolicy outqueue.OverflowPolicy
	// WatchEndpoint starts a new connect cycle when the socket file appears
	WatchEndpoint bool
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		SocketPath:     config.DefaultSocketPath(),
		ReconnectLimit: consts.DefaultReconnectLimit,
		BaseDelay:      consts.DefaultBaseDelay,
		MaxDelay:       consts.DefaultMaxDelay,
		ConnectTimeout: consts.DefaultConnectTimeout,
		WriteTimeout:   consts.DefaultWriteTimeout,
	}
}

// ConfigFrom builds a client configuration from the application config
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		SocketPath:     cfg.Socket.Path,
		ReconnectLimit: cfg.Client.ReconnectLimit,
		BaseDelay:      cfg.Client.BaseDelay.D(),
		MaxDelay:       cfg.Client.MaxDelay.D(),
		ConnectTimeout: cfg.Client.ConnectTimeout.D(),
		ReadTimeout:    cfg.Client.ReadTimeout.D(),
		WriteTimeout:   cfg.Client.WriteTimeout.D(),
		QueueCapacity:  cfg.Client.QueueCapacity,
		OverflowPolicy: outqueue.ParsePolicy(cfg.Client.OverflowPolicy),
		WatchEndpoint:  cfg.Client.WatchEndpoint,
	}
}

// Client keeps one logical connection to the server alive across transient
// failures. Messages submitted while disconnected are queued and sent in
// order once a connection is established.
type Client struct {
	config  *Config
	log     *logger.Logger
	metrics *metrics.ClientMetrics

	// connectMu serializes connect cycles so at most one dial sequence runs
	connectMu sync.Mutex

	// mu guards conn, gen and the queue; it is never held across a backoff sleep
	mu    sync.Mutex
	conn  net.Conn
	gen   uint64
	queue *outqueue.Queue

	state   atomic.Int32 // ConnectionState
	stopped atomic.Bool

	// Callbacks run on client goroutines, some with mu held. They must not
	// block or call SendMessage/Stop.
	stateChangedCallback   func(ConnectionState)
	replyCallback          func(string)
	serverShutdownCallback func()
	reconnectingCallback   func(attempt int, maxAttempts int)

	// Reconnection
	reconnectCh chan struct{}
	sleep       func(ctx context.Context, d time.Duration) bool
	watcher     *endpointWatcher

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	doneCh    chan struct{}
}

// NewClient creates a new socket client
func NewClient(socketPath string) (*Client, error) {
	config := DefaultConfig()
	config.SocketPath = socketPath
	return NewClientWithConfig(config, nil)
}

// NewClientWithConfig creates a new socket client with custom configuration.
// m may be nil.
func NewClientWithConfig(config *Config, m *metrics.ClientMetrics) (*Client, error) {
	if config.SocketPath == "" {
		return nil, errors.New("socket path is required")
	}
	if config.ReconnectLimit < 1 {
		config.ReconnectLimit = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		config:      config,
		log:         logger.Global().WithPrefix("client"),
		metrics:     m,
		queue:       outqueue.New(config.QueueCapacity, config.OverflowPolicy),
		reconnectCh: make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		doneCh:      make(chan struct{}),
	}
	client.sleep = client.interruptibleSleep
	client.state.Store(int32(StateDisconnected))

	return client, nil
}

// SetStateChangedCallback sets the callback for state transitions
func (c *Client) SetStateChangedCallback(callback func(ConnectionState)) {
	c.stateChangedCallback = callback
}

// SetReplyCallback sets the callback for server replies. Without one, replies are logged.
func (c *Client) SetReplyCallback(callback func(string)) {
	c.replyCallback = callback
}

// SetServerShutdownCallback sets the callback invoked after the shutdown sentinel stopped the client
func (c *Client) SetServerShutdownCallback(callback func()) {
	c.serverShutdownCallback = callback
}

// SetReconnectingCallback sets the callback invoked before each retry of a connect cycle
func (c *Client) SetReconnectingCallback(callback func(attempt int, maxAttempts int)) {
	c.reconnectingCallback = callback
}

// Start launches the reconnect worker and, if configured, the endpoint
// watcher. It does not connect. Calling it more than once has no effect.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		if c.stopped.Load() {
			return
		}
		c.wg.Add(1)
		go c.reconnectWorker()

		if c.config.WatchEndpoint {
			w, err := newEndpointWatcher(c.config.SocketPath, c.onEndpointCreated)
			if err != nil {
				c.log.Warn("Endpoint watcher disabled: %v", err)
				return
			}
			c.mu.Lock()
			if c.stopped.Load() {
				c.mu.Unlock()
				w.Close()
				return
			}
			c.watcher = w
			c.mu.Unlock()
		}
	})
}

// reconnectWorker runs connect cycles requested through reconnectCh so the
// sending path never blocks on backoff
func (c *Client) reconnectWorker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.reconnectCh:
			c.Connect(c.ctx)
		}
	}
}

func (c *Client) triggerReconnect() {
	if c.stopped.Load() {
		return
	}
	c.Start()
	select {
	case c.reconnectCh <- struct{}{}:
	default:
		// a cycle is already pending
	}
}

func (c *Client) onEndpointCreated() {
	if c.State() == StateDisconnected {
		c.log.Info("Socket %s appeared, reconnecting", c.config.SocketPath)
		c.triggerReconnect()
	}
}

// getState returns the current connection state
func (c *Client) getState() ConnectionState {
	return ConnectionState(c.state.Load())
}

// setState sets the connection state and notifies callback. Stopped is final.
func (c *Client) setState(state ConnectionState) {
	for {
		old := c.state.Load()
		if ConnectionState(old) == StateStopped || ConnectionState(old) == state {
			return
		}
		if c.state.CompareAndSwap(old, int32(state)) {
			break
		}
	}
	if c.stateChangedCallback != nil {
		c.stateChangedCallback(state)
	}
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	return c.getState()
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	return c.getState() == StateConnected
}

// Pending returns the number of queued messages
func (c *Client) Pending() int {
	return c.queue.Len()
}

// Done is closed once Stop has run, including a stop caused by the server's
// shutdown notice
func (c *Client) Done() <-chan struct{} {
	return c.doneCh
}

func (c *Client) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = c.config.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *Client) interruptibleSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.ctx.Done():
		return false
	}
}

// Connect establishes a connection, retrying up to ReconnectLimit times with
// exponential backoff. It returns true at once when already connected and
// false once stopped. On success the reader is started and queued messages
// are flushed in order. Failure leaves the client Disconnected.
func (c *Client) Connect(ctx context.Context) bool {
	if c.stopped.Load() {
		return false
	}
	if c.IsConnected() {
		return true
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.stopped.Load() {
		return false
	}
	if c.IsConnected() {
		return true
	}

	c.setState(StateConnecting)
	b := c.newBackoff()
	limit := c.config.ReconnectLimit
	attempts := 0

	for attempt := 1; attempt <= limit; attempt++ {
		if c.stopped.Load() || ctx.Err() != nil {
			break
		}
		if attempt > 1 && c.reconnectingCallback != nil {
			c.reconnectingCallback(attempt, limit)
		}
		attempts = attempt

		conn, err := transport.Dial(ctx, c.config.SocketPath, c.config.ConnectTimeout)
		if err == nil {
			c.metrics.ConnectAttempt("ok")
			if c.attach(conn) {
				return true
			}
		} else {
			kind := transport.Classify(err)
			c.metrics.ConnectAttempt(kind.String())
			switch kind {
			case transport.KindEndpointNotFound:
				c.log.Info("Socket not found at %s, attempt %d/%d", c.config.SocketPath, attempt, limit)
			case transport.KindConnectionRefused:
				c.log.Info("Connection refused, attempt %d/%d", attempt, limit)
			default:
				c.log.Info("Connect error: %v, attempt %d/%d", err, attempt, limit)
			}
		}

		if attempt == limit {
			break
		}
		delay := b.NextBackOff()
		c.log.Debug("Retrying in %s", delay)
		if !c.sleep(ctx, delay) {
			break
		}
	}

	if c.stopped.Load() {
		return false
	}
	c.log.Warn("Failed to connect after %d attempt(s)", attempts)
	c.setState(StateDisconnected)
	return false
}

// attach installs conn as the current handle, starts its reader and drains
// the queue over it. It returns false if the client was stopped meanwhile or
// the drain failed.
func (c *Client) attach(conn net.Conn) bool {
	c.mu.Lock()
	if c.stopped.Load() {
		c.mu.Unlock()
		conn.Close()
		return false
	}

	c.conn = conn
	c.gen++
	gen := c.gen
	c.setState(StateConnected)
	c.log.Info("Connected to %s", c.config.SocketPath)

	c.wg.Add(1)
	go c.readLoop(conn, gen)

	sent, err := c.queue.Drain(func(msg []byte) error {
		return c.write(conn, msg)
	})
	c.metrics.Sent(sent)
	c.metrics.SetQueueDepth(c.queue.Len())
	if sent > 0 {
		c.log.Info("Flushed %d queued message(s)", sent)
	}
	if err != nil {
		c.log.Warn("Send error while flushing queue: %v", err)
		c.detachLocked()
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()
	return true
}

func (c *Client) write(conn net.Conn, msg []byte) error {
	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}
	_, err := conn.Write(msg)
	return err
}

// detachLocked closes and discards the current handle. mu must be held.
func (c *Client) detachLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.setState(StateDisconnected)
}

// SendMessage normalizes text to one terminated line and sends it. If the
// client is not connected, or the write fails, the message is queued and a
// reconnect cycle is requested in the background. It never blocks on
// backoff. After Stop it returns ErrStopped.
func (c *Client) SendMessage(text string) error {
	if c.stopped.Load() {
		return ErrStopped
	}
	raw := protocol.Encode(text)

	c.mu.Lock()
	if c.stopped.Load() {
		c.mu.Unlock()
		return ErrStopped
	}

	lost := false
	if c.conn != nil && c.queue.Len() == 0 {
		err := c.write(c.conn, raw)
		if err == nil {
			c.mu.Unlock()
			c.metrics.Sent(1)
			return nil
		}
		c.log.Warn("Send error: %v", err)
		c.detachLocked()
		lost = true
	} else {
		c.log.Info("Not connected, queuing message and attempting reconnect")
	}

	evicted, err := c.queue.Push(raw)
	depth := c.queue.Len()
	c.mu.Unlock()

	c.metrics.SetQueueDepth(depth)
	if err != nil {
		c.metrics.Dropped()
		c.log.Warn("Message rejected: %v", err)
		return err
	}
	if evicted {
		c.metrics.Dropped()
		c.log.Warn("Outbound queue full, dropped oldest message")
	}

	if lost {
		c.metrics.ReconnectCycle()
	}
	c.triggerReconnect()
	return nil
}

// readLoop runs for the lifetime of one handle
func (c *Client) readLoop(conn net.Conn, gen uint64) {
	defer c.wg.Done()

	reader := bufio.NewReaderSize(conn, consts.MaxLineSize)
	for {
		if c.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}

		line, err := reader.ReadString(protocol.Terminator)
		if err != nil {
			if c.stopped.Load() {
				return
			}
			switch transport.Classify(err) {
			case transport.KindPeerClosed:
				c.log.Info("Connection closed by server (EOF)")
			case transport.KindClosed:
				c.log.Debug("Connection closed locally")
			case transport.KindTimeout:
				c.log.Info("No data from server for %s", c.config.ReadTimeout)
			default:
				c.log.Warn("Reader error: %v", err)
			}
			c.handleDisconnect(gen)
			return
		}

		if protocol.IsShutdown(line) {
			c.log.Info("Server notified shutdown, not reconnecting")
			c.metrics.ShutdownNotice()
			c.Stop()
			if c.serverShutdownCallback != nil {
				c.serverShutdownCallback()
			}
			return
		}

		c.metrics.ReplyReceived()
		if c.replyCallback != nil {
			c.replyCallback(protocol.Trim(line))
		} else {
			c.log.Info("[server reply] %s", protocol.Trim(line))
		}
	}
}

// handleDisconnect is the single place a lost connection turns into a
// reconnect cycle. A reader whose handle was already replaced is ignored.
func (c *Client) handleDisconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.detachLocked()
	c.mu.Unlock()

	if c.stopped.Load() {
		return
	}
	c.log.Info("Attempting to reconnect...")
	c.metrics.ReconnectCycle()
	c.triggerReconnect()
}

// Stop closes any open connection and prevents further connects. Queued
// messages are kept but never sent. Idempotent.
func (c *Client) Stop() error {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		c.cancel()

		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		watcher := c.watcher
		c.mu.Unlock()
		c.setState(StateStopped)

		if watcher != nil {
			watcher.Close()
		}

		c.log.Info("Client stopped")
		close(c.doneCh)
	})
	return nil
}

// Wait blocks until the reconnect worker and every reader have exited. It
// must not be called from a callback.
func (c *Client) Wait() {
	c.wg.Wait()
}
