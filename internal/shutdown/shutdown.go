// Package shutdown coordinates a graceful server shutdown. It owns the
// process-wide shutdown flag that the accept loop and every connection
// handler poll, tells connected peers that the server is going away, and
// then stops the listener.
package shutdown

import (
	"sync"
	"sync/atomic"

	"github.com/codefionn/sockpong/internal/logger"
)

// Broadcaster sends the shutdown sentinel to every active connection and
// returns how many peers were notified.
type Broadcaster interface {
	BroadcastShutdown() int
}

// Stopper stops the listener. It must be idempotent.
type Stopper interface {
	Stop() error
}

// Coordinator is passed by reference to the listener and each handler in
// place of a global flag. The flag is set once and never reset.
type Coordinator struct {
	requested   atomic.Bool
	done        chan struct{}
	doneOnce    sync.Once
	requestOnce sync.Once

	mu          sync.Mutex
	broadcaster Broadcaster
	stopper     Stopper
	notify      bool
	reason      string

	log *logger.Logger
}

// New creates a coordinator. With notify set, RequestShutdown sends the
// sentinel to connected peers before stopping the listener.
func New(notify bool) *Coordinator {
	return &Coordinator{
		done:   make(chan struct{}),
		notify: notify,
		log:    logger.Global().WithPrefix("shutdown"),
	}
}

// Bind attaches the connection registry and the listener
func (c *Coordinator) Bind(b Broadcaster, s Stopper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcaster = b
	c.stopper = s
}

// Requested reports whether shutdown has been requested
func (c *Coordinator) Requested() bool {
	return c.requested.Load()
}

// Done is closed once the flag is set
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Reason returns the reason given to the first RequestShutdown call
func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Mark sets the flag without notifying peers or stopping anything. It
// returns true for the call that flipped the flag.
func (c *Coordinator) Mark() bool {
	first := c.requested.CompareAndSwap(false, true)
	c.doneOnce.Do(func() { close(c.done) })
	return first
}

// RequestShutdown sets the flag, notifies active connections with the
// sentinel (when enabled) and stops the listener, in that order. Only the
// first call has an effect. It is safe to call from a signal handler
// goroutine or an admin request.
func (c *Coordinator) RequestShutdown(reason string) {
	c.requestOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		broadcaster, stopper, notify := c.broadcaster, c.stopper, c.notify
		c.mu.Unlock()

		c.log.Info("Shutdown requested (%s)", reason)
		c.Mark()

		if notify && broadcaster != nil {
			n := broadcaster.BroadcastShutdown()
			c.log.Info("Shutdown notice sent to %d connection(s)", n)
		}

		if stopper != nil {
			if err := stopper.Stop(); err != nil {
				c.log.Error("Error stopping listener: %v", err)
			}
		}
	})
}
