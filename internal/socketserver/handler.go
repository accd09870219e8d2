package socketserver

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/sockpong/internal/consts"
	"github.com/codefionn/sockpong/internal/logger"
	"github.com/codefionn/sockpong/internal/metrics"
	"github.com/codefionn/sockpong/internal/protocol"
	"github.com/codefionn/sockpong/internal/shutdown"
	"github.com/codefionn/sockpong/internal/transport"
)

// errLineTooLong is reported when a client sends more than MaxLineSize bytes
// without a terminator
var errLineTooLong = fmt.Errorf("line exceeds %d bytes", consts.MaxLineSize)

// ConnectionInfo describes an active connection
type ConnectionInfo struct {
	ID          string    `json:"id"`
	Peer        string    `json:"peer,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	Lines       int64     `json:"lines"`
}

// Handler serves one accepted connection. It reads a line, answers with
// "pong" and repeats until the peer goes away, the idle timeout passes or
// shutdown is requested. A handler is never reused.
type Handler struct {
	ID string

	conn         net.Conn
	reader       *bufio.Reader
	idleTimeout  time.Duration
	writeTimeout time.Duration
	coord        *shutdown.Coordinator
	metrics      *metrics.ServerMetrics
	log          *logger.Logger

	peer        string
	connectedAt time.Time
	lines       atomic.Int64

	// writeMu serializes replies with the shutdown sentinel
	writeMu  sync.Mutex
	notified bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewHandler wraps conn. coord and m may be nil.
func NewHandler(id string, conn net.Conn, idleTimeout, writeTimeout time.Duration, coord *shutdown.Coordinator, m *metrics.ServerMetrics, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Global()
	}
	h := &Handler{
		ID:           id,
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, consts.MaxLineSize),
		idleTimeout:  idleTimeout,
		writeTimeout: writeTimeout,
		coord:        coord,
		metrics:      m,
		log:          log.WithPrefix(id),
		connectedAt:  time.Now(),
		done:         make(chan struct{}),
	}
	if creds, err := transport.PeerCredentials(conn); err == nil {
		h.peer = creds.String()
	}
	return h
}

// Info returns a snapshot of the connection
func (h *Handler) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:          h.ID,
		Peer:        h.peer,
		ConnectedAt: h.connectedAt,
		Lines:       h.lines.Load(),
	}
}

// Done is closed when Run has returned
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

func (h *Handler) shuttingDown() bool {
	return h.coord != nil && h.coord.Requested()
}

// Run executes the read-respond loop and returns the exit reason (one of the
// metrics.Exit* constants). The connection is always closed on return and a
// panic never escapes.
func (h *Handler) Run() (reason string) {
	defer close(h.done)
	defer h.Close()
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Handler panic: %v", r)
			reason = metrics.ExitPanic
		}
	}()

	if h.peer != "" {
		h.log.Info("Connected (%s)", h.peer)
	} else {
		h.log.Info("Connected")
	}

	for {
		if h.shuttingDown() {
			h.log.Info("Shutdown requested, closing connection")
			return metrics.ExitShutdown
		}

		line, err := h.readLine()
		if err != nil {
			return h.readFailed(err, line)
		}

		h.lines.Add(1)
		h.metrics.LineReceived()
		h.log.Info("Received: %s", protocol.Trim(line))

		sent, err := h.reply()
		if err != nil {
			return h.writeFailed(err)
		}
		if sent {
			h.metrics.ReplySent()
		}

		// Checked after the reply so a fully read line is still answered
		if h.shuttingDown() {
			h.log.Info("Shutdown requested, closing connection")
			return metrics.ExitShutdown
		}
	}
}

// readLine reads one complete line bounded by the idle timeout
func (h *Handler) readLine() (string, error) {
	if h.idleTimeout > 0 {
		if err := h.conn.SetReadDeadline(time.Now().Add(h.idleTimeout)); err != nil {
			return "", err
		}
	}

	data, err := h.reader.ReadSlice(protocol.Terminator)
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", errLineTooLong
	}
	return string(data), err
}

func (h *Handler) readFailed(err error, partial string) string {
	switch transport.Classify(err) {
	case transport.KindPeerClosed:
		if partial != "" {
			h.log.Info("Disconnected with unterminated line %q, not answered", partial)
		} else {
			h.log.Info("Disconnected")
		}
		return metrics.ExitPeerClosed
	case transport.KindTimeout:
		h.log.Info("Idle for %s, closing connection", h.idleTimeout)
		return metrics.ExitIdle
	case transport.KindConnectionReset:
		h.log.Info("Connection reset: %v", err)
		return metrics.ExitPeerClosed
	case transport.KindClosed:
		if h.shuttingDown() {
			h.log.Info("Connection closed for shutdown")
			return metrics.ExitShutdown
		}
		h.log.Info("Connection closed")
		return metrics.ExitError
	default:
		h.log.Error("Read error: %v", err)
		return metrics.ExitError
	}
}

func (h *Handler) writeFailed(err error) string {
	if transport.Classify(err) == transport.KindConnectionReset {
		h.log.Info("Connection reset while replying: %v", err)
		return metrics.ExitPeerClosed
	}
	h.log.Error("Write error: %v", err)
	return metrics.ExitError
}

// reply answers one line. Nothing is written once the shutdown sentinel went
// out, in which case sent is false.
func (h *Handler) reply() (sent bool, err error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.notified {
		return false, nil
	}
	if err := h.write(protocol.Reply); err != nil {
		return false, err
	}
	return true, nil
}

// write must be called with writeMu held
func (h *Handler) write(s string) error {
	if h.writeTimeout > 0 {
		if err := h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := h.conn.Write([]byte(s))
	return err
}

// NotifyShutdown sends the shutdown sentinel. It is sent at most once and no
// reply follows it.
func (h *Handler) NotifyShutdown() error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.notified {
		return nil
	}
	h.notified = true
	if err := h.write(protocol.ShutdownSentinel); err != nil {
		h.log.Debug("Shutdown notice not delivered: %v", err)
		return err
	}
	h.metrics.ShutdownNoticeSent()
	return nil
}

// Close closes the connection, unblocking a pending read. Idempotent.
func (h *Handler) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.conn.Close()
	})
	return err
}
