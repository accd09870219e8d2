package socketserver

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/codefionn/sockpong/internal/config"
	"github.com/codefionn/sockpong/internal/logger"
	"github.com/codefionn/sockpong/internal/metrics"
	"github.com/codefionn/sockpong/internal/pidfile"
	"github.com/codefionn/sockpong/internal/shutdown"
	"github.com/codefionn/sockpong/internal/transport"
)

// Server represents the Unix socket server
type Server struct {
	cfg     *config.Config
	hub     *Hub
	coord   *shutdown.Coordinator
	metrics *metrics.ServerMetrics
	pidfile *pidfile.Pidfile
	log     *logger.Logger

	listener   *net.UnixListener
	socketPath string

	// Control
	mu         sync.Mutex
	running    bool
	acceptErr  error
	handlersWG sync.WaitGroup
	acceptDone chan struct{}
	acceptOnce sync.Once
	stopped    chan struct{}
	stopOnce   sync.Once

	// Connection ID counter
	connIDCounter int
	connIDMu      sync.Mutex
}

// NewServer creates a new Unix socket server. A nil coordinator is replaced
// by a fresh one honouring server.notify_shutdown; a nil metrics set disables
// metrics.
func NewServer(cfg *config.Config, coord *shutdown.Coordinator, m *metrics.ServerMetrics) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if coord == nil {
		coord = shutdown.New(cfg.Server.NotifyShutdown)
	}

	s := &Server{
		cfg:        cfg,
		hub:        NewHub(),
		coord:      coord,
		metrics:    m,
		log:        logger.Global().WithPrefix("server"),
		acceptDone: make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	if cfg.Server.PidFile != "" {
		s.pidfile = pidfile.New(cfg.Server.PidFile)
	}
	coord.Bind(s.hub, s)
	return s, nil
}

// Start binds the socket and runs the accept loop in the background.
// Cancelling ctx requests a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	select {
	case <-s.stopped:
		s.mu.Unlock()
		return fmt.Errorf("server has been stopped")
	case <-s.acceptDone:
		s.mu.Unlock()
		return fmt.Errorf("server failed to start earlier and cannot be restarted")
	default:
	}
	s.running = true
	s.mu.Unlock()

	if s.pidfile != nil {
		if err := s.pidfile.Acquire(); err != nil {
			s.startFailed()
			return err
		}
	}

	listener, absPath, err := transport.Listen(s.cfg.Socket.Path, s.cfg.SocketMode())
	if err != nil {
		s.removePidfile()
		s.startFailed()
		return fmt.Errorf("failed to listen on Unix socket %s: %w", s.cfg.Socket.Path, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.socketPath = absPath
	s.mu.Unlock()

	go s.acceptLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.coord.RequestShutdown("context cancelled")
		case <-s.stopped:
		}
	}()

	limit := "unlimited"
	if s.cfg.Server.MaxConnections > 0 {
		limit = fmt.Sprintf("%d", s.cfg.Server.MaxConnections)
	}
	s.log.Info("Listening on %s (mode %04o, max connections: %s, idle timeout: %s)",
		absPath, s.cfg.SocketMode(), limit, s.cfg.Server.IdleTimeout)
	return nil
}

// startFailed releases a Stop that saw running=true and waits for an accept
// loop that will never start
func (s *Server) startFailed() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.closeAcceptDone()
}

// acceptLoop accepts incoming connections until the listener closes, shutdown
// is requested or accept fails for a reason other than the periodic timeout
func (s *Server) acceptLoop() {
	defer s.closeAcceptDone()

	acceptTimeout := s.cfg.Server.AcceptTimeout.D()
	for {
		if s.coord.Requested() {
			s.log.Info("Accept loop stopped via shutdown flag")
			return
		}

		// Bounded accept so the flag is observed periodically
		if err := s.listener.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
			s.log.Debug("Failed to set accept deadline: %v", err)
		}

		conn, err := s.listener.Accept()
		if err != nil {
			switch transport.Classify(err) {
			case transport.KindTimeout:
				continue
			case transport.KindClosed:
				s.log.Info("Listener closed, exiting accept loop")
				return
			}
			s.metrics.AcceptError()
			s.log.Error("Error accepting connection: %v", err)
			s.mu.Lock()
			s.acceptErr = err
			s.mu.Unlock()
			return
		}

		if s.coord.Requested() {
			conn.Close()
			continue
		}

		if !s.checkConnectionLimit() {
			s.log.Warn("Connection limit reached (%d), rejecting connection", s.cfg.Server.MaxConnections)
			s.metrics.Rejected()
			conn.Close()
			continue
		}

		s.spawn(conn)
	}
}

// spawn registers a handler for conn and runs it on its own goroutine
func (s *Server) spawn(conn net.Conn) {
	id := s.generateConnectionID()
	handler := NewHandler(id, conn,
		s.cfg.Server.IdleTimeout.D(), s.cfg.Server.WriteTimeout.D(),
		s.coord, s.metrics, s.log)

	s.hub.Register(handler)
	s.metrics.Accepted()
	s.handlersWG.Add(1)

	go func() {
		defer s.handlersWG.Done()
		reason := handler.Run()
		s.hub.Unregister(id)
		s.metrics.HandlerExited(reason)
	}()

	s.log.Info("New connection accepted: %s (total: %d)", id, s.hub.Count())
}

// checkConnectionLimit checks if we can accept more connections
func (s *Server) checkConnectionLimit() bool {
	limit := s.cfg.Server.MaxConnections
	return limit <= 0 || s.hub.Count() < limit
}

// generateConnectionID generates a unique connection ID
func (s *Server) generateConnectionID() string {
	s.connIDMu.Lock()
	defer s.connIDMu.Unlock()

	s.connIDCounter++
	return fmt.Sprintf("conn_%d", s.connIDCounter)
}

func (s *Server) closeAcceptDone() {
	s.acceptOnce.Do(func() { close(s.acceptDone) })
}

// Stop sets the shutdown flag, closes the listener, removes the socket file
// and waits up to join_timeout per active handler before force-closing the
// remaining connections. It is idempotent and safe to call from any goroutine.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.log.Info("Stopping Unix socket server...")
		s.coord.Mark()

		s.mu.Lock()
		listener, socketPath, running := s.listener, s.socketPath, s.running
		s.mu.Unlock()

		if listener != nil {
			if err := listener.Close(); err != nil {
				s.log.Debug("Error closing socket listener: %v", err)
			}
		}
		if running {
			<-s.acceptDone
		} else {
			s.closeAcceptDone()
		}

		if socketPath != "" {
			if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
				s.log.Warn("Failed to remove socket file %s: %v", socketPath, err)
			} else if err == nil {
				s.log.Info("Socket file removed: %s", socketPath)
			}
		}

		s.joinHandlers()
		s.removePidfile()

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.stopped)

		s.log.Info("Unix socket server stopped")
	})
	return nil
}

// joinHandlers waits for handlers to exit, bounded by join_timeout per active
// handler, then closes whatever is left
func (s *Server) joinHandlers() {
	active := s.hub.Count()
	if active == 0 {
		s.handlersWG.Wait()
		return
	}

	finished := make(chan struct{})
	go func() {
		s.handlersWG.Wait()
		close(finished)
	}()

	budget := s.cfg.Server.JoinTimeout.D() * time.Duration(active)
	s.log.Info("Waiting up to %s for %d connection(s) to finish", budget, active)

	select {
	case <-finished:
		return
	case <-time.After(budget):
	}

	n := s.hub.CloseAll()
	s.log.Warn("Force-closed %d connection(s) after join timeout", n)
	<-finished
}

func (s *Server) removePidfile() {
	if s.pidfile == nil {
		return
	}
	if err := s.pidfile.Remove(); err != nil {
		s.log.Warn("%v", err)
	}
}

// Done is closed when the accept loop has exited, either because the server
// stopped or because accept failed
func (s *Server) Done() <-chan struct{} {
	return s.acceptDone
}

// Stopped is closed once Stop has completed
func (s *Server) Stopped() <-chan struct{} {
	return s.stopped
}

// Err returns the accept error that ended the loop, if any
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceptErr
}

// SocketPath returns the absolute path of the bound socket
func (s *Server) SocketPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socketPath
}

// Coordinator returns the shutdown coordinator bound to this server
func (s *Server) Coordinator() *shutdown.Coordinator {
	return s.coord
}

// GetHub returns the hub instance
func (s *Server) GetHub() *Hub {
	return s.hub
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	return s.hub.Count()
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
