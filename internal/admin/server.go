// Package admin serves a small HTTP API on a local unix socket for health
// checks, connection listing, metrics scraping and remote shutdown.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/sockpong/internal/consts"
	"github.com/codefionn/sockpong/internal/logger"
	"github.com/codefionn/sockpong/internal/pprof"
	"github.com/codefionn/sockpong/internal/socketserver"
	"github.com/codefionn/sockpong/internal/transport"
)

// Connections lists the server's active connections
type Connections interface {
	Snapshot() []socketserver.ConnectionInfo
	Count() int
}

// Shutdowner triggers a graceful shutdown
type Shutdowner interface {
	RequestShutdown(reason string)
	Requested() bool
}

// Server provides the administrative HTTP interface
type Server struct {
	socketPath string
	conns      Connections
	shutdown   Shutdowner
	metrics    http.Handler
	router     *httprouter.Router
	log        *logger.Logger
	started    time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	stopOnce sync.Once
}

// NewServer creates a new admin server. metrics may be nil, in which case
// /metrics is not routed.
func NewServer(socketPath string, conns Connections, shutdown Shutdowner, metrics http.Handler) *Server {
	s := &Server{
		socketPath: socketPath,
		conns:      conns,
		shutdown:   shutdown,
		metrics:    metrics,
		router:     httprouter.New(),
		log:        logger.Global().WithPrefix("admin"),
		started:    time.Now(),
	}

	s.setupRoutes()
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// EnableProfiling mounts the pprof handlers under /debug/pprof/. Call it
// before Start.
func (s *Server) EnableProfiling() {
	pprof.Register(s.router)
}

// Start binds the admin socket and serves in the background
func (s *Server) Start() error {
	ln, absPath, err := transport.Listen(s.socketPath, consts.DefaultSocketPermissions)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logger.NewStdLogger(s.log, slog.LevelError),
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Admin server error: %v", err)
		}
	}()

	s.log.Info("Admin API listening on %s", absPath)
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		srv := s.server
		s.mu.Unlock()
		if srv == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), consts.AdminShutdownTimeout)
		defer cancel()
		err = srv.Shutdown(ctx)
	})
	return err
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/connections", s.handleConnections)
	s.router.POST("/shutdown", s.handleShutdown)
	if s.metrics != nil {
		s.router.Handler(http.MethodGet, "/metrics", s.metrics)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HealthStatus is the body of GET /healthz
type HealthStatus struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Uptime      string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status := HealthStatus{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	}
	code := http.StatusOK
	if s.shutdown.Requested() {
		status.Status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.conns.Snapshot())
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.shutdown.Requested() {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already shutting down"})
		return
	}

	s.log.Info("Shutdown requested via admin API")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})

	// Shutdown stops this server too, so it must not run on the request goroutine
	go s.shutdown.RequestShutdown("admin request")
}
