package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/sockpong/internal/metrics"
	"github.com/codefionn/sockpong/internal/socketserver"
)

type fakeConns struct{ infos []socketserver.ConnectionInfo }

func (f *fakeConns) Snapshot() []socketserver.ConnectionInfo { return f.infos }
func (f *fakeConns) Count() int                              { return len(f.infos) }

type fakeShutdown struct {
	mu      sync.Mutex
	reasons []string
	done    chan struct{}
}

func newFakeShutdown() *fakeShutdown { return &fakeShutdown{done: make(chan struct{})} }

func (f *fakeShutdown) RequestShutdown(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reasons) == 0 {
		close(f.done)
	}
	f.reasons = append(f.reasons, reason)
}

func (f *fakeShutdown) Requested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reasons) > 0
}

func TestHealth(t *testing.T) {
	conns := &fakeConns{infos: []socketserver.ConnectionInfo{{ID: "conn_1"}}}
	sd := newFakeShutdown()
	s := NewServer("", conns, sd, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, 1, status.Connections)
}

func TestConnections(t *testing.T) {
	conns := &fakeConns{infos: []socketserver.ConnectionInfo{
		{ID: "conn_1", Lines: 3},
		{ID: "conn_2"},
	}}
	s := NewServer("", conns, newFakeShutdown(), nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connections", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []socketserver.ConnectionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].Lines)
}

func TestShutdownRoute(t *testing.T) {
	sd := newFakeShutdown()
	s := NewServer("", &fakeConns{}, sd, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/shutdown", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-sd.done:
	case <-time.After(time.Second):
		t.Fatal("shutdown not requested")
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/shutdown", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/shutdown", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.NewServerMetrics()
	m.Accepted()
	s := NewServer("", &fakeConns{}, newFakeShutdown(), m.Handler())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sockpong_server_connections_total 1")

	s = NewServer("", &fakeConns{}, newFakeShutdown(), nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeOverUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "adm")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "a.sock")

	s := NewServer(path, &fakeConns{}, newFakeShutdown(), nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}}
	resp, err := client.Get("http://admin/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestProfilingRoutes(t *testing.T) {
	s := NewServer("", &fakeConns{}, newFakeShutdown(), nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.EnableProfiling()
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/goroutine?debug=1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
