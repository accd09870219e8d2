package socketclient

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/sockpong/internal/config"
	"github.com/codefionn/sockpong/internal/metrics"
	"github.com/codefionn/sockpong/internal/outqueue"
	"github.com/codefionn/sockpong/internal/shutdown"
	"github.com/codefionn/sockpong/internal/socketserver"
)

func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func testClientConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.SocketPath = path
	cfg.ReconnectLimit = 2
	cfg.BaseDelay = 10 * time.Millisecond
	cfg.ConnectTimeout = time.Second
	return cfg
}

func newTestClient(t *testing.T, cfg *Config) (*Client, *metrics.ClientMetrics) {
	t.Helper()
	m := metrics.NewClientMetrics()
	c, err := NewClientWithConfig(cfg, m)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Stop()
		c.Wait()
	})
	return c, m
}

func startServer(t *testing.T, path string, notify bool) (*socketserver.Server, *shutdown.Coordinator) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Socket.Path = path
	cfg.Server.AcceptTimeout = config.Duration(50 * time.Millisecond)
	cfg.Server.JoinTimeout = config.Duration(100 * time.Millisecond)
	cfg.Server.NotifyShutdown = notify

	coord := shutdown.New(notify)
	srv, err := socketserver.NewServer(cfg, coord, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv, coord
}

// lineSink accepts one connection and records every line it receives
type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func listenSink(t *testing.T, path string) *lineSink {
	t.Helper()
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	sink := &lineSink{}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			sink.mu.Lock()
			sink.lines = append(sink.lines, line)
			sink.mu.Unlock()
		}
	}()
	return sink
}

func (s *lineSink) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func TestBackoffDelays(t *testing.T) {
	cfg := testClientConfig(shortSocketPath(t))
	cfg.ReconnectLimit = 4
	cfg.MaxDelay = 0
	c, m := newTestClient(t, cfg)

	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) bool {
		delays = append(delays, d)
		return true
	}

	var retries []int
	c.SetReconnectingCallback(func(attempt, limit int) {
		retries = append(retries, attempt)
		assert.Equal(t, 4, limit)
	})

	assert.False(t, c.Connect(context.Background()))
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}, delays, "no sleep follows the final attempt")
	assert.Equal(t, []int{2, 3, 4}, retries)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("endpoint_not_found")))
}

func TestBackoffCappedAtMaxDelay(t *testing.T) {
	cfg := testClientConfig(shortSocketPath(t))
	cfg.ReconnectLimit = 5
	cfg.MaxDelay = 25 * time.Millisecond
	c, _ := newTestClient(t, cfg)

	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) bool {
		delays = append(delays, d)
		return true
	}

	assert.False(t, c.Connect(context.Background()))
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		25 * time.Millisecond,
		25 * time.Millisecond,
	}, delays)
}

func TestUnreachableServerRealDelays(t *testing.T) {
	cfg := testClientConfig(shortSocketPath(t))
	cfg.ReconnectLimit = 3
	cfg.BaseDelay = 20 * time.Millisecond
	c, _ := newTestClient(t, cfg)

	start := time.Now()
	assert.False(t, c.Connect(context.Background()))
	// 20ms + 40ms between three attempts
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnectionRefusedIsClassified(t *testing.T) {
	path := shortSocketPath(t)
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())

	cfg := testClientConfig(path)
	cfg.ReconnectLimit = 1
	c, m := newTestClient(t, cfg)

	assert.False(t, c.Connect(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("connection_refused")))
}

func TestQueuedMessagesFlushedInOrder(t *testing.T) {
	path := shortSocketPath(t)
	cfg := testClientConfig(path)
	cfg.ReconnectLimit = 1
	c, _ := newTestClient(t, cfg)

	for _, msg := range []string{"first", "second\n", "third"} {
		require.NoError(t, c.SendMessage(msg))
	}
	assert.Equal(t, 3, c.Pending())

	sink := listenSink(t, path)
	require.Eventually(t, func() bool {
		return c.Connect(context.Background())
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return len(sink.received()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"first\n", "second\n", "third\n"}, sink.received())
	assert.Equal(t, 0, c.Pending())

	require.NoError(t, c.SendMessage("fourth"))
	require.Eventually(t, func() bool { return len(sink.received()) == 4 }, 2*time.Second, 10*time.Millisecond)
}

func TestSendFailureRequeuesAndReconnects(t *testing.T) {
	path := shortSocketPath(t)
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	readClosed := make(chan struct{})
	second := make(chan string, 1)
	go func() {
		// The first connection stops reading, so the client's write fails
		first, err := ln.Accept()
		if err != nil {
			return
		}
		defer first.Close()
		first.(*net.UnixConn).CloseRead()
		close(readClosed)

		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		second <- line
	}()

	cfg := testClientConfig(path)
	c, m := newTestClient(t, cfg)
	require.True(t, c.Connect(context.Background()))
	<-readClosed

	require.NoError(t, c.SendMessage("one"))

	select {
	case line := <-second:
		assert.Equal(t, "one\n", line)
	case <-time.After(3 * time.Second):
		t.Fatal("requeued message not delivered after reconnect")
	}
	assert.Eventually(t, func() bool { return c.Pending() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconnectCycles))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("ok")))
}

func TestHelloPong(t *testing.T) {
	path := shortSocketPath(t)
	startServer(t, path, true)

	c, m := newTestClient(t, testClientConfig(path))
	replies := make(chan string, 1)
	c.SetReplyCallback(func(line string) { replies <- line })

	require.True(t, c.Connect(context.Background()))
	require.NoError(t, c.SendMessage("hello"))

	select {
	case line := <-replies:
		assert.Equal(t, "pong", line)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesSent))
}

func TestConnectIsIdempotent(t *testing.T) {
	path := shortSocketPath(t)
	srv, _ := startServer(t, path, true)
	c, _ := newTestClient(t, testClientConfig(path))

	require.True(t, c.Connect(context.Background()))
	require.True(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())

	// Still exactly one connection on the server side
	require.Eventually(t, func() bool { return srv.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, srv.GetClientCount())
}

func TestServerStopWithoutNoticeLeavesClientDisconnected(t *testing.T) {
	path := shortSocketPath(t)
	srv, _ := startServer(t, path, false)
	c, m := newTestClient(t, testClientConfig(path))

	var mu sync.Mutex
	var states []ConnectionState
	c.SetStateChangedCallback(func(s ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.True(t, c.Connect(context.Background()))
	require.NoError(t, srv.Stop())

	// EOF, then one failed reconnect cycle
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("endpoint_not_found")) == 2 &&
			c.State() == StateDisconnected
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, c.SendMessage("after outage"))
	assert.Equal(t, 1, c.Pending())

	// A send after the exhausted cycle starts a fresh one
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("endpoint_not_found")) == 4
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, StateDisconnected, c.State())

	mu.Lock()
	assert.Contains(t, states, StateConnected)
	assert.Contains(t, states, StateConnecting)
	mu.Unlock()
}

func TestServerShutdownNoticeStopsClient(t *testing.T) {
	path := shortSocketPath(t)
	_, coord := startServer(t, path, true)
	c, m := newTestClient(t, testClientConfig(path))

	notified := make(chan struct{})
	c.SetServerShutdownCallback(func() { close(notified) })

	require.True(t, c.Connect(context.Background()))
	coord.RequestShutdown("test")

	select {
	case <-notified:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown notice not received")
	}
	<-c.Done()

	assert.Equal(t, StateStopped, c.State())
	assert.ErrorIs(t, c.SendMessage("ping"), ErrStopped)
	assert.False(t, c.Connect(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShutdownNotices))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ReconnectCycles))
}

func TestStopIsIdempotent(t *testing.T) {
	path := shortSocketPath(t)
	startServer(t, path, true)
	c, _ := newTestClient(t, testClientConfig(path))

	require.True(t, c.Connect(context.Background()))
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())

	assert.Equal(t, StateStopped, c.State())
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.SendMessage("late"), ErrStopped)
	assert.Equal(t, 0, c.Pending())
}

func TestStopInterruptsBackoff(t *testing.T) {
	cfg := testClientConfig(shortSocketPath(t))
	cfg.ReconnectLimit = 3
	cfg.BaseDelay = 10 * time.Second
	c, _ := newTestClient(t, cfg)

	result := make(chan bool, 1)
	go func() { result <- c.Connect(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	c.Stop()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect kept sleeping after Stop")
	}
	assert.Equal(t, StateStopped, c.State())
}

func TestBoundedQueueRejects(t *testing.T) {
	cfg := testClientConfig(shortSocketPath(t))
	cfg.ReconnectLimit = 1
	cfg.QueueCapacity = 1
	cfg.OverflowPolicy = outqueue.Reject
	c, m := newTestClient(t, cfg)

	require.NoError(t, c.SendMessage("kept"))
	assert.ErrorIs(t, c.SendMessage("rejected"), outqueue.ErrQueueFull)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDropped))
}

func TestEndpointWatcherReconnects(t *testing.T) {
	path := shortSocketPath(t)
	cfg := testClientConfig(path)
	cfg.ReconnectLimit = 3
	cfg.WatchEndpoint = true
	c, _ := newTestClient(t, cfg)

	c.Start()
	require.False(t, c.Connect(context.Background()))

	startServer(t, path, true)
	require.Eventually(t, c.IsConnected, 3*time.Second, 20*time.Millisecond)
}
