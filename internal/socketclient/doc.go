// Package socketclient provides the reconnecting client for the sockpong
// Unix socket server.
//
// # Architecture
//
//   - Client: owns at most one connection, drives connect cycles with
//     exponential backoff and runs one background reader per connection
//   - outbound queue: messages submitted while disconnected wait here and are
//     flushed in submission order right after the next successful connect
//   - reconnect worker: connect cycles triggered by a lost connection or a
//     queued message run on this goroutine, so SendMessage never sleeps
//   - endpoint watcher (optional): a new cycle starts when the socket file
//     is created again
//
// A cycle makes up to ReconnectLimit attempts. After failed attempt k it
// waits BaseDelay * 2^(k-1), capped at MaxDelay; there is no wait after the
// last attempt. An exhausted cycle leaves the client Disconnected; the next
// SendMessage starts a fresh one.
//
// When the server sends "SERVER_SHUTDOWN" the client stops for good: no
// reconnect follows and SendMessage returns ErrStopped.
//
// Basic Usage
//
//	client, err := socketclient.NewClientWithConfig(socketclient.ConfigFrom(cfg), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client.SetReplyCallback(func(line string) {
//	    fmt.Println(line)
//	})
//	client.Start()
//	defer client.Stop()
//
//	if !client.Connect(ctx) {
//	    log.Println("server not reachable, messages will be queued")
//	}
//	client.SendMessage("ping")
package socketclient
