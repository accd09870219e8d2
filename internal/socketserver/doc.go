// Package socketserver implements the Unix domain socket ping/pong server.
//
// # Architecture
//
//   - Server: binds the socket, runs the accept loop and owns the shutdown
//     sequence (close listener, remove socket file, join handlers)
//   - Hub: the set of active connections, keyed by connection ID
//   - Handler: serves one connection with a read-respond loop
//
// # Protocol
//
// Every complete line received is answered with "pong\n". Request N's reply
// is written before request N+1 is read. On shutdown the server may send
// "SERVER_SHUTDOWN\n", after which no further replies are written.
//
// # Shutdown
//
// A shutdown.Coordinator is shared by the server and every handler. The
// accept loop and each handler check its flag once per iteration; a handler
// blocked in a read observes it only after the read returns. Stop waits up to
// the join timeout per active handler and then closes the leftovers.
//
// Usage
//
//	coord := shutdown.New(cfg.Server.NotifyShutdown)
//	server, err := socketserver.NewServer(cfg, coord, metrics.NewServerMetrics())
//	if err != nil {
//	    return err
//	}
//	if err := server.Start(ctx); err != nil {
//	    return err
//	}
//	<-server.Done()
//	coord.RequestShutdown("done")
package socketserver
