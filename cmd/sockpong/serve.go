package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/codefionn/sockpong/internal/admin"
	"github.com/codefionn/sockpong/internal/config"
	"github.com/codefionn/sockpong/internal/metrics"
	"github.com/codefionn/sockpong/internal/pprof"
	"github.com/codefionn/sockpong/internal/shutdown"
	"github.com/codefionn/sockpong/internal/socketserver"
)

type serveOptions struct {
	acceptTimeout  time.Duration
	idleTimeout    time.Duration
	joinTimeout    time.Duration
	maxConnections int
	noNotify       bool
	adminSocket    string
	enablePprof    bool
	pidFile        string
	profiles       pprof.Config
}

func newServeCmd(a *app) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ping/pong server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.apply(cmd, a.cfg)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			profiler := pprof.New(opts.profiles)
			if err := profiler.Start(); err != nil {
				return err
			}
			defer func() {
				if err := profiler.Stop(); err != nil {
					a.log.Warn("Failed to write profiles: %v", err)
				}
			}()
			return runServe(ctx, a.cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&opts.acceptTimeout, "accept-timeout", 0, "how often the accept loop checks for shutdown")
	flags.DurationVar(&opts.idleTimeout, "idle-timeout", 0, "close connections silent for this long (0 disables)")
	flags.DurationVar(&opts.joinTimeout, "join-timeout", 0, "wait per active connection on shutdown")
	flags.IntVar(&opts.maxConnections, "max-connections", 0, "reject connections beyond this count (0 = unlimited)")
	flags.BoolVar(&opts.noNotify, "no-notify", false, "do not send SERVER_SHUTDOWN to clients on shutdown")
	flags.StringVar(&opts.adminSocket, "admin-socket", "", "serve the admin HTTP API on this socket")
	flags.BoolVar(&opts.enablePprof, "pprof", false, "serve /debug/pprof/ on the admin socket")
	flags.StringVar(&opts.pidFile, "pid-file", "", "write the server pid to this file")
	flags.StringVar(&opts.profiles.CPUProfile, "cpu-profile", "", "write a CPU profile of the run to this file")
	flags.StringVar(&opts.profiles.HeapProfile, "heap-profile", "", "write a heap profile to this file on exit")
	flags.StringVar(&opts.profiles.GoroutineProfile, "goroutine-profile", "", "write a goroutine profile to this file on exit")
	return cmd
}

func (o *serveOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("accept-timeout") {
		cfg.Server.AcceptTimeout = config.Duration(o.acceptTimeout)
	}
	if flags.Changed("idle-timeout") {
		cfg.Server.IdleTimeout = config.Duration(o.idleTimeout)
	}
	if flags.Changed("join-timeout") {
		cfg.Server.JoinTimeout = config.Duration(o.joinTimeout)
	}
	if flags.Changed("max-connections") {
		cfg.Server.MaxConnections = o.maxConnections
	}
	if o.noNotify {
		cfg.Server.NotifyShutdown = false
	}
	if flags.Changed("admin-socket") {
		cfg.Admin.SocketPath = o.adminSocket
	}
	if flags.Changed("pprof") {
		cfg.Admin.Pprof = o.enablePprof
	}
	if flags.Changed("pid-file") {
		cfg.Server.PidFile = o.pidFile
	}
}

// runServe blocks until the server has shut down. Cancelling ctx (SIGINT or
// SIGTERM) triggers the graceful shutdown; so does POST /shutdown on the
// admin socket. A bind failure or a failing accept loop is returned as an
// error.
func runServe(ctx context.Context, cfg *config.Config, out io.Writer) error {
	coord := shutdown.New(cfg.Server.NotifyShutdown)
	m := metrics.NewServerMetrics()

	srv, err := socketserver.NewServer(cfg, coord, m)
	if err != nil {
		return err
	}
	if err := srv.Start(context.Background()); err != nil {
		return err
	}
	fmt.Fprintf(out, "Starting server on %s...\n", srv.SocketPath())

	var adm *admin.Server
	if cfg.Admin.SocketPath != "" {
		adm = admin.NewServer(cfg.Admin.SocketPath, srv.GetHub(), coord, m.Handler())
		if cfg.Admin.Pprof {
			adm.EnableProfiling()
		}
		if err := adm.Start(); err != nil {
			coord.RequestShutdown("admin socket unavailable")
			return fmt.Errorf("failed to start admin API: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Signal or group failure
	g.Go(func() error {
		select {
		case <-gctx.Done():
			if ctx.Err() != nil {
				fmt.Fprintln(out, "Got signal, shutting down server...")
			}
			coord.RequestShutdown("signal")
		case <-coord.Done():
		}
		return nil
	})

	// Accept loop
	g.Go(func() error {
		<-srv.Done()
		if err := srv.Err(); err != nil {
			coord.RequestShutdown("accept failure")
			return fmt.Errorf("accept loop failed: %w", err)
		}
		coord.RequestShutdown("listener closed")
		<-srv.Stopped()
		return nil
	})

	if adm != nil {
		g.Go(func() error {
			<-srv.Stopped()
			return adm.Stop()
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Server stopped")
	return nil
}
