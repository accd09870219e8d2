package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/codefionn/sockpong/internal/config"
	"github.com/codefionn/sockpong/internal/metrics"
	"github.com/codefionn/sockpong/internal/outqueue"
	"github.com/codefionn/sockpong/internal/protocol"
	"github.com/codefionn/sockpong/internal/socketclient"
	"github.com/codefionn/sockpong/internal/transport"
)

type clientOptions struct {
	reconnectLimit int
	baseDelay      time.Duration
	maxDelay       time.Duration
	readTimeout    time.Duration
	queueCapacity  int
	overflow       string
	watch          bool
}

func (o *clientOptions) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVar(&o.reconnectLimit, "reconnect-limit", 0, "connect attempts per reconnect cycle")
	flags.DurationVar(&o.baseDelay, "base-delay", 0, "backoff delay after the first failed attempt")
	flags.DurationVar(&o.maxDelay, "max-delay", 0, "upper bound for a single backoff delay")
	flags.DurationVar(&o.readTimeout, "read-timeout", 0, "treat a server silent for this long as disconnected")
	flags.IntVar(&o.queueCapacity, "queue-capacity", 0, "bound the outbound queue (0 = unbounded)")
	flags.StringVar(&o.overflow, "overflow", "", "full queue policy: reject or drop-oldest")
}

func (o *clientOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("reconnect-limit") {
		cfg.Client.ReconnectLimit = o.reconnectLimit
	}
	if flags.Changed("base-delay") {
		cfg.Client.BaseDelay = config.Duration(o.baseDelay)
	}
	if flags.Changed("max-delay") {
		cfg.Client.MaxDelay = config.Duration(o.maxDelay)
	}
	if flags.Changed("read-timeout") {
		cfg.Client.ReadTimeout = config.Duration(o.readTimeout)
	}
	if flags.Changed("queue-capacity") {
		cfg.Client.QueueCapacity = o.queueCapacity
	}
	if flags.Changed("overflow") {
		cfg.Client.OverflowPolicy = o.overflow
	}
	if flags.Changed("watch") {
		cfg.Client.WatchEndpoint = o.watch
	}
}

func newConnectCmd(a *app) *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Send lines from stdin to the server and print the replies",
		Long: `connect reads lines from stdin and sends each one to the server. An empty
line sends the default payload ("ping"). While the server is unreachable,
lines are queued and delivered in order after the next reconnect.
The client exits on end of input, on SIGINT/SIGTERM, or when the server
announces its shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.apply(cmd, a.cfg)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, a.cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	opts.register(cmd)
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "reconnect as soon as the socket file reappears")
	return cmd
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// describeEndpoint explains why the socket cannot be reached
func describeEndpoint(ctx context.Context, cfg *config.Config) string {
	status, err := transport.Probe(ctx, cfg.Socket.Path, cfg.Client.ConnectTimeout.D())
	if err != nil {
		return fmt.Sprintf("%s: %v", cfg.Socket.Path, err)
	}
	return fmt.Sprintf("%s: %s", cfg.Socket.Path, status)
}

func runConnect(ctx context.Context, cfg *config.Config, in io.Reader, out, errOut io.Writer) error {
	client, err := socketclient.NewClientWithConfig(socketclient.ConfigFrom(cfg), metrics.NewClientMetrics())
	if err != nil {
		return err
	}
	client.SetReplyCallback(func(line string) {
		fmt.Fprintf(out, "[server reply] %s\n", line)
	})
	client.SetServerShutdownCallback(func() {
		fmt.Fprintln(out, "Server notified shutdown. Exiting client.")
	})
	client.SetReconnectingCallback(func(attempt, limit int) {
		fmt.Fprintf(errOut, "Reconnecting (attempt %d/%d)...\n", attempt, limit)
	})
	client.Start()
	defer client.Stop()
	defer func() {
		if n := client.Pending(); n > 0 {
			fmt.Fprintf(errOut, "%d queued message(s) not delivered\n", n)
		}
	}()

	if !client.Connect(ctx) {
		fmt.Fprintf(errOut, "Server not reachable (%s); messages will be queued\n", describeEndpoint(ctx, cfg))
	}

	interactive := isTerminal(in)
	if interactive {
		fmt.Fprintln(out, "Enter messages, one per line. Ctrl-C to exit.")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-client.Done():
				return
			}
		}
	}()

	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Client received signal, exiting.")
			return nil
		case <-client.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := protocol.OrDefault(line, cfg.Client.DefaultPayload)
			if err := client.SendMessage(text); err != nil {
				if errors.Is(err, socketclient.ErrStopped) {
					return nil
				}
				if errors.Is(err, outqueue.ErrQueueFull) {
					fmt.Fprintf(errOut, "Message dropped: %v\n", err)
					continue
				}
				return err
			}
		}
	}
}
