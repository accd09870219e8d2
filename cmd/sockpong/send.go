package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codefionn/sockpong/internal/config"
	"github.com/codefionn/sockpong/internal/protocol"
	"github.com/codefionn/sockpong/internal/socketclient"
)

func newSendCmd(a *app) *cobra.Command {
	opts := &clientOptions{}
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send one message, print the reply and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.apply(cmd, a.cfg)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			text := protocol.OrDefault(strings.Join(args, " "), a.cfg.Client.DefaultPayload)
			return runSend(cmd.Context(), a.cfg, text, timeout, cmd.OutOrStdout())
		},
	}
	opts.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the reply")
	return cmd
}

// runSend is the one-shot client: connect with retries, send one line, wait
// for one reply
func runSend(ctx context.Context, cfg *config.Config, text string, timeout time.Duration, out io.Writer) error {
	client, err := socketclient.NewClientWithConfig(socketclient.ConfigFrom(cfg), nil)
	if err != nil {
		return err
	}
	defer client.Stop()

	replies := make(chan string, 1)
	client.SetReplyCallback(func(line string) {
		select {
		case replies <- line:
		default:
		}
	})

	if !client.Connect(ctx) {
		return fmt.Errorf("could not connect to %s", describeEndpoint(ctx, cfg))
	}
	if err := client.SendMessage(text); err != nil {
		return err
	}

	select {
	case line := <-replies:
		fmt.Fprintln(out, line)
		return nil
	case <-client.Done():
		return fmt.Errorf("server is shutting down")
	case <-time.After(timeout):
		return fmt.Errorf("no reply within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
