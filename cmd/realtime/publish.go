package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"sutext.github.io/realtime/client"
	"sutext.github.io/realtime/envelope"
	"sutext.github.io/realtime/xerr"
	"sutext.github.io/realtime/xlog"
)

func publishCmd(g *globals) *cobra.Command {
	var (
		typ     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "publish CHANNEL DATA",
		Short: "Publish one envelope to a channel",
		Long: `Connect, send one envelope to CHANNEL and close.

DATA is sent as JSON when it parses as JSON and as a string otherwise.

Examples:
  realtime publish news '{"headline":"hello"}'
  realtime publish chat hi --type chat`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			env, err := envelope.New(envelope.Type(typ), args[0], payload(args[1]))
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel(nil)
			ctx, stop := context.WithTimeout(ctx, timeout)
			defer stop()
			c := client.New(clientOptions(cfg, nil)...)
			defer c.Close()
			return publish(ctx, c, env)
		},
	}

	cmd.Flags().StringVarP(&typ, "type", "t", string(envelope.Message), "Envelope type")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up when not connected by then")

	return cmd
}

// payload keeps valid JSON as is and quotes anything else.
func payload(arg string) any {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	return arg
}

// publish connects c, sends env once it is open and waits for the write to
// be handed to the transport.
func publish(ctx context.Context, c *client.Client, env envelope.Envelope) error {
	opened := make(chan struct{}, 1)
	failed := make(chan error, 1)
	client.On(c, client.Connection, func(client.ConnectionEvent) {
		select {
		case opened <- struct{}{}:
		default:
		}
	})
	client.On(c, client.ReconnectFailed, func(ev client.ReconnectFailedEvent) {
		failed <- fmt.Errorf("%w after %d attempts", xerr.ReconnectExhausted, ev.Attempts)
	})
	c.Connect()
	select {
	case <-opened:
	case err := <-failed:
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
	if !c.Send(env) {
		return errors.New("publish failed")
	}
	xlog.Info("published", xlog.Channel(env.Channel), xlog.Type(string(env.Type)))
	return nil
}
