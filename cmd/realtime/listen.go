package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"sutext.github.io/realtime/client"
	"sutext.github.io/realtime/envelope"
	"sutext.github.io/realtime/xerr"
	"sutext.github.io/realtime/xlog"
)

func listenCmd(g *globals) *cobra.Command {
	var (
		channels []string
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "listen [CHANNEL...]",
		Short: "Subscribe to channels and print inbound envelopes",
		Long: `Connect, subscribe to the given channels and the ones in the config
file, and print every inbound envelope as one JSON line.

With --watch the config file is re-read when it changes and the
subscriptions follow its channel list.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if watch && g.configPath == "" {
				return errors.New("--watch needs --config")
			}
			extra := append(channels, args...)
			return runListen(cmd.OutOrStdout(), cfg, g.configPath, watch, extra)
		},
	}

	cmd.Flags().StringSliceVar(&channels, "channel", nil, "Channel to subscribe to, repeatable")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow channel changes in the config file")

	return cmd
}

func runListen(out io.Writer, cfg *config, configPath string, watch bool, extra []string) error {
	ctx, cancel := signalContext()
	defer cancel(nil)

	tel, err := newTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown("telemetry", tel.Shutdown)

	c := client.New(clientOptions(cfg, tel.clientStats(cfg))...)
	defer c.Close()
	logLifecycle(c)
	p := &printer{w: out}
	client.On(c, client.All, p.print)
	client.On(c, client.ReconnectFailed, func(ev client.ReconnectFailedEvent) {
		cancel(fmt.Errorf("%w after %d attempts", xerr.ReconnectExhausted, ev.Attempts))
	})

	subs := &subscriptions{client: c, fixed: extra}
	subs.apply(cfg.Channels)
	c.Connect()

	if cfg.Metrics.Address != "" {
		srv := &http.Server{
			Addr:    cfg.Metrics.Address,
			Handler: promhttp.HandlerFor(tel.registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				xlog.Error("metrics server", xlog.Err(err))
			}
		}()
		defer shutdown("metrics server", srv.Shutdown)
	}
	if watch {
		go func() {
			if err := watchConfig(ctx, configPath, subs); err != nil {
				cancel(err)
			}
		}()
	}

	<-ctx.Done()
	if cause := context.Cause(ctx); !errors.Is(cause, errSignal) {
		return cause
	}
	return nil
}

// printer writes envelopes as JSON lines.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) print(env envelope.Envelope) {
	line, err := json.Marshal(env)
	if err != nil {
		xlog.Warn("print envelope", xlog.Err(err))
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s\n", line)
}

// subscriptions keeps the client's channel set in step with the config file.
// Channels given on the command line stay subscribed across reloads.
type subscriptions struct {
	mu     sync.Mutex
	client *client.Client
	fixed  []string
}

func (s *subscriptions) apply(wanted []string) (added, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted = append(slices.Clone(s.fixed), wanted...)
	added, removed = channelDiff(s.client.Subscriptions(), wanted)
	for _, ch := range removed {
		s.client.Unsubscribe(ch)
	}
	for _, ch := range added {
		s.client.Subscribe(ch)
	}
	return added, removed
}

// channelDiff returns the channels of next missing from current and the
// channels of current missing from next. Empty names are ignored.
func channelDiff(current, next []string) (added, removed []string) {
	for _, ch := range next {
		if ch != "" && !slices.Contains(current, ch) && !slices.Contains(added, ch) {
			added = append(added, ch)
		}
	}
	for _, ch := range current {
		if !slices.Contains(next, ch) {
			removed = append(removed, ch)
		}
	}
	return added, removed
}

// watchConfig re-reads path on every change and applies its channel list.
// The directory is watched so editors that replace the file are seen.
func watchConfig(ctx context.Context, path string, subs *subscriptions) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			xlog.Warn("config watch", xlog.Err(err))
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := readConfig(path)
			if err != nil {
				xlog.Warn("config reload", xlog.Err(err))
				continue
			}
			added, removed := subs.apply(cfg.Channels)
			xlog.Info("config reloaded",
				xlog.Any("subscribed", added),
				xlog.Any("unsubscribed", removed),
			)
		}
	}
}
