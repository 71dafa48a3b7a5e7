package main

import (
	"net/http"

	"sutext.github.io/realtime/client"
	"sutext.github.io/realtime/stats"
	"sutext.github.io/realtime/xlog"
)

// clientOptions maps the config onto client options.
func clientOptions(cfg *config, st stats.Handler) []client.Option {
	opts := []client.Option{
		client.WithRetry(cfg.Retry.Limit, cfg.backoff()),
		client.WithKeepAlive(cfg.KeepAlive),
		client.WithLogger(xlog.Default()),
		client.WithStats(st),
	}
	if cfg.URL != "" {
		opts = append(opts, client.WithURL(cfg.URL))
	} else {
		opts = append(opts, client.WithOrigin(cfg.Origin))
	}
	if cfg.Token != "" {
		opts = append(opts, client.WithHeader(http.Header{
			"Authorization": {"Bearer " + cfg.Token},
		}))
	}
	return opts
}

// logLifecycle reports the connection events of c through the default logger.
func logLifecycle(c *client.Client) {
	client.On(c, client.Connection, func(ev client.ConnectionEvent) {
		xlog.Info("connected", xlog.URL(ev.URL))
	})
	client.On(c, client.Disconnect, func(ev client.DisconnectEvent) {
		xlog.Info("disconnected", xlog.Int("code", ev.Code), xlog.Str("reason", ev.Reason))
	})
	client.On(c, client.Reconnecting, func(ev client.ReconnectingEvent) {
		xlog.Info("reconnecting", xlog.Attempt(ev.Attempt), xlog.Delay(ev.Delay))
	})
	client.On(c, client.Errors, func(ev client.ErrorEvent) {
		xlog.Warn("client error", xlog.Err(ev.Err))
	})
}
