package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"sutext.github.io/realtime/hub"
	"sutext.github.io/realtime/xlog"
)

func serveCmd(g *globals) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay hub",
		Long: `Run the relay hub clients connect to.

Routes:
  /ws       WebSocket endpoint (serve.path)
  /metrics  Prometheus metrics
  /healthz  liveness and hub counters

With redis enabled, hubs sharing the Redis relay each other's frames.
With kafka enabled, every relayed envelope is archived to kafka.topic.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("address") {
				cfg.Serve.Address = address
			}
			ctx, cancel := signalContext()
			defer cancel(nil)
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", ":8080", "Listen address, overrides serve.address")

	return cmd
}

func runServe(ctx context.Context, cfg *config) error {
	tel, err := newTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	closers := []func() error{}
	opts := []hub.Option{
		hub.WithLogger(xlog.Default()),
		hub.WithOrigins(cfg.Serve.Origins...),
		hub.WithQueueCapacity(cfg.Serve.QueueSize),
		hub.WithMaxPayload(cfg.Serve.MaxPayload),
	}
	if cfg.Serve.Secret != "" {
		opts = append(opts, hub.WithAuthorizer(jwtAuthorizer([]byte(cfg.Serve.Secret))))
	}
	var bridge *redisBridge
	if cfg.Redis.Enabled {
		bridge = newRedisBridge(cfg.Redis, tel.instanceID)
		opts = append(opts, hub.WithBridge(bridge))
		closers = append(closers, bridge.Close)
	}
	if cfg.Kafka.Enabled {
		sink, err := newKafkaSink(cfg.Kafka)
		if err != nil {
			return multierr.Append(err, tel.Shutdown(ctx))
		}
		opts = append(opts, hub.WithMessageHandler(sink.Handle))
		closers = append(closers, sink.Close)
	}
	h := hub.New(opts...)
	registerHubMetrics(tel.registry, cfg.Metrics.Namespace, h)

	srv := &http.Server{
		Addr:              cfg.Serve.Address,
		Handler:           newRouter(h, tel.registry, cfg.Serve.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		xlog.Info("realtime server started", xlog.Str("address", srv.Addr), xlog.Str("path", cfg.Serve.Path))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if bridge != nil {
		group.Go(func() error {
			return bridge.Run(gctx, h)
		})
	}
	group.Go(func() error {
		<-gctx.Done()
		shutdown("realtime server", func(ctx context.Context) error {
			err := multierr.Append(srv.Shutdown(ctx), h.Close())
			for _, c := range closers {
				err = multierr.Append(err, c())
			}
			return multierr.Append(err, tel.Shutdown(ctx))
		})
		return nil
	})
	return group.Wait()
}

// newRouter mounts the hub, metrics and health endpoints.
func newRouter(h *hub.Hub, registry *prometheus.Registry, path string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Handle(path, h.Handler())
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"clients":  h.Clients(),
			"channels": len(h.Channels()),
		})
	})
	return otelhttp.NewHandler(r, "realtime.serve")
}

func registerHubMetrics(registry prometheus.Registerer, namespace string, h *hub.Hub) {
	factory := promauto.With(registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "clients",
		Help:      "Connected hub clients.",
	}, func() float64 { return float64(h.Clients()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "channels",
		Help:      "Channels with at least one subscriber.",
	}, func() float64 { return float64(len(h.Channels())) })
}
