package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"sutext.github.io/realtime/backoff"
	"sutext.github.io/realtime/client"
	"sutext.github.io/realtime/hub"
	"sutext.github.io/realtime/xlog"
)

// retryConfig picks the reconnect delay strategy. Every strategy starts from
// Initial and is capped at Max. Factor drives exponential growth, Step the
// linear increment, and random draws between Initial and Max.
type retryConfig struct {
	Limit    int           `yaml:"limit"`
	Strategy string        `yaml:"strategy"`
	Initial  time.Duration `yaml:"initial"`
	Max      time.Duration `yaml:"max"`
	Factor   float64       `yaml:"factor"`
	Step     time.Duration `yaml:"step"`
}

type serveConfig struct {
	Address    string   `yaml:"address"`
	Path       string   `yaml:"path"`
	Origins    []string `yaml:"origins"`
	QueueSize  int      `yaml:"queueSize"`
	MaxPayload int      `yaml:"maxPayload"`
	Secret     string   `yaml:"secret"`
}

type metricsConfig struct {
	Namespace    string        `yaml:"namespace"`
	Address      string        `yaml:"address"`
	OTLPEndpoint string        `yaml:"otlpEndpoint"`
	Interval     time.Duration `yaml:"interval"`
}

type traceConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

type redisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DB       int    `yaml:"db"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

type kafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type config struct {
	URL       string        `yaml:"url"`
	Origin    string        `yaml:"origin"`
	Token     string        `yaml:"token"`
	Channels  []string      `yaml:"channels"`
	LogLevel  string        `yaml:"logLevel"`
	LogFormat string        `yaml:"logFormat"`
	KeepAlive time.Duration `yaml:"keepAlive"`
	Retry     retryConfig   `yaml:"retry"`
	Serve     serveConfig   `yaml:"serve"`
	Metrics   metricsConfig `yaml:"metrics"`
	Trace     traceConfig   `yaml:"trace"`
	Redis     redisConfig   `yaml:"redis"`
	Kafka     kafkaConfig   `yaml:"kafka"`
}

func defaultConfig() *config {
	return &config{
		LogLevel:  "info",
		LogFormat: "text",
		KeepAlive: client.DefaultPingInterval,
		Retry: retryConfig{
			Limit:    client.DefaultRetryLimit,
			Strategy: "exponential",
			Initial:  2 * time.Second,
			Max:      30 * time.Second,
			Factor:   1.5,
			Step:     5 * time.Second,
		},
		Serve: serveConfig{
			Address:    ":8080",
			Path:       "/ws",
			QueueSize:  hub.DefaultQueueCapacity,
			MaxPayload: hub.DefaultMaxPayload,
		},
		Metrics: metricsConfig{Namespace: "realtime", Interval: 15 * time.Second},
		Trace:   traceConfig{ServiceName: "realtime"},
		Redis:   redisConfig{Prefix: "realtime:"},
		Kafka:   kafkaConfig{Topic: "realtime.messages"},
	}
}

// readConfig loads path over the defaults. An empty path yields the defaults.
func readConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *config) validate() error {
	if c.Retry.Limit < 0 {
		return errors.New("retry.limit must not be negative")
	}
	if c.Retry.Initial <= 0 || c.Retry.Max < c.Retry.Initial {
		return errors.New("retry.initial must be positive and not above retry.max")
	}
	switch c.Retry.Strategy {
	case "exponential":
		if c.Retry.Factor < 1 {
			return errors.New("retry.factor must be at least 1")
		}
	case "linear":
		if c.Retry.Step < 0 {
			return errors.New("retry.step must not be negative")
		}
	case "constant", "random":
	default:
		return fmt.Errorf("unknown retry.strategy %q", c.Retry.Strategy)
	}
	if c.KeepAlive < 0 {
		return errors.New("keepAlive must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logFormat %q", c.LogFormat)
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.New("redis.address is required when redis is enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if c.Metrics.OTLPEndpoint != "" && c.Metrics.Interval <= 0 {
		return errors.New("metrics.interval must be positive")
	}
	if c.Trace.Enabled && c.Trace.OTLPEndpoint == "" {
		return errors.New("trace.otlpEndpoint is required when tracing is enabled")
	}
	return nil
}

func (c *config) Level() slog.Level {
	return xlog.ParseLevel(c.LogLevel)
}

func (c *config) logger() *xlog.Logger {
	return xlog.New(os.Stderr, c.Level(), c.LogFormat == "json")
}

func (c *config) backoff() backoff.Backoff {
	var b backoff.Backoff
	switch c.Retry.Strategy {
	case "linear":
		b = backoff.Linear(c.Retry.Initial, c.Retry.Step)
	case "constant":
		b = backoff.Constant(c.Retry.Initial)
	case "random":
		b = backoff.Random(c.Retry.Initial, c.Retry.Max)
	default:
		b = backoff.Exponential(c.Retry.Initial, c.Retry.Factor)
	}
	return backoff.Capped(b, c.Retry.Max)
}
