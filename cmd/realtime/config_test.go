package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sutext.github.io/realtime/xlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "realtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReadConfigDefaults(t *testing.T) {
	cfg, err := readConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.validate())
	assert.Equal(t, 10, cfg.Retry.Limit)
	assert.Equal(t, 25*time.Second, cfg.KeepAlive)
	assert.Equal(t, "/ws", cfg.Serve.Path)
	assert.Equal(t, xlog.LevelInfo, cfg.Level())
}

func TestReadConfigFile(t *testing.T) {
	path := writeConfig(t, `
url: ws://localhost:8080/ws
channels: [news, sports]
logLevel: debug
logFormat: json
keepAlive: 10s
retry:
  limit: 3
  initial: 500ms
  max: 5s
serve:
  address: ":9090"
  origins: ["https://app.example.com"]
redis:
  enabled: true
  address: localhost:6379
kafka:
  enabled: true
  brokers: [localhost:9092]
`)
	cfg, err := readConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.validate())
	assert.Equal(t, "ws://localhost:8080/ws", cfg.URL)
	assert.Equal(t, []string{"news", "sports"}, cfg.Channels)
	assert.Equal(t, xlog.LevelDebug, cfg.Level())
	assert.Equal(t, 10*time.Second, cfg.KeepAlive)
	assert.Equal(t, 3, cfg.Retry.Limit)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.Initial)
	assert.Equal(t, 1.5, cfg.Retry.Factor)
	assert.Equal(t, "exponential", cfg.Retry.Strategy)
	assert.Equal(t, ":9090", cfg.Serve.Address)
	assert.Equal(t, "/ws", cfg.Serve.Path)
	assert.Equal(t, "realtime:", cfg.Redis.Prefix)
	assert.Equal(t, "realtime.messages", cfg.Kafka.Topic)

	b := cfg.backoff()
	assert.Equal(t, 500*time.Millisecond, b.Next(1))
	assert.Equal(t, 5*time.Second, b.Next(20))
}

func TestRetryStrategies(t *testing.T) {
	path := writeConfig(t, `
retry:
  strategy: linear
  initial: 1s
  step: 4s
  max: 10s
`)
	cfg, err := readConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.validate())
	b := cfg.backoff()
	assert.Equal(t, time.Second, b.Next(1))
	assert.Equal(t, 5*time.Second, b.Next(2))
	assert.Equal(t, 10*time.Second, b.Next(4))

	cfg.Retry.Strategy = "constant"
	require.NoError(t, cfg.validate())
	assert.Equal(t, time.Second, cfg.backoff().Next(7))

	cfg.Retry.Strategy = "random"
	require.NoError(t, cfg.validate())
	for i := 1; i <= 20; i++ {
		d := cfg.backoff().Next(i)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 10*time.Second)
	}

	cfg.Retry.Strategy = "exponential"
	cfg.Retry.Factor = 3
	require.NoError(t, cfg.validate())
	assert.Equal(t, 3*time.Second, cfg.backoff().Next(2))
}

func TestReadConfigErrors(t *testing.T) {
	_, err := readConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = readConfig(writeConfig(t, "retry: [1, 2"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*config){
		"negative limit":    func(c *config) { c.Retry.Limit = -1 },
		"zero initial":      func(c *config) { c.Retry.Initial = 0 },
		"max below initial": func(c *config) { c.Retry.Max = time.Second },
		"shrinking factor":  func(c *config) { c.Retry.Factor = 0.5 },
		"unknown strategy":  func(c *config) { c.Retry.Strategy = "fibonacci" },
		"negative ping":     func(c *config) { c.KeepAlive = -time.Second },
		"log format":        func(c *config) { c.LogFormat = "xml" },
		"redis address":     func(c *config) { c.Redis.Enabled = true },
		"kafka brokers":     func(c *config) { c.Kafka.Enabled = true },
		"trace endpoint":    func(c *config) { c.Trace.Enabled = true },
		"negative step": func(c *config) {
			c.Retry.Strategy = "linear"
			c.Retry.Step = -time.Second
		},
		"metrics interval": func(c *config) {
			c.Metrics.OTLPEndpoint = "localhost:4317"
			c.Metrics.Interval = 0
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}
