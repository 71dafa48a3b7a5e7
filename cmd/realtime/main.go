package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"sutext.github.io/realtime/xlog"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 15 * time.Second

var errSignal = errors.New("realtime signal received")

// globals are the flags shared by every command.
type globals struct {
	configPath string
	url        string
	logLevel   string
	logFormat  string
}

// load reads the config file and lays the flags that were set over it.
func (g *globals) load(cmd *cobra.Command) (*config, error) {
	cfg, err := readConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = g.url
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = g.logFormat
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	xlog.SetDefault(cfg.logger())
	return cfg, nil
}

func rootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Reconnecting WebSocket pub/sub client and relay",
		Long: `realtime talks the JSON envelope protocol over WebSocket.

It can listen on channels, publish to a channel, or run the relay hub
that clients connect to.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Path to a YAML config file")
	pf.StringVar(&g.url, "url", "", "WebSocket endpoint, overrides the config file")
	pf.StringVar(&g.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	pf.StringVar(&g.logFormat, "log-format", "text", "Log format: text or json")

	cmd.AddCommand(
		listenCmd(g),
		publishCmd(g),
		serveCmd(g),
		tokenCmd(g),
		versionCmd(),
	)
	return cmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			cancel(errSignal)
		case <-ctx.Done():
		}
		signal.Stop(sigs)
	}()
	return ctx, cancel
}

// shutdown runs stop with a deadline and logs how it ended.
func shutdown(name string, stop func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- stop(ctx)
	}()
	select {
	case <-ctx.Done():
		xlog.Warn(name+" graceful shutdown timeout")
	case err := <-done:
		if err != nil {
			xlog.Error(name+" shutdown", xlog.Err(err))
			return
		}
		xlog.Debug(name + " graceful shutdown")
	}
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
