// Command remotedesk shares a desktop over two TLS WebSocket channels.
//
//	remotedesk host                  share this machine's screen
//	remotedesk viewer --server IP    watch and control a host
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"remotedesk/internal/config"
	"remotedesk/internal/session"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "remotedesk: %s\n", err)
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
}

func rootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:   "remotedesk",
		Short: "Remote desktop over TLS WebSockets",
		Long: `remotedesk streams a host's screen to a viewer and forwards the
viewer's mouse and keyboard back to the host.

The host serves two channels on one TLS endpoint: /video carries one
JPEG per message, /control carries one JSON input event per message.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&g.logLevel, "log-level", "info", "debug, info, warn or error")
	pf.StringVar(&g.logFormat, "log-format", "text", "text or json")

	cmd.AddCommand(hostCmd(g), viewerCmd(g))
	return cmd
}

// load builds the effective configuration: defaults, then the config
// file, then flags the user set. override applies the subcommand's flags
// and may reject them; validate checks the sections the subcommand reads.
func (g *globals) load(cmd *cobra.Command, override func(*config.Config) error, validate func(*config.Config) error) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = g.logFormat
	}
	if err := override(cfg); err != nil {
		return nil, nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(lc config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := lc.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func channelOptions(c config.ChannelConfig) session.Options {
	return session.Options{
		WriteTimeout: c.WriteTimeout,
		ReadTimeout:  c.ReadTimeout,
		PingInterval: c.PingInterval,
		ReadLimit:    c.ReadLimit,
	}
}

// newRegistry includes the runtime collectors next to remotedesk's own.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
