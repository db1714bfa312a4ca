// Package config loads remotedesk settings.
//
// Values start from Default, are optionally overlaid by a YAML file given
// with --config, and finally by command-line flags the user set explicitly.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Host    HostConfig    `yaml:"host"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	Channel ChannelConfig `yaml:"channel"`
	Log     LogConfig     `yaml:"log"`
}

// HostConfig configures the sharing side.
type HostConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`

	// Cert and Key are PEM files. When both are empty an ephemeral
	// self-signed certificate is generated, unless RequireCert is set.
	Cert        string `yaml:"cert"`
	Key         string `yaml:"key"`
	RequireCert bool   `yaml:"require_cert"`
	// ExportCert writes the ephemeral certificate to this path so that
	// viewers can trust it with --ca.
	ExportCert string `yaml:"export_cert"`

	ACMEDomains []string `yaml:"acme_domains"`
	ACMECache   string   `yaml:"acme_cache"`

	FPS     int `yaml:"fps"`
	Quality int `yaml:"quality"`
	Display int `yaml:"display"`

	// Metrics mounts /metrics on the session listener.
	Metrics bool `yaml:"metrics"`
}

// ViewerConfig configures the watching side.
type ViewerConfig struct {
	Server string `yaml:"server"`
	Port   int    `yaml:"port"`

	// CA trusts a certificate file (typically the host's self-signed
	// certificate) without checking the host name. Insecure skips
	// verification entirely.
	CA       string `yaml:"ca"`
	Insecure bool   `yaml:"insecure"`

	Buffer        int           `yaml:"buffer"`
	RenderTimeout time.Duration `yaml:"render_timeout"`
	Width         int           `yaml:"width"`
	Height        int           `yaml:"height"`

	// MetricsAddr serves /metrics on a separate listener when set.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ChannelConfig applies to both channels on both sides.
type ChannelConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadLimit    int64         `yaml:"read_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Host: HostConfig{
			Bind:    "0.0.0.0",
			Port:    8765,
			FPS:     15,
			Quality: 50,
		},
		Viewer: ViewerConfig{
			Server:        "127.0.0.1",
			Port:          8765,
			Buffer:        2,
			RenderTimeout: 20 * time.Millisecond,
			Width:         1280,
			Height:        720,
		},
		Channel: ChannelConfig{
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  45 * time.Second,
			PingInterval: 15 * time.Second,
			ReadLimit:    16 << 20,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load returns the defaults overlaid with the file at path. An empty path
// returns the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every invalid value in every section at once.
func (c *Config) Validate() error {
	var v validator
	v.host(c.Host)
	v.viewer(c.Viewer)
	v.common(c)
	return v.err()
}

// ValidateHost checks the sections the host command reads.
func (c *Config) ValidateHost() error {
	var v validator
	v.host(c.Host)
	v.common(c)
	return v.err()
}

// ValidateViewer checks the sections the viewer command reads.
func (c *Config) ValidateViewer() error {
	var v validator
	v.viewer(c.Viewer)
	v.common(c)
	return v.err()
}

type validator struct{ errs []error }

func (v *validator) check(ok bool, format string, args ...any) {
	if !ok {
		v.errs = append(v.errs, fmt.Errorf(format, args...))
	}
}

func (v *validator) err() error { return errors.Join(v.errs...) }

func (v *validator) host(h HostConfig) {
	v.check(validPort(h.Port), "host.port %d out of range", h.Port)
	v.check(h.FPS >= 1 && h.FPS <= 60, "host.fps %d not in 1..60", h.FPS)
	v.check(h.Quality >= 1 && h.Quality <= 100, "host.quality %d not in 1..100", h.Quality)
	v.check(h.Display >= 0, "host.display %d is negative", h.Display)
	v.check((h.Cert == "") == (h.Key == ""), "host.cert and host.key must be set together")
	v.check(h.Cert == "" || len(h.ACMEDomains) == 0, "host.cert and host.acme_domains are mutually exclusive")
}

func (v *validator) viewer(vc ViewerConfig) {
	v.check(vc.Server != "", "viewer.server is empty")
	v.check(validPort(vc.Port), "viewer.port %d out of range", vc.Port)
	v.check(vc.Buffer >= 1 && vc.Buffer <= 3, "viewer.buffer %d not in 1..3", vc.Buffer)
	v.check(vc.RenderTimeout > 0, "viewer.render_timeout must be positive")
	v.check(vc.Width > 0 && vc.Height > 0, "viewer window size %dx%d invalid", vc.Width, vc.Height)
	v.check(!(vc.Insecure && vc.CA != ""), "viewer.insecure and viewer.ca are mutually exclusive")
}

func (v *validator) common(c *Config) {
	v.check(c.Channel.WriteTimeout > 0, "channel.write_timeout must be positive")
	v.check(c.Channel.ReadLimit > 0, "channel.read_limit must be positive")
	if c.Channel.PingInterval > 0 {
		v.check(c.Channel.ReadTimeout > c.Channel.PingInterval,
			"channel.read_timeout %s must exceed channel.ping_interval %s", c.Channel.ReadTimeout, c.Channel.PingInterval)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		v.errs = append(v.errs, err)
	}
	v.check(c.Log.Format == "text" || c.Log.Format == "json", "log.format %q is not text or json", c.Log.Format)
}

func validPort(p int) bool { return p > 0 && p < 1<<16 }

// ParsePort parses a port given on the command line.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: not a number", s)
	}
	if !validPort(p) {
		return 0, fmt.Errorf("invalid port %q: out of range", s)
	}
	return p, nil
}

// Addr is the host listen address.
func (h HostConfig) Addr() string {
	return net.JoinHostPort(h.Bind, strconv.Itoa(h.Port))
}

// BaseURL is the host's session endpoint as seen by the viewer.
func (v ViewerConfig) BaseURL() string {
	return "wss://" + net.JoinHostPort(v.Server, strconv.Itoa(v.Port))
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
