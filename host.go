package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"remotedesk/internal/capture"
	"remotedesk/internal/codec"
	"remotedesk/internal/config"
	"remotedesk/internal/host"
	"remotedesk/internal/input"
	"remotedesk/internal/metrics"
	"remotedesk/internal/netinfo"
	"remotedesk/internal/session"
	"remotedesk/internal/tlsconf"
)

func hostCmd(g *globals) *cobra.Command {
	var (
		bind        string
		port        int
		cert, key   string
		requireCert bool
		exportCert  string
		acme        []string
		fps         int
		quality     int
		display     int
		withMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Share this machine's screen",
		Long: `Share a display and accept input from one viewer at a time.

Without --cert/--key an ephemeral self-signed certificate is generated;
pass --export-cert to write it out for viewers using --ca.

Examples:
  remotedesk host
  remotedesk host --port 9443 --fps 30 --quality 70
  remotedesk host --cert cert.pem --key key.pem --require-cert`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(cmd, func(c *config.Config) error {
				f := cmd.Flags()
				if f.Changed("bind") {
					c.Host.Bind = bind
				}
				if f.Changed("port") {
					c.Host.Port = port
				}
				if f.Changed("cert") {
					c.Host.Cert = cert
				}
				if f.Changed("key") {
					c.Host.Key = key
				}
				if f.Changed("require-cert") {
					c.Host.RequireCert = requireCert
				}
				if f.Changed("export-cert") {
					c.Host.ExportCert = exportCert
				}
				if f.Changed("acme-domain") {
					c.Host.ACMEDomains = acme
				}
				if f.Changed("fps") {
					c.Host.FPS = fps
				}
				if f.Changed("quality") {
					c.Host.Quality = quality
				}
				if f.Changed("display") {
					c.Host.Display = display
				}
				if f.Changed("metrics") {
					c.Host.Metrics = withMetrics
				}
				return nil
			}, (*config.Config).ValidateHost)
			if err != nil {
				return err
			}
			return runHost(cmd.Context(), cfg, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&bind, "bind", "0.0.0.0", "Address to listen on")
	f.IntVarP(&port, "port", "p", 8765, "Port to listen on")
	f.StringVar(&cert, "cert", "", "PEM certificate file")
	f.StringVar(&key, "key", "", "PEM private key file")
	f.BoolVar(&requireCert, "require-cert", false, "Refuse to start without --cert/--key or ACME")
	f.StringVar(&exportCert, "export-cert", "", "Write the ephemeral certificate to this file")
	f.StringSliceVar(&acme, "acme-domain", nil, "Obtain certificates for these domains from Let's Encrypt")
	f.IntVar(&fps, "fps", 15, "Frames per second (1-60)")
	f.IntVarP(&quality, "quality", "q", 50, "JPEG quality (1-100)")
	f.IntVar(&display, "display", 0, "Display index to share")
	f.BoolVar(&withMetrics, "metrics", false, "Serve Prometheus metrics at /metrics")
	return cmd
}

func runHost(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	display, err := capture.Open(cfg.Host.Display)
	if err != nil {
		return err
	}
	bounds := display.Bounds()
	logger.Info("sharing display", "index", cfg.Host.Display, "width", bounds.Dx(), "height", bounds.Dy())

	addrs, err := netinfo.LANAddresses()
	if err != nil {
		logger.Warn("could not list LAN addresses", "err", err)
	}
	srvTLS, err := serverTLS(cfg.Host, addrs, logger)
	if err != nil {
		return err
	}

	reg := newRegistry()
	m := metrics.New(reg)
	var metricsHandler http.Handler
	if cfg.Host.Metrics {
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	h := &host.Host{
		Capture:  display,
		Encoder:  codec.JPEG{},
		Injector: &input.Injector{Origin: bounds.Min},
		Pipeline: host.PipelineConfig{FPS: cfg.Host.FPS, Quality: cfg.Host.Quality},
		Metrics:  m,
		Logger:   logger,
	}
	srv := session.NewServer(session.ServerConfig{
		Addr:           cfg.Host.Addr(),
		TLS:            srvTLS.Config,
		Options:        channelOptions(cfg.Channel),
		OnVideo:        h.HandleVideo,
		OnControl:      h.HandleControl,
		MetricsHandler: metricsHandler,
		Metrics:        m,
		Logger:         logger,
	})

	for _, a := range addrs {
		if !a.IP.Is4() {
			continue
		}
		url := "wss://" + net.JoinHostPort(a.IP.String(), strconv.Itoa(cfg.Host.Port))
		logger.Info("viewers can connect", "url", url, "interface", a.Interface, "private", a.Private())
	}
	return srv.ListenAndServe(ctx)
}

func serverTLS(hc config.HostConfig, addrs []netinfo.Address, logger *slog.Logger) (*tlsconf.Server, error) {
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, net.IP(a.IP.AsSlice()))
	}
	srv, err := tlsconf.NewServer(tlsconf.ServerOptions{
		CertFile:    hc.Cert,
		KeyFile:     hc.Key,
		ACMEDomains: hc.ACMEDomains,
		ACMECache:   hc.ACMECache,
		RequireCert: hc.RequireCert,
		IPs:         ips,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("tls ready", "source", srv.Source, "sha256", tlsconf.Fingerprint(srv.Leaf))
	if srv.Source != tlsconf.SourceEphemeral {
		return srv, nil
	}
	logger.Warn("using an ephemeral self-signed certificate; viewers need --ca or --insecure")
	if hc.ExportCert != "" {
		if err := tlsconf.WriteCertificate(hc.ExportCert, srv.Leaf); err != nil {
			return nil, fmt.Errorf("export certificate: %w", err)
		}
		logger.Info("certificate exported", "path", hc.ExportCert)
	}
	return srv, nil
}
