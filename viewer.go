package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"remotedesk/internal/codec"
	"remotedesk/internal/config"
	"remotedesk/internal/metrics"
	"remotedesk/internal/session"
	"remotedesk/internal/tlsconf"
	"remotedesk/internal/viewer"
	"remotedesk/internal/window"
)

func viewerCmd(g *globals) *cobra.Command {
	var (
		server      string
		port        int
		insecure    bool
		ca          string
		buffer      int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "viewer [server] [port]",
		Short: "Watch and control a remote host",
		Long: `Connect to a host, show its screen and forward local input.

The host's certificate is verified against the system roots unless
--ca (trust a certificate file, host name not checked) or --insecure
is given.

Examples:
  remotedesk viewer 192.168.100.10
  remotedesk viewer --server 192.168.100.10 --ca cert.pem
  remotedesk viewer --server desk.example.com --port 443`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(cmd, func(c *config.Config) error {
				f := cmd.Flags()
				if f.Changed("server") {
					c.Viewer.Server = server
				}
				if f.Changed("port") {
					c.Viewer.Port = port
				}
				if len(args) > 0 {
					c.Viewer.Server = args[0]
				}
				if len(args) > 1 {
					p, err := config.ParsePort(args[1])
					if err != nil {
						return err
					}
					c.Viewer.Port = p
				}
				if f.Changed("insecure") {
					c.Viewer.Insecure = insecure
				}
				if f.Changed("ca") {
					c.Viewer.CA = ca
				}
				if f.Changed("buffer") {
					c.Viewer.Buffer = buffer
				}
				if f.Changed("metrics-addr") {
					c.Viewer.MetricsAddr = metricsAddr
				}
				return nil
			}, (*config.Config).ValidateViewer)
			if err != nil {
				return err
			}
			return runViewer(cmd.Context(), cfg, logger)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&server, "server", "s", "127.0.0.1", "Host address")
	f.IntVarP(&port, "port", "p", 8765, "Host port")
	f.BoolVarP(&insecure, "insecure", "k", false, "Skip certificate verification")
	f.StringVar(&ca, "ca", "", "Trust this certificate file without checking the host name")
	f.IntVar(&buffer, "buffer", 2, "Undisplayed frames to keep (1-3)")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

// viewerApp owns one viewer session and the loops around it.
type viewerApp struct {
	base     string
	dialer   *session.Dialer
	sess     *session.Session
	win      *window.Window
	receiver *viewer.FrameReceiver
	render   *viewer.RenderLoop
	control  *viewer.ControlSource
	logger   *slog.Logger
}

func runViewer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tlsCfg, err := tlsconf.NewClient(tlsconf.ClientOptions{CAFile: cfg.Viewer.CA, Insecure: cfg.Viewer.Insecure})
	if err != nil {
		return err
	}
	if cfg.Viewer.Insecure {
		logger.Warn("certificate verification disabled")
	}

	reg := newRegistry()
	m := metrics.New(reg)
	if cfg.Viewer.MetricsAddr != "" {
		ms := &http.Server{
			Addr:              cfg.Viewer.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", "err", err)
			}
		}()
		defer ms.Close()
	}

	base := cfg.Viewer.BaseURL()
	sess := session.New(uuid.NewString(), base, logger)
	slogger := sess.Logger()

	geom := &viewer.Geometry{}
	win := window.New("remotedesk "+cfg.Viewer.Server, geom)
	buf := viewer.NewFrameBuffer(cfg.Viewer.Buffer, m)

	app := &viewerApp{
		base: base,
		dialer: &session.Dialer{
			TLS:     tlsCfg,
			Options: channelOptions(cfg.Channel),
			Logger:  slogger,
		},
		sess:     sess,
		win:      win,
		receiver: viewer.NewFrameReceiver(sess.Receiver(ctx, session.Video), codec.JPEG{}, buf, geom, slogger, m),
		render:   viewer.NewRenderLoop(buf, win, cfg.Viewer.RenderTimeout, m),
		control:  viewer.NewControlSource(sess.Sender(session.Control), geom, viewer.DefaultInputQueue, slogger, m),
		logger:   slogger,
	}
	app.control.Attach(win)

	// The window owns the main goroutine; the session runs beside it.
	done := make(chan error, 1)
	go func() { done <- app.run(ctx) }()
	go func() {
		<-ctx.Done()
		win.Close()
	}()

	winErr := win.Run(cfg.Viewer.Width, cfg.Viewer.Height)
	stop()
	sess.Close()
	return errors.Join(winErr, <-done)
}

// run connects and drives the session until it ends or ctx is cancelled.
// When the session ends the window stays open on the last frame.
func (a *viewerApp) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Input is forwarded from the start; until control is ready it is
	// dropped, never queued for later.
	g.Go(func() error { return a.control.Run(ctx) })
	g.Go(func() error { return a.render.Run(ctx) })
	g.Go(func() error {
		a.logger.Info("connecting", "url", a.base)
		if err := a.dialer.Connect(ctx, a.base, a.sess); err != nil {
			a.logger.Error("connect failed", "url", a.base, "err", err)
			return fmt.Errorf("connect %s: %w", a.base, err)
		}
		a.logger.Info("connected")
		a.win.SetConnected(true)
		a.sess.CloseOnChannelLoss()
		g.Go(func() error { return a.receiver.Run(ctx) })

		select {
		case <-a.sess.Done():
			a.logger.Warn("session ended, keeping last frame")
		case <-ctx.Done():
			a.sess.Close()
		}
		a.win.SetConnected(false)
		cancel()
		return nil
	})
	return g.Wait()
}
