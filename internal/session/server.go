package session

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"remotedesk/internal/metrics"
)

// Handler runs one channel of a session until the channel closes or ctx is
// cancelled. The channel is closed when the handler returns.
type Handler func(ctx context.Context, s *Session, ch *Channel)

// ServerConfig configures the host side of the transport.
type ServerConfig struct {
	Addr string
	// TLS is required outside tests; a nil TLS serves plain WebSockets.
	TLS     *tls.Config
	Options Options

	OnVideo   Handler
	OnControl Handler

	// MetricsHandler, when set, is mounted at /metrics.
	MetricsHandler http.Handler
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Server accepts channel connections and dispatches each one, by routing
// key, to the video or control handler. Connections are independent: a bad
// or closed connection never affects another.
type Server struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader
	registry *Registry
	router   chi.Router
	logger   *slog.Logger
	metrics  *metrics.Metrics
	wg       sync.WaitGroup
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	if cfg.Options == (Options{}) {
		cfg.Options = DefaultOptions()
	}
	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 << 10,
			// Peers are not browsers; there is no origin to check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registry: NewRegistry(cfg.Logger),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}

	r := chi.NewRouter()
	r.Get(Video.Path(), s.handleChannel(Video, cfg.OnVideo))
	r.Get(Control.Path(), s.handleChannel(Control, cfg.OnControl))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	r.NotFound(s.reject)
	r.MethodNotAllowed(s.reject)
	s.router = r
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Registry returns the live session registry.
func (s *Server) Registry() *Registry { return s.registry }

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down,
// closing every live session.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		TLSConfig:         s.cfg.TLS,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("transport listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS != nil)
		var err error
		if s.cfg.TLS != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down transport")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// Hijacked WebSocket connections are not tracked by Shutdown.
		s.registry.CloseAll()
		s.wg.Wait()
		return err
	})
	return g.Wait()
}

func (s *Server) handleChannel(kind Kind, handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("upgrade failed", "channel", kind, "remote", r.RemoteAddr, "err", err)
			return
		}
		s.wg.Add(1)
		defer s.wg.Done()

		key := r.URL.Query().Get("session")
		if key == "" {
			key = remoteHost(r.RemoteAddr)
		}
		logger := s.logger.With("session", key, "channel", kind, "remote", r.RemoteAddr)
		ch := newChannel(conn, kind, s.cfg.Options, logger)
		defer ch.Close()

		sess, err := s.registry.Attach(key, r.RemoteAddr, ch)
		if err != nil {
			logger.Warn("attach failed", "err", err)
			return
		}
		logger.Info("channel connected")
		gauge := s.metrics.ActiveChannels.WithLabelValues(string(kind))
		gauge.Inc()
		defer gauge.Dec()

		// Video flows host to viewer only; read it just for control frames.
		if kind == Video || handler == nil {
			go ch.DiscardIncoming()
		}

		ctx := r.Context()
		stop := context.AfterFunc(ctx, func() { ch.Close() })
		defer stop()

		if handler != nil {
			handler(ctx, sess, ch)
		} else {
			<-ch.Done()
		}
		logger.Info("channel disconnected")
	}
}

// reject closes connections that used an unknown routing key. Upgrades are
// accepted and immediately closed so the peer sees a WebSocket close on
// that one connection.
func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	s.metrics.RejectedChannels.Inc()
	if !websocket.IsWebSocketUpgrade(r) {
		http.NotFound(w, r)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.logger.Warn("unknown routing key, closing", "path", r.URL.Path, "remote", r.RemoteAddr)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown routing key")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
