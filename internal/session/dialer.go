package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Dialer opens the viewer side of a session.
type Dialer struct {
	TLS              *tls.Config
	Options          Options
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Connect dials the video and control channels of base (a ws:// or wss://
// URL) concurrently and attaches them to s. Each kind becomes ready as soon
// as its own handshake completes. If either dial fails, s is closed.
func (d *Dialer) Connect(ctx context.Context, base string, s *Session) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range Kinds {
		g.Go(func() error {
			ch, err := d.dial(gctx, base, kind, s)
			if err != nil {
				return err
			}
			if err := s.Attach(ch); err != nil {
				return err
			}
			s.Logger().Info("channel connected", "channel", kind)
			// Control flows viewer to host only.
			if kind == Control {
				go ch.DiscardIncoming()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.Close()
		return err
	}
	return nil
}

func (d *Dialer) dial(ctx context.Context, base string, kind Kind, s *Session) (*Channel, error) {
	u, err := ChannelURL(base, kind, s.ID)
	if err != nil {
		return nil, err
	}
	opts := d.Options
	if opts == (Options{}) {
		opts = DefaultOptions()
	}
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  d.TLS,
		HandshakeTimeout: timeout,
		ReadBufferSize:   64 << 10,
		WriteBufferSize:  4096,
	}
	conn, resp, err := wd.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s channel: %s: %w", kind, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s channel: %w", kind, err)
	}
	return newChannel(conn, kind, opts, s.Logger().With("channel", kind)), nil
}

// ChannelURL builds the URL of one channel. base may omit the scheme, in
// which case wss is assumed.
func ChannelURL(base string, kind Kind, sessionID string) (string, error) {
	if !kind.valid() {
		return "", fmt.Errorf("unknown channel kind %q", kind)
	}
	if !strings.Contains(base, "://") {
		base = "wss://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + kind.Path()
	if sessionID != "" {
		q := u.Query()
		q.Set("session", sessionID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
