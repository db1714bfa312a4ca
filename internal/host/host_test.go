package host

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotedesk/internal/event"
	"remotedesk/internal/metrics"
	"remotedesk/internal/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCapture struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) bool
}

func (f *fakeCapture) Grab() (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil && f.fail(f.calls) {
		return nil, errors.New("display asleep")
	}
	return image.NewRGBA(image.Rect(0, 0, 64, 36)), nil
}

// fakeEncoder numbers frames so ordering is visible on the wire.
type fakeEncoder struct {
	mu   sync.Mutex
	n    int
	fail func(n int) bool
}

func (f *fakeEncoder) Encode(img image.Image, quality int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if f.fail != nil && f.fail(f.n) {
		return nil, errors.New("encoder out of memory")
	}
	return []byte(fmt.Sprintf("frame-%d", f.n)), nil
}

// recordSender closes itself after limit frames.
type recordSender struct {
	mu     sync.Mutex
	frames []string
	limit  int
}

func (r *recordSender) Send(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) >= r.limit {
		return session.ErrChannelClosed
	}
	r.frames = append(r.frames, string(p))
	return nil
}

func (r *recordSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

type fakeInjector struct {
	mu    sync.Mutex
	calls []string
	fail  string
}

func (f *fakeInjector) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := fmt.Sprintf(format, args...)
	f.calls = append(f.calls, call)
	if f.fail != "" && strings.HasPrefix(call, f.fail) {
		return errors.New("injection refused")
	}
	return nil
}

func (f *fakeInjector) Move(x, y int) error                   { return f.record("move %d %d", x, y) }
func (f *fakeInjector) MouseDown(b event.Button) error        { return f.record("down %s", b) }
func (f *fakeInjector) MouseUp(b event.Button) error          { return f.record("up %s", b) }
func (f *fakeInjector) DoubleClick(b event.Button) error      { return f.record("dblclick %s", b) }
func (f *fakeInjector) KeyDown(key string) error              { return f.record("keydown %s", key) }
func (f *fakeInjector) KeyUp(key string) error                { return f.record("keyup %s", key) }
func (f *fakeInjector) Scroll(d event.Direction, n int) error { return f.record("scroll %s %d", d, n) }

func (f *fakeInjector) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type scriptReceiver struct {
	msgs []string
}

func (s *scriptReceiver) Receive() ([]byte, error) {
	if len(s.msgs) == 0 {
		return nil, session.ErrChannelClosed
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return []byte(m), nil
}

func TestPipelineSendsFramesInOrder(t *testing.T) {
	m := metrics.New(nil)
	out := &recordSender{limit: 5}
	p := NewFramePipeline(&fakeCapture{}, &fakeEncoder{}, out, PipelineConfig{FPS: 60}, quietLogger(), m)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []string{"frame-1", "frame-2", "frame-3", "frame-4", "frame-5"}, out.sent())
	assert.Equal(t, Stopped, p.State())
	assert.Equal(t, 5.0, testutil.ToFloat64(m.FramesSent))
}

func TestPipelineRecordsFrameLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	// The fourth send finds the channel closed and is not observed.
	out := &recordSender{limit: 3}
	p := NewFramePipeline(&fakeCapture{}, &fakeEncoder{}, out, PipelineConfig{FPS: 60}, quietLogger(), m)
	require.NoError(t, p.Run(context.Background()))

	families, err := reg.Gather()
	require.NoError(t, err)
	var samples uint64
	for _, f := range families {
		if f.GetName() == "remotedesk_host_frame_latency_seconds" {
			samples = f.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(3), samples)
}

func TestPipelineSkipsFailedTicks(t *testing.T) {
	m := metrics.New(nil)
	capture := &fakeCapture{fail: func(call int) bool { return call == 2 }}
	enc := &fakeEncoder{fail: func(n int) bool { return n == 3 }}
	out := &recordSender{limit: 3}
	p := NewFramePipeline(capture, enc, out, PipelineConfig{FPS: 60}, quietLogger(), m)

	require.NoError(t, p.Run(context.Background()))
	// Capture 2 failed before encoding; encode 3 (capture 4) produced nothing.
	assert.Equal(t, []string{"frame-1", "frame-2", "frame-4"}, out.sent())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaptureErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EncodeErrors))
}

func TestPipelineCannotRestart(t *testing.T) {
	p := NewFramePipeline(&fakeCapture{}, &fakeEncoder{}, &recordSender{limit: 1}, PipelineConfig{FPS: 60}, quietLogger(), nil)
	assert.Equal(t, Idle, p.State())
	require.NoError(t, p.Run(context.Background()))
	assert.ErrorIs(t, p.Run(context.Background()), ErrPipelineStopped)
}

func TestPipelineStopsOnCancel(t *testing.T) {
	out := &recordSender{limit: 1 << 30}
	p := NewFramePipeline(&fakeCapture{}, &fakeEncoder{}, out, PipelineConfig{FPS: 1}, quietLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	require.Eventually(t, func() bool { return len(out.sent()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pipeline did not stop")
	}
	// FPS 1 means the second tick is still far away.
	assert.Len(t, out.sent(), 1)
}

func TestPipelineRespectsFrameRate(t *testing.T) {
	out := &recordSender{limit: 4}
	p := NewFramePipeline(&fakeCapture{}, &fakeEncoder{}, out, PipelineConfig{FPS: 20}, quietLogger(), nil)
	start := time.Now()
	require.NoError(t, p.Run(context.Background()))
	// Four sends and the failing fifth attempt are four intervals apart.
	assert.GreaterOrEqual(t, time.Since(start), 4*50*time.Millisecond-10*time.Millisecond)
}

func TestDispatch(t *testing.T) {
	x, y := event.Point(5, 6)
	three := 3
	zero := 0
	tests := []struct {
		ev   event.Event
		want []string
	}{
		{event.MouseMove{X: 10, Y: 20}, []string{"move 10 20"}},
		{event.MouseClick{Button: event.ButtonLeft, Action: event.ActionDown}, []string{"down left"}},
		{event.MouseClick{Button: event.ButtonRight, Action: event.ActionUp}, []string{"up right"}},
		{event.MouseDoubleClick{Button: event.ButtonLeft, X: x, Y: y}, []string{"move 5 6", "dblclick left"}},
		{event.MouseDoubleClick{Button: event.ButtonMiddle}, []string{"dblclick middle"}},
		{event.MouseScroll{Direction: event.ScrollDown, Delta: &three}, []string{"scroll down 3"}},
		{event.MouseScroll{Direction: event.ScrollUp, Delta: &zero}, []string{"scroll up 1"}},
		{event.MouseScroll{Direction: event.ScrollUp}, []string{"scroll up 1"}},
		{event.Key{Key: "a", Action: event.ActionDown}, []string{"keydown a"}},
		{event.Key{Key: "enter", Action: event.ActionUp}, []string{"keyup enter"}},
	}
	for _, tt := range tests {
		inj := &fakeInjector{}
		sink := NewControlSink(nil, inj, quietLogger(), nil)
		require.NoError(t, sink.Dispatch(tt.ev))
		assert.Equal(t, tt.want, inj.recorded(), "%#v", tt.ev)
	}
}

func TestSinkCapsScroll(t *testing.T) {
	inj := &fakeInjector{}
	in := &scriptReceiver{msgs: []string{
		`{"type":"mouse_scroll","direction":"down","delta":2000000000}`,
		`{"type":"mouse_scroll","direction":"up","delta":25}`,
		`{"type":"key","key":"a","action":"up"}`,
	}}
	sink := NewControlSink(in, inj, quietLogger(), nil)

	require.NoError(t, sink.Run(context.Background()))
	assert.Equal(t, []string{"scroll down 25", "scroll up 25", "keyup a"}, inj.recorded())
}

func TestSinkToleratesMalformedMessages(t *testing.T) {
	m := metrics.New(nil)
	inj := &fakeInjector{}
	in := &scriptReceiver{msgs: []string{
		`{"type":"mouse_move","x":1,"y":2}`,
		`{"type":"mouse_move","x":`,
		`{"type":"teleport","x":1}`,
		`{"type":"mouse_click","button":"thumb","action":"down"}`,
		`{"type":"mouse_move","x":3,"y":4}`,
	}}
	sink := NewControlSink(in, inj, quietLogger(), m)

	require.NoError(t, sink.Run(context.Background()))
	assert.Equal(t, []string{"move 1 2", "move 3 4"}, inj.recorded())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ControlErrors.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ControlErrors.WithLabelValues("unknown_variant")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ControlEvents.WithLabelValues("mouse_move")))
}

func TestSinkKeyPairing(t *testing.T) {
	inj := &fakeInjector{}
	in := &scriptReceiver{msgs: []string{
		`{"type":"key","key":"a","action":"down"}`,
		`{"type":"key","key":"a","action":"up"}`,
	}}
	require.NoError(t, NewControlSink(in, inj, quietLogger(), nil).Run(context.Background()))
	assert.Equal(t, []string{"keydown a", "keyup a"}, inj.recorded())
}

func TestSinkContinuesAfterInjectionError(t *testing.T) {
	m := metrics.New(nil)
	inj := &fakeInjector{fail: "down"}
	in := &scriptReceiver{msgs: []string{
		`{"type":"mouse_click","button":"left","action":"down"}`,
		`{"type":"mouse_click","button":"left","action":"up"}`,
	}}
	require.NoError(t, NewControlSink(in, inj, quietLogger(), m).Run(context.Background()))
	assert.Equal(t, []string{"down left", "up left"}, inj.recorded())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ControlErrors.WithLabelValues("inject")))
}

func TestHostOverTransport(t *testing.T) {
	inj := &fakeInjector{}
	h := &Host{
		Capture:  &fakeCapture{},
		Encoder:  &fakeEncoder{},
		Injector: inj,
		Pipeline: PipelineConfig{FPS: 60},
		Logger:   quietLogger(),
	}
	opts := session.Options{WriteTimeout: 2 * time.Second, ReadLimit: 1 << 20}
	srv := session.NewServer(session.ServerConfig{
		Options:   opts,
		OnVideo:   h.HandleVideo,
		OnControl: h.HandleControl,
		Logger:    quietLogger(),
	})
	ts := httptest.NewTLSServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Registry().CloseAll)

	tlsConf := ts.Client().Transport.(*http.Transport).TLSClientConfig
	d := &session.Dialer{TLS: tlsConf, Options: opts, Logger: quietLogger()}
	base := "wss" + strings.TrimPrefix(ts.URL, "https")
	s := session.New("viewer-1", base, quietLogger())
	t.Cleanup(s.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Connect(ctx, base, s))

	for i := 1; i <= 3; i++ {
		data, err := s.Receive(ctx, session.Video)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("frame-%d", i), string(data))
	}

	// Losing video must not stop control.
	s.Channel(session.Video).Close()

	msg, err := event.Encode(event.MouseMove{X: 7, Y: 8})
	require.NoError(t, err)
	require.NoError(t, s.Send(session.Control, msg))
	assert.Eventually(t, func() bool {
		calls := inj.recorded()
		return len(calls) == 1 && calls[0] == "move 7 8"
	}, 2*time.Second, 10*time.Millisecond)
}
