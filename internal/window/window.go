// Package window is the viewer's desktop window. It renders frames
// letterboxed onto a resizable ebiten window and reports local input.
package window

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"remotedesk/internal/event"
	"remotedesk/internal/viewer"
)

var background = color.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff}

var buttons = []struct {
	mouse  ebiten.MouseButton
	button event.Button
}{
	{ebiten.MouseButtonLeft, event.ButtonLeft},
	{ebiten.MouseButtonRight, event.ButtonRight},
	{ebiten.MouseButtonMiddle, event.ButtonMiddle},
}

var (
	_ viewer.Surface     = (*Window)(nil)
	_ viewer.InputSource = (*Window)(nil)
)

// Window implements viewer.Surface and viewer.InputSource.
type Window struct {
	title string
	geom  *viewer.Geometry

	mu      sync.Mutex
	pending image.Image
	onMouse func(viewer.RawMouseEvent)
	onKey   func(viewer.RawKeyEvent)

	connected atomic.Bool
	closing   atomic.Bool

	// Touched only on the ebiten goroutine.
	frame      *ebiten.Image
	cursor     image.Point
	shownTitle string
	keyBuf     []ebiten.Key
}

func New(title string, geom *viewer.Geometry) *Window {
	return &Window{title: title, geom: geom}
}

// Present replaces the displayed frame from the next Draw on. It is safe
// to call from any goroutine.
func (w *Window) Present(img image.Image) {
	w.mu.Lock()
	w.pending = img
	w.mu.Unlock()
}

// Subscribe installs the input callbacks. They run on the ebiten goroutine
// and must not block.
func (w *Window) Subscribe(onMouse func(viewer.RawMouseEvent), onKey func(viewer.RawKeyEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onMouse, w.onKey = onMouse, onKey
}

// SetConnected switches the title between the live and disconnected form.
// The last frame stays on screen either way.
func (w *Window) SetConnected(ok bool) { w.connected.Store(ok) }

// Close makes Run return.
func (w *Window) Close() { w.closing.Store(true) }

// Run opens the window and blocks until it is closed. It must be called
// from the main goroutine.
func (w *Window) Run(width, height int) error {
	ebiten.SetWindowSize(width, height)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowTitle(w.currentTitle())
	ebiten.SetRunnableOnUnfocused(true)
	return ebiten.RunGame(w)
}

func (w *Window) currentTitle() string {
	if w.connected.Load() {
		return w.title
	}
	return w.title + " (disconnected)"
}

func (w *Window) Update() error {
	if w.closing.Load() {
		return ebiten.Termination
	}
	if t := w.currentTitle(); t != w.shownTitle {
		ebiten.SetWindowTitle(t)
		w.shownTitle = t
	}

	w.mu.Lock()
	onMouse, onKey := w.onMouse, w.onKey
	w.mu.Unlock()
	if onMouse != nil {
		w.pollMouse(onMouse)
	}
	if onKey != nil {
		w.pollKeys(onKey)
	}
	return nil
}

func (w *Window) pollMouse(emit func(viewer.RawMouseEvent)) {
	x, y := ebiten.CursorPosition()
	if p := image.Pt(x, y); p != w.cursor {
		w.cursor = p
		emit(viewer.RawMouseEvent{Kind: viewer.MouseMoved, X: x, Y: y})
	}
	for _, b := range buttons {
		if inpututil.IsMouseButtonJustPressed(b.mouse) {
			emit(viewer.RawMouseEvent{Kind: viewer.MousePressed, X: x, Y: y, Button: b.button})
		}
		if inpututil.IsMouseButtonJustReleased(b.mouse) {
			emit(viewer.RawMouseEvent{Kind: viewer.MouseReleased, X: x, Y: y, Button: b.button})
		}
	}
	if _, dy := ebiten.Wheel(); dy != 0 {
		emit(viewer.RawMouseEvent{Kind: viewer.MouseWheel, X: x, Y: y, WheelY: dy})
	}
}

// virtualKey reports keys ebiten derives from a left or right physical key.
func virtualKey(k ebiten.Key) bool {
	switch k {
	case ebiten.KeyAlt, ebiten.KeyControl, ebiten.KeyShift, ebiten.KeyMeta:
		return true
	}
	return false
}

func (w *Window) pollKeys(emit func(viewer.RawKeyEvent)) {
	w.keyBuf = inpututil.AppendJustPressedKeys(w.keyBuf[:0])
	for _, k := range w.keyBuf {
		if !virtualKey(k) {
			emit(viewer.RawKeyEvent{Code: k.String(), Down: true})
		}
	}
	w.keyBuf = inpututil.AppendJustReleasedKeys(w.keyBuf[:0])
	for _, k := range w.keyBuf {
		if !virtualKey(k) {
			emit(viewer.RawKeyEvent{Code: k.String()})
		}
	}
}

func (w *Window) Draw(screen *ebiten.Image) {
	screen.Fill(background)

	w.mu.Lock()
	img := w.pending
	w.pending = nil
	w.mu.Unlock()
	if img != nil {
		if w.frame != nil {
			w.frame.Deallocate()
		}
		w.frame = ebiten.NewImageFromImage(img)
	}
	if w.frame == nil {
		return
	}

	m, ok := w.geom.Map()
	if !ok {
		return
	}
	b := w.frame.Bounds()
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(m.Scaled.X)/float64(b.Dx()), float64(m.Scaled.Y)/float64(b.Dy()))
	op.GeoM.Translate(float64(m.Padding.X), float64(m.Padding.Y))
	op.Filter = ebiten.FilterLinear
	screen.DrawImage(w.frame, op)
}

// Layout uses the window's own size so that frames are scaled, not the
// window.
func (w *Window) Layout(outsideWidth, outsideHeight int) (int, int) {
	w.geom.SetSurface(outsideWidth, outsideHeight)
	return outsideWidth, outsideHeight
}
