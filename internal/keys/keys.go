// Package keys defines the logical key vocabulary used on the control
// channel and the mapping from platform key identifiers to it.
package keys

import (
	"strconv"
	"strings"
	"unicode"
)

// Symbolic logical key names. Any single printable character is also a
// valid logical key.
const (
	Space     = "space"
	Enter     = "enter"
	Backspace = "backspace"
	Tab       = "tab"
	Escape    = "escape"
	Up        = "up"
	Down      = "down"
	Left      = "left"
	Right     = "right"
	Control   = "control"
	Alt       = "alt"
	Shift     = "shift"
	Win       = "win"
	Delete    = "delete"
	Home      = "home"
	End       = "end"
	PageUp    = "pageup"
	PageDown  = "pagedown"
)

var symbolic = map[string]struct{}{
	Space: {}, Enter: {}, Backspace: {}, Tab: {}, Escape: {},
	Up: {}, Down: {}, Left: {}, Right: {},
	Control: {}, Alt: {}, Shift: {}, Win: {},
	Delete: {}, Home: {}, End: {}, PageUp: {}, PageDown: {},
	"f1": {}, "f2": {}, "f3": {}, "f4": {}, "f5": {}, "f6": {},
	"f7": {}, "f8": {}, "f9": {}, "f10": {}, "f11": {}, "f12": {},
}

// IsLogical reports whether name is part of the logical key vocabulary.
func IsLogical(name string) bool {
	if _, ok := symbolic[name]; ok {
		return true
	}
	return isPrintable(name)
}

// IsModifier reports whether name is a modifier key.
func IsModifier(name string) bool {
	switch name {
	case Control, Alt, Shift, Win:
		return true
	}
	return false
}

// Mapping is the result of translating one platform key.
type Mapping struct {
	Key string
	// Control is set when the platform delivered a Ctrl+letter combination
	// as a control character. The producer must wrap Key in a control
	// down/up pair unless control is already held.
	Control bool
}

// platform maps lower-cased platform key identifiers (W3C KeyboardEvent.code
// names as reported by ebiten, plus common aliases) to logical keys.
var platform = map[string]string{
	"space":        Space,
	" ":            Space,
	"enter":        Enter,
	"numpadenter":  Enter,
	"return":       Enter,
	"backspace":    Backspace,
	"tab":          Tab,
	"escape":       Escape,
	"esc":          Escape,
	"arrowup":      Up,
	"arrowdown":    Down,
	"arrowleft":    Left,
	"arrowright":   Right,
	"control":      Control,
	"controlleft":  Control,
	"controlright": Control,
	"ctrl":         Control,
	"ctrl_l":       Control,
	"ctrl_r":       Control,
	"alt":          Alt,
	"altleft":      Alt,
	"altright":     Alt,
	"alt_l":        Alt,
	"alt_r":        Alt,
	"alt_gr":       Alt,
	"option":       Alt,
	"shift":        Shift,
	"shiftleft":    Shift,
	"shiftright":   Shift,
	"shift_l":      Shift,
	"shift_r":      Shift,
	"meta":         Win,
	"metaleft":     Win,
	"metaright":    Win,
	"super":        Win,
	"win":          Win,
	"cmd":          Win,
	"cmd_l":        Win,
	"cmd_r":        Win,
	"command":      Win,
	"delete":       Delete,
	"home":         Home,
	"end":          End,
	"pageup":       PageUp,
	"page_up":      PageUp,
	"pagedown":     PageDown,
	"page_down":    PageDown,

	"minus":          "-",
	"equal":          "=",
	"comma":          ",",
	"period":         ".",
	"slash":          "/",
	"semicolon":      ";",
	"quote":          "'",
	"backquote":      "`",
	"backslash":      "\\",
	"bracketleft":    "[",
	"bracketright":   "]",
	"numpadadd":      "+",
	"numpadsubtract": "-",
	"numpadmultiply": "*",
	"numpaddivide":   "/",
	"numpaddecimal":  ".",
	"numpadequal":    "=",
}

func init() {
	for i := 1; i <= 12; i++ {
		name := "f" + strconv.Itoa(i)
		platform[name] = name
	}
	for r := 'a'; r <= 'z'; r++ {
		platform["key"+string(r)] = string(r)
	}
	for r := '0'; r <= '9'; r++ {
		platform["digit"+string(r)] = string(r)
		platform["numpad"+string(r)] = string(r)
	}
}

// Translate maps a platform key identifier and, when known, the character
// it produced to a logical key. Unmappable keys return false.
func Translate(code string, char rune) (Mapping, bool) {
	lc := strings.ToLower(code)
	if k, ok := platform[lc]; ok {
		return Mapping{Key: k}, true
	}
	if _, ok := symbolic[lc]; ok {
		return Mapping{Key: lc}, true
	}
	switch {
	case char == '\b':
		return Mapping{Key: Backspace}, true
	case char == '\t':
		return Mapping{Key: Tab}, true
	case char == '\r' || char == '\n':
		return Mapping{Key: Enter}, true
	case char >= 0x01 && char <= 0x1a:
		return Mapping{Key: string('a' + char - 1), Control: true}, true
	case char != 0 && unicode.IsPrint(char) && !unicode.IsSpace(char):
		return Mapping{Key: string(char)}, true
	}
	if isPrintable(code) {
		// Single-letter codes name physical keys; shift travels separately.
		return Mapping{Key: strings.ToLower(code)}, true
	}
	return Mapping{}, false
}

func isPrintable(s string) bool {
	r := []rune(s)
	return len(r) == 1 && unicode.IsPrint(r[0]) && !unicode.IsSpace(r[0])
}
