package event

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVariants(t *testing.T) {
	x, y := Point(10, 20)
	three := 3
	tests := []struct {
		in   string
		want Event
	}{
		{`{"type":"mouse_move","x":0,"y":1079}`, MouseMove{X: 0, Y: 1079}},
		{`{"type":"mouse_click","button":"left","action":"down"}`, MouseClick{Button: ButtonLeft, Action: ActionDown}},
		{`{"type":"mouse_click","button":"middle","action":"up"}`, MouseClick{Button: ButtonMiddle, Action: ActionUp}},
		{`{"type":"mouse_dblclick","button":"right"}`, MouseDoubleClick{Button: ButtonRight}},
		{`{"type":"mouse_dblclick","button":"left","x":10,"y":20}`, MouseDoubleClick{Button: ButtonLeft, X: x, Y: y}},
		{`{"type":"mouse_scroll","direction":"down"}`, MouseScroll{Direction: ScrollDown}},
		{`{"type":"mouse_scroll","direction":"up","delta":3}`, MouseScroll{Direction: ScrollUp, Delta: &three}},
		{`{"type":"key","key":"a","action":"down"}`, Key{Key: "a", Action: ActionDown}},
		{`{"type":"key","key":"pagedown","action":"up"}`, Key{Key: "pagedown", Action: ActionUp}},
	}
	for _, tt := range tests {
		got, err := Decode([]byte(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestEncodeWireShape(t *testing.T) {
	data, err := Encode(MouseClick{Button: ButtonLeft, Action: ActionDown})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"mouse_click","button":"left","action":"down"}`, string(data))

	data, err = Encode(MouseMove{X: 0, Y: 0})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"mouse_move","x":0,"y":0}`, string(data))

	data, err = Encode(MouseScroll{Direction: ScrollUp})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"mouse_scroll","direction":"up"}`, string(data))
}

func TestEncodeDecodeKeepsOptionalCoordinates(t *testing.T) {
	x, y := Point(960, 540)
	data, err := Encode(MouseDoubleClick{Button: ButtonLeft, X: x, Y: y})
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	dbl, ok := got.(MouseDoubleClick)
	require.True(t, ok)
	require.NotNil(t, dbl.X)
	assert.Equal(t, 960, *dbl.X)
	assert.Equal(t, 540, *dbl.Y)
}

func TestEncodeRejectsInvalid(t *testing.T) {
	_, err := Encode(Key{Key: "ctrl", Action: ActionDown})
	var de *DecodeError
	assert.ErrorAs(t, err, &de)

	_, err = Encode(MouseClick{Button: "back", Action: ActionDown})
	assert.Error(t, err)
}

func TestDecodeErrors(t *testing.T) {
	malformed := []string{
		`{"type":"mouse_move"`,
		`not json`,
		`{}`,
		`{"type":"mouse_move","x":1}`,
		`{"type":"mouse_click","button":"left","action":"press"}`,
		`{"type":"mouse_click","button":"thumb","action":"down"}`,
		`{"type":"mouse_dblclick","button":"left","x":4}`,
		`{"type":"mouse_scroll","direction":"sideways"}`,
		`{"type":"mouse_scroll","direction":"up","delta":-2}`,
		`{"type":"key","key":"\u0003","action":"down"}`,
		`{"type":"key","key":"a"}`,
	}
	for _, in := range malformed {
		_, err := Decode([]byte(in))
		var de *DecodeError
		assert.ErrorAs(t, err, &de, in)
		assert.False(t, errors.Is(err, ErrUnknownVariant), in)
	}
}

func TestDecodeUnknownVariant(t *testing.T) {
	_, err := Decode([]byte(`{"type":"clipboard","text":"hi"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownVariant)

	var uv *UnknownVariantError
	require.ErrorAs(t, err, &uv)
	assert.Equal(t, "clipboard", uv.Type)
}
