// Package codec compresses frames for the video channel. Every video
// message is exactly one JPEG image.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 50

var (
	ErrEncode = errors.New("encode frame")
	ErrDecode = errors.New("decode frame")
)

// JPEG is the frame codec.
type JPEG struct{}

// ClampQuality maps out-of-range qualities to DefaultQuality.
func ClampQuality(q int) int {
	if q <= 0 || q > 100 {
		return DefaultQuality
	}
	return q
}

// Encode compresses img. On failure no bytes are returned, so a partial
// frame can never be sent.
func (JPEG) Encode(img image.Image, quality int) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrEncode)
	}
	var buf bytes.Buffer
	b := img.Bounds()
	buf.Grow(b.Dx() * b.Dy() / 8)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: ClampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// Decode decompresses one frame.
func (JPEG) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}
