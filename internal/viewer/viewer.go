// Package viewer implements the watching side of a session: frames are
// received, buffered and rendered, and local input is remapped to host
// coordinates and forwarded.
package viewer

import "image"

type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

type Receiver interface {
	Receive() ([]byte, error)
}

type Sender interface {
	Send(payload []byte) error
}

// Surface displays frames. Present must not block for long; the surface
// keeps showing the last image until the next call.
type Surface interface {
	Present(img image.Image)
}
