package decode

import "math"

// FrameImage is the owned backing payload of a decoded frame. Release frees
// the backing memory; it must be called exactly once, after which the image
// must not be used.
type FrameImage interface {
	Release()
}

// Frame is a decoded video frame keyed by its presentation timestamp.
//
// A frame is exclusively owned by its clip's frame buffer until evicted, or
// handed out by reference to the compositor. Handed-out frames stay valid at
// least for the duration of one render call; the scheduler retains ownership
// and releases the frame when it is evicted.
type Frame struct {
	// CTS is the presentation timestamp in source-file seconds.
	CTS float64

	// Width and Height are the decoded dimensions in pixels.
	Width  int
	Height int

	// Image is the owned pixel payload.
	Image FrameImage
}

// Release frees the frame's backing image. Safe to call on a frame whose
// image was already released.
func (f *Frame) Release() {
	if f.Image != nil {
		f.Image.Release()
		f.Image = nil
	}
}

// Micros converts seconds to the integer microsecond keys used by the frame
// buffer, rounding to nearest.
func Micros(seconds float64) int64 {
	return int64(math.Round(seconds * 1e6))
}

// rawImage is a byte-slice backed frame payload used by the passthrough
// decoder.
type rawImage struct {
	data []byte
}

func (r *rawImage) Release() {
	r.data = nil
}

// Bytes returns the raw payload, or nil after release.
func (r *rawImage) Bytes() []byte {
	return r.data
}
