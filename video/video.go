// Package video defines the frame and geometry types shared by the capture,
// relay and sender stages.
package video

import (
	"errors"
	"fmt"
	"time"
)

// BytesPerPixel is fixed: every supported format is a 32-bit packed layout.
const BytesPerPixel = 4

// PixelFormat identifies one of the packed pixel layouts the NDI sender
// accepts. No conversion is ever performed; frames are forwarded with the
// layout the capture transport negotiated.
type PixelFormat uint32

const (
	PixelFormatRGBA PixelFormat = iota
	PixelFormatRGBX
	PixelFormatBGRA
	PixelFormatBGRX
)

var ErrInvalidGeometry = errors.New("video: invalid geometry")

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGBA:
		return "RGBA"
	case PixelFormatRGBX:
		return "RGBX"
	case PixelFormatBGRA:
		return "BGRA"
	case PixelFormatBGRX:
		return "BGRX"
	default:
		return fmt.Sprintf("PixelFormat(%d)", uint32(f))
	}
}

// Valid reports whether f is one of the four supported layouts.
func (f PixelFormat) Valid() bool {
	return f <= PixelFormatBGRX
}

// Geometry describes the negotiated video mode of a capture session.
type Geometry struct {
	Width        uint32
	Height       uint32
	Format       PixelFormat
	FrameRateNum uint32
	FrameRateDen uint32
}

// Stride returns the packed row stride in bytes.
func (g Geometry) Stride() uint32 {
	return g.Width * BytesPerPixel
}

// FrameSize returns the byte length of a full frame.
func (g Geometry) FrameSize() int {
	return int(g.Width) * int(g.Height) * BytesPerPixel
}

func (g Geometry) Validate() error {
	if g.Width == 0 || g.Height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, g.Width, g.Height)
	}
	if !g.Format.Valid() {
		return fmt.Errorf("%w: unsupported pixel format %d", ErrInvalidGeometry, uint32(g.Format))
	}
	return nil
}

// Frame is a single captured video frame. Data is an owned copy of the
// transport's buffer; Geometry is a snapshot of the mode at capture time and
// stays valid even if the session renegotiates afterwards. A frame belongs to
// exactly one pipeline stage at a time and is never aliased.
type Frame struct {
	Geometry   Geometry
	CapturedAt time.Time
	Data       []byte
	Stride     uint32
	Seq        uint64
	TraceID    string
}

// Age returns how long ago the frame was captured.
func (f *Frame) Age(now time.Time) time.Duration {
	return now.Sub(f.CapturedAt)
}
