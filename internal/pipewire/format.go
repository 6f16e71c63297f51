// Package pipewire drives a raw-video capture stream over a PipeWire
// connection fd. The C library is loaded at runtime with dlopen; the caller
// supplies handlers that fire on the loop thread.
package pipewire

import "errors"

var (
	// ErrLibraryNotLoaded means the PipeWire client library could not be
	// loaded on this system.
	ErrLibraryNotLoaded = errors.New("pipewire: client library not available")

	// ErrBadFormat means the compositor produced a format pod that could
	// not be parsed as raw video.
	ErrBadFormat = errors.New("pipewire: unparseable video format")
)

// VideoFormat is the negotiated pixel layout, restricted to the packed
// 32-bit formats the stream advertises.
type VideoFormat uint32

const (
	FormatUnknown VideoFormat = iota
	FormatRGBA
	FormatRGBX
	FormatBGRA
	FormatBGRX
)

func (f VideoFormat) String() string {
	switch f {
	case FormatRGBA:
		return "RGBA"
	case FormatRGBX:
		return "RGBx"
	case FormatBGRA:
		return "BGRA"
	case FormatBGRX:
		return "BGRx"
	default:
		return "unknown"
	}
}

// Format is the mode the compositor chose from the advertised envelope.
type Format struct {
	Format VideoFormat
	Width  uint32
	Height uint32
	Num    uint32
	Den    uint32
}

// Handlers receive stream events on the loop thread. A non-nil error return
// is fatal: the loop quits and Run returns it. OnFrame's byte slice borrows
// the transport's buffer and is only valid for the duration of the call.
type Handlers struct {
	OnFormat func(Format) error
	OnFrame  func([]byte) error
}

// StreamOptions hint the preferred mode inside the advertised envelope.
type StreamOptions struct {
	PreferredWidth  uint32
	PreferredHeight uint32
	PreferredFPS    uint32
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.PreferredWidth == 0 {
		o.PreferredWidth = 320
	}
	if o.PreferredHeight == 0 {
		o.PreferredHeight = 240
	}
	if o.PreferredFPS == 0 {
		o.PreferredFPS = 60
	}
	return o
}
