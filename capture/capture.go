// Package capture turns the externally driven capture transports into frames
// on a relay channel. The primary backend is the PipeWire stream obtained
// through the desktop portal; a polling screenshot backend covers
// environments without a portal.
package capture

import (
	"errors"
	"fmt"
)

const (
	// DefaultFrameRate is the preferred capture rate advertised to the
	// transport. The transport may choose any rate inside the envelope.
	DefaultFrameRate = 60

	// MaxFrameRate caps the advertised envelope.
	MaxFrameRate = 1000
)

var (
	ErrInvalidOptions = errors.New("capture: invalid options")

	// ErrUnknownFormat means the transport negotiated a pixel layout
	// outside the supported packed 32-bit set.
	ErrUnknownFormat = errors.New("capture: transport chose an unsupported pixel format")
)

// Options configure a capture source.
type Options struct {
	// FrameRate is the preferred capture rate in frames per second.
	// Zero selects DefaultFrameRate.
	FrameRate uint32
}

func (o Options) withDefaults() (Options, error) {
	if o.FrameRate == 0 {
		o.FrameRate = DefaultFrameRate
	}
	if o.FrameRate > MaxFrameRate {
		return o, fmt.Errorf("%w: frame rate %d exceeds %d", ErrInvalidOptions, o.FrameRate, MaxFrameRate)
	}
	return o, nil
}

// Target identifies the negotiated capture stream: the PipeWire connection
// fd from the portal, the node to attach to, and the advertised size hint.
type Target struct {
	FD     int
	NodeID uint32
	Width  uint32
	Height uint32
}
