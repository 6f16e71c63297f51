// Package sender consumes frames from the relay channel and pushes the fresh
// ones to the network video sender. Frames that aged past the freshness
// threshold while queued are discarded so end-to-end latency stays bounded;
// under sustained overload this degrades to dropped frames, never to growing
// delay.
package sender

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/kmod-midori/ndi-wayland-screenshare/internal/ndi"
	"github.com/kmod-midori/ndi-wayland-screenshare/relay"
	"github.com/kmod-midori/ndi-wayland-screenshare/video"
)

// DefaultMaxFrameAge is the freshness threshold the original pipeline used.
const DefaultMaxFrameAge = 100 * time.Millisecond

var ErrNilSender = errors.New("sender: nil video sender")

// VideoSender is the narrow seam over the NDI send instance: push one frame
// synchronously, read the receiver count, release the handle.
type VideoSender interface {
	SendVideo(ndi.VideoFrame) error
	Connections() int
	Close() error
}

// Options configure the loop.
type Options struct {
	// MaxFrameAge is the freshness threshold. Frames older than this when
	// examined are discarded. Zero selects DefaultMaxFrameAge.
	MaxFrameAge time.Duration
}

// Stats are the loop's monotonic counters.
type Stats struct {
	Sent         uint64
	DroppedStale uint64
}

// Loop owns the video sender for the life of the session.
type Loop struct {
	snd    VideoSender
	maxAge time.Duration

	sent  atomic.Uint64
	stale atomic.Uint64

	// Only touched from Run's goroutine.
	lastConns     int
	lastConnCheck time.Time
}

// New validates options fail-fast.
func New(snd VideoSender, opts Options) (*Loop, error) {
	if snd == nil {
		return nil, ErrNilSender
	}
	if opts.MaxFrameAge < 0 {
		return nil, fmt.Errorf("sender: negative max frame age %s", opts.MaxFrameAge)
	}
	if opts.MaxFrameAge == 0 {
		opts.MaxFrameAge = DefaultMaxFrameAge
	}
	return &Loop{snd: snd, maxAge: opts.MaxFrameAge}, nil
}

// Run consumes frames until the channel disconnects or ctx is cancelled,
// both of which are clean shutdowns. Each frame is consumed exactly once:
// sent if fresh, discarded if stale.
func (l *Loop) Run(ctx context.Context, in *relay.Channel) error {
	for {
		frame, err := in.RecvContext(ctx)
		if err != nil {
			if errors.Is(err, relay.ErrDisconnected) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if age := frame.Age(time.Now()); age > l.maxAge {
			l.stale.Add(1)
			slog.Debug("sender: frame too old, skipping",
				"seq", frame.Seq,
				"age", age,
				"trace_id", frame.TraceID,
			)
			continue
		}

		if err := l.snd.SendVideo(descriptorFor(frame)); err != nil {
			return fmt.Errorf("sender: frame %d: %w", frame.Seq, err)
		}
		l.sent.Add(1)
		l.observeConnections()
	}
}

// Connections passes through the sender's current receiver count, uncached.
func (l *Loop) Connections() int {
	return l.snd.Connections()
}

// Stats returns the counters accumulated so far.
func (l *Loop) Stats() Stats {
	return Stats{
		Sent:         l.sent.Load(),
		DroppedStale: l.stale.Load(),
	}
}

// observeConnections logs receiver-count changes, polling at most once a
// second to keep the FFI call off the per-frame path.
func (l *Loop) observeConnections() {
	now := time.Now()
	if now.Sub(l.lastConnCheck) < time.Second {
		return
	}
	l.lastConnCheck = now

	if n := l.snd.Connections(); n != l.lastConns {
		slog.Info("sender: receiver count changed", "receivers", n)
		l.lastConns = n
	}
}

// descriptorFor maps a frame to the network descriptor 1:1; no pixel
// conversion happens anywhere in the pipeline.
func descriptorFor(f *video.Frame) ndi.VideoFrame {
	return ndi.VideoFrame{
		Width:        f.Geometry.Width,
		Height:       f.Geometry.Height,
		FourCC:       fourCCOf(f.Geometry.Format),
		FrameRateNum: f.Geometry.FrameRateNum,
		FrameRateDen: f.Geometry.FrameRateDen,
		Stride:       f.Stride,
		Data:         f.Data,
	}
}

func fourCCOf(f video.PixelFormat) ndi.FourCC {
	switch f {
	case video.PixelFormatRGBA:
		return ndi.FourCCRGBA
	case video.PixelFormatRGBX:
		return ndi.FourCCRGBX
	case video.PixelFormatBGRA:
		return ndi.FourCCBGRA
	default:
		return ndi.FourCCBGRX
	}
}
