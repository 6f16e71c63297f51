package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/kmod-midori/ndi-wayland-screenshare/internal/pipewire"
	"github.com/kmod-midori/ndi-wayland-screenshare/relay"
	"github.com/kmod-midori/ndi-wayland-screenshare/video"
)

// Adapter owns the PipeWire capture stream for the life of a session. Its
// callbacks run on the transport's loop thread and do nothing beyond copying
// the buffer and enqueueing it; the negotiated geometry is only ever touched
// from that same thread.
type Adapter struct {
	opts Options

	geo     video.Geometry
	haveGeo bool
	seq     uint64
}

// NewAdapter validates options fail-fast.
func NewAdapter(opts Options) (*Adapter, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Adapter{opts: opts}, nil
}

// Run connects to the capture transport and blocks driving its loop until
// ctx is cancelled, the frame consumer disconnects, or a fatal error occurs.
// The relay channel is not closed here; that is the coordinator's call.
func (a *Adapter) Run(ctx context.Context, target Target, out *relay.Channel) error {
	stream, err := pipewire.Connect(target.FD, target.NodeID,
		pipewire.StreamOptions{
			PreferredWidth:  target.Width,
			PreferredHeight: target.Height,
			PreferredFPS:    a.opts.FrameRate,
		},
		pipewire.Handlers{
			OnFormat: a.onFormat,
			OnFrame: func(data []byte) error {
				return a.onFrame(data, out)
			},
		})
	if err != nil {
		return fmt.Errorf("capture: connect stream: %w", err)
	}
	defer stream.Close()

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stream.Quit()
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	if err := stream.Run(); err != nil {
		if errors.Is(err, relay.ErrDisconnected) {
			// Consumer gone is a shutdown signal, not a capture fault.
			slog.Info("capture: frame consumer disconnected, stopping")
			return nil
		}
		return fmt.Errorf("capture: stream failed: %w", err)
	}
	return nil
}

// onFormat records the negotiated mode. It may fire again mid-session when
// the compositor renegotiates; later frames snapshot the new geometry.
func (a *Adapter) onFormat(f pipewire.Format) error {
	format, ok := pixelFormatOf(f.Format)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFormat, f.Format)
	}

	geo := video.Geometry{
		Width:        f.Width,
		Height:       f.Height,
		Format:       format,
		FrameRateNum: f.Num,
		FrameRateDen: f.Den,
	}
	if err := geo.Validate(); err != nil {
		return fmt.Errorf("capture: negotiated format: %w", err)
	}

	a.geo = geo
	a.haveGeo = true
	slog.Info("capture: video format negotiated",
		"width", geo.Width,
		"height", geo.Height,
		"format", geo.Format.String(),
		"framerate", fmt.Sprintf("%d/%d", geo.FrameRateNum, geo.FrameRateDen),
	)
	return nil
}

// onFrame copies the transport's borrowed buffer into an owned frame stamped
// with the current geometry and forwards it. Per-frame problems are logged
// and skipped; only a disconnected consumer ends the stream.
func (a *Adapter) onFrame(data []byte, out *relay.Channel) error {
	if !a.haveGeo {
		slog.Debug("capture: frame before format negotiation, skipping")
		return nil
	}

	want := a.geo.FrameSize()
	if len(data) < want {
		slog.Warn("capture: short frame payload, skipping",
			"got", len(data), "want", want)
		return nil
	}

	owned := make([]byte, want)
	copy(owned, data[:want])

	a.seq++
	frame := &video.Frame{
		Geometry:   a.geo,
		CapturedAt: time.Now(),
		Data:       owned,
		Stride:     a.geo.Stride(),
		Seq:        a.seq,
		TraceID:    uuid.NewString(),
	}

	if err := out.Send(frame); err != nil {
		return err
	}
	return nil
}

func pixelFormatOf(f pipewire.VideoFormat) (video.PixelFormat, bool) {
	switch f {
	case pipewire.FormatRGBA:
		return video.PixelFormatRGBA, true
	case pipewire.FormatRGBX:
		return video.PixelFormatRGBX, true
	case pipewire.FormatBGRA:
		return video.PixelFormatBGRA, true
	case pipewire.FormatBGRX:
		return video.PixelFormatBGRX, true
	default:
		return 0, false
	}
}
