package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/kbinani/screenshot"

	"github.com/kmod-midori/ndi-wayland-screenshare/relay"
	"github.com/kmod-midori/ndi-wayland-screenshare/video"
)

// ErrNoDisplay means the requested display index does not exist.
var ErrNoDisplay = errors.New("capture: display not found")

// ScreenshotSource is a polling fallback for environments without a portal
// or PipeWire: it grabs the selected display at the configured rate and
// produces RGBA frames. Latency and rate are best-effort; this backend exists
// so the pipeline still works on plain X11 and other desktops.
type ScreenshotSource struct {
	display int
	opts    Options
	seq     uint64
}

// NewScreenshotSource validates the display index and options fail-fast.
func NewScreenshotSource(display int, opts Options) (*ScreenshotSource, error) {
	if display < 0 {
		return nil, fmt.Errorf("%w: display index must be >= 0", ErrInvalidOptions)
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &ScreenshotSource{display: display, opts: opts}, nil
}

// Run polls the display until ctx is cancelled or the frame consumer
// disconnects. Capture failures are per-frame: logged and skipped.
func (s *ScreenshotSource) Run(ctx context.Context, out *relay.Channel) error {
	if n := screenshot.NumActiveDisplays(); s.display >= n {
		return fmt.Errorf("%w: index %d, have %d displays", ErrNoDisplay, s.display, n)
	}

	bounds := screenshot.GetDisplayBounds(s.display)
	geo := video.Geometry{
		Width:        uint32(bounds.Dx()),
		Height:       uint32(bounds.Dy()),
		Format:       video.PixelFormatRGBA,
		FrameRateNum: s.opts.FrameRate,
		FrameRateDen: 1,
	}
	if err := geo.Validate(); err != nil {
		return err
	}

	slog.Info("capture: screenshot source started",
		"display", s.display,
		"width", geo.Width,
		"height", geo.Height,
		"fps", s.opts.FrameRate,
	)

	interval := time.Second / time.Duration(s.opts.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		img, err := screenshot.CaptureRect(bounds)
		if err != nil {
			slog.Warn("capture: screenshot failed, skipping frame", "error", err)
			continue
		}

		want := geo.FrameSize()
		owned := make([]byte, want)
		if img.Stride == int(geo.Stride()) {
			copy(owned, img.Pix[:want])
		} else {
			// Padded rows: repack to the tight stride the sender expects.
			rowLen := int(geo.Stride())
			for y := 0; y < int(geo.Height); y++ {
				copy(owned[y*rowLen:(y+1)*rowLen], img.Pix[y*img.Stride:y*img.Stride+rowLen])
			}
		}

		s.seq++
		frame := &video.Frame{
			Geometry:   geo,
			CapturedAt: time.Now(),
			Data:       owned,
			Stride:     geo.Stride(),
			Seq:        s.seq,
			TraceID:    uuid.NewString(),
		}

		if err := out.Send(frame); err != nil {
			slog.Info("capture: frame consumer disconnected, stopping")
			return nil
		}
	}
}
