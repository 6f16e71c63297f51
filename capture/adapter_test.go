package capture

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kmod-midori/ndi-wayland-screenshare/internal/pipewire"
	"github.com/kmod-midori/ndi-wayland-screenshare/relay"
	"github.com/kmod-midori/ndi-wayland-screenshare/video"
)

func TestNewAdapter_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "defaults", opts: Options{}},
		{name: "explicit rate", opts: Options{FrameRate: 30}},
		{name: "rate at cap", opts: Options{FrameRate: MaxFrameRate}},
		{name: "rate above cap", opts: Options{FrameRate: MaxFrameRate + 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAdapter(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAdapter() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAdapter_OnFormat(t *testing.T) {
	tests := []struct {
		name    string
		format  pipewire.Format
		want    video.Geometry
		wantErr error
	}{
		{
			name:   "BGRx 1080p",
			format: pipewire.Format{Format: pipewire.FormatBGRX, Width: 1920, Height: 1080, Num: 60, Den: 1},
			want: video.Geometry{
				Width: 1920, Height: 1080,
				Format:       video.PixelFormatBGRX,
				FrameRateNum: 60, FrameRateDen: 1,
			},
		},
		{
			name:   "RGBA 720p",
			format: pipewire.Format{Format: pipewire.FormatRGBA, Width: 1280, Height: 720, Num: 30, Den: 1},
			want: video.Geometry{
				Width: 1280, Height: 720,
				Format:       video.PixelFormatRGBA,
				FrameRateNum: 30, FrameRateDen: 1,
			},
		},
		{
			name:    "unsupported format",
			format:  pipewire.Format{Format: pipewire.FormatUnknown, Width: 1920, Height: 1080},
			wantErr: ErrUnknownFormat,
		},
		{
			name:    "zero size",
			format:  pipewire.Format{Format: pipewire.FormatBGRA, Width: 0, Height: 1080},
			wantErr: video.ErrInvalidGeometry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAdapter(Options{})
			if err != nil {
				t.Fatalf("NewAdapter() error = %v", err)
			}

			err = a.onFormat(tt.format)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("onFormat() error = %v, want %v", err, tt.wantErr)
				}
				if a.haveGeo {
					t.Error("geometry recorded despite rejected format")
				}
				return
			}
			if err != nil {
				t.Fatalf("onFormat() error = %v", err)
			}
			if !a.haveGeo {
				t.Fatal("geometry not recorded after successful negotiation")
			}
			if a.geo != tt.want {
				t.Errorf("geometry = %+v, want %+v", a.geo, tt.want)
			}
		})
	}
}

func TestAdapter_OnFrameBeforeFormat(t *testing.T) {
	a, err := NewAdapter(Options{})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}

	out := relay.New(4)
	defer out.Close()

	if err := a.onFrame(make([]byte, 64), out); err != nil {
		t.Fatalf("onFrame() before negotiation error = %v, want nil", err)
	}
	if stats := out.Stats(); stats.Sent != 0 {
		t.Errorf("frame relayed before negotiation, Sent = %d", stats.Sent)
	}
}

func TestAdapter_OnFrameShortPayload(t *testing.T) {
	a, err := NewAdapter(Options{})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	format := pipewire.Format{Format: pipewire.FormatBGRX, Width: 8, Height: 8, Num: 60, Den: 1}
	if err := a.onFormat(format); err != nil {
		t.Fatalf("onFormat() error = %v", err)
	}

	out := relay.New(4)
	defer out.Close()

	// 8x8 at 4 bytes per pixel needs 256 bytes.
	if err := a.onFrame(make([]byte, 100), out); err != nil {
		t.Fatalf("onFrame() short payload error = %v, want nil", err)
	}
	if stats := out.Stats(); stats.Sent != 0 {
		t.Errorf("short frame relayed, Sent = %d", stats.Sent)
	}
}

func TestAdapter_OnFrameCopiesAndStamps(t *testing.T) {
	a, err := NewAdapter(Options{})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	format := pipewire.Format{Format: pipewire.FormatRGBA, Width: 4, Height: 4, Num: 60, Den: 1}
	if err := a.onFormat(format); err != nil {
		t.Fatalf("onFormat() error = %v", err)
	}

	out := relay.New(4)
	defer out.Close()

	borrowed := bytes.Repeat([]byte{0xAB}, 64)
	if err := a.onFrame(borrowed, out); err != nil {
		t.Fatalf("onFrame() error = %v", err)
	}

	frame, err := out.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	if frame.Seq != 1 {
		t.Errorf("Seq = %d, want 1", frame.Seq)
	}
	if frame.TraceID == "" {
		t.Error("TraceID empty")
	}
	if frame.Stride != 16 {
		t.Errorf("Stride = %d, want 16", frame.Stride)
	}
	if frame.CapturedAt.IsZero() {
		t.Error("CapturedAt not stamped")
	}
	if !bytes.Equal(frame.Data, borrowed) {
		t.Error("frame data does not match captured payload")
	}

	// The relayed frame owns its pixels. Mutating the transport buffer
	// afterwards must not show through.
	borrowed[0] = 0x00
	if frame.Data[0] != 0xAB {
		t.Error("frame data aliases the transport buffer")
	}
}

func TestAdapter_GeometrySnapshotSurvivesRenegotiation(t *testing.T) {
	a, err := NewAdapter(Options{})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}

	out := relay.New(4)
	defer out.Close()

	first := pipewire.Format{Format: pipewire.FormatBGRX, Width: 4, Height: 4, Num: 60, Den: 1}
	if err := a.onFormat(first); err != nil {
		t.Fatalf("onFormat() error = %v", err)
	}
	if err := a.onFrame(make([]byte, 64), out); err != nil {
		t.Fatalf("onFrame() error = %v", err)
	}

	second := pipewire.Format{Format: pipewire.FormatRGBA, Width: 8, Height: 8, Num: 30, Den: 1}
	if err := a.onFormat(second); err != nil {
		t.Fatalf("onFormat() error = %v", err)
	}
	if err := a.onFrame(make([]byte, 256), out); err != nil {
		t.Fatalf("onFrame() error = %v", err)
	}

	f1, err := out.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if f1.Geometry.Width != 4 || f1.Geometry.Format != video.PixelFormatBGRX {
		t.Errorf("first frame geometry = %+v, want the mode it was captured under", f1.Geometry)
	}

	f2, err := out.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if f2.Geometry.Width != 8 || f2.Geometry.Format != video.PixelFormatRGBA {
		t.Errorf("second frame geometry = %+v, want the renegotiated mode", f2.Geometry)
	}
}

func TestAdapter_OnFrameDisconnectedRelay(t *testing.T) {
	a, err := NewAdapter(Options{})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	format := pipewire.Format{Format: pipewire.FormatBGRX, Width: 4, Height: 4, Num: 60, Den: 1}
	if err := a.onFormat(format); err != nil {
		t.Fatalf("onFormat() error = %v", err)
	}

	out := relay.New(4)
	out.Close()

	if err := a.onFrame(make([]byte, 64), out); !errors.Is(err, relay.ErrDisconnected) {
		t.Errorf("onFrame() on closed relay error = %v, want ErrDisconnected", err)
	}
}

func TestPixelFormatOf(t *testing.T) {
	tests := []struct {
		in     pipewire.VideoFormat
		want   video.PixelFormat
		wantOK bool
	}{
		{pipewire.FormatRGBA, video.PixelFormatRGBA, true},
		{pipewire.FormatRGBX, video.PixelFormatRGBX, true},
		{pipewire.FormatBGRA, video.PixelFormatBGRA, true},
		{pipewire.FormatBGRX, video.PixelFormatBGRX, true},
		{pipewire.FormatUnknown, 0, false},
	}

	for _, tt := range tests {
		got, ok := pixelFormatOf(tt.in)
		if ok != tt.wantOK {
			t.Errorf("pixelFormatOf(%v) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("pixelFormatOf(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
