package sender_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/kmod-midori/ndi-wayland-screenshare/internal/ndi"
	"github.com/kmod-midori/ndi-wayland-screenshare/relay"
	"github.com/kmod-midori/ndi-wayland-screenshare/sender"
	"github.com/kmod-midori/ndi-wayland-screenshare/video"
)

// fakeSender records every frame pushed through the VideoSender seam.
type fakeSender struct {
	frames      []ndi.VideoFrame
	connections int
	closed      bool
}

func (f *fakeSender) SendVideo(frame ndi.VideoFrame) error {
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSender) Connections() int { return f.connections }

func (f *fakeSender) Close() error {
	f.closed = true
	return nil
}

func newFrame(seq uint64, geo video.Geometry, age time.Duration) *video.Frame {
	data := bytes.Repeat([]byte{byte(seq)}, geo.FrameSize())
	return &video.Frame{
		Geometry:   geo,
		CapturedAt: time.Now().Add(-age),
		Data:       data,
		Stride:     geo.Stride(),
		Seq:        seq,
	}
}

func runLoop(t *testing.T, loop *sender.Loop, frames ...*video.Frame) {
	t.Helper()

	ch := relay.New(len(frames) + 1)
	for _, f := range frames {
		if err := ch.Send(f); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	ch.Close()

	if err := loop.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestLoop_ForwardsFreshFrame(t *testing.T) {
	geo := video.Geometry{
		Width:        1920,
		Height:       1080,
		Format:       video.PixelFormatBGRX,
		FrameRateNum: 60,
		FrameRateDen: 1,
	}

	snd := &fakeSender{}
	loop, err := sender.New(snd, sender.Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	frame := newFrame(1, geo, 10*time.Millisecond)
	runLoop(t, loop, frame)

	if len(snd.frames) != 1 {
		t.Fatalf("sender received %d frames, want 1", len(snd.frames))
	}

	got := snd.frames[0]
	if got.Width != 1920 || got.Height != 1080 {
		t.Errorf("descriptor size = %dx%d, want 1920x1080", got.Width, got.Height)
	}
	if got.FourCC != ndi.FourCCBGRX {
		t.Errorf("descriptor FourCC = %s, want BGRX", got.FourCC)
	}
	if got.Stride != 7680 {
		t.Errorf("descriptor stride = %d, want 7680", got.Stride)
	}
	if !bytes.Equal(got.Data, frame.Data) {
		t.Error("descriptor pixel data does not match the frame's")
	}

	stats := loop.Stats()
	if stats.Sent != 1 || stats.DroppedStale != 0 {
		t.Errorf("Stats() = %+v, want 1 sent, 0 stale", stats)
	}
}

func TestLoop_DropsStaleFrame(t *testing.T) {
	geo := video.Geometry{Width: 16, Height: 16, Format: video.PixelFormatRGBA}

	snd := &fakeSender{}
	loop, err := sender.New(snd, sender.Options{MaxFrameAge: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	runLoop(t, loop, newFrame(1, geo, 150*time.Millisecond))

	if len(snd.frames) != 0 {
		t.Fatalf("sender received %d frames, want 0", len(snd.frames))
	}
	if stats := loop.Stats(); stats.DroppedStale != 1 {
		t.Errorf("Stats().DroppedStale = %d, want 1", stats.DroppedStale)
	}
}

func TestLoop_MixedFreshAndStaleKeepOrder(t *testing.T) {
	geo := video.Geometry{Width: 8, Height: 8, Format: video.PixelFormatBGRA}

	snd := &fakeSender{}
	loop, err := sender.New(snd, sender.Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	runLoop(t, loop,
		newFrame(1, geo, 0),
		newFrame(2, geo, 500*time.Millisecond), // stale
		newFrame(3, geo, 0),
		newFrame(4, geo, 500*time.Millisecond), // stale
		newFrame(5, geo, 0),
	)

	if len(snd.frames) != 3 {
		t.Fatalf("sender received %d frames, want 3", len(snd.frames))
	}
	for i, wantSeq := range []byte{1, 3, 5} {
		if snd.frames[i].Data[0] != wantSeq {
			t.Errorf("frame %d came from seq %d, want %d", i, snd.frames[i].Data[0], wantSeq)
		}
	}

	stats := loop.Stats()
	if stats.Sent != 3 || stats.DroppedStale != 2 {
		t.Errorf("Stats() = %+v, want 3 sent, 2 stale", stats)
	}
}

func TestLoop_GeometrySnapshotPerFrame(t *testing.T) {
	// Frames captured under different negotiated modes keep their own
	// geometry all the way to the descriptor.
	first := video.Geometry{Width: 1280, Height: 720, Format: video.PixelFormatRGBA}
	second := video.Geometry{Width: 1920, Height: 1080, Format: video.PixelFormatBGRX}

	snd := &fakeSender{}
	loop, err := sender.New(snd, sender.Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	runLoop(t, loop, newFrame(1, first, 0), newFrame(2, second, 0))

	if len(snd.frames) != 2 {
		t.Fatalf("sender received %d frames, want 2", len(snd.frames))
	}
	if got := snd.frames[0]; got.Width != 1280 || got.FourCC != ndi.FourCCRGBA {
		t.Errorf("first descriptor = %dx%d %s, want 1280x720 RGBA", got.Width, got.Height, got.FourCC)
	}
	if got := snd.frames[1]; got.Width != 1920 || got.FourCC != ndi.FourCCBGRX {
		t.Errorf("second descriptor = %dx%d %s, want 1920x1080 BGRX", got.Width, got.Height, got.FourCC)
	}
}

func TestLoop_CleanShutdownOnDisconnect(t *testing.T) {
	snd := &fakeSender{}
	loop, err := sender.New(snd, sender.Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ch := relay.New(2)
	ch.Close()

	if err := loop.Run(context.Background(), ch); err != nil {
		t.Errorf("Run() on closed channel error = %v, want nil", err)
	}
}

func TestLoop_CleanShutdownOnContextCancel(t *testing.T) {
	snd := &fakeSender{}
	loop, err := sender.New(snd, sender.Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := relay.New(2)

	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx, ch)
	}()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() after cancel error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after context cancel")
	}
}

func TestLoop_Connections(t *testing.T) {
	snd := &fakeSender{connections: 3}
	loop, err := sender.New(snd, sender.Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := loop.Connections(); got != 3 {
		t.Errorf("Connections() = %d, want 3", got)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		snd     sender.VideoSender
		opts    sender.Options
		wantErr bool
	}{
		{
			name: "valid",
			snd:  &fakeSender{},
		},
		{
			name:    "nil sender",
			snd:     nil,
			wantErr: true,
		},
		{
			name:    "negative max age",
			snd:     &fakeSender{},
			opts:    sender.Options{MaxFrameAge: -time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sender.New(tt.snd, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
