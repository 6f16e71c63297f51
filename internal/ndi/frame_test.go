package ndi

import (
	"errors"
	"testing"
)

func TestFourCC_String(t *testing.T) {
	tests := []struct {
		fourCC FourCC
		want   string
	}{
		{FourCCRGBA, "RGBA"},
		{FourCCRGBX, "RGBX"},
		{FourCCBGRA, "BGRA"},
		{FourCCBGRX, "BGRX"},
	}

	for _, tt := range tests {
		if got := tt.fourCC.String(); got != tt.want {
			t.Errorf("FourCC(%#x).String() = %q, want %q", uint32(tt.fourCC), got, tt.want)
		}
	}
}

func TestVideoFrame_Validate(t *testing.T) {
	tests := []struct {
		name    string
		frame   VideoFrame
		wantErr bool
	}{
		{
			name: "exact size",
			frame: VideoFrame{
				Width: 4, Height: 4, Stride: 16,
				Data: make([]byte, 64),
			},
		},
		{
			name: "larger buffer allowed",
			frame: VideoFrame{
				Width: 4, Height: 4, Stride: 16,
				Data: make([]byte, 128),
			},
		},
		{
			name: "short buffer",
			frame: VideoFrame{
				Width: 4, Height: 4, Stride: 16,
				Data: make([]byte, 32),
			},
			wantErr: true,
		},
		{
			name:    "zero geometry",
			frame:   VideoFrame{},
			wantErr: true,
		},
		{
			name: "nil data",
			frame: VideoFrame{
				Width: 4, Height: 4, Stride: 16,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrShortFrame) {
				t.Errorf("validate() error = %v, want ErrShortFrame", err)
			}
		})
	}
}
