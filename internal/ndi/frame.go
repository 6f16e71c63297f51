// Package ndi wraps the NDI runtime's send API behind a narrow, safe surface:
// create a named sender, push raw video frames, read the receiver count,
// destroy. The runtime is loaded at process start by probing the directory in
// NDI_RUNTIME_DIR_V5 and then the default library name. Pixel data is fully
// consumed by the runtime before SendVideo returns; no pointers are retained
// across the FFI boundary.
package ndi

import "errors"

var (
	// ErrLibraryNotFound means the NDI runtime could not be loaded.
	ErrLibraryNotFound = errors.New("ndi: runtime library not found")

	// ErrInitFailed means the runtime loaded but refused to initialize
	// (unsupported CPU, licensing problems).
	ErrInitFailed = errors.New("ndi: library initialization failed")

	// ErrCreateSender means the runtime rejected the sender description.
	ErrCreateSender = errors.New("ndi: failed to create sender")

	// ErrSenderClosed means the sender handle was already destroyed.
	ErrSenderClosed = errors.New("ndi: sender is closed")

	// ErrShortFrame means the pixel buffer is smaller than stride*height.
	ErrShortFrame = errors.New("ndi: pixel buffer shorter than frame geometry")

	// ErrNotSupported means this platform has no NDI backend.
	ErrNotSupported = errors.New("ndi: not supported on this platform")
)

// RuntimeDirEnv overrides the directory the runtime is probed in.
const RuntimeDirEnv = "NDI_RUNTIME_DIR_V5"

const libraryName = "libndi.so.5"

// FourCC is the NDI pixel layout tag, byte order matching the library's
// little-endian four-character codes.
type FourCC uint32

const (
	FourCCRGBA FourCC = 'R' | 'G'<<8 | 'B'<<16 | 'A'<<24
	FourCCRGBX FourCC = 'R' | 'G'<<8 | 'B'<<16 | 'X'<<24
	FourCCBGRA FourCC = 'B' | 'G'<<8 | 'R'<<16 | 'A'<<24
	FourCCBGRX FourCC = 'B' | 'G'<<8 | 'R'<<16 | 'X'<<24
)

func (f FourCC) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// VideoFrame describes one frame handed to SendVideo. The timecode is always
// synthesized by the runtime.
type VideoFrame struct {
	Width        uint32
	Height       uint32
	FourCC       FourCC
	FrameRateNum uint32
	FrameRateDen uint32
	Stride       uint32
	Data         []byte
}

func (f VideoFrame) validate() error {
	need := int(f.Stride) * int(f.Height)
	if need == 0 || len(f.Data) < need {
		return ErrShortFrame
	}
	return nil
}
