//go:build linux && cgo

package ndi

/*
#cgo LDFLAGS: -ldl
#include <stdlib.h>
#include <string.h>
#include <stdint.h>
#include <stdbool.h>
#include <dlfcn.h>

// Minimal declarations matching Processing.NDI.Lib.h; the runtime is loaded
// with dlopen so no SDK headers are required at build time.

typedef void *NDIlib_send_instance_t;

typedef struct {
    const char *p_ndi_name;
    const char *p_groups;
    bool clock_video;
    bool clock_audio;
} NDIlib_send_create_t;

typedef struct {
    int xres, yres;
    uint32_t FourCC;
    int frame_rate_N, frame_rate_D;
    float picture_aspect_ratio;
    int frame_format_type;
    int64_t timecode;
    uint8_t *p_data;
    int line_stride_in_bytes;
    const char *p_metadata;
    int64_t timestamp;
} NDIlib_video_frame_v2_t;

#define NDILIB_SEND_TIMECODE_SYNTHESIZE INT64_MAX

static void *ndi_lib_handle = NULL;

static bool (*d_NDIlib_initialize)(void);
static const char *(*d_NDIlib_version)(void);
static NDIlib_send_instance_t (*d_NDIlib_send_create)(const NDIlib_send_create_t *p_create_settings);
static void (*d_NDIlib_send_destroy)(NDIlib_send_instance_t p_instance);
static void (*d_NDIlib_send_send_video_v2)(NDIlib_send_instance_t p_instance, const NDIlib_video_frame_v2_t *p_video_data);
static int (*d_NDIlib_send_get_no_connections)(NDIlib_send_instance_t p_instance, uint32_t timeout_in_ms);

static int load_ndi(const char *path) {
    if (ndi_lib_handle != NULL) return 1;

    ndi_lib_handle = dlopen(path, RTLD_NOW | RTLD_GLOBAL);
    if (!ndi_lib_handle) return 0;

    d_NDIlib_initialize = dlsym(ndi_lib_handle, "NDIlib_initialize");
    d_NDIlib_version = dlsym(ndi_lib_handle, "NDIlib_version");
    d_NDIlib_send_create = dlsym(ndi_lib_handle, "NDIlib_send_create");
    d_NDIlib_send_destroy = dlsym(ndi_lib_handle, "NDIlib_send_destroy");
    d_NDIlib_send_send_video_v2 = dlsym(ndi_lib_handle, "NDIlib_send_send_video_v2");
    d_NDIlib_send_get_no_connections = dlsym(ndi_lib_handle, "NDIlib_send_get_no_connections");

    if (!d_NDIlib_initialize || !d_NDIlib_send_create ||
        !d_NDIlib_send_destroy || !d_NDIlib_send_send_video_v2 ||
        !d_NDIlib_send_get_no_connections) {
        dlclose(ndi_lib_handle);
        ndi_lib_handle = NULL;
        return 0;
    }

    return 1;
}

static int wrap_ndi_initialize() { return d_NDIlib_initialize() ? 1 : 0; }

static const char *wrap_ndi_version() { return d_NDIlib_version ? d_NDIlib_version() : ""; }

static NDIlib_send_instance_t wrap_send_create(const char *name, const char *groups, int clock_video, int clock_audio) {
    NDIlib_send_create_t desc;
    memset(&desc, 0, sizeof(desc));
    desc.p_ndi_name = name;
    desc.p_groups = groups;
    desc.clock_video = clock_video != 0;
    desc.clock_audio = clock_audio != 0;
    return d_NDIlib_send_create(&desc);
}

static void wrap_send_video(NDIlib_send_instance_t s, int xres, int yres, uint32_t fourcc,
                            int fr_n, int fr_d, uint8_t *p_data, int stride) {
    NDIlib_video_frame_v2_t frame;
    memset(&frame, 0, sizeof(frame));
    frame.xres = xres;
    frame.yres = yres;
    frame.FourCC = fourcc;
    frame.frame_rate_N = fr_n;
    frame.frame_rate_D = fr_d;
    frame.p_data = p_data;
    frame.line_stride_in_bytes = stride;
    frame.timecode = NDILIB_SEND_TIMECODE_SYNTHESIZE;
    d_NDIlib_send_send_video_v2(s, &frame);
}

static int wrap_send_connections(NDIlib_send_instance_t s, uint32_t timeout_ms) {
    return d_NDIlib_send_get_no_connections(s, timeout_ms);
}

static void wrap_send_destroy(NDIlib_send_instance_t s) { d_NDIlib_send_destroy(s); }
*/
import "C"
import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"
)

var (
	loadMu sync.Mutex
	loaded *Library
)

// Library is the loaded and initialized NDI runtime.
type Library struct{}

// Load probes $NDI_RUNTIME_DIR_V5/libndi.so.5, falling back to the bare
// library name on the default search path, then initializes the runtime.
// Subsequent calls return the already-loaded library.
func Load() (*Library, error) {
	loadMu.Lock()
	defer loadMu.Unlock()

	if loaded != nil {
		return loaded, nil
	}

	path := libraryName
	if dir := os.Getenv(RuntimeDirEnv); dir != "" {
		path = filepath.Join(dir, libraryName)
	}

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	if C.load_ndi(cPath) != 1 {
		return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, path)
	}
	if C.wrap_ndi_initialize() != 1 {
		return nil, ErrInitFailed
	}

	loaded = &Library{}
	return loaded, nil
}

// Version reports the runtime's version string.
func (l *Library) Version() string {
	return C.GoString(C.wrap_ndi_version())
}

// CreateSender registers a named video source on the network. groups may be
// empty for the default group set.
func (l *Library) CreateSender(name, groups string, clockVideo, clockAudio bool) (*Sender, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	var cGroups *C.char
	if groups != "" {
		cGroups = C.CString(groups)
		defer C.free(unsafe.Pointer(cGroups))
	}

	ptr := C.wrap_send_create(cName, cGroups, boolToC(clockVideo), boolToC(clockAudio))
	if ptr == nil {
		return nil, fmt.Errorf("%w: %q", ErrCreateSender, name)
	}

	return &Sender{ptr: ptr}, nil
}

// Sender is a live NDI send instance. Not safe for concurrent SendVideo
// calls; the sender loop is its only user.
type Sender struct {
	ptr       C.NDIlib_send_instance_t
	closeOnce sync.Once
}

// SendVideo pushes one frame. The call is synchronous: the runtime consumes
// the pixel data before it returns, so the caller may release the buffer
// immediately afterwards.
func (s *Sender) SendVideo(f VideoFrame) error {
	if s.ptr == nil {
		return ErrSenderClosed
	}
	if err := f.validate(); err != nil {
		return err
	}

	C.wrap_send_video(s.ptr,
		C.int(f.Width), C.int(f.Height), C.uint32_t(f.FourCC),
		C.int(f.FrameRateNum), C.int(f.FrameRateDen),
		(*C.uint8_t)(unsafe.Pointer(&f.Data[0])), C.int(f.Stride))
	return nil
}

// Connections returns the current number of connected receivers.
func (s *Sender) Connections() int {
	if s.ptr == nil {
		return 0
	}
	return int(C.wrap_send_connections(s.ptr, 0))
}

// Close destroys the send instance. Idempotent.
func (s *Sender) Close() error {
	s.closeOnce.Do(func() {
		if s.ptr != nil {
			C.wrap_send_destroy(s.ptr)
			s.ptr = nil
		}
	})
	return nil
}

func boolToC(b bool) C.int {
	if b {
		return 1
	}
	return 0
}
