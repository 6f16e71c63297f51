//go:build !linux || !cgo

package pipewire

type Stream struct{}

func IsAvailable() bool {
	return false
}

func Connect(fd int, nodeID uint32, opts StreamOptions, h Handlers) (*Stream, error) {
	return nil, ErrLibraryNotLoaded
}

func (s *Stream) Run() error {
	return ErrLibraryNotLoaded
}

func (s *Stream) Quit() {}

func (s *Stream) Close() error {
	return nil
}
