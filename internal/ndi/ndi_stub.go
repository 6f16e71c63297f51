//go:build !linux || !cgo

package ndi

// Library is a placeholder on platforms without an NDI backend.
type Library struct{}

func Load() (*Library, error) {
	return nil, ErrNotSupported
}

func (l *Library) Version() string { return "" }

func (l *Library) CreateSender(name, groups string, clockVideo, clockAudio bool) (*Sender, error) {
	return nil, ErrNotSupported
}

type Sender struct{}

func (s *Sender) SendVideo(f VideoFrame) error { return ErrNotSupported }

func (s *Sender) Connections() int { return 0 }

func (s *Sender) Close() error { return nil }
