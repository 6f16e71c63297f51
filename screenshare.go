// Package screenshare wires the capture transport, the relay channel and the
// NDI sender loop into one session: negotiate capture authorization, create
// the network source, run both loops on their own goroutines and join them.
package screenshare

import (
	"context"
	"errors"
	"fmt"
	"os"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kmod-midori/ndi-wayland-screenshare/capture"
	"github.com/kmod-midori/ndi-wayland-screenshare/internal/config"
	"github.com/kmod-midori/ndi-wayland-screenshare/internal/ndi"
	"github.com/kmod-midori/ndi-wayland-screenshare/internal/portal"
	"github.com/kmod-midori/ndi-wayland-screenshare/relay"
	"github.com/kmod-midori/ndi-wayland-screenshare/sender"
)

// frameSource is any capture backend that feeds the relay channel until its
// context ends.
type frameSource interface {
	Run(ctx context.Context, out *relay.Channel) error
}

// Run executes one capture-and-publish session and blocks until both sides
// have terminated. Startup failures (authorization, transport, NDI) are
// fatal; either loop ending for any reason ends the session, with errors
// from both sides logged before the first one is returned.
func Run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	source, cleanup, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	lib, err := ndi.Load()
	if err != nil {
		return err
	}
	slog.Info("ndi runtime loaded", "version", lib.Version())

	snd, err := lib.CreateSender(cfg.SourceName, cfg.Group, false, false)
	if err != nil {
		return err
	}
	defer snd.Close()

	loop, err := sender.New(snd, sender.Options{MaxFrameAge: cfg.MaxFrameAge()})
	if err != nil {
		return err
	}

	frames := relay.New(cfg.RelayCapacity)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Closing the relay lets the sender drain and stop cleanly.
		defer frames.Close()
		if err := source.Run(ctx, frames); err != nil {
			slog.Error("capture loop failed", "error", err)
			return err
		}
		stats := frames.Stats()
		slog.Info("capture loop stopped",
			"frames_relayed", stats.Sent,
			"frames_dropped", stats.Dropped,
		)
		return nil
	})

	g.Go(func() error {
		if err := loop.Run(ctx, frames); err != nil {
			slog.Error("sender loop failed", "error", err)
			return err
		}
		stats := loop.Stats()
		slog.Info("sender loop stopped",
			"frames_sent", stats.Sent,
			"frames_stale", stats.DroppedStale,
		)
		return nil
	})

	return g.Wait()
}

// openSource builds the configured capture backend. For the portal backend
// this performs the one-shot authorization handshake, which may prompt the
// operator.
func openSource(cfg *config.Config) (frameSource, func(), error) {
	opts := capture.Options{FrameRate: uint32(cfg.FrameRate)}

	if cfg.Backend == config.BackendScreenshot {
		src, err := capture.NewScreenshotSource(cfg.Display, opts)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil
	}

	sess, err := portal.CreateSession()
	if err != nil {
		return nil, nil, fmt.Errorf("create capture session: %w", err)
	}

	cleanupSession := true
	defer func() {
		if cleanupSession {
			_ = sess.Close()
		}
	}()

	err = sess.SelectSources(portal.SelectSourcesOptions{
		Types:       portal.SourceTypeMonitor | portal.SourceTypeWindow,
		CursorMode:  portal.CursorModeEmbedded,
		Multiple:    false,
		PersistMode: portal.PersistModeNone,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("select sources: %w", err)
	}

	streams, err := sess.Start("")
	if err != nil {
		return nil, nil, fmt.Errorf("start capture session: %w", err)
	}

	selected := streams[0]
	slog.Info("capture session granted",
		"node", selected.NodeID,
		"size", fmt.Sprintf("%dx%d", selected.Size[0], selected.Size[1]),
	)

	fd, err := sess.OpenPipeWireRemote()
	if err != nil {
		return nil, nil, fmt.Errorf("open capture transport: %w", err)
	}

	// Wrapping the fd in an os.File hands its lifetime to the cleanup func.
	pwFile := os.NewFile(uintptr(fd), "pipewire")

	adapter, err := capture.NewAdapter(opts)
	if err != nil {
		_ = pwFile.Close()
		return nil, nil, err
	}

	target := capture.Target{
		FD:     fd,
		NodeID: selected.NodeID,
		Width:  uint32(max(selected.Size[0], 0)),
		Height: uint32(max(selected.Size[1], 0)),
	}

	cleanupSession = false
	cleanup := func() {
		if err := errors.Join(pwFile.Close(), sess.Close()); err != nil {
			slog.Debug("capture session cleanup", "error", err)
		}
	}
	return &portalSource{adapter: adapter, target: target}, cleanup, nil
}

// portalSource binds an adapter to its negotiated target.
type portalSource struct {
	adapter *capture.Adapter
	target  capture.Target
}

func (p *portalSource) Run(ctx context.Context, out *relay.Channel) error {
	return p.adapter.Run(ctx, p.target, out)
}
