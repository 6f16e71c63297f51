// Package relay hands frames from the capture transport's loop to the sender
// loop. The channel is bounded and drops the oldest queued frame when full, so
// the capture callback never blocks and queued latency stays capped.
package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/kmod-midori/ndi-wayland-screenshare/video"
)

// DefaultCapacity bounds queued frames to roughly two freshness windows at
// 60 fps. Anything deeper only accumulates frames the sender would discard
// as stale anyway.
const DefaultCapacity = 8

// ErrDisconnected is the terminal signal both endpoints observe once the
// channel is closed.
var ErrDisconnected = errors.New("relay: channel disconnected")

// Stats are the channel's monotonic counters.
type Stats struct {
	Sent    uint64
	Dropped uint64
}

// Channel is a FIFO, multi-producer single-consumer handoff of frames.
type Channel struct {
	frames chan *video.Frame
	done   chan struct{}

	closeOnce sync.Once

	sent        atomic.Uint64
	dropped     atomic.Uint64
	lastDropLog atomic.Int64
}

// New creates a channel. capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		frames: make(chan *video.Frame, capacity),
		done:   make(chan struct{}),
	}
}

// Send enqueues a frame, evicting the oldest queued frame when the channel is
// full. It never blocks. Returns ErrDisconnected once the channel is closed;
// the frame in flight is lost in that case.
func (c *Channel) Send(f *video.Frame) error {
	select {
	case <-c.done:
		return ErrDisconnected
	default:
	}

	select {
	case c.frames <- f:
		c.sent.Add(1)
		return nil
	default:
	}

	// Full: evict the oldest so the newest frame wins.
	select {
	case <-c.frames:
		c.noteDrop()
	default:
	}

	select {
	case c.frames <- f:
		c.sent.Add(1)
	default:
		// Consumer raced us back to full; this frame is the casualty.
		c.noteDrop()
	}
	return nil
}

// Recv blocks until a frame is available or the channel is closed and
// drained, in which case it returns ErrDisconnected.
func (c *Channel) Recv() (*video.Frame, error) {
	return c.recv(context.Background())
}

// RecvContext is Recv with cancellation; it returns the context's error when
// ctx ends first.
func (c *Channel) RecvContext(ctx context.Context) (*video.Frame, error) {
	return c.recv(ctx)
}

func (c *Channel) recv(ctx context.Context) (*video.Frame, error) {
	// Drain queued frames before honoring the close signal so nothing
	// enqueued before Close is lost.
	select {
	case f := <-c.frames:
		return f, nil
	default:
	}

	select {
	case f := <-c.frames:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		select {
		case f := <-c.frames:
			return f, nil
		default:
			return nil, ErrDisconnected
		}
	}
}

// Close marks the channel disconnected. Idempotent. Frames already queued
// remain receivable; subsequent Sends fail.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Stats returns the counters accumulated so far.
func (c *Channel) Stats() Stats {
	return Stats{
		Sent:    c.sent.Load(),
		Dropped: c.dropped.Load(),
	}
}

func (c *Channel) noteDrop() {
	total := c.dropped.Add(1)
	if shouldLog(&c.lastDropLog, time.Second) {
		slog.Debug("relay: dropped frame, queue full",
			"total_dropped", total,
			"queued", len(c.frames),
		)
	}
}

// shouldLog rate-limits noisy per-frame logging without locks.
func shouldLog(last *atomic.Int64, period time.Duration) bool {
	now := time.Now().UnixNano()
	for {
		prev := last.Load()
		if prev != 0 && time.Duration(now-prev) < period {
			return false
		}
		if last.CompareAndSwap(prev, now) {
			return true
		}
	}
}
