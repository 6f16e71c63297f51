// Command ndi-screenshare publishes the desktop as an NDI video source.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	screenshare "github.com/kmod-midori/ndi-wayland-screenshare"
	"github.com/kmod-midori/ndi-wayland-screenshare/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	name := flag.String("name", "", "NDI source name (overrides config)")
	group := flag.String("group", "", "NDI group filter (overrides config)")
	maxAgeMS := flag.Int("max-age", 0, "freshness threshold in milliseconds (overrides config)")
	capacity := flag.Int("capacity", 0, "relay channel capacity (overrides config)")
	fps := flag.Int("fps", 0, "preferred capture frame rate (overrides config)")
	backend := flag.String("backend", "", "capture backend: portal or screenshot (overrides config)")
	display := flag.Int("display", -1, "display index for the screenshot backend (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load configuration", "error", err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	if *name != "" {
		cfg.SourceName = *name
	}
	if *group != "" {
		cfg.Group = *group
	}
	if *maxAgeMS > 0 {
		cfg.MaxFrameAgeMS = *maxAgeMS
	}
	if *capacity > 0 {
		cfg.RelayCapacity = *capacity
	}
	if *fps > 0 {
		cfg.FrameRate = *fps
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *display >= 0 {
		cfg.Display = *display
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting ndi screenshare",
		"source", cfg.SourceName,
		"backend", cfg.Backend,
		"max_frame_age_ms", cfg.MaxFrameAgeMS,
	)

	if err := screenshare.Run(ctx, &cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session failed", "error", err)
		os.Exit(1)
	}

	slog.Info("session ended")
}
