// Package config holds the operator-facing settings: the NDI source
// identity, the freshness threshold, and the pipeline's capacity knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Capture backends.
const (
	BackendPortal     = "portal"
	BackendScreenshot = "screenshot"
)

// Config is the complete configuration. Zero values are filled by Default.
type Config struct {
	// SourceName is the NDI source name receivers discover.
	SourceName string `yaml:"source_name"`
	// Group optionally restricts the source to an NDI group set.
	Group string `yaml:"group"`
	// MaxFrameAgeMS is the freshness threshold in milliseconds; queued
	// frames older than this are discarded instead of sent.
	MaxFrameAgeMS int `yaml:"max_frame_age_ms"`
	// RelayCapacity bounds the frame queue between capture and send.
	// Zero selects the relay's default.
	RelayCapacity int `yaml:"relay_capacity"`
	// FrameRate is the preferred capture rate in fps.
	FrameRate int `yaml:"frame_rate"`
	// Backend selects the capture transport: portal or screenshot.
	Backend string `yaml:"backend"`
	// Display is the display index for the screenshot backend.
	Display int `yaml:"display"`
}

// Default returns the configuration matching the original pipeline's
// behavior: a source named Desktop with a 100ms freshness threshold.
func Default() Config {
	return Config{
		SourceName:    "Desktop",
		MaxFrameAgeMS: 100,
		FrameRate:     60,
		Backend:       BackendPortal,
	}
}

// Load reads and parses a YAML configuration file, validating fail-fast.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot honor.
func (c *Config) Validate() error {
	if c.SourceName == "" {
		return fmt.Errorf("source_name is required")
	}
	if c.MaxFrameAgeMS < 1 || c.MaxFrameAgeMS > 5000 {
		return fmt.Errorf("max_frame_age_ms %d out of range [1, 5000]", c.MaxFrameAgeMS)
	}
	if c.RelayCapacity < 0 || c.RelayCapacity > 1024 {
		return fmt.Errorf("relay_capacity %d out of range [0, 1024]", c.RelayCapacity)
	}
	if c.FrameRate < 1 || c.FrameRate > 1000 {
		return fmt.Errorf("frame_rate %d out of range [1, 1000]", c.FrameRate)
	}
	switch c.Backend {
	case BackendPortal, BackendScreenshot:
	default:
		return fmt.Errorf("backend %q must be %q or %q", c.Backend, BackendPortal, BackendScreenshot)
	}
	if c.Display < 0 {
		return fmt.Errorf("display %d must be >= 0", c.Display)
	}
	return nil
}

// MaxFrameAge returns the freshness threshold as a duration.
func (c *Config) MaxFrameAge() time.Duration {
	return time.Duration(c.MaxFrameAgeMS) * time.Millisecond
}
