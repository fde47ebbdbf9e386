package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the configuration for a serialwarp source or sink process
type Config struct {
	// Transport configuration
	Transport TransportConfig `json:"transport" yaml:"transport"`

	// Codec configuration
	Codec CodecConfig `json:"codec" yaml:"codec"`

	// Capture configuration (source side only)
	Capture CaptureConfig `json:"capture" yaml:"capture"`

	// Display configuration (sink side only)
	Display DisplayConfig `json:"display" yaml:"display"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// TransportConfig holds USB bulk-transport tunables
type TransportConfig struct {
	// VendorID overrides the built-in supported-device table when non-zero
	VendorID uint16 `json:"vendor_id" yaml:"vendor_id"`

	// ProductID overrides the built-in supported-device table when non-zero
	ProductID uint16 `json:"product_id" yaml:"product_id"`

	// RecvTimeout is the maximum duration for a single Recv call
	RecvTimeout time.Duration `json:"recv_timeout" yaml:"recv_timeout"`

	// MaxTransferSize is the maximum bytes moved in a single bulk transfer
	MaxTransferSize int `json:"max_transfer_size" yaml:"max_transfer_size"`

	// InitialCredits is a START_ACK credit grant; the sink binary does not
	// read it and takes its grant from the --credits flag instead
	InitialCredits uint16 `json:"initial_credits" yaml:"initial_credits"`
}

// CodecConfig holds H.264 encoder/decoder tunables
type CodecConfig struct {
	// Bitrate is the target encode bitrate in bits per second
	Bitrate int `json:"bitrate" yaml:"bitrate"`

	// KeyframeInterval is the number of frames between forced keyframes
	KeyframeInterval int `json:"keyframe_interval" yaml:"keyframe_interval"`

	// Width is the negotiated frame width in pixels
	Width int `json:"width" yaml:"width"`

	// Height is the negotiated frame height in pixels
	Height int `json:"height" yaml:"height"`

	// FPS is the target frame rate
	FPS int `json:"fps" yaml:"fps"`
}

// CaptureConfig holds screen-capture tunables (source side)
type CaptureConfig struct {
	// DisplayID selects which physical display to capture; 0 means "main display"
	DisplayID uint32 `json:"display_id" yaml:"display_id"`
}

// DisplayConfig holds virtual-display / renderer tunables (sink side)
type DisplayConfig struct {
	// WindowTitle is the title of the renderer's top-level window
	WindowTitle string `json:"window_title" yaml:"window_title"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error)
	Level string `json:"level" yaml:"level"`

	// Format is the log format (json, text)
	Format string `json:"format" yaml:"format"`

	// OutputPath is the log output path
	OutputPath string `json:"output_path" yaml:"output_path"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			VendorID:        0,
			ProductID:       0,
			RecvTimeout:     5 * time.Second,
			MaxTransferSize: 65536,
			InitialCredits:  8,
		},
		Codec: CodecConfig{
			Bitrate:          8_000_000,
			KeyframeInterval: 30,
			Width:            1920,
			Height:           1080,
			FPS:              60,
		},
		Capture: CaptureConfig{
			DisplayID: 0,
		},
		Display: DisplayConfig{
			WindowTitle: "serialwarp",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults for
// anything the file and environment don't override
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.loadFromEnv()

	return cfg, nil
}

// loadFromEnv overrides config from environment variables
func (c *Config) loadFromEnv() {
	if level := os.Getenv("SERIALWARP_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if bitrate := os.Getenv("SERIALWARP_BITRATE"); bitrate != "" {
		var v int
		if _, err := fmt.Sscanf(bitrate, "%d", &v); err == nil {
			c.Codec.Bitrate = v
		}
	}
}
