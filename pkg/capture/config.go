// Package capture abstracts streaming image sources.
//
// A device is opened by facing, configured with negotiated Parameters, given a
// set of preallocated buffers and then pushes filled buffers to a FrameCallback.
//
// Backends:
//   - gocv - OpenCV VideoCapture (USB/CSI webcams, RTSP URLs, video files)
//   - mock - synthetic NV21 frames for CI/testing without hardware
//
// The backend is selected by configuration; BackendAuto picks gocv when a
// device source is configured and falls back to mock otherwise.
package capture

import (
	"fmt"
	"time"
)

// Backend represents the capture backend type.
type Backend string

const (
	// BackendAuto selects gocv when a device is configured, mock otherwise.
	BackendAuto Backend = "auto"
	// BackendGoCV uses OpenCV VideoCapture.
	BackendGoCV Backend = "gocv"
	// BackendMock generates synthetic frames.
	BackendMock Backend = "mock"
)

// Config holds capture backend configuration.
type Config struct {
	// Backend specifies which capture backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// BackDevice and FrontDevice are OpenCV sources for each facing.
	// Examples: "0", "/dev/video2", "rtsp://10.0.0.5/stream"
	// Empty means no device with that facing.
	BackDevice  string `yaml:"back_device" json:"back_device"`
	FrontDevice string `yaml:"front_device" json:"front_device"`

	// BackOrientation and FrontOrientation are the sensor mounting angles in degrees.
	BackOrientation  int `yaml:"back_orientation" json:"back_orientation"`
	FrontOrientation int `yaml:"front_orientation" json:"front_orientation"`

	// MockFrameInterval is the synthetic frame period of the mock backend.
	// Default: 33ms
	MockFrameInterval time.Duration `yaml:"mock_frame_interval" json:"mock_frame_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:           BackendAuto,
		BackDevice:        "",
		FrontDevice:       "",
		BackOrientation:   90,
		FrontOrientation:  270,
		MockFrameInterval: 33 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendGoCV, BackendMock:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	for _, o := range []int{c.BackOrientation, c.FrontOrientation} {
		if o%90 != 0 || o < 0 || o >= 360 {
			return fmt.Errorf("orientation must be one of 0, 90, 180, 270, got %d", o)
		}
	}
	if c.Backend == BackendGoCV && c.BackDevice == "" && c.FrontDevice == "" {
		return fmt.Errorf("gocv backend needs back_device or front_device")
	}
	if c.Backend == BackendMock && c.MockFrameInterval <= 0 {
		return fmt.Errorf("mock_frame_interval must be positive, got %v", c.MockFrameInterval)
	}
	return nil
}
