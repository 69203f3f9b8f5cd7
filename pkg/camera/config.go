// Package camera delivers frames from a capture device to a detector.
//
// A Source opens the device, negotiates preview size, picture size and frame
// rate, allocates a small pool of frame buffers and runs one background
// Processor that hands the most recent frame to the Detector. Frames arriving
// while detection is busy replace the pending one (latest wins).
package camera

import (
	"fmt"

	"github.com/teslashibe/go-camsource/pkg/capture"
)

// Limits for requested values.
const (
	MaxPreviewDimension = 1000000
	MinBufferCount      = 3
	DefaultBufferCount  = 4
)

// Config holds the requested camera configuration.
// Requested values are hints; the negotiated values are read back from the Source.
type Config struct {
	// === Device ===
	Facing capture.Facing `json:"facing" yaml:"facing"`

	// === Resolution and rate ===
	// RequestedFps is the desired frame rate; the closest supported range is chosen.
	RequestedFps float64 `json:"requested_fps" yaml:"requested_fps"`

	// PreviewWidth and PreviewHeight are the desired frame size in pixels.
	PreviewWidth  int `json:"preview_width" yaml:"preview_width"`
	PreviewHeight int `json:"preview_height" yaml:"preview_height"`

	// === Modes ===
	// Empty modes leave the device default in place.
	FocusMode capture.FocusMode `json:"focus_mode" yaml:"focus_mode"`
	FlashMode capture.FlashMode `json:"flash_mode" yaml:"flash_mode"`

	// === Buffers ===
	PixelFormat capture.PixelFormat `json:"pixel_format" yaml:"pixel_format"`

	// BufferCount is the number of frame buffers: one in detection, one pending
	// and the rest queued with the device.
	BufferCount int `json:"buffer_count" yaml:"buffer_count"`
}

// DefaultConfig returns the back camera at 1024x768, 30 fps.
func DefaultConfig() Config {
	return Config{
		Facing:        capture.FacingBack,
		RequestedFps:  30.0,
		PreviewWidth:  1024,
		PreviewHeight: 768,
		FocusMode:     "",
		FlashMode:     "",
		PixelFormat:   capture.PixelFormatNV21,
		BufferCount:   DefaultBufferCount,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Facing != capture.FacingBack && c.Facing != capture.FacingFront {
		errors = append(errors, fmt.Sprintf("invalid camera facing: %d", int(c.Facing)))
	}
	if c.RequestedFps <= 0 {
		errors = append(errors, fmt.Sprintf("invalid fps: %v", c.RequestedFps))
	}
	if c.PreviewWidth <= 0 || c.PreviewWidth > MaxPreviewDimension ||
		c.PreviewHeight <= 0 || c.PreviewHeight > MaxPreviewDimension {
		errors = append(errors, fmt.Sprintf("invalid preview size: %dx%d", c.PreviewWidth, c.PreviewHeight))
	}
	if c.FocusMode != "" && !c.FocusMode.Valid() {
		errors = append(errors, fmt.Sprintf("unknown focus mode: %q", c.FocusMode))
	}
	if c.FlashMode != "" && !c.FlashMode.Valid() {
		errors = append(errors, fmt.Sprintf("unknown flash mode: %q", c.FlashMode))
	}
	if c.PixelFormat.BitsPerPixel() == 0 {
		errors = append(errors, fmt.Sprintf("unknown pixel format: %q", c.PixelFormat))
	}
	if c.BufferCount < MinBufferCount {
		errors = append(errors, fmt.Sprintf("buffer_count must be at least %d", MinBufferCount))
	}

	return errors
}

// Capabilities returns the values a config may request.
func Capabilities() map[string]interface{} {
	return map[string]interface{}{
		"facings":          []string{capture.FacingBack.String(), capture.FacingFront.String()},
		"max_preview":      MaxPreviewDimension,
		"focus_modes":      capture.FocusModes,
		"flash_modes":      capture.FlashModes,
		"pixel_formats":    []capture.PixelFormat{capture.PixelFormatNV21, capture.PixelFormatYUYV, capture.PixelFormatRGB},
		"min_buffer_count": MinBufferCount,
	}
}
