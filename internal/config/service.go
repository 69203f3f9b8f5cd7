// Package config loads the camsource service configuration.
//
// Values come from an optional YAML file, then environment overrides:
//
//	CAMSOURCE_HTTP_PORT   control server port (default 8080)
//	CAMSOURCE_BACKEND     capture backend: auto, gocv, mock
//	CAMSOURCE_DEVICE      back camera source, e.g. "0" or an RTSP URL
//	CAMSOURCE_MODEL       YuNet ONNX model path
//	CAMSOURCE_PRESET      camera preset name
//	LOG_LEVEL             debug, info, warn, error
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-camsource/pkg/camera"
	"github.com/teslashibe/go-camsource/pkg/capture"
	"github.com/teslashibe/go-camsource/pkg/detect"
)

// Default service configuration.
const (
	DefaultHTTPPort       = 8080
	DefaultLogLevel       = "info"
	DefaultPictureTimeout = 5 * time.Second
)

// Service is the full configuration of the camsource binary.
type Service struct {
	HTTPPort       int           `yaml:"http_port"`
	LogLevel       string        `yaml:"log_level"`
	PictureTimeout time.Duration `yaml:"picture_timeout"`

	// Preset, when set, replaces Camera with the named preset.
	Preset string `yaml:"preset"`

	// AutoStart starts the camera as soon as the service is up.
	AutoStart bool `yaml:"auto_start"`

	Capture capture.Config `yaml:"capture"`
	Camera  camera.Config  `yaml:"camera"`
	Detect  detect.Config  `yaml:"detect"`
}

// Default returns the built-in service configuration.
func Default() Service {
	return Service{
		HTTPPort:       DefaultHTTPPort,
		LogLevel:       DefaultLogLevel,
		PictureTimeout: DefaultPictureTimeout,
		AutoStart:      true,
		Capture:        capture.DefaultConfig(),
		Camera:         camera.DefaultConfig(),
		Detect:         detect.DefaultConfig(),
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Service, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	if cfg.Preset != "" {
		preset := camera.GetPreset(cfg.Preset)
		if preset == nil {
			return cfg, fmt.Errorf("unknown preset %q", cfg.Preset)
		}
		cfg.Camera = *preset
	}

	return cfg, cfg.Validate()
}

func (s *Service) applyEnv() error {
	if v := os.Getenv("CAMSOURCE_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CAMSOURCE_HTTP_PORT: %w", err)
		}
		s.HTTPPort = port
	}
	if v := os.Getenv("CAMSOURCE_BACKEND"); v != "" {
		s.Capture.Backend = capture.Backend(v)
	}
	if v := os.Getenv("CAMSOURCE_DEVICE"); v != "" {
		s.Capture.BackDevice = v
	}
	if v := os.Getenv("CAMSOURCE_MODEL"); v != "" {
		s.Detect.ModelPath = v
	}
	if v := os.Getenv("CAMSOURCE_PRESET"); v != "" {
		s.Preset = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	return nil
}

// Validate checks the service settings and the nested capture and camera configs.
func (s *Service) Validate() error {
	var errs []error
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port out of range: %d", s.HTTPPort))
	}
	if s.PictureTimeout <= 0 {
		errs = append(errs, fmt.Errorf("picture_timeout must be positive, got %v", s.PictureTimeout))
	}
	if err := s.Capture.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}
	for _, msg := range s.Camera.Validate() {
		errs = append(errs, fmt.Errorf("camera: %s", msg))
	}
	return errors.Join(errs...)
}

// Addr returns the control server listen address.
func (s *Service) Addr() string {
	return fmt.Sprintf(":%d", s.HTTPPort)
}

// ModelAvailable reports whether the detector model file exists.
func (s *Service) ModelAvailable() bool {
	if s.Detect.ModelPath == "" {
		return false
	}
	_, err := os.Stat(s.Detect.ModelPath)
	return err == nil
}
