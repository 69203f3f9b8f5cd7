package camera

import "github.com/teslashibe/go-camsource/pkg/capture"

// Preset names for common configurations
const (
	PresetDefault = "default"
	PresetLegacy  = "legacy"
	Preset720p    = "720p"
	Preset1080p   = "1080p"
	PresetFront   = "front"
	PresetScan    = "scan"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault: DefaultConfig(),
		PresetLegacy:  LegacyConfig(),
		Preset720p:    HD720Config(),
		Preset1080p:   HD1080Config(),
		PresetFront:   FrontConfig(),
		PresetScan:    ScanConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetLegacy,
		Preset720p,
		Preset1080p,
		PresetFront,
		PresetScan,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// LegacyConfig returns 640x480 for slow detectors.
func LegacyConfig() Config {
	cfg := DefaultConfig()
	cfg.PreviewWidth = 640
	cfg.PreviewHeight = 480
	return cfg
}

// HD720Config returns 720p HD configuration.
func HD720Config() Config {
	cfg := DefaultConfig()
	cfg.PreviewWidth = 1280
	cfg.PreviewHeight = 720
	return cfg
}

// HD1080Config returns 1080p at a lower rate; detection rarely keeps up with 30 fps here.
func HD1080Config() Config {
	cfg := DefaultConfig()
	cfg.PreviewWidth = 1920
	cfg.PreviewHeight = 1080
	cfg.RequestedFps = 15
	return cfg
}

// FrontConfig returns the front camera with continuous video focus.
func FrontConfig() Config {
	cfg := DefaultConfig()
	cfg.Facing = capture.FacingFront
	cfg.PreviewWidth = 640
	cfg.PreviewHeight = 480
	cfg.FocusMode = capture.FocusContinuousVideo
	return cfg
}

// ScanConfig returns a close-range scanning setup: continuous picture focus and torch.
func ScanConfig() Config {
	cfg := DefaultConfig()
	cfg.FocusMode = capture.FocusContinuousPicture
	cfg.FlashMode = capture.FlashTorch
	return cfg
}
