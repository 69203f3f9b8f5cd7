package camera

import (
	"errors"
	"testing"

	"github.com/teslashibe/go-camsource/pkg/capture"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Fatalf("default config invalid: %v", errs)
	}
}

func TestPresetsValid(t *testing.T) {
	for _, name := range PresetNames() {
		cfg := GetPreset(name)
		if cfg == nil {
			t.Fatalf("preset %q missing", name)
		}
		if errs := cfg.Validate(); len(errs) > 0 {
			t.Errorf("preset %q invalid: %v", name, errs)
		}
	}
	if GetPreset("8k") != nil {
		t.Error("unknown preset should be nil")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errors int
	}{
		{"valid", func(c *Config) {}, 0},
		{"zero fps", func(c *Config) { c.RequestedFps = 0 }, 1},
		{"negative width", func(c *Config) { c.PreviewWidth = -1 }, 1},
		{"huge height", func(c *Config) { c.PreviewHeight = MaxPreviewDimension + 1 }, 1},
		{"bad facing", func(c *Config) { c.Facing = capture.Facing(7) }, 1},
		{"bad focus", func(c *Config) { c.FocusMode = "telepathic" }, 1},
		{"bad flash", func(c *Config) { c.FlashMode = "strobe" }, 1},
		{"bad format", func(c *Config) { c.PixelFormat = "bayer" }, 1},
		{"too few buffers", func(c *Config) { c.BufferCount = 2 }, 1},
		{"several", func(c *Config) { c.RequestedFps = -5; c.BufferCount = 0 }, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if errs := cfg.Validate(); len(errs) != tt.errors {
				t.Errorf("got %d errors %v, want %d", len(errs), errs, tt.errors)
			}
		})
	}
}

func TestManagerUpdateConfig(t *testing.T) {
	m := NewManager(DefaultConfig())

	var applied []Config
	m.OnConfigChange = func(cfg Config) error {
		applied = append(applied, cfg)
		return nil
	}

	err := m.UpdateConfig(map[string]interface{}{
		"preset":       "front",
		"fps":          float64(15),
		"flash_mode":   "off",
		"buffer_count": float64(5),
	})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	cfg := m.GetConfig()
	if cfg.Facing != capture.FacingFront {
		t.Errorf("facing = %v, want front", cfg.Facing)
	}
	if cfg.RequestedFps != 15 {
		t.Errorf("fps = %v, want 15", cfg.RequestedFps)
	}
	if cfg.FlashMode != capture.FlashOff {
		t.Errorf("flash = %q, want off", cfg.FlashMode)
	}
	if cfg.BufferCount != 5 {
		t.Errorf("buffer_count = %d, want 5", cfg.BufferCount)
	}
	if m.Preset() != PresetFront {
		t.Errorf("preset = %q, want front", m.Preset())
	}
	if len(applied) != 1 {
		t.Errorf("callback called %d times, want 1", len(applied))
	}
}

func TestManagerRejects(t *testing.T) {
	m := NewManager(DefaultConfig())

	if err := m.UpdateConfig(map[string]interface{}{"preset": "8k"}); err == nil {
		t.Error("expected unknown preset error")
	}
	if err := m.UpdateConfig(map[string]interface{}{"exposure": 3}); err == nil {
		t.Error("expected unknown field error")
	}
	if err := m.UpdateConfig(map[string]interface{}{"facing": "up"}); err == nil {
		t.Error("expected facing error")
	}
	if err := m.UpdateConfig(map[string]interface{}{"width": 0}); err == nil {
		t.Error("expected validation error")
	}
	if m.GetConfig() != DefaultConfig() {
		t.Error("rejected updates must not change the config")
	}
}

func TestManagerCallbackFailureKeepsConfig(t *testing.T) {
	m := NewManager(DefaultConfig())
	boom := errors.New("device busy")
	m.OnConfigChange = func(cfg Config) error { return boom }

	err := m.SetConfig(LegacyConfig())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if m.GetConfig().PreviewWidth != 1024 {
		t.Error("config changed despite callback failure")
	}
}

func TestManagerConfigJSON(t *testing.T) {
	m := NewManager(DefaultConfig())
	got := m.GetConfigJSON()

	if got["facing"] != "back" {
		t.Errorf("facing = %v, want back", got["facing"])
	}
	if got["preview_width"] != float64(1024) {
		t.Errorf("preview_width = %v", got["preview_width"])
	}
}
