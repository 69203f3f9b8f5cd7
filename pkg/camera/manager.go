package camera

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/teslashibe/go-camsource/pkg/capture"
)

// Manager holds the current camera configuration and handles updates.
type Manager struct {
	config Config
	preset string
	mu     sync.RWMutex

	// Callback when config changes (for applying to the source)
	OnConfigChange func(cfg Config) error
}

// NewManager creates a manager starting from cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{
		config: cfg,
	}
}

// GetConfig returns the current camera configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Preset returns the name of the last applied preset, or "".
func (m *Manager) Preset() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.preset
}

// SetConfig validates cfg, stores it and applies it through OnConfigChange.
// The stored config is left unchanged if the callback fails.
func (m *Manager) SetConfig(cfg Config) error {
	if errors := cfg.Validate(); len(errors) > 0 {
		return fmt.Errorf("validation failed: %v", errors)
	}

	m.mu.RLock()
	callback := m.OnConfigChange
	m.mu.RUnlock()

	if callback != nil {
		if err := callback(cfg); err != nil {
			return fmt.Errorf("failed to apply config: %w", err)
		}
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// UpdateConfig updates specific fields of the configuration.
// Accepts a map of field names to values; "preset" replaces the base config.
func (m *Manager) UpdateConfig(params map[string]interface{}) error {
	cfg := m.GetConfig()
	preset := ""

	// Check for preset first
	if presetName, ok := params["preset"].(string); ok {
		p := GetPreset(presetName)
		if p == nil {
			return fmt.Errorf("unknown preset: %s", presetName)
		}
		cfg = *p
		preset = presetName
	}

	for key, value := range params {
		switch key {
		case "preset":
		case "facing":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("facing must be a string")
			}
			f, err := capture.ParseFacing(s)
			if err != nil {
				return err
			}
			cfg.Facing = f
		case "requested_fps", "fps":
			if v, ok := toFloat(value); ok {
				cfg.RequestedFps = v
			}
		case "preview_width", "width":
			if v, ok := toInt(value); ok {
				cfg.PreviewWidth = v
			}
		case "preview_height", "height":
			if v, ok := toInt(value); ok {
				cfg.PreviewHeight = v
			}
		case "focus_mode":
			if v, ok := value.(string); ok {
				cfg.FocusMode = capture.FocusMode(v)
			}
		case "flash_mode":
			if v, ok := value.(string); ok {
				cfg.FlashMode = capture.FlashMode(v)
			}
		case "pixel_format":
			if v, ok := value.(string); ok {
				cfg.PixelFormat = capture.PixelFormat(v)
			}
		case "buffer_count":
			if v, ok := toInt(value); ok {
				cfg.BufferCount = v
			}
		default:
			return fmt.Errorf("unknown config field: %s", key)
		}
	}

	if err := m.SetConfig(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.preset = preset
	m.mu.Unlock()
	return nil
}

// GetConfigJSON returns the current config as a map for JSON serialization.
func (m *Manager) GetConfigJSON() map[string]interface{} {
	cfg := m.GetConfig()

	// Convert to map via JSON for consistent serialization
	data, _ := json.Marshal(cfg)
	var result map[string]interface{}
	json.Unmarshal(data, &result)

	return result
}

// Helper functions for type conversion

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
