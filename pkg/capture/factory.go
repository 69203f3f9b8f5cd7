package capture

import (
	"fmt"
	"log/slog"
)

// NewOpener creates an Opener for the configured backend.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewOpener(cfg Config, logger *slog.Logger) (Opener, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend(cfg)
	}
	if cfg.Backend == BackendAuto && backend == BackendMock && cfg.MockFrameInterval <= 0 {
		cfg.MockFrameInterval = DefaultConfig().MockFrameInterval
	}
	cfg.Backend = backend

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}

	logger.Info("creating capture opener",
		"backend", backend,
		"back_device", cfg.BackDevice,
		"front_device", cfg.FrontDevice,
	)

	switch backend {
	case BackendMock:
		return NewMockOpener(logger,
			MockSpec{
				Info:    Info{Facing: FacingBack, Orientation: cfg.BackOrientation},
				Options: []MockOption{WithFrameInterval(cfg.MockFrameInterval)},
			},
			MockSpec{
				Info:    Info{Facing: FacingFront, Orientation: cfg.FrontOrientation},
				Options: []MockOption{WithFrameInterval(cfg.MockFrameInterval)},
			},
		), nil
	case BackendGoCV:
		return NewGoCVOpener(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// detectBestBackend returns gocv when any device source is configured.
func detectBestBackend(cfg Config) Backend {
	if cfg.BackDevice != "" || cfg.FrontDevice != "" {
		return BackendGoCV
	}
	return BackendMock
}

// AvailableBackends returns the list of backends compiled into this binary.
func AvailableBackends() []Backend {
	return []Backend{BackendMock, BackendGoCV}
}
