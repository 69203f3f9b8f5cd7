package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-camsource/pkg/capture"
)

// OrientationProvider returns the current display rotation in degrees
// (0, 90, 180 or 270).
type OrientationProvider func() int

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus collectors shared by the source and its processor.
func WithMetrics(m *Metrics) Option {
	return func(s *Source) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithOrientation sets the display rotation provider. The default reports 0.
func WithOrientation(fn OrientationProvider) Option {
	return func(s *Source) {
		if fn != nil {
			s.orientation = fn
		}
	}
}

// SourceStats combines session state with processor counters.
type SourceStats struct {
	Started   bool           `json:"started"`
	Released  bool           `json:"released"`
	SessionID string         `json:"session_id,omitempty"`
	Sessions  uint64         `json:"sessions"`
	Processor ProcessorStats `json:"processor"`
}

// Source owns a capture device, its buffer pool and the frame processor.
//
// All device access is serialized by one lock. Frame delivery and detection
// run outside it.
type Source struct {
	opener      capture.Opener
	proc        *Processor
	logger      *slog.Logger
	metrics     *Metrics
	orientation OrientationProvider

	mu         sync.Mutex
	cfg        Config
	dev        capture.Device
	caps       capture.Capabilities
	params     capture.Parameters
	pool       *BufferPool
	rotation   Rotation
	generation uint64
	sessionID  string
	sessions   uint64
	started    bool
	released   bool

	// focusMove survives restarts and is attached to every opened device.
	focusMove func(start bool)
}

// New creates a Source. The device is not opened until Start.
func New(cfg Config, opener capture.Opener, detector Detector, opts ...Option) (*Source, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("camera: invalid config: %s", strings.Join(errs, "; "))
	}
	if opener == nil {
		return nil, errors.New("camera: opener is required")
	}
	if detector == nil {
		return nil, errors.New("camera: detector is required")
	}

	s := &Source{
		cfg:         cfg,
		opener:      opener,
		logger:      slog.Default(),
		orientation: func() int { return 0 },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.proc = NewProcessor(detector, ProcessorOptions{Logger: s.logger, Metrics: s.metrics})
	return s, nil
}

// Start opens the device, negotiates parameters and begins streaming.
// It returns immediately if the source is already started.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Source) startLocked() error {
	if s.released {
		return s.violation("start", "released")
	}
	if s.started {
		return nil
	}

	dev, err := s.opener.Open(s.cfg.Facing)
	if err != nil {
		s.metrics.StartFailures.Inc()
		return fmt.Errorf("%w (%s): %v", ErrDeviceOpen, s.cfg.Facing, err)
	}

	if err := s.configure(dev); err != nil {
		s.metrics.StartFailures.Inc()
		dev.Close()
		return err
	}

	s.generation++
	pool, err := AllocateBufferPool(s.params.PreviewSize, s.params.PixelFormat, s.cfg.BufferCount, s.generation)
	if err != nil {
		s.metrics.StartFailures.Inc()
		dev.Close()
		return err
	}

	// Callbacks and buffers go in before streaming starts.
	dev.SetFrameCallback(s.proc.SubmitFrame)
	if s.focusMove != nil {
		dev.SetAutoFocusMoveCallback(s.focusMove)
	}
	for _, buf := range pool.Buffers() {
		dev.AddBuffer(buf)
	}

	if err := s.proc.Start(Session{Pool: pool, Recycler: dev, Rotation: s.rotation.QuarterTurns}); err != nil {
		s.metrics.StartFailures.Inc()
		dev.SetFrameCallback(nil)
		dev.Close()
		pool.Release()
		return err
	}

	if err := dev.StartStreaming(); err != nil {
		s.metrics.StartFailures.Inc()
		s.proc.Stop()
		s.proc.ClearBuffers()
		dev.SetFrameCallback(nil)
		dev.Close()
		pool.Release()
		return fmt.Errorf("camera: start streaming: %w", err)
	}

	s.dev = dev
	s.pool = pool
	s.sessionID = uuid.NewString()
	s.sessions++
	s.started = true
	s.metrics.SessionsStarted.Inc()
	s.metrics.ActiveSessions.Set(1)
	s.metrics.Zoom.Set(float64(s.params.Zoom))

	s.logger.Info("camera started",
		"session", s.sessionID,
		"facing", s.cfg.Facing,
		"preview", s.params.PreviewSize,
		"picture", s.params.PictureSize,
		"fps", s.params.FpsRange,
		"rotation", s.rotation.Angle,
		"focus", s.params.FocusMode,
		"flash", s.params.FlashMode,
	)
	return nil
}

// configure negotiates and applies parameters, then reads back what the device accepted.
func (s *Source) configure(dev capture.Device) error {
	caps := dev.Capabilities()
	info := dev.Info()

	pair, err := SelectResolutionPair(caps.PreviewSizes, caps.PictureSizes, s.cfg.PreviewWidth, s.cfg.PreviewHeight)
	if err != nil {
		return err
	}
	fps, err := SelectFpsRange(caps.FpsRanges, s.cfg.RequestedFps)
	if err != nil {
		return err
	}
	rotation, err := ComputeRotation(info.Orientation, s.orientation(), info.Facing == capture.FacingFront)
	if err != nil {
		return err
	}

	params := dev.Parameters()
	params.PreviewSize = pair.Preview
	params.PictureSize = pair.Picture
	params.FpsRange = fps
	params.Rotation = rotation.Angle
	params.DisplayOrientation = rotation.DisplayAngle
	params.PixelFormat = s.negotiateFormat(caps)

	if mode := s.cfg.FocusMode; mode != "" {
		if caps.SupportsFocusMode(mode) {
			params.FocusMode = mode
		} else {
			s.logger.Info("focus mode not supported, keeping device default",
				"requested", mode, "default", params.FocusMode, "error", ErrUnsupportedMode)
		}
	}

	if mode := s.cfg.FlashMode; mode != "" {
		switch {
		case caps.FlashModes == nil:
			s.logger.Info("device has no flash", "requested", mode)
		case caps.SupportsFlashMode(mode):
			params.FlashMode = mode
		default:
			s.logger.Info("flash mode not supported, keeping device default",
				"requested", mode, "default", params.FlashMode, "error", ErrUnsupportedMode)
		}
	}

	if err := dev.SetParameters(params); err != nil {
		return fmt.Errorf("camera: configure device: %w", err)
	}

	s.caps = caps
	s.params = dev.Parameters()
	s.rotation = rotation
	return nil
}

func (s *Source) negotiateFormat(caps capture.Capabilities) capture.PixelFormat {
	want := s.cfg.PixelFormat
	if len(caps.PixelFormats) == 0 {
		return want
	}
	for _, f := range caps.PixelFormats {
		if f == want {
			return want
		}
	}
	s.logger.Info("pixel format not supported, using device format",
		"requested", want, "using", caps.PixelFormats[0])
	return caps.PixelFormats[0]
}

// Stop halts the processor, stops streaming and closes the device.
// It is safe to call when the source was never started.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Source) stopLocked() {
	if !s.started {
		return
	}

	// Join the worker first so two sessions never overlap.
	s.proc.Stop()
	s.proc.ClearBuffers()

	if err := s.dev.StopStreaming(); err != nil {
		s.logger.Warn("stop streaming failed", "error", err)
	}
	s.dev.SetFrameCallback(nil)
	s.dev.SetAutoFocusMoveCallback(nil)
	if err := s.dev.Close(); err != nil {
		s.logger.Warn("close device failed", "error", err)
	}
	s.pool.Release()

	s.logger.Info("camera stopped", "session", s.sessionID)

	s.dev = nil
	s.pool = nil
	s.sessionID = ""
	s.started = false
	s.metrics.ActiveSessions.Set(0)
}

// Release stops the source and frees the detector. A Source cannot be
// used after Release; a second call returns a LifecycleError.
func (s *Source) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return s.violation("release", "already released")
	}
	s.stopLocked()
	s.released = true
	s.mu.Unlock()

	return s.proc.Release()
}

// Reconfigure replaces the configuration. A running source is restarted,
// which reopens the device and reallocates the buffer pool.
func (s *Source) Reconfigure(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("camera: invalid config: %s", strings.Join(errs, "; "))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return s.violation("reconfigure", "released")
	}
	prev := s.cfg
	wasStarted := s.started
	s.stopLocked()
	s.cfg = cfg
	if !wasStarted {
		return nil
	}

	err := s.startLocked()
	if err == nil {
		return nil
	}
	// Keep the config that last worked and bring the session back with it.
	s.cfg = prev
	if rerr := s.startLocked(); rerr != nil {
		s.logger.Error("restart with previous config failed", "error", rerr)
	}
	return err
}

// DoZoom scales the zoom level and returns the new zoom index.
// A scale above 1 steps in by a tenth of the range per unit; a scale at or
// below 1 multiplies. It returns 0 when the device is closed or cannot zoom.
func (s *Source) DoZoom(scale float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return 0
	}
	if !s.caps.ZoomSupported {
		s.logger.Warn("zoom not supported on this device")
		return 0
	}

	params := s.dev.Parameters()
	maxZoom := s.caps.MaxZoom
	current := float64(params.Zoom + 1)

	var next float64
	if scale > 1 {
		next = current + scale*float64(maxZoom/10)
	} else {
		next = current * scale
	}

	zoom := int(math.Floor(next+0.5)) - 1
	if zoom < 0 {
		zoom = 0
	} else if zoom > maxZoom {
		zoom = maxZoom
	}

	params.Zoom = zoom
	if err := s.dev.SetParameters(params); err != nil {
		s.logger.Warn("set zoom failed", "zoom", zoom, "error", err)
		return s.dev.Parameters().Zoom
	}
	s.params = s.dev.Parameters()
	s.metrics.Zoom.Set(float64(zoom))
	return zoom
}

// SetFocusMode applies mode if the device is open and supports it.
// The change lasts for the current session; Config is left untouched.
func (s *Source) SetFocusMode(mode capture.FocusMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return false
	}
	if !s.caps.SupportsFocusMode(mode) {
		s.logger.Info("focus mode not supported", "mode", mode, "error", ErrUnsupportedMode)
		return false
	}

	params := s.dev.Parameters()
	params.FocusMode = mode
	if err := s.dev.SetParameters(params); err != nil {
		s.logger.Warn("set focus mode failed", "mode", mode, "error", err)
		return false
	}
	s.params = s.dev.Parameters()
	return true
}

// SetFlashMode applies mode if the device is open and supports it.
func (s *Source) SetFlashMode(mode capture.FlashMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return false
	}
	if !s.caps.SupportsFlashMode(mode) {
		s.logger.Info("flash mode not supported", "mode", mode, "error", ErrUnsupportedMode)
		return false
	}

	params := s.dev.Parameters()
	params.FlashMode = mode
	if err := s.dev.SetParameters(params); err != nil {
		s.logger.Warn("set flash mode failed", "mode", mode, "error", err)
		return false
	}
	s.params = s.dev.Parameters()
	return true
}

// TakePicture captures one still image. Streaming resumes after picture runs.
func (s *Source) TakePicture(shutter func(), picture func(jpeg []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return s.violation("take picture", "released")
	}
	if s.dev == nil {
		return errors.New("camera: not started")
	}

	dev := s.dev
	done := func(jpeg []byte) {
		if picture != nil {
			picture(jpeg)
		}
		s.metrics.Pictures.Inc()

		s.mu.Lock()
		defer s.mu.Unlock()
		// The session may have been stopped while the picture was taken.
		if s.dev != dev {
			return
		}
		if err := dev.StartStreaming(); err != nil {
			s.logger.Warn("resume streaming failed", "error", err)
		}
	}

	if err := dev.TakePicture(shutter, done); err != nil {
		return fmt.Errorf("camera: take picture: %w", err)
	}
	return nil
}

// AutoFocus starts a focus sweep; cb receives the result. No-op when closed.
func (s *Source) AutoFocus(cb func(success bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != nil {
		s.dev.AutoFocus(cb)
	}
}

// CancelAutoFocus aborts a focus sweep. No-op when closed.
func (s *Source) CancelAutoFocus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != nil {
		s.dev.CancelAutoFocus()
	}
}

// SetAutoFocusMoveCallback registers cb for focus movement on this and every
// later session; nil detaches. It reports whether a device was open to
// receive it right away.
func (s *Source) SetAutoFocusMoveCallback(cb func(start bool)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focusMove = cb
	if s.dev == nil {
		return false
	}
	s.dev.SetAutoFocusMoveCallback(cb)
	return true
}

// PreviewSize returns the negotiated preview size, zero before the first start.
func (s *Source) PreviewSize() capture.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.PreviewSize
}

// PictureSize returns the negotiated picture size, zero if none was paired.
func (s *Source) PictureSize() capture.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.PictureSize
}

// FpsRange returns the negotiated frame-rate range.
func (s *Source) FpsRange() capture.FpsRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.FpsRange
}

// Facing returns the configured facing.
func (s *Source) Facing() capture.Facing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Facing
}

// FocusMode returns the effective focus mode read back from the device.
func (s *Source) FocusMode() capture.FocusMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.FocusMode
}

// FlashMode returns the effective flash mode read back from the device.
func (s *Source) FlashMode() capture.FlashMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.FlashMode
}

// Rotation returns the rotation computed at the last start.
func (s *Source) Rotation() Rotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotation
}

// Config returns the current configuration.
func (s *Source) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SessionID returns the id of the running session, or "".
func (s *Source) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// IsStarted reports whether the source is streaming.
func (s *Source) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stats returns session state and processor counters.
func (s *Source) Stats() SourceStats {
	s.mu.Lock()
	st := SourceStats{
		Started:   s.started,
		Released:  s.released,
		SessionID: s.sessionID,
		Sessions:  s.sessions,
	}
	s.mu.Unlock()
	st.Processor = s.proc.Stats()
	return st
}

func (s *Source) violation(op, state string) error {
	s.logger.Error("camera lifecycle violation", "op", op, "state", state)
	return &LifecycleError{Op: op, State: state}
}
