package capture

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMockCapabilities returns a capability set resembling a phone sensor.
func DefaultMockCapabilities() Capabilities {
	return Capabilities{
		PreviewSizes: []Size{
			{1920, 1080}, {1280, 720}, {1024, 768}, {640, 480}, {320, 240},
		},
		PictureSizes: []Size{
			{4032, 3024}, {3840, 2160}, {1600, 1200}, {1280, 720},
		},
		FpsRanges: []FpsRange{
			{15000, 15000}, {15000, 30000}, {30000, 30000},
		},
		FocusModes: []FocusMode{
			FocusAuto, FocusContinuousPicture, FocusContinuousVideo, FocusFixed,
		},
		FlashModes:    []FlashMode{FlashOff, FlashAuto, FlashOn, FlashTorch},
		PixelFormats:  []PixelFormat{PixelFormatNV21},
		ZoomSupported: true,
		MaxZoom:       30,
	}
}

// MockDevice is a synthetic capture device for testing.
//
// In interval mode (default) a goroutine fills one queued buffer every frame
// interval. In manual mode frames are only produced by Emit.
type MockDevice struct {
	info   Info
	caps   Capabilities
	logger *slog.Logger

	interval time.Duration
	manual   bool

	mu           sync.Mutex
	params       Parameters
	cb           FrameCallback
	focusMoveCb  func(start bool)
	queue        []Buffer
	streaming    bool
	closed       bool
	stopCh       chan struct{}
	loopDone     chan struct{}
	inflight     sync.WaitGroup
	pictureBytes []byte

	// Stats
	delivered      atomic.Int64
	starved        atomic.Int64
	buffersAdded   atomic.Int64
	setParamsCalls atomic.Int64
	startCalls     atomic.Int64
	cancelFocus    atomic.Int64
}

// MockOption configures a MockDevice.
type MockOption func(*MockDevice)

// WithCapabilities replaces the default capability set.
func WithCapabilities(c Capabilities) MockOption {
	return func(m *MockDevice) {
		m.caps = c
	}
}

// WithFrameInterval sets the synthetic frame period.
func WithFrameInterval(d time.Duration) MockOption {
	return func(m *MockDevice) {
		m.interval = d
	}
}

// WithManualFrames disables the frame goroutine; frames are produced by Emit.
func WithManualFrames() MockOption {
	return func(m *MockDevice) {
		m.manual = true
	}
}

// NewMockDevice creates a mock device.
func NewMockDevice(info Info, logger *slog.Logger, opts ...MockOption) *MockDevice {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockDevice{
		info:     info,
		caps:     DefaultMockCapabilities(),
		logger:   logger,
		interval: 33 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.params = Parameters{
		PixelFormat: PixelFormatNV21,
		FocusMode:   FocusAuto,
	}
	if len(m.caps.PreviewSizes) > 0 {
		m.params.PreviewSize = m.caps.PreviewSizes[len(m.caps.PreviewSizes)-1]
	}
	if len(m.caps.FpsRanges) > 0 {
		m.params.FpsRange = m.caps.FpsRanges[0]
	}
	if len(m.caps.FocusModes) > 0 {
		m.params.FocusMode = m.caps.FocusModes[0]
	}
	if m.caps.FlashModes != nil {
		m.params.FlashMode = FlashOff
	} else {
		m.params.FlashMode = ""
	}

	return m
}

// Info returns the device placement.
func (m *MockDevice) Info() Info {
	return m.info
}

// Capabilities returns the configured capability set.
func (m *MockDevice) Capabilities() Capabilities {
	return m.caps
}

// Parameters returns the current parameters.
func (m *MockDevice) Parameters() Parameters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

// SetParameters stores p.
func (m *MockDevice) SetParameters(p Parameters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.params = p
	m.setParamsCalls.Add(1)
	return nil
}

// SetFrameCallback registers cb; nil detaches.
func (m *MockDevice) SetFrameCallback(cb FrameCallback) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

// AddBuffer queues buf for the next frame.
func (m *MockDevice) AddBuffer(buf Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.queue = append(m.queue, buf)
	m.buffersAdded.Add(1)
}

// StartStreaming begins frame delivery.
func (m *MockDevice) StartStreaming() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.startCalls.Add(1)
	if m.streaming {
		return nil
	}
	m.streaming = true

	if !m.manual {
		m.stopCh = make(chan struct{})
		m.loopDone = make(chan struct{})
		go m.frameLoop(m.stopCh, m.loopDone)
	}

	m.logger.Debug("mock capture streaming started",
		"facing", m.info.Facing,
		"preview", m.params.PreviewSize,
	)
	return nil
}

func (m *MockDevice) frameLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Emit()
		}
	}
}

// Emit fills the oldest queued buffer and invokes the frame callback.
// It returns false if the device is not streaming, has no callback or is
// starved of buffers.
func (m *MockDevice) Emit() bool {
	m.mu.Lock()
	if !m.streaming || m.cb == nil {
		m.mu.Unlock()
		return false
	}
	if len(m.queue) == 0 {
		m.mu.Unlock()
		m.starved.Add(1)
		return false
	}
	buf := m.queue[0]
	m.queue = m.queue[1:]
	cb := m.cb
	m.inflight.Add(1)
	m.mu.Unlock()
	defer m.inflight.Done()

	n := m.delivered.Add(1)
	fillPattern(buf.Data, byte(n))
	cb(buf.ID)
	return true
}

// EmitID invokes the frame callback with an arbitrary id, bypassing the queue.
// Used to simulate a device returning a buffer the pool does not own.
func (m *MockDevice) EmitID(id BufferID) bool {
	m.mu.Lock()
	if !m.streaming || m.cb == nil {
		m.mu.Unlock()
		return false
	}
	cb := m.cb
	m.inflight.Add(1)
	m.mu.Unlock()
	defer m.inflight.Done()

	cb(id)
	return true
}

func fillPattern(data []byte, v byte) {
	n := len(data)
	if n > 64 {
		n = 64
	}
	for i := 0; i < n; i++ {
		data[i] = v
	}
}

// StopStreaming halts delivery and waits for in-flight callbacks.
func (m *MockDevice) StopStreaming() error {
	m.mu.Lock()
	if !m.streaming {
		m.mu.Unlock()
		return nil
	}
	m.streaming = false
	stop, done := m.stopCh, m.loopDone
	m.stopCh, m.loopDone = nil, nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	m.inflight.Wait()

	m.logger.Debug("mock capture streaming stopped", "facing", m.info.Facing)
	return nil
}

// TakePicture stops streaming and delivers a JPEG asynchronously.
func (m *MockDevice) TakePicture(shutter func(), picture func(jpeg []byte)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	size := m.params.PictureSize
	if size.IsZero() {
		size = m.params.PreviewSize
	}
	m.mu.Unlock()

	if err := m.StopStreaming(); err != nil {
		return err
	}

	data, err := m.pictureJPEG(size)
	if err != nil {
		return err
	}

	go func() {
		if shutter != nil {
			shutter()
		}
		if picture != nil {
			picture(data)
		}
	}()
	return nil
}

// pictureJPEG encodes a small synthetic image once and reuses it.
func (m *MockDevice) pictureJPEG(size Size) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pictureBytes != nil {
		return m.pictureBytes, nil
	}

	w, h := size.Width/16, size.Height/16
	if w < 1 || h < 1 {
		w, h = 64, 48
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	m.pictureBytes = buf.Bytes()
	return m.pictureBytes, nil
}

// AutoFocus reports success asynchronously.
func (m *MockDevice) AutoFocus(cb func(success bool)) {
	if cb == nil {
		return
	}
	go cb(true)
}

// CancelAutoFocus records the call.
func (m *MockDevice) CancelAutoFocus() {
	m.cancelFocus.Add(1)
}

// SetAutoFocusMoveCallback stores cb.
func (m *MockDevice) SetAutoFocusMoveCallback(cb func(start bool)) {
	m.mu.Lock()
	m.focusMoveCb = cb
	m.mu.Unlock()
}

// TriggerFocusMove invokes the focus move callback, if any, on a new goroutine.
func (m *MockDevice) TriggerFocusMove(start bool) bool {
	m.mu.Lock()
	cb := m.focusMoveCb
	m.mu.Unlock()
	if cb == nil {
		return false
	}
	go cb(start)
	return true
}

// Close stops streaming and marks the device closed.
func (m *MockDevice) Close() error {
	m.StopStreaming()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.cb = nil
	m.queue = nil
	return nil
}

// MockStats is a snapshot of mock device counters.
type MockStats struct {
	Delivered      int64
	Starved        int64
	BuffersAdded   int64
	Queued         int
	SetParamsCalls int64
	StartCalls     int64
	CancelFocus    int64
	Streaming      bool
	Closed         bool
	HasCallback    bool
}

// Stats returns device counters.
func (m *MockDevice) Stats() MockStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MockStats{
		Delivered:      m.delivered.Load(),
		Starved:        m.starved.Load(),
		BuffersAdded:   m.buffersAdded.Load(),
		Queued:         len(m.queue),
		SetParamsCalls: m.setParamsCalls.Load(),
		StartCalls:     m.startCalls.Load(),
		CancelFocus:    m.cancelFocus.Load(),
		Streaming:      m.streaming,
		Closed:         m.closed,
		HasCallback:    m.cb != nil,
	}
}

// Ensure MockDevice implements Device.
var _ Device = (*MockDevice)(nil)

// MockSpec describes one device a MockOpener can open.
type MockSpec struct {
	Info    Info
	Options []MockOption
}

// MockOpener opens MockDevices by facing and remembers what it opened.
type MockOpener struct {
	logger *slog.Logger
	specs  []MockSpec

	mu      sync.Mutex
	opened  []*MockDevice
	openErr error
}

// NewMockOpener creates an opener over the given specs.
func NewMockOpener(logger *slog.Logger, specs ...MockSpec) *MockOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockOpener{logger: logger, specs: specs}
}

// FailOpen makes subsequent Open calls return err (nil restores normal behavior).
func (o *MockOpener) FailOpen(err error) {
	o.mu.Lock()
	o.openErr = err
	o.mu.Unlock()
}

// Open creates a new MockDevice for the first spec matching facing.
func (o *MockOpener) Open(facing Facing) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.openErr != nil {
		return nil, o.openErr
	}
	for _, spec := range o.specs {
		if spec.Info.Facing == facing {
			dev := NewMockDevice(spec.Info, o.logger, spec.Options...)
			o.opened = append(o.opened, dev)
			return dev, nil
		}
	}
	return nil, ErrNoDevice
}

// Last returns the most recently opened device, or nil.
func (o *MockOpener) Last() *MockDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.opened) == 0 {
		return nil
	}
	return o.opened[len(o.opened)-1]
}

// OpenCount returns how many devices have been opened.
func (o *MockOpener) OpenCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}
