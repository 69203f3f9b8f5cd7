package capture

import (
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// commonSizes is advertised for OpenCV devices, which cannot enumerate modes.
var commonSizes = []Size{
	{1920, 1080}, {1280, 960}, {1280, 720}, {1024, 768}, {800, 600}, {640, 480}, {320, 240},
}

// GoCVOpener opens OpenCV VideoCapture sources by facing.
type GoCVOpener struct {
	cfg    Config
	logger *slog.Logger
}

// NewGoCVOpener creates an opener over the sources in cfg.
func NewGoCVOpener(cfg Config, logger *slog.Logger) *GoCVOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return &GoCVOpener{cfg: cfg, logger: logger}
}

// Open opens the source configured for facing.
func (o *GoCVOpener) Open(facing Facing) (Device, error) {
	src, orientation := o.cfg.BackDevice, o.cfg.BackOrientation
	if facing == FacingFront {
		src, orientation = o.cfg.FrontDevice, o.cfg.FrontOrientation
	}
	if src == "" {
		return nil, ErrNoDevice
	}

	var target interface{} = src
	if idx, err := strconv.Atoi(src); err == nil {
		target = idx
	}

	vc, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open %s: device busy or absent", src)
	}

	fps := vc.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 30
	}

	d := &GoCVDevice{
		vc:     vc,
		src:    src,
		logger: o.logger.With("device", src),
		info:   Info{Facing: facing, Orientation: orientation},
		caps: Capabilities{
			PreviewSizes:  commonSizes,
			PictureSizes:  commonSizes,
			FpsRanges:     []FpsRange{{int(fps * 1000), int(fps * 1000)}},
			FocusModes:    []FocusMode{FocusContinuousVideo, FocusAuto, FocusFixed},
			FlashModes:    nil,
			PixelFormats:  []PixelFormat{PixelFormatNV21},
			ZoomSupported: true,
			MaxZoom:       10,
		},
	}
	d.params = Parameters{
		PreviewSize: Size{int(vc.Get(gocv.VideoCaptureFrameWidth)), int(vc.Get(gocv.VideoCaptureFrameHeight))},
		FpsRange:    d.caps.FpsRanges[0],
		PixelFormat: PixelFormatNV21,
		FocusMode:   FocusContinuousVideo,
	}

	o.logger.Info("opened gocv capture device",
		"src", src,
		"facing", facing,
		"size", d.params.PreviewSize,
		"fps", fps,
	)
	return d, nil
}

// GoCVDevice is a Device backed by gocv.VideoCapture.
// Frames are converted from BGR to NV21 into the queued buffers.
type GoCVDevice struct {
	vc     *gocv.VideoCapture
	src    string
	logger *slog.Logger
	info   Info
	caps   Capabilities

	mu        sync.Mutex
	vcMu      sync.Mutex // serializes VideoCapture access
	vcClosed  bool       // guarded by vcMu
	params    Parameters
	cb        FrameCallback
	queue     []Buffer
	streaming bool
	closed    bool
	stopCh    chan struct{}
	loopDone  chan struct{}

	starved atomic.Int64
}

// Info returns the device placement.
func (d *GoCVDevice) Info() Info { return d.info }

// Capabilities returns the advertised capability set.
func (d *GoCVDevice) Capabilities() Capabilities { return d.caps }

// Parameters returns the current parameters.
func (d *GoCVDevice) Parameters() Parameters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// SetParameters applies resolution, fps, focus and zoom to the VideoCapture.
func (d *GoCVDevice) SetParameters(p Parameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	d.vcMu.Lock()
	d.vc.Set(gocv.VideoCaptureFrameWidth, float64(p.PreviewSize.Width))
	d.vc.Set(gocv.VideoCaptureFrameHeight, float64(p.PreviewSize.Height))
	if p.FpsRange.Max > 0 {
		d.vc.Set(gocv.VideoCaptureFPS, float64(p.FpsRange.Max)/1000)
	}
	switch p.FocusMode {
	case FocusFixed:
		d.vc.Set(gocv.VideoCaptureAutoFocus, 0)
	case FocusAuto, FocusContinuousVideo:
		d.vc.Set(gocv.VideoCaptureAutoFocus, 1)
	}
	d.vc.Set(gocv.VideoCaptureZoom, float64(p.Zoom))
	d.vcMu.Unlock()

	d.params = p
	return nil
}

// SetFrameCallback registers cb; nil detaches.
func (d *GoCVDevice) SetFrameCallback(cb FrameCallback) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

// AddBuffer queues buf for the next frame.
func (d *GoCVDevice) AddBuffer(buf Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, buf)
}

// StartStreaming starts the read loop.
func (d *GoCVDevice) StartStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.streaming {
		return nil
	}
	d.streaming = true
	d.stopCh = make(chan struct{})
	d.loopDone = make(chan struct{})
	go d.readLoop(d.stopCh, d.loopDone)
	return nil
}

func (d *GoCVDevice) readLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	mat := gocv.NewMat()
	defer mat.Close()
	resized := gocv.NewMat()
	defer resized.Close()

	for {
		select {
		case <-stop:
			return
		default:
		}

		d.vcMu.Lock()
		ok := d.vc.Read(&mat)
		d.vcMu.Unlock()
		if !ok || mat.Empty() {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		d.mu.Lock()
		size := d.params.PreviewSize
		cb := d.cb
		if cb == nil || len(d.queue) == 0 {
			d.mu.Unlock()
			d.starved.Add(1)
			continue
		}
		buf := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		src := mat
		if mat.Cols() != size.Width || mat.Rows() != size.Height {
			gocv.Resize(mat, &resized, image.Pt(size.Width, size.Height), 0, 0, gocv.InterpolationLinear)
			src = resized
		}
		img, err := src.ToImage()
		if err != nil {
			d.logger.Debug("frame conversion failed", "error", err)
			d.AddBuffer(buf)
			continue
		}
		FillNV21(buf.Data, img)
		cb(buf.ID)
	}
}

// StopStreaming stops the read loop and waits for it to exit.
func (d *GoCVDevice) StopStreaming() error {
	d.mu.Lock()
	if !d.streaming {
		d.mu.Unlock()
		return nil
	}
	d.streaming = false
	stop, done := d.stopCh, d.loopDone
	d.mu.Unlock()

	close(stop)
	<-done
	return nil
}

// TakePicture stops streaming, grabs one frame and encodes it as JPEG.
func (d *GoCVDevice) TakePicture(shutter func(), picture func(jpeg []byte)) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := d.StopStreaming(); err != nil {
		return err
	}

	go func() {
		if shutter != nil {
			shutter()
		}
		data := d.grabStill()
		if picture != nil {
			picture(data)
		}
	}()
	return nil
}

// grabStill reads one frame and encodes it as JPEG. It returns nil when the
// read fails or the VideoCapture has been released.
func (d *GoCVDevice) grabStill() []byte {
	mat := gocv.NewMat()
	defer mat.Close()

	d.vcMu.Lock()
	if d.vcClosed {
		d.vcMu.Unlock()
		d.logger.Debug("picture skipped, device closed", "src", d.src)
		return nil
	}
	ok := d.vc.Read(&mat)
	d.vcMu.Unlock()

	if !ok || mat.Empty() {
		d.logger.Warn("picture read failed", "src", d.src)
		return nil
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		d.logger.Warn("picture encode failed", "error", err)
		return nil
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}

// AutoFocus enables autofocus and reports success asynchronously.
func (d *GoCVDevice) AutoFocus(cb func(success bool)) {
	d.vcMu.Lock()
	ok := !d.vcClosed
	if ok {
		d.vc.Set(gocv.VideoCaptureAutoFocus, 1)
	}
	d.vcMu.Unlock()
	if cb != nil {
		go cb(ok)
	}
}

// CancelAutoFocus restores the configured focus mode.
func (d *GoCVDevice) CancelAutoFocus() {
	d.mu.Lock()
	mode := d.params.FocusMode
	d.mu.Unlock()
	if mode == FocusFixed {
		d.vcMu.Lock()
		if !d.vcClosed {
			d.vc.Set(gocv.VideoCaptureAutoFocus, 0)
		}
		d.vcMu.Unlock()
	}
}

// SetAutoFocusMoveCallback is accepted but never fires; OpenCV exposes no focus events.
func (d *GoCVDevice) SetAutoFocusMoveCallback(cb func(start bool)) {}

// Close stops streaming and releases the VideoCapture.
func (d *GoCVDevice) Close() error {
	d.StopStreaming()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.queue = nil
	d.cb = nil

	d.vcMu.Lock()
	defer d.vcMu.Unlock()
	d.vcClosed = true
	if err := d.vc.Close(); err != nil {
		return fmt.Errorf("close %s: %w", d.src, err)
	}
	d.logger.Info("closed gocv capture device", "starved_frames", d.starved.Load())
	return nil
}

// Ensure GoCVDevice implements Device.
var _ Device = (*GoCVDevice)(nil)
