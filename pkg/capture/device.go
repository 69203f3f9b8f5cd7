package capture

import (
	"errors"
	"fmt"
)

// ErrNoDevice is returned by an Opener when no device matches the requested facing.
var ErrNoDevice = errors.New("capture: no device with requested facing")

// ErrClosed is returned when a method is called on a closed device.
var ErrClosed = errors.New("capture: device closed")

// Size is a frame or picture resolution in pixels.
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// AspectRatio returns width/height, or 0 for a degenerate size.
func (s Size) AspectRatio() float64 {
	if s.Height == 0 {
		return 0
	}
	return float64(s.Width) / float64(s.Height)
}

// IsZero reports whether the size is unset.
func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// FpsRange is a frame-rate range in the device's fixed-point scale
// (frames per second multiplied by 1000).
type FpsRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

func (r FpsRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.Min, r.Max)
}

// Info describes the physical placement of a device.
type Info struct {
	Facing Facing
	// Orientation is the clockwise angle in degrees the sensor image must be
	// rotated to be upright in the device's natural orientation.
	Orientation int
}

// Capabilities lists what a device supports.
type Capabilities struct {
	PreviewSizes []Size
	PictureSizes []Size
	FpsRanges    []FpsRange
	FocusModes   []FocusMode
	// FlashModes is nil when the hardware has no flash at all.
	FlashModes    []FlashMode
	PixelFormats  []PixelFormat
	ZoomSupported bool
	MaxZoom       int
}

// SupportsFocusMode reports whether mode is in the supported focus set.
func (c Capabilities) SupportsFocusMode(mode FocusMode) bool {
	for _, m := range c.FocusModes {
		if m == mode {
			return true
		}
	}
	return false
}

// SupportsFlashMode reports whether mode is in the supported flash set.
func (c Capabilities) SupportsFlashMode(mode FlashMode) bool {
	for _, m := range c.FlashModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Parameters is the full operating configuration of an open device.
type Parameters struct {
	PreviewSize Size
	// PictureSize is zero when no same-aspect picture size was negotiated.
	PictureSize        Size
	FpsRange           FpsRange
	PixelFormat        PixelFormat
	Rotation           int // degrees applied to still pictures
	DisplayOrientation int // degrees applied to the on-screen preview
	FocusMode          FocusMode
	FlashMode          FlashMode
	Zoom               int
}

// BufferID identifies a frame buffer inside a pool allocation.
// Generation changes on every allocation so stale IDs can be detected.
type BufferID struct {
	Generation uint64
	Index      int
}

func (id BufferID) String() string {
	return fmt.Sprintf("%d/%d", id.Generation, id.Index)
}

// Buffer is a preallocated frame destination handed to a device.
// The device writes a frame into Data and reports completion with ID.
type Buffer struct {
	ID   BufferID
	Data []byte
}

// FrameCallback is invoked by a streaming device each time a queued buffer
// has been filled. It must return quickly.
type FrameCallback func(id BufferID)

// Device is an open capture device.
//
// Callbacks (frame, shutter, picture, autofocus) run on device-owned goroutines
// and are never invoked from inside the method that registered or triggered them.
type Device interface {
	Info() Info
	Capabilities() Capabilities
	Parameters() Parameters
	SetParameters(p Parameters) error

	// SetFrameCallback registers the frame callback. nil detaches it.
	SetFrameCallback(cb FrameCallback)

	// AddBuffer queues a buffer to be filled by the next frame.
	AddBuffer(buf Buffer)

	StartStreaming() error

	// StopStreaming halts frame delivery. It returns only once no frame
	// callback is in flight.
	StopStreaming() error

	// TakePicture captures one still image. Streaming stops while the picture
	// is taken and stays stopped until StartStreaming is called again.
	TakePicture(shutter func(), picture func(jpeg []byte)) error

	AutoFocus(cb func(success bool))
	CancelAutoFocus()
	SetAutoFocusMoveCallback(cb func(start bool))

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// Opener opens the first device facing the requested direction.
type Opener interface {
	Open(facing Facing) (Device, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(facing Facing) (Device, error)

// Open calls f(facing).
func (f OpenerFunc) Open(facing Facing) (Device, error) {
	return f(facing)
}
