package camera

import (
	"time"

	"github.com/teslashibe/go-camsource/pkg/capture"
)

// FrameMetadata describes a frame handed to a Detector.
type FrameMetadata struct {
	// ID is the sequence id. It counts every submitted frame, including
	// dropped ones, so gaps reveal frames the detector never saw.
	ID uint64 `json:"id"`

	// Timestamp is the capture time relative to the start of the session.
	Timestamp time.Duration `json:"timestamp"`

	Width  int                 `json:"width"`
	Height int                 `json:"height"`
	Format capture.PixelFormat `json:"format"`

	// Rotation is the number of clockwise quarter turns needed to make the frame upright.
	Rotation int `json:"rotation"`
}

// Detector consumes frames on the processor goroutine.
//
// The data slice is only valid for the duration of ReceiveFrame; it is
// returned to the device as soon as the call returns.
type Detector interface {
	ReceiveFrame(meta FrameMetadata, data []byte) error

	// Release frees detector resources. It is called exactly once, after
	// the processor goroutine has exited.
	Release() error
}

// DetectorFunc adapts an ordinary function to the Detector interface.
type DetectorFunc func(meta FrameMetadata, data []byte) error

// ReceiveFrame calls f(meta, data).
func (f DetectorFunc) ReceiveFrame(meta FrameMetadata, data []byte) error {
	return f(meta, data)
}

// Release is a no-op.
func (f DetectorFunc) Release() error {
	return nil
}

// Ensure DetectorFunc implements Detector.
var _ Detector = DetectorFunc(nil)
