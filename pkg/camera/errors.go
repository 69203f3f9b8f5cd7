package camera

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrDeviceOpen is returned when the capture device is busy or absent.
	ErrDeviceOpen = errors.New("camera: could not open device")

	// ErrNoSuitableSize is returned when no preview size can be negotiated.
	ErrNoSuitableSize = errors.New("camera: no suitable preview size")

	// ErrNoSuitableFpsRange is returned when no frame-rate range can be negotiated.
	ErrNoSuitableFpsRange = errors.New("camera: no suitable fps range")

	// ErrBufferMapping is logged when a device reports a buffer the pool does not own.
	ErrBufferMapping = errors.New("camera: buffer not owned by pool")

	// ErrUnsupportedMode is logged when a focus or flash mode is not supported.
	ErrUnsupportedMode = errors.New("camera: mode not supported")

	// ErrDetectorInvocation wraps failures raised by the detector.
	ErrDetectorInvocation = errors.New("camera: detector invocation failed")

	// ErrLifecycleViolation is returned for calls made in an invalid lifecycle state.
	ErrLifecycleViolation = errors.New("camera: lifecycle violation")
)

// LifecycleError describes an operation attempted in the wrong state.
type LifecycleError struct {
	// Op is the operation that was attempted.
	Op string

	// State describes why the operation was rejected.
	State string
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("camera: lifecycle violation: %s while %s", e.Op, e.State)
}

// Unwrap returns ErrLifecycleViolation.
func (e *LifecycleError) Unwrap() error {
	return ErrLifecycleViolation
}

// DetectorError wraps a detector failure with the frame it happened on.
type DetectorError struct {
	FrameID uint64
	Err     error
}

// Error implements the error interface.
func (e *DetectorError) Error() string {
	return fmt.Sprintf("camera: detector failed on frame %d: %v", e.FrameID, e.Err)
}

// Unwrap returns the underlying error.
func (e *DetectorError) Unwrap() error {
	return e.Err
}

// Is reports ErrDetectorInvocation as a match.
func (e *DetectorError) Is(target error) bool {
	return target == ErrDetectorInvocation
}
