package detect

import (
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-camsource/pkg/camera"
)

// Passthrough reports an empty Result for every frame. It is used when no
// detection model is configured, so the pipeline and its consumers still run.
type Passthrough struct {
	handler  ResultHandler
	frames   atomic.Uint64
	released atomic.Bool
}

// NewPassthrough creates a passthrough detector. handler may be nil.
func NewPassthrough(handler ResultHandler) *Passthrough {
	if handler == nil {
		handler = func(Result) {}
	}
	return &Passthrough{handler: handler}
}

// ReceiveFrame emits an empty result.
func (p *Passthrough) ReceiveFrame(meta camera.FrameMetadata, data []byte) error {
	if p.released.Load() {
		return ErrClosed
	}
	start := time.Now()
	p.frames.Add(1)
	p.handler(NewResult(meta, nil, time.Since(start)))
	return nil
}

// Frames returns how many frames were received.
func (p *Passthrough) Frames() uint64 {
	return p.frames.Load()
}

// Release marks the detector released.
func (p *Passthrough) Release() error {
	p.released.Store(true)
	return nil
}

var _ camera.Detector = (*Passthrough)(nil)
