package camera

import (
	"fmt"
	"sync"

	"github.com/teslashibe/go-camsource/pkg/capture"
)

// BufferSize returns the byte length of one frame buffer: the frame size
// rounded up to whole bytes, plus one.
func BufferSize(size capture.Size, format capture.PixelFormat) int {
	bits := size.Width * size.Height * format.BitsPerPixel()
	return (bits+7)/8 + 1
}

// BufferPool is a fixed arena of frame buffers for one device session.
//
// Buffers are identified by index within a generation. IDs from another
// generation, or any ID after Release, fail to map.
type BufferPool struct {
	mu         sync.RWMutex
	generation uint64
	size       capture.Size
	format     capture.PixelFormat
	buffers    []capture.Buffer
	released   bool
}

// AllocateBufferPool preallocates count buffers for frames of the given size and format.
func AllocateBufferPool(size capture.Size, format capture.PixelFormat, count int, generation uint64) (*BufferPool, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("camera: invalid buffer size %s", size)
	}
	if format.BitsPerPixel() == 0 {
		return nil, fmt.Errorf("camera: unknown pixel format %q", format)
	}
	if count <= 0 {
		return nil, fmt.Errorf("camera: invalid buffer count %d", count)
	}

	n := BufferSize(size, format)
	p := &BufferPool{
		generation: generation,
		size:       size,
		format:     format,
		buffers:    make([]capture.Buffer, count),
	}
	for i := range p.buffers {
		p.buffers[i] = capture.Buffer{
			ID:   capture.BufferID{Generation: generation, Index: i},
			Data: make([]byte, n),
		}
	}
	return p, nil
}

// Lookup maps a device-reported ID back to its buffer.
func (p *BufferPool) Lookup(id capture.BufferID) (capture.Buffer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch {
	case p.released:
		return capture.Buffer{}, fmt.Errorf("%w: %s after release", ErrBufferMapping, id)
	case id.Generation != p.generation:
		return capture.Buffer{}, fmt.Errorf("%w: %s is from generation %d", ErrBufferMapping, id, p.generation)
	case id.Index < 0 || id.Index >= len(p.buffers):
		return capture.Buffer{}, fmt.Errorf("%w: %s out of range", ErrBufferMapping, id)
	}
	return p.buffers[id.Index], nil
}

// Buffers returns every buffer in the pool, or nil after Release.
func (p *BufferPool) Buffers() []capture.Buffer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.released {
		return nil
	}
	out := make([]capture.Buffer, len(p.buffers))
	copy(out, p.buffers)
	return out
}

// Release drops all buffers. The producer and consumer must both be stopped.
func (p *BufferPool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = true
	p.buffers = nil
}

// Generation returns the allocation generation.
func (p *BufferPool) Generation() uint64 { return p.generation }

// Size returns the frame size the buffers were allocated for.
func (p *BufferPool) Size() capture.Size { return p.size }

// Format returns the pixel format the buffers were allocated for.
func (p *BufferPool) Format() capture.PixelFormat { return p.format }

// Len returns the number of live buffers.
func (p *BufferPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.buffers)
}
