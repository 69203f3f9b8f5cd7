package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-camsource/pkg/capture"
)

func TestBufferSize(t *testing.T) {
	// 1024*768*12/8 = 1179648
	assert.Equal(t, 1179649, BufferSize(sz(1024, 768), capture.PixelFormatNV21))
	// 3*3*12 = 108 bits, rounded up to 14 bytes
	assert.Equal(t, 15, BufferSize(sz(3, 3), capture.PixelFormatNV21))
	assert.Equal(t, 640*480*2+1, BufferSize(sz(640, 480), capture.PixelFormatYUYV))
}

func TestAllocateBufferPool(t *testing.T) {
	pool, err := AllocateBufferPool(sz(64, 48), capture.PixelFormatNV21, 4, 7)
	require.NoError(t, err)

	bufs := pool.Buffers()
	require.Len(t, bufs, 4)
	for i, b := range bufs {
		assert.Equal(t, capture.BufferID{Generation: 7, Index: i}, b.ID)
		assert.Len(t, b.Data, BufferSize(sz(64, 48), capture.PixelFormatNV21))
	}
	assert.Equal(t, uint64(7), pool.Generation())
	assert.Equal(t, sz(64, 48), pool.Size())
	assert.Equal(t, capture.PixelFormatNV21, pool.Format())

	// Buffers are distinct regions.
	bufs[0].Data[0] = 1
	assert.Equal(t, byte(0), bufs[1].Data[0])
}

func TestAllocateBufferPool_Invalid(t *testing.T) {
	_, err := AllocateBufferPool(sz(0, 48), capture.PixelFormatNV21, 4, 1)
	assert.Error(t, err)
	_, err = AllocateBufferPool(sz(64, 48), capture.PixelFormat("bayer"), 4, 1)
	assert.Error(t, err)
	_, err = AllocateBufferPool(sz(64, 48), capture.PixelFormatNV21, 0, 1)
	assert.Error(t, err)
}

func TestBufferPool_Lookup(t *testing.T) {
	pool, err := AllocateBufferPool(sz(16, 16), capture.PixelFormatNV21, 3, 2)
	require.NoError(t, err)

	buf, err := pool.Lookup(capture.BufferID{Generation: 2, Index: 1})
	require.NoError(t, err)
	assert.Same(t, &pool.Buffers()[1].Data[0], &buf.Data[0], "lookup returns the pool's own memory")

	tests := []struct {
		name string
		id   capture.BufferID
	}{
		{"stale generation", capture.BufferID{Generation: 1, Index: 1}},
		{"index past end", capture.BufferID{Generation: 2, Index: 3}},
		{"negative index", capture.BufferID{Generation: 2, Index: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pool.Lookup(tt.id)
			assert.ErrorIs(t, err, ErrBufferMapping)
		})
	}

	pool.Release()
	_, err = pool.Lookup(capture.BufferID{Generation: 2, Index: 0})
	assert.ErrorIs(t, err, ErrBufferMapping)
	assert.Nil(t, pool.Buffers())
	assert.Equal(t, 0, pool.Len())
}
