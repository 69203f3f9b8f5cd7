package capture

import (
	"image"
	"image/color"
)

// PixelFormat is the memory layout of a raw frame.
type PixelFormat string

const (
	// PixelFormatNV21 is YUV 4:2:0 with a full Y plane followed by interleaved V/U.
	PixelFormatNV21 PixelFormat = "nv21"
	PixelFormatYUYV PixelFormat = "yuyv"
	PixelFormatRGB  PixelFormat = "rgb24"
)

// BitsPerPixel returns the average bits per pixel for the format, or 0 if unknown.
func (f PixelFormat) BitsPerPixel() int {
	switch f {
	case PixelFormatNV21:
		return 12
	case PixelFormatYUYV:
		return 16
	case PixelFormatRGB:
		return 24
	}
	return 0
}

// FillNV21 writes img into dst as NV21. dst must hold at least w*h*3/2 bytes,
// where w and h are the image bounds; odd trailing rows/columns share chroma.
func FillNV21(dst []byte, img image.Image) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	chroma := w * h
	cw := (w + 1) / 2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			yy, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			dst[y*w+x] = yy
			if y%2 == 0 && x%2 == 0 {
				off := chroma + (y/2)*cw*2 + (x/2)*2
				if off+1 < len(dst) {
					dst[off] = cr
					dst[off+1] = cb
				}
			}
		}
	}
}

// NV21Image wraps NV21 data of the given size as an image.YCbCr.
// The chroma plane is de-interleaved into new slices; luma is shared.
func NV21Image(data []byte, w, h int) *image.YCbCr {
	img := &image.YCbCr{
		Y:              data[:w*h],
		YStride:        w,
		CStride:        (w + 1) / 2,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}
	cw, ch := (w+1)/2, (h+1)/2
	img.Cb = make([]byte, cw*ch)
	img.Cr = make([]byte, cw*ch)
	vu := data[w*h:]
	for i := 0; i < cw*ch && 2*i+1 < len(vu); i++ {
		img.Cr[i] = vu[2*i]
		img.Cb[i] = vu[2*i+1]
	}
	return img
}
