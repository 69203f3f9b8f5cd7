package detect

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-camsource/pkg/camera"
	"github.com/teslashibe/go-camsource/pkg/capture"
)

// FrameToBGR converts a raw frame to a BGR Mat. The caller must Close it.
func FrameToBGR(meta camera.FrameMetadata, data []byte) (gocv.Mat, error) {
	w, h := meta.Width, meta.Height
	if w <= 0 || h <= 0 {
		return gocv.NewMat(), fmt.Errorf("invalid frame size %dx%d", w, h)
	}

	var (
		rows, n int
		typ     gocv.MatType
		code    gocv.ColorConversionCode
	)
	switch meta.Format {
	case capture.PixelFormatNV21:
		// Y plane on top of the interleaved V/U plane.
		rows, n, typ, code = h*3/2, w*h*3/2, gocv.MatTypeCV8UC1, gocv.ColorYUVToBGRNV21
	case capture.PixelFormatYUYV:
		rows, n, typ, code = h, w*h*2, gocv.MatTypeCV8UC2, gocv.ColorYUVToBGRYUY2
	case capture.PixelFormatRGB:
		rows, n, typ, code = h, w*h*3, gocv.MatTypeCV8UC3, gocv.ColorRGBToBGR
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported pixel format %q", meta.Format)
	}

	if len(data) < n {
		return gocv.NewMat(), fmt.Errorf("short frame: %d bytes, want %d", len(data), n)
	}

	src, err := gocv.NewMatFromBytes(rows, w, typ, data[:n])
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("wrap frame: %w", err)
	}
	defer src.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(src, &bgr, code)
	return bgr, nil
}

// RotateUpright rotates img clockwise by quarter turns. The result must be
// closed by the caller; for zero turns it is a clone.
func RotateUpright(img gocv.Mat, quarterTurns int) gocv.Mat {
	out := gocv.NewMat()
	switch ((quarterTurns % 4) + 4) % 4 {
	case 1:
		gocv.Rotate(img, &out, gocv.Rotate90Clockwise)
	case 2:
		gocv.Rotate(img, &out, gocv.Rotate180Clockwise)
	case 3:
		gocv.Rotate(img, &out, gocv.Rotate90CounterClockwise)
	default:
		img.CopyTo(&out)
	}
	return out
}
