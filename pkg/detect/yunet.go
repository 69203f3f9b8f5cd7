package detect

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-camsource/pkg/camera"
)

// ErrClosed is returned by a detector used after Release.
var ErrClosed = errors.New("detect: detector released")

// YuNetDetector uses OpenCV's FaceDetectorYN for face detection.
// It implements camera.Detector.
type YuNetDetector struct {
	detector gocv.FaceDetectorYN
	config   Config
	handler  ResultHandler
	logger   *slog.Logger

	mu     sync.Mutex // Protects inference
	closed bool
}

// NewYuNet creates a new YuNet face detector. handler receives a Result
// for every frame; it may be nil.
func NewYuNet(cfg Config, handler ResultHandler, logger *slog.Logger) (*YuNetDetector, error) {
	// Check if model file exists first
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = func(Result) {}
	}

	// Input size is updated per frame.
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"", // No config file needed for ONNX
		image.Pt(cfg.InputWidth, cfg.InputHeight),
		float32(cfg.ConfidenceThresh),
		0.3,  // NMS threshold
		5000, // Top K
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &YuNetDetector{
		detector: detector,
		config:   cfg,
		handler:  handler,
		logger:   logger,
	}, nil
}

// ReceiveFrame converts the frame, rotates it upright and runs detection.
func (d *YuNetDetector) ReceiveFrame(meta camera.FrameMetadata, data []byte) error {
	start := time.Now()

	img, err := FrameToBGR(meta, data)
	if err != nil {
		return err
	}
	defer img.Close()

	upright := RotateUpright(img, meta.Rotation)
	defer upright.Close()

	dets, err := d.detect(upright)
	if err != nil {
		return err
	}

	if len(dets) > 0 {
		d.logger.Debug("faces detected", "frame", meta.ID, "count", len(dets))
	}
	d.handler(NewResult(meta, dets, time.Since(start)))
	return nil
}

// Detect finds faces in a JPEG image, such as a still picture.
func (d *YuNetDetector) Detect(jpeg []byte) ([]Detection, error) {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	return d.detect(img)
}

func (d *YuNetDetector) detect(img gocv.Mat) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	imgW := float64(img.Cols())
	imgH := float64(img.Rows())

	d.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()

	d.detector.Detect(img, &faces)

	var detections []Detection
	for r := 0; r < faces.Rows(); r++ {
		// YuNet output format (15 columns):
		// 0-3: x, y, w, h (bounding box in pixels)
		// 4-13: 5 facial landmarks (x,y pairs)
		// 14: face score
		x := float64(faces.GetFloatAt(r, 0))
		y := float64(faces.GetFloatAt(r, 1))
		w := float64(faces.GetFloatAt(r, 2))
		h := float64(faces.GetFloatAt(r, 3))
		score := float64(faces.GetFloatAt(r, 14))

		detections = append(detections, Detection{
			X:          x / imgW,
			Y:          y / imgH,
			W:          w / imgW,
			H:          h / imgH,
			Confidence: score,
		})
	}

	return detections, nil
}

// Release frees the OpenCV detector. Later calls are no-ops.
func (d *YuNetDetector) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.detector.Close()
	return nil
}

// Ensure YuNetDetector implements camera.Detector.
var _ camera.Detector = (*YuNetDetector)(nil)
