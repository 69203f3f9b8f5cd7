// Package detect provides face detectors that consume camera frames.
package detect

import (
	"time"

	"github.com/teslashibe/go-camsource/pkg/camera"
)

// Detection represents a detected face
type Detection struct {
	X, Y       float64 // Top-left corner (0-1 normalized, upright frame)
	W, H       float64 // Width and height (0-1 normalized)
	Confidence float64 // Detection confidence (0-1)
}

// Center returns the center point of the detection
func (d Detection) Center() (x, y float64) {
	return d.X + d.W/2, d.Y + d.H/2
}

// Area returns the area of the bounding box
func (d Detection) Area() float64 {
	return d.W * d.H
}

// Config holds detector configuration
type Config struct {
	ModelPath        string  `json:"model_path" yaml:"model_path"`               // Path to ONNX model
	ConfidenceThresh float64 `json:"confidence_thresh" yaml:"confidence_thresh"` // Minimum confidence (default 0.5)
	InputWidth       int     `json:"input_width" yaml:"input_width"`             // Model input width
	InputHeight      int     `json:"input_height" yaml:"input_height"`           // Model input height
}

// DefaultConfig returns production defaults for YuNet
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		InputWidth:       320,
		InputHeight:      320,
	}
}

// SelectBest picks the best face from multiple detections
// Priority: confidence * 0.7 + area * 0.3
func SelectBest(dets []Detection) *Detection {
	if len(dets) == 0 {
		return nil
	}

	if len(dets) == 1 {
		return &dets[0]
	}

	// Find max area for normalization
	maxArea := 0.0
	for _, d := range dets {
		if d.Area() > maxArea {
			maxArea = d.Area()
		}
	}

	bestScore := -1.0
	var best *Detection

	for i := range dets {
		score := dets[i].Confidence * 0.7
		if maxArea > 0 {
			score += (dets[i].Area() / maxArea) * 0.3
		}
		if score > bestScore {
			bestScore = score
			best = &dets[i]
		}
	}

	return best
}

// Result is the outcome of running detection on one frame.
type Result struct {
	FrameID    uint64        `json:"frame_id"`
	Timestamp  time.Duration `json:"timestamp_ns"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Rotation   int           `json:"rotation"`
	Detections []Detection   `json:"detections"`
	Best       *Detection    `json:"best,omitempty"`
	Latency    time.Duration `json:"latency_ns"`
}

// NewResult builds a result for meta with the best detection selected.
// Width and Height are those of the upright image.
func NewResult(meta camera.FrameMetadata, dets []Detection, latency time.Duration) Result {
	w, h := meta.Width, meta.Height
	if meta.Rotation%2 != 0 {
		w, h = h, w
	}
	if dets == nil {
		dets = []Detection{}
	}
	return Result{
		FrameID:    meta.ID,
		Timestamp:  meta.Timestamp,
		Width:      w,
		Height:     h,
		Rotation:   meta.Rotation,
		Detections: dets,
		Best:       SelectBest(dets),
		Latency:    latency,
	}
}

// ResultHandler receives detection results on the processor goroutine
// and should return quickly.
type ResultHandler func(Result)

// Fanout returns a handler that calls each non-nil handler in order.
func Fanout(handlers ...ResultHandler) ResultHandler {
	var hs []ResultHandler
	for _, h := range handlers {
		if h != nil {
			hs = append(hs, h)
		}
	}
	return func(r Result) {
		for _, h := range hs {
			h(r)
		}
	}
}
