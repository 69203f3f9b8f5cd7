package camera

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-camsource/pkg/capture"
)

const (
	// aspectRatioTolerance is the largest width/height ratio difference for
	// a preview and picture size to count as the same aspect.
	aspectRatioTolerance = 0.01

	// fpsScale converts frames per second to the device fixed-point scale.
	fpsScale = 1000
)

// ResolutionPair is a preview size and the picture size taken alongside it.
// Picture is zero when no picture size with the same aspect ratio exists.
type ResolutionPair struct {
	Preview capture.Size `json:"preview"`
	Picture capture.Size `json:"picture"`
}

// HasPicture reports whether a picture size was paired with the preview size.
func (p ResolutionPair) HasPicture() bool {
	return !p.Picture.IsZero()
}

// SelectResolutionPair picks the preview size closest to the desired size.
//
// Only preview sizes with a same-aspect picture size are candidates. When
// several picture sizes match, the largest is paired. If no preview size has
// a partner, every preview size becomes a candidate without a picture size.
// Distance is |dw|+|dh|; ties go to the first candidate.
func SelectResolutionPair(previews, pictures []capture.Size, width, height int) (ResolutionPair, error) {
	candidates := make([]ResolutionPair, 0, len(previews))
	for _, preview := range previews {
		if picture, ok := matchPictureSize(preview, pictures); ok {
			candidates = append(candidates, ResolutionPair{Preview: preview, Picture: picture})
		}
	}

	if len(candidates) == 0 {
		for _, preview := range previews {
			candidates = append(candidates, ResolutionPair{Preview: preview})
		}
	}
	if len(candidates) == 0 {
		return ResolutionPair{}, ErrNoSuitableSize
	}

	best := candidates[0]
	bestDiff := sizeDistance(best.Preview, width, height)
	for _, c := range candidates[1:] {
		if d := sizeDistance(c.Preview, width, height); d < bestDiff {
			best, bestDiff = c, d
		}
	}
	return best, nil
}

func matchPictureSize(preview capture.Size, pictures []capture.Size) (capture.Size, bool) {
	ratio := preview.AspectRatio()
	var best capture.Size
	found := false
	for _, picture := range pictures {
		if math.Abs(ratio-picture.AspectRatio()) >= aspectRatioTolerance {
			continue
		}
		if !found || picture.Width*picture.Height > best.Width*best.Height {
			best = picture
			found = true
		}
	}
	return best, found
}

func sizeDistance(s capture.Size, width, height int) int {
	return absInt(s.Width-width) + absInt(s.Height-height)
}

// SelectFpsRange picks the range whose bounds are closest to fps.
// fps is scaled by 1000 and truncated before comparing.
func SelectFpsRange(ranges []capture.FpsRange, fps float64) (capture.FpsRange, error) {
	if len(ranges) == 0 {
		return capture.FpsRange{}, ErrNoSuitableFpsRange
	}

	desired := int(fps * fpsScale)
	best := ranges[0]
	bestDiff := absInt(desired-best.Min) + absInt(desired-best.Max)
	for _, r := range ranges[1:] {
		if d := absInt(desired-r.Min) + absInt(desired-r.Max); d < bestDiff {
			best, bestDiff = r, d
		}
	}
	return best, nil
}

// Rotation is the outcome of combining sensor and display orientation.
type Rotation struct {
	// Angle is the clockwise rotation in degrees applied to captured images.
	Angle int `json:"angle"`

	// DisplayAngle is the rotation applied to an on-screen preview.
	DisplayAngle int `json:"display_angle"`

	// QuarterTurns is Angle/90, recorded on every frame.
	QuarterTurns int `json:"quarter_turns"`
}

// ComputeRotation combines the sensor orientation with the display rotation.
// Front-facing previews are mirrored, so their display angle is inverted.
func ComputeRotation(sensorOrientation, displayDegrees int, front bool) (Rotation, error) {
	if sensorOrientation%90 != 0 || displayDegrees%90 != 0 {
		return Rotation{}, fmt.Errorf("camera: orientation must be a multiple of 90 (sensor %d, display %d)",
			sensorOrientation, displayDegrees)
	}

	var angle, display int
	if front {
		angle = mod360(sensorOrientation + displayDegrees)
		display = mod360(360 - angle)
	} else {
		angle = mod360(sensorOrientation - displayDegrees + 360)
		display = angle
	}
	return Rotation{Angle: angle, DisplayAngle: display, QuarterTurns: angle / 90}, nil
}

func mod360(v int) int {
	v %= 360
	if v < 0 {
		v += 360
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
