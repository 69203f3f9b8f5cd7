package camera

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-camsource/pkg/capture"
)

func sz(w, h int) capture.Size { return capture.Size{Width: w, Height: h} }

func TestSelectResolutionPair(t *testing.T) {
	tests := []struct {
		name     string
		previews []capture.Size
		pictures []capture.Size
		w, h     int
		want     ResolutionPair
	}{
		{
			name:     "closest paired preview",
			previews: []capture.Size{sz(640, 480), sz(1280, 720)},
			pictures: []capture.Size{sz(1600, 1200), sz(1920, 1080)},
			w:        1024, h: 768,
			want: ResolutionPair{Preview: sz(1280, 720), Picture: sz(1920, 1080)},
		},
		{
			name:     "exact match",
			previews: []capture.Size{sz(1920, 1080), sz(1024, 768), sz(640, 480)},
			pictures: []capture.Size{sz(4032, 3024), sz(3840, 2160)},
			w:        1024, h: 768,
			want: ResolutionPair{Preview: sz(1024, 768), Picture: sz(4032, 3024)},
		},
		{
			name:     "largest matching picture wins",
			previews: []capture.Size{sz(640, 480)},
			pictures: []capture.Size{sz(800, 600), sz(1920, 1080), sz(3264, 2448), sz(1600, 1200)},
			w:        640, h: 480,
			want: ResolutionPair{Preview: sz(640, 480), Picture: sz(3264, 2448)},
		},
		{
			name:     "unpaired previews are skipped",
			previews: []capture.Size{sz(1024, 768), sz(1280, 720)},
			pictures: []capture.Size{sz(1920, 1080)},
			w:        1024, h: 768,
			want: ResolutionPair{Preview: sz(1280, 720), Picture: sz(1920, 1080)},
		},
		{
			name:     "no pairs falls back to all previews",
			previews: []capture.Size{sz(640, 480), sz(1280, 720)},
			pictures: []capture.Size{sz(1000, 1000)},
			w:        700, h: 500,
			want: ResolutionPair{Preview: sz(640, 480)},
		},
		{
			name:     "no picture sizes at all",
			previews: []capture.Size{sz(320, 240), sz(640, 480)},
			w:        640, h: 480,
			want: ResolutionPair{Preview: sz(640, 480)},
		},
		{
			name:     "tie goes to first",
			previews: []capture.Size{sz(600, 500), sz(500, 600)},
			w:        550, h: 550,
			want: ResolutionPair{Preview: sz(600, 500)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectResolutionPair(tt.previews, tt.pictures, tt.w, tt.h)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectResolutionPair_SameAspect(t *testing.T) {
	previews := []capture.Size{sz(1920, 1080), sz(1280, 720), sz(1024, 768), sz(800, 480), sz(640, 480), sz(352, 288)}
	pictures := []capture.Size{sz(4032, 3024), sz(3840, 2160), sz(2592, 1944), sz(1280, 768)}

	for w := 100; w <= 2000; w += 150 {
		for h := 100; h <= 1200; h += 110 {
			got, err := SelectResolutionPair(previews, pictures, w, h)
			require.NoError(t, err)
			if got.HasPicture() {
				diff := math.Abs(got.Preview.AspectRatio() - got.Picture.AspectRatio())
				assert.Less(t, diff, aspectRatioTolerance, "pair %v for %dx%d", got, w, h)
			}
		}
	}
}

func TestSelectResolutionPair_Empty(t *testing.T) {
	_, err := SelectResolutionPair(nil, []capture.Size{sz(640, 480)}, 640, 480)
	assert.ErrorIs(t, err, ErrNoSuitableSize)
}

func TestSelectFpsRange(t *testing.T) {
	ranges := []capture.FpsRange{{15000, 15000}, {15000, 30000}, {30000, 30000}}

	tests := []struct {
		name string
		fps  float64
		want capture.FpsRange
	}{
		{"exact fixed rate", 30.0, capture.FpsRange{Min: 30000, Max: 30000}},
		{"low rate", 15.0, capture.FpsRange{Min: 15000, Max: 15000}},
		{"tie goes to first", 22.5, capture.FpsRange{Min: 15000, Max: 15000}},
		{"above all ranges", 60.0, capture.FpsRange{Min: 30000, Max: 30000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectFpsRange(ranges, tt.fps)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectFpsRange_Truncates(t *testing.T) {
	// 29.9999 scales to 29999, one away from the fixed range.
	ranges := []capture.FpsRange{{29999, 29999}, {30000, 30000}}
	got, err := SelectFpsRange(ranges, 29.9999)
	require.NoError(t, err)
	assert.Equal(t, capture.FpsRange{Min: 29999, Max: 29999}, got)
}

func TestSelectFpsRange_Empty(t *testing.T) {
	_, err := SelectFpsRange(nil, 30)
	assert.ErrorIs(t, err, ErrNoSuitableFpsRange)
}

func TestComputeRotation(t *testing.T) {
	tests := []struct {
		name        string
		sensor      int
		display     int
		front       bool
		wantAngle   int
		wantDisplay int
		wantTurns   int
	}{
		{"front 270 display 90", 270, 90, true, 0, 0, 0},
		{"rear 90 display 90", 90, 90, false, 0, 0, 0},
		{"rear 90 portrait", 90, 0, false, 90, 90, 1},
		{"front 270 portrait", 270, 0, true, 270, 90, 3},
		{"rear 90 display 270", 90, 270, false, 180, 180, 2},
		{"front 90 display 180", 90, 180, true, 270, 90, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeRotation(tt.sensor, tt.display, tt.front)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAngle, got.Angle)
			assert.Equal(t, tt.wantDisplay, got.DisplayAngle)
			assert.Equal(t, tt.wantTurns, got.QuarterTurns)
		})
	}
}

func TestComputeRotation_RejectsOddAngles(t *testing.T) {
	_, err := ComputeRotation(45, 0, false)
	assert.Error(t, err)
	_, err = ComputeRotation(90, 30, true)
	assert.Error(t, err)
}
