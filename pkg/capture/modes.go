package capture

import "fmt"

// Facing is the direction a camera faces relative to the screen.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
)

func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// ParseFacing converts "back" or "front" to a Facing.
func ParseFacing(s string) (Facing, error) {
	switch s {
	case "back", "rear", "":
		return FacingBack, nil
	case "front":
		return FacingFront, nil
	}
	return FacingBack, fmt.Errorf("capture: unknown facing %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (f Facing) MarshalText() ([]byte, error) {
	if f != FacingBack && f != FacingFront {
		return nil, fmt.Errorf("capture: invalid facing %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Facing) UnmarshalText(b []byte) error {
	v, err := ParseFacing(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// FocusMode names a focus behavior. The empty mode means "device default".
type FocusMode string

const (
	FocusAuto              FocusMode = "auto"
	FocusContinuousPicture FocusMode = "continuous-picture"
	FocusContinuousVideo   FocusMode = "continuous-video"
	FocusEDOF              FocusMode = "edof"
	FocusFixed             FocusMode = "fixed"
	FocusInfinity          FocusMode = "infinity"
	FocusMacro             FocusMode = "macro"
)

// FocusModes is the set of focus modes a config may request.
var FocusModes = []FocusMode{
	FocusAuto, FocusContinuousPicture, FocusContinuousVideo,
	FocusEDOF, FocusFixed, FocusInfinity, FocusMacro,
}

// Valid reports whether m is a known focus mode.
func (m FocusMode) Valid() bool {
	for _, k := range FocusModes {
		if k == m {
			return true
		}
	}
	return false
}

// FlashMode names a flash behavior. The empty mode means "device default".
type FlashMode string

const (
	FlashOff    FlashMode = "off"
	FlashOn     FlashMode = "on"
	FlashAuto   FlashMode = "auto"
	FlashRedEye FlashMode = "red-eye"
	FlashTorch  FlashMode = "torch"
)

// FlashModes is the set of flash modes a config may request.
var FlashModes = []FlashMode{FlashOff, FlashOn, FlashAuto, FlashRedEye, FlashTorch}

// Valid reports whether m is a known flash mode.
func (m FlashMode) Valid() bool {
	for _, k := range FlashModes {
		if k == m {
			return true
		}
	}
	return false
}
