package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Action argument names read from an invocation.
const (
	ArgMotionState = "motion_state"
	ArgStrokeType  = "stroke_type"
	ArgSpeed       = "speed"
)

// Motion states accepted by the device.
const (
	MotionStart = "start"
	MotionStop  = "stop"
)

// Speed limits applied before a setspeed call.
const (
	MinSpeed = 10
	MaxSpeed = 100
)

// DefaultPattern is used when the stroke type is missing or unknown (sine).
const DefaultPattern = 0

// patterns maps stroke types to device pattern codes.
var patterns = map[string]int{
	"sine":          0,
	"bounce":        1,
	"double_bounce": 2,
}

// Command is a normalised action invocation.
type Command struct {
	MotionState string
	StrokeType  string
	Speed       string
}

// ParseCommand normalises an action argument map. Missing arguments become
// empty strings.
func ParseCommand(args map[string]string) Command {
	return Command{
		MotionState: strings.ToLower(strings.TrimSpace(args[ArgMotionState])),
		StrokeType:  strings.ToLower(strings.TrimSpace(args[ArgStrokeType])),
		Speed:       strings.TrimSpace(args[ArgSpeed]),
	}
}

// Pattern returns the pattern code for the stroke type. Unknown or missing
// stroke types return DefaultPattern with ErrUnknownStrokeType.
func (c Command) Pattern() (int, error) {
	if code, ok := patterns[c.StrokeType]; ok {
		return code, nil
	}
	return DefaultPattern, fmt.Errorf("%w: %q", ErrUnknownStrokeType, c.StrokeType)
}

// HasSpeed reports whether a speed value was supplied.
func (c Command) HasSpeed() bool {
	return c.Speed != ""
}

// ClampedSpeed parses the speed and clamps it to [MinSpeed, MaxSpeed].
// Integers too large for int clamp by sign.
func (c Command) ClampedSpeed() (int, error) {
	sp, err := strconv.Atoi(c.Speed)
	if err != nil {
		var numErr *strconv.NumError
		if !errors.As(err, &numErr) || !errors.Is(numErr.Err, strconv.ErrRange) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSpeed, c.Speed)
		}
		if strings.HasPrefix(c.Speed, "-") {
			return MinSpeed, nil
		}
		return MaxSpeed, nil
	}
	return min(max(sp, MinSpeed), MaxSpeed), nil
}

// Motion returns the start/stop action, or ErrUnknownMotionState.
func (c Command) Motion() (string, error) {
	switch c.MotionState {
	case MotionStart, MotionStop:
		return c.MotionState, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMotionState, c.MotionState)
	}
}
