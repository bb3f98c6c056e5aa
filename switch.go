package smartrent

import (
	"context"
	"fmt"
	"strconv"
)

// BinarySwitch is an on/off switch_binary device.
type BinarySwitch struct {
	device
}

// On reports whether the switch is on.
func (s *BinarySwitch) On() bool {
	return s.boolAttr("on")
}

// SetOn turns the switch on or off. The local record is updated
// immediately, before server confirmation.
func (s *BinarySwitch) SetOn(ctx context.Context, on bool) error {
	return s.setAttribute(ctx, "on", strconv.FormatBool(on))
}

// MultilevelSwitch is a dimmer switch_multilevel device.
type MultilevelSwitch struct {
	device
}

// Level returns the current level, 0-100.
func (s *MultilevelSwitch) Level() (int, bool) {
	return s.intAttr("level")
}

// SetLevel sets the level, 0-100.
func (s *MultilevelSwitch) SetLevel(ctx context.Context, level int) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: level %d out of range 0-100", ErrInvalidValue, level)
	}
	return s.setAttribute(ctx, "level", strconv.Itoa(level))
}
