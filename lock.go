package smartrent

import (
	"context"
	"strconv"
)

// Lock is an entry_control device.
type Lock struct {
	device
}

// Locked reports whether the lock is currently engaged.
func (l *Lock) Locked() bool {
	return l.boolAttr("locked")
}

// Notification returns the lock's last notification message.
func (l *Lock) Notification() string {
	v, _ := l.Attr("notifications")
	return v
}

// SetLocked engages or releases the lock. The local record is updated
// immediately, before server confirmation.
func (l *Lock) SetLocked(ctx context.Context, locked bool) error {
	return l.setAttribute(ctx, "locked", strconv.FormatBool(locked))
}
