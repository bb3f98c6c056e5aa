package smartrent

import (
	"context"

	"github.com/openrent/smartrent-go/internal/registry"
)

// Device kind identifiers as reported by the API's "type" field.
const (
	KindLock             = "entry_control"
	KindThermostat       = "thermostat"
	KindBinarySwitch     = "switch_binary"
	KindMultilevelSwitch = "switch_multilevel"
	KindLeakSensor       = "sensor_notification"
)

// UpdateFunc is invoked after a device's record changes, in registration
// order. Long-running work should honor the context.
type UpdateFunc func(ctx context.Context)

// Device is the surface common to every discovered device.
type Device interface {
	ID() int
	Name() string
	Kind() string
	Online() bool
	BatteryPowered() bool
	BatteryLevel() int
	BatteryLow() bool

	// Attr returns the raw string value of a named attribute.
	Attr(name string) (string, bool)

	// OnUpdate registers a callback fired on every state change. The
	// returned func removes the callback.
	OnUpdate(fn UpdateFunc) func()

	// StartUpdater subscribes the device to push updates over the
	// shared websocket.
	StartUpdater() error

	// StopUpdater unsubscribes the device; the last device to leave
	// closes the socket.
	StopUpdater()

	// FetchNow refreshes the device snapshot over HTTP, bypassing the
	// socket.
	FetchNow(ctx context.Context) error
}

// device carries the identity and wiring shared by all typed devices.
type device struct {
	id     int
	kind   string
	client *Client
}

func (d *device) ID() int      { return d.id }
func (d *device) Kind() string { return d.kind }

func (d *device) Name() string {
	rec, _ := d.client.registry.Get(d.id)
	return rec.Name
}

func (d *device) Online() bool {
	rec, _ := d.client.registry.Get(d.id)
	return rec.Online
}

func (d *device) BatteryPowered() bool {
	rec, _ := d.client.registry.Get(d.id)
	return rec.BatteryPowered
}

func (d *device) BatteryLevel() int {
	rec, _ := d.client.registry.Get(d.id)
	return rec.BatteryLevel
}

func (d *device) BatteryLow() bool {
	rec, _ := d.client.registry.Get(d.id)
	return rec.WarningBatteryLevel
}

func (d *device) Attr(name string) (string, bool) {
	rec, ok := d.client.registry.Get(d.id)
	if !ok {
		return "", false
	}
	return rec.Attr(name)
}

func (d *device) OnUpdate(fn UpdateFunc) func() {
	return d.client.registry.OnUpdate(d.id, registry.Callback(fn))
}

func (d *device) StartUpdater() error {
	return d.client.conn.Subscribe(d.id)
}

func (d *device) StopUpdater() {
	d.client.conn.Unsubscribe(d.id)
}

func (d *device) FetchNow(ctx context.Context) error {
	snap, err := d.client.api.GetDevice(ctx, d.id)
	if err != nil {
		return err
	}
	d.client.registry.ApplySnapshot(ctx, snap)
	return nil
}

// setAttribute sends the command over the socket and applies the value
// to the local record immediately, ahead of server confirmation.
func (d *device) setAttribute(ctx context.Context, name, value string) error {
	if err := d.client.conn.SendCommand(ctx, d.id, name, value); err != nil {
		return err
	}
	d.client.registry.ApplyEvent(ctx, d.id, name, value)
	return nil
}

// intAttr reads a float-encoded attribute as an integer.
func (d *device) intAttr(name string) (int, bool) {
	rec, ok := d.client.registry.Get(d.id)
	if !ok {
		return 0, false
	}
	return rec.Int(name)
}

// boolAttr reads a "true"/"false" attribute.
func (d *device) boolAttr(name string) bool {
	rec, ok := d.client.registry.Get(d.id)
	if !ok {
		return false
	}
	return rec.Bool(name)
}

// GenericDevice wraps device types this library has no dedicated
// implementation for; its attributes are accessible raw via Attr.
type GenericDevice struct {
	device
}
