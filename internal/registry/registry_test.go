package registry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrent/smartrent-go/api"
)

func lockSnapshot() api.Device {
	return api.Device{
		ID:     1234,
		Name:   "Front Door",
		Type:   "entry_control",
		Online: true,
		Attributes: []api.Attribute{
			{Name: "locked", State: "false"},
			{Name: "notifications", State: ""},
		},
	}
}

func TestApplySnapshot_IdenticalSuppressesCallbacks(t *testing.T) {
	reg := New(zerolog.Nop())

	var calls int
	reg.OnUpdate(1234, func(context.Context) { calls++ })

	assert.True(t, reg.ApplySnapshot(context.Background(), lockSnapshot()))
	assert.Equal(t, 1, calls)

	assert.False(t, reg.ApplySnapshot(context.Background(), lockSnapshot()))
	assert.Equal(t, 1, calls, "identical snapshot must not notify")
}

func TestApplySnapshot_SingleDifferenceNotifiesOnce(t *testing.T) {
	reg := New(zerolog.Nop())
	reg.ApplySnapshot(context.Background(), lockSnapshot())

	var calls int
	reg.OnUpdate(1234, func(context.Context) { calls++ })

	changed := lockSnapshot()
	changed.Attributes[0].State = "true"
	assert.True(t, reg.ApplySnapshot(context.Background(), changed))
	assert.Equal(t, 1, calls, "one differing value, one notification for the device")

	rec, ok := reg.Get(1234)
	require.True(t, ok)
	assert.True(t, rec.Bool("locked"))
}

func TestApplyEvent_AlwaysNotifies(t *testing.T) {
	reg := New(zerolog.Nop())
	reg.ApplySnapshot(context.Background(), lockSnapshot())

	var calls int
	reg.OnUpdate(1234, func(context.Context) { calls++ })

	reg.ApplyEvent(context.Background(), 1234, "locked", "false")
	reg.ApplyEvent(context.Background(), 1234, "locked", "false")
	assert.Equal(t, 2, calls, "push events notify even when the value is unchanged")
}

func TestApplyEvent_UnknownDeviceDropped(t *testing.T) {
	reg := New(zerolog.Nop())
	reg.ApplyEvent(context.Background(), 999, "locked", "true")

	_, ok := reg.Get(999)
	assert.False(t, ok)
}

func TestApplyEvent_NonPositiveHumidityDiscarded(t *testing.T) {
	reg := New(zerolog.Nop())
	reg.ApplySnapshot(context.Background(), api.Device{
		ID:   7,
		Name: "Hallway",
		Type: "thermostat",
		Attributes: []api.Attribute{
			{Name: "current_humidity", State: "45.0"},
		},
	})

	var calls int
	reg.OnUpdate(7, func(context.Context) { calls++ })

	reg.ApplyEvent(context.Background(), 7, "current_humidity", "0")
	reg.ApplyEvent(context.Background(), 7, "current_humidity", "-3")

	rec, _ := reg.Get(7)
	humidity, ok := rec.Int("current_humidity")
	require.True(t, ok)
	assert.Equal(t, 45, humidity, "prior value kept")
	assert.Equal(t, 2, calls)

	reg.ApplyEvent(context.Background(), 7, "current_humidity", "52.0")
	humidity, _ = mustGet(t, reg, 7).Int("current_humidity")
	assert.Equal(t, 52, humidity)
}

func TestRecord_IntParsing(t *testing.T) {
	rec := Record{Attributes: map[string]string{
		"current_temp": "71.0",
		"level":        "80",
		"empty":        "",
		"none":         "None",
		"junk":         "warm",
	}}

	v, ok := rec.Int("current_temp")
	assert.True(t, ok)
	assert.Equal(t, 71, v)

	v, ok = rec.Int("level")
	assert.True(t, ok)
	assert.Equal(t, 80, v)

	_, ok = rec.Int("empty")
	assert.False(t, ok, "empty values leave the prior value in place")
	_, ok = rec.Int("none")
	assert.False(t, ok, `"None" values leave the prior value in place`)
	_, ok = rec.Int("junk")
	assert.False(t, ok)
	_, ok = rec.Int("missing")
	assert.False(t, ok)
}

func TestOnUpdate_CallbacksRunInRegistrationOrder(t *testing.T) {
	reg := New(zerolog.Nop())
	reg.ApplySnapshot(context.Background(), lockSnapshot())

	var order []int
	reg.OnUpdate(1234, func(context.Context) { order = append(order, 1) })
	reg.OnUpdate(1234, func(context.Context) { order = append(order, 2) })
	reg.OnUpdate(1234, func(context.Context) { order = append(order, 3) })

	reg.ApplyEvent(context.Background(), 1234, "locked", "true")
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestOnUpdate_RemoveStopsNotifications(t *testing.T) {
	reg := New(zerolog.Nop())
	reg.ApplySnapshot(context.Background(), lockSnapshot())

	var kept, removed int
	reg.OnUpdate(1234, func(context.Context) { kept++ })
	remove := reg.OnUpdate(1234, func(context.Context) { removed++ })

	reg.ApplyEvent(context.Background(), 1234, "locked", "true")
	remove()
	reg.ApplyEvent(context.Background(), 1234, "locked", "false")

	assert.Equal(t, 2, kept)
	assert.Equal(t, 1, removed)
}

func TestNotify_PanickingCallbackDoesNotStopOthers(t *testing.T) {
	reg := New(zerolog.Nop())
	reg.ApplySnapshot(context.Background(), lockSnapshot())

	var called bool
	reg.OnUpdate(1234, func(context.Context) { panic("boom") })
	reg.OnUpdate(1234, func(context.Context) { called = true })

	reg.ApplyEvent(context.Background(), 1234, "locked", "true")
	assert.True(t, called)
}

func TestByTypeAndRemove(t *testing.T) {
	reg := New(zerolog.Nop())
	reg.ApplySnapshot(context.Background(), lockSnapshot())
	reg.ApplySnapshot(context.Background(), api.Device{ID: 2, Name: "Thermostat", Type: "thermostat"})

	assert.Len(t, reg.ByType("entry_control"), 1)
	assert.Len(t, reg.ByType("thermostat"), 1)
	assert.Len(t, reg.All(), 2)

	reg.Remove(1234)
	_, ok := reg.Get(1234)
	assert.False(t, ok)
	assert.Len(t, reg.All(), 1)
}

func mustGet(t *testing.T, reg *Registry, id int) Record {
	t.Helper()
	rec, ok := reg.Get(id)
	require.True(t, ok)
	return rec
}
