package smartrent

import (
	"context"
	"fmt"
	"slices"
	"strconv"
)

// Thermostat modes accepted by SetMode.
var thermostatModes = []string{"aux_heat", "heat", "cool", "auto", "off"}

// Thermostat fan modes accepted by SetFanMode.
var thermostatFanModes = []string{"auto", "on"}

// Thermostat is a thermostat device.
type Thermostat struct {
	device
}

// Mode returns the operating mode: aux_heat, heat, cool, auto or off.
func (t *Thermostat) Mode() string {
	v, _ := t.Attr("mode")
	return v
}

// FanMode returns the fan mode: auto or on.
func (t *Thermostat) FanMode() string {
	v, _ := t.Attr("fan_mode")
	return v
}

// CoolingSetpoint returns the cooling setpoint. ok is false when the
// thermostat has not reported one.
func (t *Thermostat) CoolingSetpoint() (int, bool) {
	return t.intAttr("cooling_setpoint")
}

// HeatingSetpoint returns the heating setpoint.
func (t *Thermostat) HeatingSetpoint() (int, bool) {
	return t.intAttr("heating_setpoint")
}

// CurrentTemp returns the measured temperature.
func (t *Thermostat) CurrentTemp() (int, bool) {
	return t.intAttr("current_temp")
}

// CurrentHumidity returns the measured relative humidity. Non-positive
// readings are discarded on ingest, so the last positive value is
// reported.
func (t *Thermostat) CurrentHumidity() (int, bool) {
	return t.intAttr("current_humidity")
}

// SetHeatingSetpoint changes the heating setpoint.
func (t *Thermostat) SetHeatingSetpoint(ctx context.Context, value int) error {
	return t.setAttribute(ctx, "heating_setpoint", strconv.Itoa(value))
}

// SetCoolingSetpoint changes the cooling setpoint.
func (t *Thermostat) SetCoolingSetpoint(ctx context.Context, value int) error {
	return t.setAttribute(ctx, "cooling_setpoint", strconv.Itoa(value))
}

// SetMode changes the operating mode.
func (t *Thermostat) SetMode(ctx context.Context, mode string) error {
	if !slices.Contains(thermostatModes, mode) {
		return fmt.Errorf("%w: mode %q", ErrInvalidValue, mode)
	}
	return t.setAttribute(ctx, "mode", mode)
}

// SetFanMode changes the fan mode.
func (t *Thermostat) SetFanMode(ctx context.Context, fanMode string) error {
	if !slices.Contains(thermostatFanModes, fanMode) {
		return fmt.Errorf("%w: fan mode %q", ErrInvalidValue, fanMode)
	}
	return t.setAttribute(ctx, "fan_mode", fanMode)
}
