package smartrent

// LeakSensor is a sensor_notification leak sensor. It is read-only.
type LeakSensor struct {
	device
}

// Leak reports whether the sensor currently detects moisture.
func (s *LeakSensor) Leak() bool {
	return s.boolAttr("leak")
}
