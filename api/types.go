package api

// Attribute is a single named state field as reported by the API,
// e.g. {"name": "locked", "state": "true"}. States are always strings
// on the wire regardless of their logical type.
type Attribute struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Hub is a physical gateway aggregating one or more devices.
type Hub struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// Device is a full device snapshot as returned by the hubs/{id}/devices
// and devices/{id} endpoints.
type Device struct {
	ID                  int         `json:"id"`
	Name                string      `json:"name"`
	Type                string      `json:"type"`
	Online              bool        `json:"online"`
	BatteryPowered      bool        `json:"battery_powered"`
	BatteryLevel        int         `json:"battery_level"`
	WarningBatteryLevel bool        `json:"warning_battery_level"`
	Attributes          []Attribute `json:"attributes"`
}

// apiError is a single entry of the "errors" array the API attaches to
// failed responses.
type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type errorResponse struct {
	Errors []apiError `json:"errors"`
}

func (e errorResponse) hasCode(code string) bool {
	for _, err := range e.Errors {
		if err.Code == code {
			return true
		}
	}
	return false
}
