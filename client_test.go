package smartrent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCloud serves the session and discovery endpoints plus a websocket
// endpoint that records every frame it receives.
type fakeCloud struct {
	rest   *httptest.Server
	ws     *httptest.Server
	frames chan string
}

func newFakeCloud(t *testing.T, devices []map[string]any) *fakeCloud {
	t.Helper()
	fc := &fakeCloud{frames: make(chan string, 16)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body["password"] != "hunter2" {
			json.NewEncoder(w).Encode(map[string]any{
				"errors": []map[string]string{{"code": "invalid_credentials"}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "token-1",
			"refresh_token": "refresh-1",
			"expires":       time.Now().Add(time.Hour).Unix(),
		})
	})
	mux.HandleFunc("GET /hubs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{{"id": 1}})
	})
	mux.HandleFunc("GET /hubs/1/devices", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(devices)
	})
	fc.rest = httptest.NewServer(mux)
	t.Cleanup(fc.rest.Close)

	upgrader := websocket.Upgrader{}
	fc.ws = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fc.frames <- string(data)
		}
	}))
	t.Cleanup(fc.ws.Close)

	return fc
}

func (fc *fakeCloud) wsURL() string {
	return "ws" + strings.TrimPrefix(fc.ws.URL, "http") + "/socket/websocket?token=%s&vsn=2.0.0"
}

func (fc *fakeCloud) nextFrame(t *testing.T) string {
	t.Helper()
	select {
	case f := <-fc.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a websocket frame")
		return ""
	}
}

func testDevices() []map[string]any {
	return []map[string]any{
		{"id": 1234, "name": "Front Door", "type": "entry_control", "online": true,
			"battery_powered": true, "battery_level": 80,
			"attributes": []map[string]string{{"name": "locked", "state": "false"}}},
		{"id": 2, "name": "Hallway", "type": "thermostat", "online": true,
			"attributes": []map[string]string{
				{"name": "mode", "state": "cool"},
				{"name": "current_temp", "state": "71.0"},
			}},
		{"id": 3, "name": "Lamp", "type": "switch_binary", "online": true,
			"attributes": []map[string]string{{"name": "on", "state": "true"}}},
		{"id": 4, "name": "Dimmer", "type": "switch_multilevel", "online": true},
		{"id": 5, "name": "Sink", "type": "sensor_notification", "online": true,
			"attributes": []map[string]string{{"name": "leak", "state": "false"}}},
		{"id": 6, "name": "Doorbell", "type": "sensor_motion", "online": true},
	}
}

func login(t *testing.T, fc *fakeCloud) *Client {
	t.Helper()
	client, err := Login(context.Background(), "resident@example.com", "hunter2",
		WithBaseURL(fc.rest.URL+"/"),
		WithWebsocketURL(fc.wsURL()),
	)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestLogin_DiscoversTypedDevices(t *testing.T) {
	fc := newFakeCloud(t, testDevices())
	client := login(t, fc)

	assert.Len(t, client.Devices(), 6)
	assert.Len(t, client.Locks(), 1)
	assert.Len(t, client.Thermostats(), 1)
	assert.Len(t, client.BinarySwitches(), 1)
	assert.Len(t, client.MultilevelSwitches(), 1)
	assert.Len(t, client.LeakSensors(), 1)

	lock := client.Locks()[0]
	assert.Equal(t, 1234, lock.ID())
	assert.Equal(t, "Front Door", lock.Name())
	assert.Equal(t, KindLock, lock.Kind())
	assert.True(t, lock.Online())
	assert.True(t, lock.BatteryPowered())
	assert.Equal(t, 80, lock.BatteryLevel())
	assert.False(t, lock.Locked())

	thermostat := client.Thermostats()[0]
	assert.Equal(t, "cool", thermostat.Mode())
	temp, ok := thermostat.CurrentTemp()
	assert.True(t, ok)
	assert.Equal(t, 71, temp)

	unknown, ok := client.Device(6)
	require.True(t, ok)
	_, generic := unknown.(*GenericDevice)
	assert.True(t, generic, "unrecognized types fall back to the generic wrapper")
}

func TestLogin_BadPassword(t *testing.T) {
	fc := newFakeCloud(t, nil)

	_, err := Login(context.Background(), "resident@example.com", "wrong",
		WithBaseURL(fc.rest.URL+"/"),
		WithWebsocketURL(fc.wsURL()),
	)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLock_SetLockedSendsCommandAndUpdatesLocally(t *testing.T) {
	fc := newFakeCloud(t, testDevices())
	client := login(t, fc)

	lock := client.Locks()[0]
	require.False(t, lock.Locked())

	require.NoError(t, lock.SetLocked(context.Background(), true))

	// Without a subscriber the command rides a one-shot connection:
	// join first, then the attribute update.
	assert.JSONEq(t, `[null, null, "devices:1234", "phx_join", {}]`, fc.nextFrame(t))
	assert.JSONEq(t,
		`[null, null, "devices:1234", "update_attributes",
		  {"device_id": 1234, "attributes": [{"name": "locked", "value": "true"}]}]`,
		fc.nextFrame(t))

	assert.True(t, lock.Locked(), "local record reflects the command before server confirmation")
}

func TestThermostat_RejectsInvalidMode(t *testing.T) {
	fc := newFakeCloud(t, testDevices())
	client := login(t, fc)

	thermostat := client.Thermostats()[0]
	err := thermostat.SetMode(context.Background(), "tropical")
	assert.ErrorIs(t, err, ErrInvalidValue)

	select {
	case frame := <-fc.frames:
		t.Fatalf("no frame should be sent for a rejected value, got %s", frame)
	default:
	}
}

func TestMultilevelSwitch_RejectsOutOfRangeLevel(t *testing.T) {
	fc := newFakeCloud(t, testDevices())
	client := login(t, fc)

	dimmer := client.MultilevelSwitches()[0]
	assert.ErrorIs(t, dimmer.SetLevel(context.Background(), 150), ErrInvalidValue)
	assert.ErrorIs(t, dimmer.SetLevel(context.Background(), -1), ErrInvalidValue)
}

func TestClient_DeviceLookup(t *testing.T) {
	fc := newFakeCloud(t, testDevices())
	client := login(t, fc)

	d, ok := client.Device(3)
	require.True(t, ok)
	assert.Equal(t, "Lamp", d.Name())

	_, ok = client.Device(999)
	assert.False(t, ok)
}

func TestClient_ConnectionStateStartsDisconnected(t *testing.T) {
	fc := newFakeCloud(t, testDevices())
	client := login(t, fc)

	assert.Equal(t, "disconnected", client.ConnectionState())
}
