package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeJoin(t *testing.T) {
	data, err := EncodeJoin(1234)
	require.NoError(t, err)
	assert.JSONEq(t, `[null, null, "devices:1234", "phx_join", {}]`, string(data))
}

func TestEncodeCommand(t *testing.T) {
	data, err := EncodeCommand(1234, "locked", "true")
	require.NoError(t, err)
	assert.JSONEq(t,
		`[null, null, "devices:1234", "update_attributes",
		  {"device_id": 1234, "attributes": [{"name": "locked", "value": "true"}]}]`,
		string(data))
}

func TestDecode_AttributeEvent(t *testing.T) {
	raw := `[null, null, "devices:42", "attribute_state_changed",
	         {"type": "attribute", "name": "locked", "last_read_state": "true"}]`

	frame, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "devices:42", frame.Topic)

	id, err := DeviceID(frame.Topic)
	require.NoError(t, err)
	assert.Equal(t, 42, id)

	ev, err := frame.AttributeEvent()
	require.NoError(t, err)
	assert.Equal(t, "attribute", ev.Type)
	assert.Equal(t, "locked", ev.Name)
	assert.Equal(t, "true", ev.LastReadState)
}

func TestDecode_ControlFrameHasNoType(t *testing.T) {
	raw := `[null, null, "devices:42", "phx_reply", {"status": "ok", "response": {}}]`

	frame, err := Decode([]byte(raw))
	require.NoError(t, err)

	ev, err := frame.AttributeEvent()
	require.NoError(t, err)
	assert.Empty(t, ev.Type)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{{{`,
		"not an array":   `{"a": 1}`,
		"short array":    `[null, null, "devices:42"]`,
		"non-string row": `[null, null, 42, "phx_reply", {}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestDeviceID_BadTopics(t *testing.T) {
	_, err := DeviceID("lobby")
	assert.Error(t, err)
	_, err = DeviceID("devices:abc")
	assert.Error(t, err)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "devices:7", Topic(7))
}
