// Package frames encodes and decodes the Phoenix-channel v2 wire frames
// used by the SmartRent websocket: 5-element JSON arrays of
// [join_ref, ref, topic, event, payload].
package frames

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	// EventJoin subscribes the connection to a device topic.
	EventJoin = "phx_join"

	// EventUpdateAttributes carries an outbound attribute command.
	EventUpdateAttributes = "update_attributes"

	topicPrefix = "devices:"
)

// Topic returns the channel identifier for a device.
func Topic(deviceID int) string {
	return topicPrefix + strconv.Itoa(deviceID)
}

// DeviceID extracts the device id from a "devices:{id}" topic.
func DeviceID(topic string) (int, error) {
	idx := strings.LastIndex(topic, ":")
	if idx < 0 {
		return 0, fmt.Errorf("frames: topic %q has no device id", topic)
	}
	id, err := strconv.Atoi(topic[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("frames: topic %q has no device id", topic)
	}
	return id, nil
}

// commandAttribute is one attribute assignment inside a command payload.
type commandAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type commandPayload struct {
	DeviceID   int                `json:"device_id"`
	Attributes []commandAttribute `json:"attributes"`
}

// EncodeJoin builds the join frame for a device topic.
func EncodeJoin(deviceID int) ([]byte, error) {
	return json.Marshal([]any{nil, nil, Topic(deviceID), EventJoin, struct{}{}})
}

// EncodeCommand builds an update_attributes frame setting one attribute.
func EncodeCommand(deviceID int, name, value string) ([]byte, error) {
	payload := commandPayload{
		DeviceID:   deviceID,
		Attributes: []commandAttribute{{Name: name, Value: value}},
	}
	return json.Marshal([]any{nil, nil, Topic(deviceID), EventUpdateAttributes, payload})
}

// AttributeEvent is the payload of an inbound attribute-change frame.
// Control frames (phx_reply and friends) carry no "type" field; Type ==
// "" marks a frame that is logged and otherwise ignored.
type AttributeEvent struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	LastReadState string `json:"last_read_state"`
}

// Frame is a decoded inbound websocket frame.
type Frame struct {
	Topic   string
	Event   string
	Payload json.RawMessage
}

// Decode parses a raw inbound frame. Frames with fewer than five
// elements or non-string topic/event are rejected.
func Decode(data []byte) (Frame, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return Frame{}, fmt.Errorf("frames: not a frame array: %w", err)
	}
	if len(elems) != 5 {
		return Frame{}, fmt.Errorf("frames: expected 5 elements, got %d", len(elems))
	}

	var topic, event string
	if err := json.Unmarshal(elems[2], &topic); err != nil {
		return Frame{}, fmt.Errorf("frames: bad topic: %w", err)
	}
	if err := json.Unmarshal(elems[3], &event); err != nil {
		return Frame{}, fmt.Errorf("frames: bad event: %w", err)
	}

	return Frame{Topic: topic, Event: event, Payload: elems[4]}, nil
}

// AttributeEvent decodes the frame payload as an attribute-change event.
func (f Frame) AttributeEvent() (AttributeEvent, error) {
	var ev AttributeEvent
	if err := json.Unmarshal(f.Payload, &ev); err != nil {
		return AttributeEvent{}, fmt.Errorf("frames: bad event payload: %w", err)
	}
	return ev, nil
}
