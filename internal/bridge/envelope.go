// SPDX-License-Identifier: Apache-2.0

// Package bridge connects a session to a BLE gateway process over
// serial or WebSocket. The gateway owns the radio; this package speaks
// a small CBOR event protocol to it and exposes the link as a
// session.Transport.
package bridge

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Gateway event types. Host to gateway 0x01-0x0F, gateway to host
// 0x10-0x1F. Every device-scoped event carries KeyAddress in both
// directions; the gateway multiplexes all managed devices over one
// wire.
const (
	EventConnect    = 0x01
	EventDisconnect = 0x02
	EventWrite      = 0x03

	EventConnected    = 0x10
	EventDisconnected = 0x11
	EventNotify       = 0x12
	EventPresence     = 0x13
	EventError        = 0x1F
)

// Integer payload keys.
const (
	KeyAddress   = 1
	KeyData      = 2
	KeyReason    = 3
	KeySignal    = 4
	KeyTimestamp = 5
)

// Envelope is one gateway event: [event_type, payload_map] in CBOR,
// with integer payload keys. A nil payload encodes as CBOR null.
type Envelope struct {
	Type    uint8
	Payload map[int]interface{}
}

// EncodeEnvelope serializes an envelope to CBOR.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	var msg interface{}
	if len(env.Payload) == 0 {
		msg = []interface{}{uint64(env.Type), nil}
	} else {
		msg = []interface{}{uint64(env.Type), env.Payload}
	}
	data, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode envelope 0x%02X: %w", env.Type, err)
	}
	return data, nil
}

// DecodeEnvelope parses a CBOR event: a 2-element array of event type
// and payload map (or null).
func DecodeEnvelope(data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, fmt.Errorf("empty envelope")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(msg) != 2 {
		return Envelope{}, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	var env Envelope
	switch v := msg[0].(type) {
	case uint64:
		if v > 255 {
			return Envelope{}, fmt.Errorf("event type out of range: %d", v)
		}
		env.Type = uint8(v)
	default:
		return Envelope{}, fmt.Errorf("expected uint for event type, got %T", msg[0])
	}

	if msg[1] == nil {
		return env, nil
	}
	raw, ok := msg[1].(map[interface{}]interface{})
	if !ok {
		return Envelope{}, fmt.Errorf("expected map or nil for payload, got %T", msg[1])
	}
	env.Payload = make(map[int]interface{}, len(raw))
	for key, val := range raw {
		switch k := key.(type) {
		case uint64:
			env.Payload[int(k)] = val
		case int64:
			env.Payload[int(k)] = val
		default:
			return Envelope{}, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return env, nil
}

// Bytes extracts a byte-string payload value.
func (e Envelope) Bytes(key int) ([]byte, bool) {
	v, ok := e.Payload[key]
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// String extracts a text payload value.
func (e Envelope) String(key int) (string, bool) {
	v, ok := e.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int extracts an integer payload value across the numeric types the
// CBOR decoder may produce.
func (e Envelope) Int(key int) (int64, bool) {
	v, ok := e.Payload[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case uint64:
		return int64(val), true
	case float64:
		return int64(val), true
	}
	return 0, false
}
