// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcp

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ParseCBORMessage parses a CBOR message of the form [msg_type, payload_map].
// The payload map is nil for messages without arguments.
func ParseCBORMessage(data []byte) (msgType uint8, payload map[int]interface{}, err error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("%w: empty CBOR payload", ErrInvalidPayload)
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("%w: expected 2-element array, got %d elements", ErrInvalidPayload, len(msg))
	}

	v, ok := msg[0].(uint64)
	if !ok {
		return 0, nil, fmt.Errorf("%w: expected uint for message type, got %T", ErrInvalidPayload, msg[0])
	}
	if v > 255 {
		return 0, nil, fmt.Errorf("%w: message type out of range: %d", ErrInvalidPayload, v)
	}
	msgType = uint8(v)

	if msg[1] == nil {
		return msgType, nil, nil
	}

	raw, ok := msg[1].(map[interface{}]interface{})
	if !ok {
		return 0, nil, fmt.Errorf("%w: expected map or nil for payload, got %T", ErrInvalidPayload, msg[1])
	}
	payload = make(map[int]interface{}, len(raw))
	for key, val := range raw {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return 0, nil, fmt.Errorf("%w: expected integer map key, got %T", ErrInvalidPayload, key)
		}
	}

	return msgType, payload, nil
}

// GetMapUint extracts an unsigned integer from a payload map
func GetMapUint(m map[int]interface{}, key int) (uint64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
	}
	return 0, false
}

// GetMapInt extracts a signed integer from a payload map
func GetMapInt(m map[int]interface{}, key int) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case uint64:
		return int64(val), true
	}
	return 0, false
}

// GetMapBool extracts a bool from a payload map
func GetMapBool(m map[int]interface{}, key int) (bool, bool) {
	val, ok := m[key].(bool)
	return val, ok
}
