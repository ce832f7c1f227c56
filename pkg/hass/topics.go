// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hass publishes the door to Home Assistant over MQTT and turns
// Home Assistant commands into door intents.
package hass

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pandagarage/garagelink/pkg/door"
)

// Topic roots
const (
	BaseTopic      = "pandagarage"
	DiscoveryTopic = "homeassistant"
)

// Availability payloads
const (
	Online  = "online"
	Offline = "offline"
)

// Topics are the MQTT topics of one door
type Topics struct {
	Base string
}

// NewTopics returns the topics for a named door
func NewTopics(name string) Topics {
	return Topics{Base: BaseTopic + "/" + Slug(name)}
}

// Slug lowercases name and replaces everything but letters and digits
func Slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "garage"
	}
	return b.String()
}

func (t Topics) Availability() string  { return t.Base + "/status" }
func (t Topics) CoverState() string    { return t.Base + "/cover/state" }
func (t Topics) CoverPosition() string { return t.Base + "/cover/position" }
func (t Topics) LightState() string    { return t.Base + "/light/state" }
func (t Topics) CoverSet() string      { return t.Base + "/cover/set" }
func (t Topics) PositionSet() string   { return t.Base + "/cover/position/set" }
func (t Topics) LightSet() string      { return t.Base + "/light/switch" }
func (t Topics) VentSet() string       { return t.Base + "/vent/set" }
func (t Topics) HalfSet() string       { return t.Base + "/half/set" }
func (t Topics) ToggleSet() string     { return t.Base + "/toggle/set" }

// CommandTopics lists every topic the client subscribes to
func (t Topics) CommandTopics() []string {
	return []string{t.CoverSet(), t.PositionSet(), t.LightSet(), t.VentSet(), t.HalfSet(), t.ToggleSet()}
}

// Message is one MQTT publication
type Message struct {
	Topic    string
	Payload  string
	Retained bool
}

// ParseCommand maps a command publication onto an intent
func (t Topics) ParseCommand(topic, payload string) (door.Intent, error) {
	p := strings.ToUpper(strings.TrimSpace(payload))

	switch topic {
	case t.CoverSet():
		switch p {
		case "OPEN":
			return door.OpenDoor(), nil
		case "CLOSE":
			return door.CloseDoor(), nil
		case "STOP":
			return door.StopDoor(), nil
		}
	case t.PositionSet():
		pct, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		i := door.SetPosition(pct)
		return i, i.Validate()
	case t.LightSet():
		switch p {
		case "ON":
			return door.SetLight(true), nil
		case "OFF":
			return door.SetLight(false), nil
		}
	case t.VentSet():
		return door.VentDoor(), nil
	case t.HalfSet():
		return door.HalfOpenDoor(), nil
	case t.ToggleSet():
		return door.ToggleDoor(), nil
	default:
		return door.Intent{}, fmt.Errorf("%w: unexpected topic %s", door.ErrInvalidIntent, topic)
	}
	return door.Intent{}, fmt.Errorf("%w: payload %q on %s", door.ErrInvalidIntent, payload, topic)
}

// StateMessages returns the retained state publications for a snapshot
func (t Topics) StateMessages(s door.Snapshot) []Message {
	light := "OFF"
	if s.Light {
		light = "ON"
	}
	return []Message{
		{Topic: t.CoverState(), Payload: s.CoverState(), Retained: true},
		{Topic: t.CoverPosition(), Payload: strconv.Itoa(s.CurrentPercent()), Retained: true},
		{Topic: t.LightState(), Payload: light, Retained: true},
	}
}

type device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type coverConfig struct {
	Name             string `json:"name"`
	UniqueID         string `json:"unique_id"`
	DeviceClass      string `json:"device_class"`
	Availability     string `json:"availability_topic"`
	CommandTopic     string `json:"command_topic"`
	StateTopic       string `json:"state_topic"`
	PositionTopic    string `json:"position_topic"`
	SetPositionTopic string `json:"set_position_topic"`
	PayloadOpen      string `json:"payload_open"`
	PayloadClose     string `json:"payload_close"`
	PayloadStop      string `json:"payload_stop"`
	StateOpen        string `json:"state_open"`
	StateOpening     string `json:"state_opening"`
	StateClosed      string `json:"state_closed"`
	StateClosing     string `json:"state_closing"`
	StateStopped     string `json:"state_stopped"`
	PositionOpen     int    `json:"position_open"`
	PositionClosed   int    `json:"position_closed"`
	Device           device `json:"device"`
}

type lightConfig struct {
	Name         string `json:"name"`
	UniqueID     string `json:"unique_id"`
	Availability string `json:"availability_topic"`
	CommandTopic string `json:"command_topic"`
	StateTopic   string `json:"state_topic"`
	Device       device `json:"device"`
}

type buttonConfig struct {
	Name         string `json:"name"`
	UniqueID     string `json:"unique_id"`
	Availability string `json:"availability_topic"`
	CommandTopic string `json:"command_topic"`
	PayloadPress string `json:"payload_press"`
	Device       device `json:"device"`
}

// DiscoveryMessages returns the retained discovery configs for the cover,
// the light and the vent, half and toggle buttons.
func (t Topics) DiscoveryMessages(name, version string) ([]Message, error) {
	id := Slug(name)
	dev := device{
		Identifiers:  []string{"garagelink_" + id},
		Name:         name,
		Manufacturer: "PandaGarage",
		Model:        "garagelink",
		SWVersion:    version,
	}

	configs := []struct {
		topic string
		cfg   interface{}
	}{
		{DiscoveryTopic + "/cover/" + id + "/door/config", coverConfig{
			Name:             "Door",
			UniqueID:         id + "_door",
			DeviceClass:      "garage",
			Availability:     t.Availability(),
			CommandTopic:     t.CoverSet(),
			StateTopic:       t.CoverState(),
			PositionTopic:    t.CoverPosition(),
			SetPositionTopic: t.PositionSet(),
			PayloadOpen:      "open",
			PayloadClose:     "close",
			PayloadStop:      "stop",
			StateOpen:        door.Open.CoverState(),
			StateOpening:     door.Opening.CoverState(),
			StateClosed:      door.Closed.CoverState(),
			StateClosing:     door.Closing.CoverState(),
			StateStopped:     door.Stopped.CoverState(),
			PositionOpen:     100,
			PositionClosed:   0,
			Device:           dev,
		}},
		{DiscoveryTopic + "/light/" + id + "/light/config", lightConfig{
			Name:         "Light",
			UniqueID:     id + "_light",
			Availability: t.Availability(),
			CommandTopic: t.LightSet(),
			StateTopic:   t.LightState(),
			Device:       dev,
		}},
		{DiscoveryTopic + "/button/" + id + "/vent/config", buttonConfig{
			Name: "Vent", UniqueID: id + "_vent", Availability: t.Availability(),
			CommandTopic: t.VentSet(), PayloadPress: "PRESS", Device: dev,
		}},
		{DiscoveryTopic + "/button/" + id + "/half/config", buttonConfig{
			Name: "Half open", UniqueID: id + "_half", Availability: t.Availability(),
			CommandTopic: t.HalfSet(), PayloadPress: "PRESS", Device: dev,
		}},
		{DiscoveryTopic + "/button/" + id + "/toggle/config", buttonConfig{
			Name: "Toggle", UniqueID: id + "_toggle", Availability: t.Availability(),
			CommandTopic: t.ToggleSet(), PayloadPress: "PRESS", Device: dev,
		}},
	}

	msgs := make([]Message, 0, len(configs))
	for _, c := range configs {
		j, err := json.Marshal(c.cfg)
		if err != nil {
			return nil, fmt.Errorf("marshalling discovery config: %w", err)
		}
		msgs = append(msgs, Message{Topic: c.topic, Payload: string(j), Retained: true})
	}
	return msgs, nil
}
