// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads garagelink settings from flags, environment and an
// optional config file through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pandagarage/garagelink/pkg/bus"
	"github.com/pandagarage/garagelink/pkg/engine"
)

// EnvPrefix prefixes every environment variable, e.g. GARAGELINK_SERIAL_PORT
const EnvPrefix = "GARAGELINK"

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Direction line modes
const (
	DirectionRTS  = "rts"
	DirectionGPIO = "gpio"
	DirectionNone = "none"
)

// Serial is the local serial port connection
type Serial struct {
	Port string
	Baud int
}

// Bridge is the WebSocket serial bridge connection
type Bridge struct {
	URL         string
	Username    string
	NoSSLVerify bool
}

// Bus holds half-duplex line settings
type Bus struct {
	Direction     string
	GPIOChip      string
	GPIOOffset    int
	QuietInterval time.Duration
}

// HTTP holds API server settings
type HTTP struct {
	Listen string
}

// MQTT holds broker settings
type MQTT struct {
	Enabled            bool
	Broker             string
	Username           string
	Password           string
	Name               string
	InsecureSkipVerify bool
}

// Log holds logger settings
type Log struct {
	Level       string
	Development bool
}

// Config is the complete garagelink configuration
type Config struct {
	Serial   Serial
	Bridge   Bridge
	Bus      Bus
	Engine   engine.Config
	HTTP     HTTP
	MQTT     MQTT
	Log      Log
	Simulate bool
}

// SetDefaults registers every key with its default on v
func SetDefaults(v *viper.Viper) {
	def := engine.DefaultConfig()

	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 19200)
	v.SetDefault("bridge.url", "")
	v.SetDefault("bridge.username", "")
	v.SetDefault("bridge.no_ssl_verify", false)
	v.SetDefault("bus.direction", DirectionNone)
	v.SetDefault("bus.gpio_chip", "gpiochip0")
	v.SetDefault("bus.gpio_offset", 17)
	v.SetDefault("bus.quiet_interval", bus.DefaultQuietInterval)
	v.SetDefault("engine.cycle_interval", def.CycleInterval)
	v.SetDefault("engine.queue_size", def.QueueSize)
	v.SetDefault("engine.idle_timeout", def.IdleTimeout)
	v.SetDefault("engine.confirm_timeout", def.ConfirmTimeout)
	v.SetDefault("engine.max_missed_frames", def.MaxMissedFrames)
	v.SetDefault("engine.silence_window", def.SilenceWindow)
	v.SetDefault("http.listen", ":8080")
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.name", "garage")
	v.SetDefault("mqtt.insecure_skip_verify", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("simulate", false)
}

// BindEnv makes v read GARAGELINK_* variables
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// ReadFile merges an optional YAML config file into v
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from v and validates it
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Serial: Serial{
			Port: v.GetString("serial.port"),
			Baud: v.GetInt("serial.baud"),
		},
		Bridge: Bridge{
			URL:         v.GetString("bridge.url"),
			Username:    v.GetString("bridge.username"),
			NoSSLVerify: v.GetBool("bridge.no_ssl_verify"),
		},
		Bus: Bus{
			Direction:     strings.ToLower(v.GetString("bus.direction")),
			GPIOChip:      v.GetString("bus.gpio_chip"),
			GPIOOffset:    v.GetInt("bus.gpio_offset"),
			QuietInterval: v.GetDuration("bus.quiet_interval"),
		},
		Engine: engine.Config{
			QueueSize:       v.GetInt("engine.queue_size"),
			CycleInterval:   v.GetDuration("engine.cycle_interval"),
			IdleTimeout:     v.GetDuration("engine.idle_timeout"),
			ConfirmTimeout:  v.GetDuration("engine.confirm_timeout"),
			MaxMissedFrames: v.GetInt("engine.max_missed_frames"),
			SilenceWindow:   v.GetDuration("engine.silence_window"),
		},
		HTTP: HTTP{
			Listen: v.GetString("http.listen"),
		},
		MQTT: MQTT{
			Enabled:            v.GetBool("mqtt.enabled"),
			Broker:             v.GetString("mqtt.broker"),
			Username:           v.GetString("mqtt.username"),
			Password:           v.GetString("mqtt.password"),
			Name:               v.GetString("mqtt.name"),
			InsecureSkipVerify: v.GetBool("mqtt.insecure_skip_verify"),
		},
		Log: Log{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		Simulate: v.GetBool("simulate"),
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the settings that have no usable fallback
func (c Config) Validate() error {
	if !c.Simulate && c.Serial.Port == "" && c.Bridge.URL == "" {
		return fmt.Errorf("%w: one of serial.port, bridge.url or simulate is required", ErrInvalid)
	}
	if c.Serial.Port != "" && c.Bridge.URL != "" {
		return fmt.Errorf("%w: serial.port and bridge.url are mutually exclusive", ErrInvalid)
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("%w: serial.baud must be positive", ErrInvalid)
	}

	switch c.Bus.Direction {
	case DirectionRTS, DirectionNone:
	case DirectionGPIO:
		if c.Bus.GPIOChip == "" || c.Bus.GPIOOffset < 0 {
			return fmt.Errorf("%w: bus.direction gpio needs bus.gpio_chip and bus.gpio_offset", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: bus.direction %q (want rts, gpio or none)", ErrInvalid, c.Bus.Direction)
	}
	if c.Bus.QuietInterval < 0 {
		return fmt.Errorf("%w: bus.quiet_interval is negative", ErrInvalid)
	}

	e := c.Engine
	if e.QueueSize <= 0 || e.MaxMissedFrames <= 0 {
		return fmt.Errorf("%w: engine.queue_size and engine.max_missed_frames must be positive", ErrInvalid)
	}
	for name, d := range map[string]time.Duration{
		"engine.cycle_interval":  e.CycleInterval,
		"engine.idle_timeout":    e.IdleTimeout,
		"engine.confirm_timeout": e.ConfirmTimeout,
		"engine.silence_window":  e.SilenceWindow,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, name)
		}
	}
	if e.SilenceWindow <= e.CycleInterval {
		return fmt.Errorf("%w: engine.silence_window must exceed engine.cycle_interval", ErrInvalid)
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt.broker is required when mqtt is enabled", ErrInvalid)
	}
	return nil
}
