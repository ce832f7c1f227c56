// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestLoad_RequiresAConnection(t *testing.T) {
	_, err := Load(newViper())
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_Defaults(t *testing.T) {
	v := newViper()
	v.Set("simulate", true)

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 19200, c.Serial.Baud)
	assert.Equal(t, DirectionNone, c.Bus.Direction)
	assert.Equal(t, 3*time.Millisecond, c.Bus.QuietInterval)
	assert.Equal(t, 8, c.Engine.QueueSize)
	assert.Equal(t, 5*time.Second, c.Engine.SilenceWindow)
	assert.Equal(t, "info", c.Log.Level)
	assert.False(t, c.MQTT.Enabled)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("GARAGELINK_SERIAL_PORT", "/dev/ttyUSB1")
	t.Setenv("GARAGELINK_BUS_DIRECTION", "RTS")
	t.Setenv("GARAGELINK_ENGINE_CONFIRM_TIMEOUT", "7s")

	c, err := Load(newViper())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", c.Serial.Port)
	assert.Equal(t, DirectionRTS, c.Bus.Direction)
	assert.Equal(t, 7*time.Second, c.Engine.ConfirmTimeout)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garagelink.yaml")
	data := []byte("bridge:\n  url: wss://bridge.local/ws\nmqtt:\n  enabled: true\n  name: shed\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	v := newViper()
	require.NoError(t, ReadFile(v, path))
	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "wss://bridge.local/ws", c.Bridge.URL)
	assert.True(t, c.MQTT.Enabled)
	assert.Equal(t, "shed", c.MQTT.Name)
}

func TestReadFile_Missing(t *testing.T) {
	assert.Error(t, ReadFile(newViper(), filepath.Join(t.TempDir(), "absent.yaml")))
	assert.NoError(t, ReadFile(newViper(), ""))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(v *viper.Viper)
	}{
		{"both connections", func(v *viper.Viper) {
			v.Set("serial.port", "/dev/ttyUSB0")
			v.Set("bridge.url", "ws://x")
		}},
		{"bad direction", func(v *viper.Viper) { v.Set("bus.direction", "auto") }},
		{"gpio without chip", func(v *viper.Viper) {
			v.Set("bus.direction", "gpio")
			v.Set("bus.gpio_chip", "")
		}},
		{"zero queue", func(v *viper.Viper) { v.Set("engine.queue_size", 0) }},
		{"zero idle timeout", func(v *viper.Viper) { v.Set("engine.idle_timeout", "0s") }},
		{"silence shorter than cycle", func(v *viper.Viper) {
			v.Set("engine.silence_window", "1ms")
			v.Set("engine.cycle_interval", "5ms")
		}},
		{"mqtt without broker", func(v *viper.Viper) {
			v.Set("mqtt.enabled", true)
			v.Set("mqtt.broker", "")
		}},
		{"zero baud", func(v *viper.Viper) { v.Set("serial.baud", 0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set("simulate", true)
			tt.modify(v)
			_, err := Load(v)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}
