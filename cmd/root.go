// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pandagarage/garagelink/pkg/config"
	"github.com/pandagarage/garagelink/pkg/logging"
)

// Version is reported by --version, the status endpoint and MQTT discovery
const Version = "1.0.0"

var (
	v          = viper.New()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "garagelink",
	Short: "Garage door bus controller",
	Long: `garagelink - Controller and analyzer for the garage door control bus.

Talks to the door operator unit over the shared half-duplex bus, keeps a live
model of the door and serves it over HTTP and MQTT. Also provides commands for
raw frame logging and error detection to diagnose bus problems.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 19200] [--direction rts|gpio|none]
  WebSocket: --url ws://host/path [--username user]
  Simulated: --simulate

Every flag can also be set in a YAML config file (--config) or through
GARAGELINK_* environment variables, e.g. GARAGELINK_SERIAL_PORT.

For WebSocket authentication, the password is read from the GARAGELINK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (YAML)")

	// Serial connection flags
	pf.StringP("port", "p", "", "Serial port device")
	pf.IntP("baud", "b", 19200, "Baud rate (serial only)")
	pf.String("direction", config.DirectionNone, "Transmit enable: rts, gpio or none (serial only)")
	pf.String("gpio-chip", "gpiochip0", "GPIO chip for --direction gpio")
	pf.Int("gpio-offset", 17, "GPIO line offset for --direction gpio")

	// WebSocket connection flags
	pf.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	pf.String("username", "", "Username for HTTP Basic auth")
	pf.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	pf.Bool("simulate", false, "Use a simulated door instead of a real bus")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.Bool("log-dev", false, "Human-readable development logging")

	bindFlags(rootCmd, map[string]string{
		"serial.port":          "port",
		"serial.baud":          "baud",
		"bus.direction":        "direction",
		"bus.gpio_chip":        "gpio-chip",
		"bus.gpio_offset":      "gpio-offset",
		"bridge.url":           "url",
		"bridge.username":      "username",
		"bridge.no_ssl_verify": "no-ssl-verify",
		"simulate":             "simulate",
		"log.level":            "log-level",
		"log.development":      "log-dev",
	}, true)
}

// bindFlags binds viper keys to a command's flags
func bindFlags(c *cobra.Command, keys map[string]string, persistent bool) {
	flags := c.Flags()
	if persistent {
		flags = c.PersistentFlags()
	}
	for key, flag := range keys {
		cobra.CheckErr(v.BindPFlag(key, flags.Lookup(flag)))
	}
}

func initConfig() {
	config.SetDefaults(v)
	config.BindEnv(v)
	cobra.CheckErr(config.ReadFile(v, configFile))
}

// loadConfig reads and validates the merged configuration
func loadConfig() (config.Config, error) {
	return config.Load(v)
}

// newLogger builds the logger for service commands
func newLogger(cfg config.Config) (*zap.SugaredLogger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Development)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
