// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pandagarage/garagelink/pkg/api"
	"github.com/pandagarage/garagelink/pkg/door"
	"github.com/pandagarage/garagelink/pkg/engine"
	"github.com/pandagarage/garagelink/pkg/hass"
	"github.com/pandagarage/garagelink/pkg/retry"
)

const (
	// statsLogInterval is how often serve logs a bus statistics line
	statsLogInterval = 5 * time.Minute
	watchInterval    = 100 * time.Millisecond
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the door controller with HTTP and MQTT front ends",
	Long: `Run the bus engine and expose the door over HTTP and, optionally, MQTT.

HTTP endpoints:
  GET  /api/status     door state, position and light
  GET  /api/diagnose   bus and dispatch statistics
  POST /api/control    action=open|close|stop|half|vent|toggle|light|position
                       (requires the X-Access-Source header)
  GET  /api/events     WebSocket push of every door change

With --mqtt the door is announced to Home Assistant through MQTT discovery as
a cover, a light and three buttons. The broker password is read from
GARAGELINK_MQTT_PASSWORD or the config file.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("listen", ":8080", "HTTP listen address")
	f.Bool("mqtt", false, "Enable the MQTT / Home Assistant bridge")
	f.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	f.String("mqtt-username", "", "MQTT username")
	f.String("mqtt-name", "garage", "Device name announced to Home Assistant")

	bindFlags(serveCmd, map[string]string{
		"http.listen":   "listen",
		"mqtt.enabled":  "mqtt",
		"mqtt.broker":   "mqtt-broker",
		"mqtt.username": "mqtt-username",
		"mqtt.name":     "mqtt-name",
	}, false)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	log.Infow("Starting garagelink", "version", Version)

	session, err := OpenSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer session.Close()
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	server := api.NewServer(session.Engine, Version, log.Named("api"))
	g.Go(func() error {
		return server.ListenAndServe(ctx, cfg.HTTP.Listen)
	})

	if cfg.MQTT.Enabled {
		client := hass.NewClient(hass.Config{
			Broker:             cfg.MQTT.Broker,
			Username:           cfg.MQTT.Username,
			Password:           cfg.MQTT.Password,
			Name:               cfg.MQTT.Name,
			Version:            Version,
			InsecureSkipVerify: cfg.MQTT.InsecureSkipVerify,
			ConnectPolicy:      retry.DefaultPolicy(),
		}, session.Engine, log.Named("mqtt"))
		g.Go(func() error {
			return client.Run(ctx)
		})
	}

	g.Go(func() error {
		watchDoor(ctx, session.Engine, log)
		return nil
	})

	return g.Wait()
}

// watchDoor logs every door change observed while the state is trusted, and
// a statistics line now and then
func watchDoor(ctx context.Context, eng *engine.Engine, log *zap.SugaredLogger) {
	poll := time.NewTicker(watchInterval)
	defer poll.Stop()
	stats := time.NewTicker(statsLogInterval)
	defer stats.Stop()

	var last door.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-stats.C:
			s := eng.StatsSnapshot()
			log.Infow("Bus statistics",
				"frames", s.Frames(),
				"errors", s.Errors(),
				"transmissions", s.Transmissions,
				"completed", s.Completed,
				"timed_out", s.TimedOut,
				"bus_busy", s.BusBusy)
		case <-poll.C:
		}

		if !eng.Changed() {
			continue
		}
		s, ok := eng.PollChanged()
		if !ok {
			eng.Acknowledge()
			continue
		}
		switch {
		case s.Trusted:
			log.Infow("Door changed",
				"state", s.State.String(),
				"position", s.CurrentPercent(),
				"target", s.TargetPercent(),
				"light", s.Light)
		case last.Trusted:
			log.Warnw("Door state untrusted", "last_state", last.State.String())
		}
		last = s
		eng.Acknowledge()
	}
}
