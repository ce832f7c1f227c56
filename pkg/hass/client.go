// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hass

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"github.com/pandagarage/garagelink/pkg/door"
	"github.com/pandagarage/garagelink/pkg/engine"
	"github.com/pandagarage/garagelink/pkg/retry"
)

// Controller is the part of the engine the MQTT bridge needs
type Controller interface {
	Snapshot() door.Snapshot
	Enqueue(i door.Intent) (*engine.Pending, error)
	Subscribe() *door.Cursor
	Unsubscribe(c *door.Cursor)
}

// Config holds broker settings
type Config struct {
	Broker             string
	Username           string
	Password           string
	Name               string
	Version            string
	InsecureSkipVerify bool
	ConnectPolicy      retry.Policy
}

// publishFunc sends one message; replaced in tests
type publishFunc func(m Message) error

// Client bridges the engine to an MQTT broker
type Client struct {
	cfg    Config
	ctrl   Controller
	log    *zap.SugaredLogger
	topics Topics

	client  mqtt.Client
	publish publishFunc
}

// NewClient prepares a client; nothing is sent before Run
func NewClient(cfg Config, ctrl Controller, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Client{
		cfg:    cfg,
		ctrl:   ctrl,
		log:    log,
		topics: NewTopics(cfg.Name),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID(cfg.Name))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.TLSConfig = &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	opts.SetWill(c.topics.Availability(), Offline, 1, true)
	opts.AutoReconnect = true
	opts.OnConnect = c.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warnw("MQTT connection lost", "error", err)
	}
	opts.OnReconnecting = func(mqtt.Client, *mqtt.ClientOptions) {
		log.Infow("MQTT reconnecting", "broker", cfg.Broker)
	}

	c.client = mqtt.NewClient(opts)
	c.publish = c.mqttPublish
	return c
}

// clientID is unique per process so two bridges for the same door do not
// kick each other off the broker
func clientID(name string) string {
	u, err := uuid.NewV4()
	if err != nil {
		return "garagelink-" + Slug(name)
	}
	return "garagelink-" + Slug(name) + "-" + u.String()[:8]
}

// Topics returns the client's topics
func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) mqttPublish(m Message) error {
	token := c.client.Publish(m.Topic, 1, m.Retained, m.Payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publishing %s: timeout", m.Topic)
	}
	return token.Error()
}

// onConnect runs after every (re)connect: announce, subscribe, refresh state
func (c *Client) onConnect(client mqtt.Client) {
	c.log.Infow("MQTT connected", "broker", c.cfg.Broker, "base", c.topics.Base)

	if err := c.announce(); err != nil {
		c.log.Errorw("Publishing discovery", "error", err)
	}

	for _, topic := range c.topics.CommandTopics() {
		topic := topic
		token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			c.HandleCommand(msg.Topic(), string(msg.Payload()))
		})
		if token.Wait() && token.Error() != nil {
			c.log.Errorw("Subscribing", "topic", topic, "error", token.Error())
		}
	}

	if s := c.ctrl.Snapshot(); s.Trusted {
		c.publishState(s)
	}
}

func (c *Client) announce() error {
	msgs, err := c.topics.DiscoveryMessages(c.cfg.Name, c.cfg.Version)
	if err != nil {
		return err
	}
	msgs = append(msgs, Message{Topic: c.topics.Availability(), Payload: Online, Retained: true})
	for _, m := range msgs {
		if err := c.publish(m); err != nil {
			return err
		}
	}
	return nil
}

// HandleCommand turns one command publication into a queued intent.
// Invalid commands are logged and dropped.
func (c *Client) HandleCommand(topic, payload string) {
	intent, err := c.topics.ParseCommand(topic, payload)
	if err != nil {
		c.log.Warnw("Ignoring MQTT command", "topic", topic, "payload", payload, "error", err)
		return
	}

	p, err := c.ctrl.Enqueue(intent)
	if err != nil {
		c.log.Warnw("MQTT command refused", "intent", intent.String(), "error", err)
		return
	}
	c.log.Infow("MQTT command queued", "intent", intent.String())

	go func() {
		<-p.Done()
		if r := p.Result(); r.Err != nil {
			c.log.Warnw("MQTT command failed", "intent", intent.String(), "outcome", r.Outcome.String(), "error", r.Err)
		}
	}()
}

func (c *Client) publishState(s door.Snapshot) {
	for _, m := range c.topics.StateMessages(s) {
		if err := c.publish(m); err != nil {
			c.log.Warnw("Publishing state", "topic", m.Topic, "error", err)
			return
		}
	}
}

// Follow publishes the door state on every change while the door state is
// trusted, until ctx is done.
func (c *Client) Follow(ctx context.Context) {
	cursor := c.ctrl.Subscribe()
	defer c.ctrl.Unsubscribe(cursor)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cursor.C():
			s, changed := cursor.PollChanged()
			if !changed {
				continue
			}
			if s.Trusted {
				c.publishState(s)
			} else {
				c.log.Debugw("Door untrusted, state not published")
			}
			cursor.Acknowledge()
		}
	}
}

// Run connects, keeps the state published and disconnects when ctx is done
func (c *Client) Run(ctx context.Context) error {
	err := retry.Do(ctx, c.cfg.ConnectPolicy, func(context.Context) error {
		token := c.client.Connect()
		token.Wait()
		return token.Error()
	}, func(attempt int, err error, wait time.Duration) {
		c.log.Warnw("MQTT connect failed", "attempt", attempt, "retry_in", wait, "error", err)
	})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.cfg.Broker, err)
	}

	c.Follow(ctx)

	if err := c.publish(Message{Topic: c.topics.Availability(), Payload: Offline, Retained: true}); err != nil {
		c.log.Warnw("Publishing offline", "error", err)
	}
	c.client.Disconnect(250)
	return nil
}
