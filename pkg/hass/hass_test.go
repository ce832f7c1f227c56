// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hass

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandagarage/garagelink/pkg/door"
	"github.com/pandagarage/garagelink/pkg/engine"
)

func TestSlug(t *testing.T) {
	assert.Equal(t, "garage", Slug("Garage"))
	assert.Equal(t, "back_shed_2", Slug(" Back Shed 2 "))
	assert.Equal(t, "garage", Slug(""))
}

func TestTopics(t *testing.T) {
	tp := NewTopics("Garage")
	assert.Equal(t, "pandagarage/garage/status", tp.Availability())
	assert.Equal(t, "pandagarage/garage/cover/position/set", tp.PositionSet())
	assert.Len(t, tp.CommandTopics(), 6)
}

func TestParseCommand(t *testing.T) {
	tp := NewTopics("garage")
	tests := []struct {
		topic   string
		payload string
		want    door.Intent
	}{
		{tp.CoverSet(), "open", door.OpenDoor()},
		{tp.CoverSet(), "CLOSE", door.CloseDoor()},
		{tp.CoverSet(), "stop", door.StopDoor()},
		{tp.PositionSet(), "37", door.SetPosition(37)},
		{tp.LightSet(), "ON", door.SetLight(true)},
		{tp.LightSet(), "off", door.SetLight(false)},
		{tp.VentSet(), "PRESS", door.VentDoor()},
		{tp.HalfSet(), "PRESS", door.HalfOpenDoor()},
		{tp.ToggleSet(), "PRESS", door.ToggleDoor()},
	}
	for _, tt := range tests {
		got, err := tp.ParseCommand(tt.topic, tt.payload)
		require.NoError(t, err, "%s %s", tt.topic, tt.payload)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseCommand_Invalid(t *testing.T) {
	tp := NewTopics("garage")
	for _, c := range [][2]string{
		{tp.CoverSet(), "lift"},
		{tp.PositionSet(), "101"},
		{tp.PositionSet(), "high"},
		{tp.LightSet(), "dim"},
		{"elsewhere/set", "open"},
	} {
		_, err := tp.ParseCommand(c[0], c[1])
		assert.ErrorIs(t, err, door.ErrInvalidIntent, "%v", c)
	}
}

func TestStateMessages(t *testing.T) {
	tp := NewTopics("garage")
	msgs := tp.StateMessages(door.Snapshot{State: door.HalfOpen, Current: 0.5, Target: 0.5, Light: true, Trusted: true})
	require.Len(t, msgs, 3)
	assert.Equal(t, Message{Topic: tp.CoverState(), Payload: "open", Retained: true}, msgs[0])
	assert.Equal(t, "50", msgs[1].Payload)
	assert.Equal(t, "ON", msgs[2].Payload)
}

func TestDiscoveryMessages(t *testing.T) {
	tp := NewTopics("Garage")
	msgs, err := tp.DiscoveryMessages("Garage", "1.0.0")
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	assert.Equal(t, "homeassistant/cover/garage/door/config", msgs[0].Topic)
	var cover map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Payload), &cover))
	assert.Equal(t, "garage", cover["device_class"])
	assert.Equal(t, tp.CoverSet(), cover["command_topic"])
	assert.Equal(t, tp.Availability(), cover["availability_topic"])

	for _, m := range msgs {
		assert.True(t, m.Retained)
	}
}

// fakeController queues intents into a real feed
type fakeController struct {
	feed    *door.Feed
	machine *door.Machine

	mu     sync.Mutex
	queued []door.Intent
	err    error
}

func newFakeController() *fakeController {
	feed := door.NewFeed()
	return &fakeController{feed: feed, machine: door.NewMachine(feed)}
}

func (f *fakeController) Snapshot() door.Snapshot    { return f.feed.Latest() }
func (f *fakeController) Subscribe() *door.Cursor    { return f.feed.Subscribe() }
func (f *fakeController) Unsubscribe(c *door.Cursor) { f.feed.Unsubscribe(c) }

func (f *fakeController) Enqueue(i door.Intent) (*engine.Pending, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.queued = append(f.queued, i)
	return &engine.Pending{Intent: i}, nil
}

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) publish(m Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func newTestClient(ctrl Controller) (*Client, *recorder) {
	c := NewClient(Config{Broker: "tcp://localhost:1883", Name: "garage"}, ctrl, nil)
	rec := &recorder{}
	c.publish = rec.publish
	return c, rec
}

func TestHandleCommand_Queues(t *testing.T) {
	ctrl := newFakeController()
	c, _ := newTestClient(ctrl)

	c.HandleCommand(c.Topics().PositionSet(), "40")
	c.HandleCommand(c.Topics().LightSet(), "ON")
	assert.Equal(t, []door.Intent{door.SetPosition(40), door.SetLight(true)}, ctrl.queued)
}

func TestHandleCommand_Refused(t *testing.T) {
	ctrl := newFakeController()
	ctrl.err = engine.ErrUntrusted
	c, _ := newTestClient(ctrl)

	c.HandleCommand(c.Topics().CoverSet(), "open")
	c.HandleCommand(c.Topics().CoverSet(), "sideways")
	assert.Empty(t, ctrl.queued)
}

func TestFollow_PublishesOnlyTrustedChanges(t *testing.T) {
	ctrl := newFakeController()
	c, rec := newTestClient(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Follow(ctx)
		close(done)
	}()

	// Give Follow time to subscribe before publishing
	time.Sleep(20 * time.Millisecond)
	now := time.Now()
	ctrl.machine.ApplyFrame(door.Frame{Kind: door.FrameStatus, State: door.Closed}, now)

	require.Eventually(t, func() bool { return len(rec.Messages()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "closed", rec.Messages()[0].Payload)

	ctrl.machine.Expire(now.Add(time.Minute), time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.Messages(), 3)

	cancel()
	<-done
}
