// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package door

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_PollChangedOncePerRevision(t *testing.T) {
	feed := NewFeed()
	m := NewMachine(feed)
	c := feed.Subscribe()

	_, changed := c.PollChanged()
	assert.False(t, changed, "nothing published yet")

	m.ApplyFrame(status(Closed, 0, 0), t0)
	_, changed = c.PollChanged()
	assert.True(t, changed)
	_, changed = c.PollChanged()
	assert.False(t, changed, "second poll without a change")
}

func TestCursor_AcknowledgeIsIdempotent(t *testing.T) {
	feed := NewFeed()
	m := NewMachine(feed)
	c := feed.Subscribe()

	m.ApplyFrame(status(Closed, 0, 0), t0)
	assert.True(t, c.Changed())

	c.PollChanged()
	assert.True(t, c.Changed(), "polled but not acknowledged")
	c.Acknowledge()
	c.Acknowledge()
	assert.False(t, c.Changed())

	m.ApplyFrame(status(Opening, 0.1, 1), t0)
	assert.True(t, c.Changed())
}

func TestCursor_IndependentConsumers(t *testing.T) {
	feed := NewFeed()
	m := NewMachine(feed)
	a := feed.Subscribe()
	b := feed.Subscribe()

	m.ApplyFrame(status(Closed, 0, 0), t0)
	_, changed := a.PollChanged()
	require.True(t, changed)

	s, changed := b.PollChanged()
	require.True(t, changed, "b has its own cursor")
	assert.Equal(t, Closed, s.State)
}

func TestCursor_SubscribeStartsAtCurrentRevision(t *testing.T) {
	feed := NewFeed()
	m := NewMachine(feed)
	m.ApplyFrame(status(Closed, 0, 0), t0)

	c := feed.Subscribe()
	_, changed := c.PollChanged()
	assert.False(t, changed)
	assert.False(t, c.Changed())
}

func TestCursor_WakeChannel(t *testing.T) {
	feed := NewFeed()
	m := NewMachine(feed)
	c := feed.Subscribe()

	done := make(chan Snapshot)
	go func() {
		<-c.C()
		s, _ := c.PollChanged()
		done <- s
	}()

	m.ApplyFrame(status(Open, 1, 1), t0)
	select {
	case s := <-done:
		assert.Equal(t, Open, s.State)
	case <-time.After(time.Second):
		t.Fatal("cursor was not woken")
	}

	feed.Unsubscribe(c)
	m.ApplyFrame(status(Closing, 0.9, 0), t0)
	select {
	case <-c.C():
		t.Fatal("unsubscribed cursor was woken")
	default:
	}
}

func TestFeed_ConcurrentReaders(t *testing.T) {
	feed := NewFeed()
	m := NewMachine(feed)

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := feed.Subscribe()
			defer feed.Unsubscribe(c)
			var last uint64
			for i := 0; i < 200; i++ {
				s, ok := c.PollChanged()
				if ok {
					assert.Greater(t, s.Revision, last)
					assert.Equal(t, s.State.String(), s.Label, "snapshot is never torn")
					last = s.Revision
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		m.ApplyFrame(status(Opening, float64(i%100)/100, 1), t0.Add(time.Duration(i)*time.Millisecond))
	}
	wg.Wait()
}
