// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package door

import "sync"

// Feed holds the latest published snapshot and the cursors following it.
// Publish is called by the single writer; every other method is safe from
// any goroutine.
type Feed struct {
	mu      sync.Mutex
	latest  Snapshot
	cursors map[*Cursor]struct{}
}

// NewFeed creates a feed holding the untrusted initial snapshot
func NewFeed() *Feed {
	return &Feed{
		latest:  Snapshot{State: Unknown, Label: Unknown.String()},
		cursors: make(map[*Cursor]struct{}),
	}
}

// Publish replaces the latest snapshot and wakes every cursor
func (f *Feed) Publish(s Snapshot) {
	f.mu.Lock()
	f.latest = s
	for c := range f.cursors {
		c.wake()
	}
	f.mu.Unlock()
}

// Latest returns the most recently published snapshot
func (f *Feed) Latest() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

// Subscribe returns a cursor positioned at the current revision, so its
// first PollChanged reports only later changes.
func (f *Feed) Subscribe() *Cursor {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &Cursor{
		feed:   f,
		polled: f.latest.Revision,
		acked:  f.latest.Revision,
		ch:     make(chan struct{}, 1),
	}
	f.cursors[c] = struct{}{}
	return c
}

// Unsubscribe stops waking c. Polling c afterwards still works.
func (f *Feed) Unsubscribe(c *Cursor) {
	f.mu.Lock()
	delete(f.cursors, c)
	f.mu.Unlock()
}

// Cursor is one consumer's position in the feed
type Cursor struct {
	feed *Feed

	mu     sync.Mutex
	polled uint64
	acked  uint64

	ch chan struct{}
}

func (c *Cursor) wake() {
	select {
	case c.ch <- struct{}{}:
	default:
	}
}

// C returns a channel that receives after each publication. Wake-ups are
// coalesced; always drain with PollChanged.
func (c *Cursor) C() <-chan struct{} {
	return c.ch
}

// PollChanged returns the latest snapshot and true when its revision has
// not been returned by this cursor before.
func (c *Cursor) PollChanged() (Snapshot, bool) {
	s := c.feed.Latest()

	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Revision == c.polled {
		return s, false
	}
	c.polled = s.Revision
	return s, true
}

// Acknowledge marks the last polled revision as delivered. Repeated calls
// are harmless.
func (c *Cursor) Acknowledge() {
	c.mu.Lock()
	c.acked = c.polled
	c.mu.Unlock()
}

// Changed reports whether a revision newer than the last acknowledged one
// has been published.
func (c *Cursor) Changed() bool {
	rev := c.feed.Latest().Revision

	c.mu.Lock()
	defer c.mu.Unlock()
	return rev != c.acked
}
