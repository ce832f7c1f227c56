// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandagarage/garagelink/pkg/bus"
	"github.com/pandagarage/garagelink/pkg/door"
	"github.com/pandagarage/garagelink/pkg/drivesim"
	"github.com/pandagarage/garagelink/pkg/hcp"
)

func TestEngine_DrivesSimulatedDoor(t *testing.T) {
	if testing.Short() {
		t.Skip("runs in real time")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	drive := drivesim.New(drivesim.Config{Interval: 20 * time.Millisecond, Step: 20}, nil)
	drive.Start(ctx)
	defer drive.Close()

	transport := bus.New(drive, bus.NoLine{}, bus.Config{QuietInterval: time.Millisecond}, nil)
	transport.Start(ctx)
	defer transport.Close()

	cfg := DefaultConfig()
	cfg.CycleInterval = 2 * time.Millisecond
	eng := New(transport, hcp.NewCodec(), cfg, nil)
	go eng.Run(ctx)

	require.Eventually(t, eng.IsTrusted, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, door.Closed, eng.Snapshot().State)

	cursor := eng.Subscribe()
	defer eng.Unsubscribe(cursor)

	// Two consumers submit at once; the engine serialises them
	var wg sync.WaitGroup
	results := make([]Result, 2)
	intents := []door.Intent{door.SetLight(true), door.OpenDoor()}
	for i, in := range intents {
		wg.Add(1)
		go func(i int, in door.Intent) {
			defer wg.Done()
			results[i], _ = eng.Submit(ctx, in)
		}(i, in)
	}
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, Completed, r.Outcome, "intent %s: %v", intents[i], r.Err)
		assert.False(t, r.Noop)
	}
	assert.Equal(t, 2, drive.Handled())
	assert.Equal(t, uint64(2), eng.Stats().Transmissions.Load())

	// Open again while opening or open sends nothing
	r, err := eng.Submit(ctx, door.OpenDoor())
	require.NoError(t, err)
	assert.True(t, r.Noop)
	assert.Equal(t, 2, drive.Handled())

	require.Eventually(t, func() bool {
		return eng.Snapshot().State == door.Open
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, eng.Snapshot().Light)
	assert.Equal(t, 100, eng.Snapshot().CurrentPercent())
	assert.True(t, cursor.Changed())

	// Closing from open goes through closing to closed
	r, err = eng.Submit(ctx, door.CloseDoor())
	require.NoError(t, err)
	assert.Equal(t, Completed, r.Outcome)
	require.Eventually(t, func() bool {
		return eng.Snapshot().State == door.Closed
	}, 5*time.Second, 10*time.Millisecond)

	// A silent drive loses trust and commands are refused
	drive.SetLink(false)
	require.Eventually(t, func() bool { return !eng.IsTrusted() }, cfg.SilenceWindow+2*time.Second, 20*time.Millisecond)
	_, err = eng.Enqueue(door.OpenDoor())
	assert.ErrorIs(t, err, ErrUntrusted)
}
