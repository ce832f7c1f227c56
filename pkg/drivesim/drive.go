// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package drivesim simulates a door operator unit on the bus. A Drive is
// an io.ReadWriteCloser: command frames written to it are executed, and
// the status frames it broadcasts are read from it.
package drivesim

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pandagarage/garagelink/pkg/hcp"
)

// Positions in half-percent steps
const (
	VentPosition = 16
	HalfPosition = hcp.MaxHalfPercent / 2
)

// Config tunes the simulated drive
type Config struct {
	Interval time.Duration // between DOOR_STATUS broadcasts
	Step     uint8         // half-percent travelled per interval
	Address  uint8
	Open     bool // start fully open instead of closed
}

// DefaultConfig travels end to end in five seconds
func DefaultConfig() Config {
	return Config{
		Interval: 100 * time.Millisecond,
		Step:     4,
		Address:  hcp.AddressDrive,
	}
}

// Drive is a simulated door operator unit
type Drive struct {
	cfg Config
	log *zap.SugaredLogger

	mu      sync.Mutex
	cond    *sync.Cond
	out     []byte
	closed  bool
	link    bool
	decoder *hcp.Decoder

	status  hcp.DoorStatus
	arrival hcp.DriveState // state reported once the target is reached
	handled int

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a drive. Call Start to begin broadcasting.
func New(cfg Config, log *zap.SugaredLogger) *Drive {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Step == 0 {
		cfg.Step = DefaultConfig().Step
	}
	if cfg.Address == 0 {
		cfg.Address = hcp.AddressDrive
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	d := &Drive{
		cfg:     cfg,
		log:     log,
		link:    true,
		decoder: hcp.NewDecoder(),
		stop:    make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	d.status = hcp.DoorStatus{State: hcp.DriveClosed}
	if cfg.Open {
		d.status = hcp.DoorStatus{State: hcp.DriveOpen, Current: hcp.MaxHalfPercent, Target: hcp.MaxHalfPercent}
	}
	return d
}

// Start runs the broadcast loop until ctx is done or the drive is closed
func (d *Drive) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			case <-ticker.C:
				d.Tick()
			}
		}
	}()
}

// Read blocks until broadcast bytes are available
func (d *Drive) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.out) == 0 && !d.closed {
		d.cond.Wait()
	}
	if len(d.out) == 0 {
		return 0, io.EOF
	}
	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}

// Write feeds bytes from the bus into the drive's decoder
func (d *Drive) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	for _, b := range p {
		packet, err := d.decoder.DecodeByte(b)
		if err != nil {
			d.log.Debugw("Simulator dropped frame", "error", err)
			continue
		}
		if packet != nil {
			d.handle(packet)
		}
	}
	return len(p), nil
}

// Close stops the broadcast loop and unblocks readers
func (d *Drive) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.stop)
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

// Tick moves the door one step and broadcasts DOOR_STATUS
func (d *Drive) Tick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.move()
	d.broadcastStatus()
}

func (d *Drive) move() {
	s := &d.status
	if s.State != hcp.DriveOpening && s.State != hcp.DriveClosing {
		return
	}

	step := d.cfg.Step
	switch {
	case s.Current < s.Target:
		if s.Target-s.Current <= step {
			s.Current = s.Target
		} else {
			s.Current += step
		}
	case s.Current > s.Target:
		if s.Current-s.Target <= step {
			s.Current = s.Target
		} else {
			s.Current -= step
		}
	}

	if s.Current == s.Target {
		s.State = d.arrival
	}
}

// handle executes one decoded frame. Called with mu held.
func (d *Drive) handle(p *hcp.Packet) {
	if p.Address() == d.cfg.Address {
		return
	}

	switch p.Type() {
	case hcp.MsgDoorCommand, hcp.MsgPositionCommand, hcp.MsgLightCommand, hcp.MsgStatusRequest:
	default:
		// status traffic and beacons from other stations
		return
	}

	if p.ParseError() != nil || len(hcp.ValidatePacket(p)) > 0 {
		d.log.Debugw("Simulator rejected command", "type", hcp.FormatMessageType(p.Type()))
		d.emit(hcp.NewErrorInvalidCmd(d.cfg.Address, p.Type()))
		return
	}

	d.handled++
	m := p.PayloadMap()
	switch p.Type() {
	case hcp.MsgDoorCommand:
		action, _ := hcp.GetMapUint(m, 0)
		d.doorAction(hcp.DoorAction(action))
		d.broadcastStatus()
	case hcp.MsgPositionCommand:
		pos, _ := hcp.GetMapUint(m, 0)
		d.travel(uint8(pos), positionArrival(uint8(pos)))
		d.broadcastStatus()
	case hcp.MsgLightCommand:
		mode, _ := hcp.GetMapUint(m, 0)
		d.lightMode(hcp.LightMode(mode))
	case hcp.MsgStatusRequest:
		d.broadcastStatus()
	}
}

func (d *Drive) doorAction(a hcp.DoorAction) {
	s := &d.status
	switch a {
	case hcp.ActionStop:
		d.halt()
	case hcp.ActionOpen:
		d.travel(hcp.MaxHalfPercent, hcp.DriveOpen)
	case hcp.ActionClose:
		d.travel(0, hcp.DriveClosed)
	case hcp.ActionImpuls:
		switch {
		case s.State == hcp.DriveOpening || s.State == hcp.DriveClosing:
			d.halt()
		case s.Current == 0:
			d.travel(hcp.MaxHalfPercent, hcp.DriveOpen)
		default:
			d.travel(0, hcp.DriveClosed)
		}
	case hcp.ActionVent:
		d.travel(VentPosition, hcp.DriveVenting)
	case hcp.ActionHalf:
		d.travel(HalfPosition, hcp.DriveHalfOpen)
	}
}

func (d *Drive) halt() {
	s := &d.status
	if s.State == hcp.DriveOpening || s.State == hcp.DriveClosing {
		s.State = hcp.DriveStopped
	}
	s.Target = s.Current
}

func (d *Drive) travel(target uint8, arrival hcp.DriveState) {
	s := &d.status
	s.Target = target
	s.Error = hcp.DriveErrorNone
	d.arrival = arrival
	switch {
	case target > s.Current:
		s.State = hcp.DriveOpening
	case target < s.Current:
		s.State = hcp.DriveClosing
	default:
		s.State = arrival
	}
}

func positionArrival(pos uint8) hcp.DriveState {
	switch pos {
	case 0:
		return hcp.DriveClosed
	case hcp.MaxHalfPercent:
		return hcp.DriveOpen
	default:
		return hcp.DriveStopped
	}
}

func (d *Drive) lightMode(mode hcp.LightMode) {
	switch mode {
	case hcp.LightOff:
		d.status.Light = false
	case hcp.LightOn:
		d.status.Light = true
	case hcp.LightToggle:
		d.status.Light = !d.status.Light
	}
	d.emit(hcp.NewLightStatus(d.cfg.Address, d.status.Light))
}

func (d *Drive) broadcastStatus() {
	d.emit(hcp.NewDoorStatus(d.cfg.Address, d.status))
}

// emit queues a frame for readers. Called with mu held.
func (d *Drive) emit(p *hcp.Packet) {
	if !d.link || d.closed {
		return
	}
	frame, err := hcp.EncodePacket(p)
	if err != nil {
		d.log.Errorw("Simulator encode failed", "error", err)
		return
	}
	d.out = append(d.out, frame...)
	d.cond.Broadcast()
}

// Status returns the drive's current DOOR_STATUS fields
func (d *Drive) Status() hcp.DoorStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Handled returns the number of valid commands executed
func (d *Drive) Handled() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handled
}

// SetLink connects or silences the drive. A silenced drive keeps moving
// but puts nothing on the bus.
func (d *Drive) SetLink(up bool) {
	d.mu.Lock()
	d.link = up
	d.mu.Unlock()
}

// Fault stops the door and reports a drive error code until the next
// motion command.
func (d *Drive) Fault(code uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.halt()
	d.status.Error = code
	d.broadcastStatus()
}

// InjectNoise puts raw bytes on the bus
func (d *Drive) InjectNoise(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.link || d.closed {
		return
	}
	d.out = append(d.out, b...)
	d.cond.Broadcast()
}

// InjectBeacon puts a wall panel keep-alive on the bus
func (d *Drive) InjectBeacon() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emit(hcp.NewPanelBeacon(hcp.AddressPanel))
}

// InjectPanelCommand simulates a wall panel button: the panel's command
// frame appears on the bus and the drive executes it.
func (d *Drive) InjectPanelCommand(a hcp.DoorAction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := hcp.NewDoorCommand(hcp.AddressPanel, a)
	d.emit(p)
	d.handle(p)
}
