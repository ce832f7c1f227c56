// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcp

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomStatus(rng *rand.Rand) DoorStatus {
	return DoorStatus{
		State:   DriveState(rng.Intn(int(DriveHalfOpen) + 1)),
		Current: uint8(rng.Intn(MaxHalfPercent + 1)),
		Target:  uint8(rng.Intn(MaxHalfPercent + 1)),
		Light:   rng.Intn(2) == 1,
	}
}

// TestFuzzScan_RandomBytes feeds random bytes through Scan and verifies it
// always makes progress and never reads past the buffer.
func TestFuzzScan_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		buf := make([]byte, rng.Intn(256)+1)
		rng.Read(buf)

		for len(buf) > 0 {
			_, consumed, _ := Scan(buf)
			if consumed > len(buf) {
				t.Fatalf("consumed %d > %d", consumed, len(buf))
			}
			if consumed == 0 {
				// Partial frame at the front; nothing more will arrive
				break
			}
			buf = buf[consumed:]
		}
	}
}

// TestFuzzScan_FramesInNoise interleaves valid status frames with random
// noise that contains no START byte, and expects every frame back.
func TestFuzzScan_FramesInNoise(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		var stream []byte
		var sent []DoorStatus
		for n := rng.Intn(5) + 1; n > 0; n-- {
			for k := rng.Intn(8); k > 0; k-- {
				b := byte(rng.Intn(256))
				if b == StartByte {
					b = 0x00
				}
				stream = append(stream, b)
			}
			s := randomStatus(rng)
			sent = append(sent, s)
			stream = append(stream, MustEncodePacket(NewDoorStatus(AddressDrive, s))...)
		}

		var got []DoorStatus
		for len(stream) > 0 {
			p, consumed, err := Scan(stream)
			if err != nil {
				t.Fatalf("round %d: unexpected error %v", i, err)
			}
			if consumed == 0 {
				break
			}
			stream = stream[consumed:]
			if p == nil {
				continue
			}
			m := p.PayloadMap()
			state, _ := GetMapUint(m, 0)
			current, _ := GetMapUint(m, 1)
			target, _ := GetMapUint(m, 2)
			light, _ := GetMapBool(m, 3)
			got = append(got, DoorStatus{State: DriveState(state), Current: uint8(current), Target: uint8(target), Light: light})
		}

		if len(got) != len(sent) {
			t.Fatalf("round %d: decoded %d frames, sent %d", i, len(got), len(sent))
		}
		for k := range sent {
			if got[k] != sent[k] {
				t.Errorf("round %d frame %d: got %+v, want %+v", i, k, got[k], sent[k])
			}
		}
	}
}

// TestFuzzDecoder_CorruptedPackets corrupts random bytes of valid frames and
// verifies the decoder recovers for the next valid frame.
func TestFuzzDecoder_CorruptedPackets(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		corrupt := MustEncodePacket(NewDoorStatus(AddressDrive, randomStatus(rng)))
		for n := rng.Intn(3) + 1; n > 0; n-- {
			corrupt[rng.Intn(len(corrupt))] = byte(rng.Intn(256))
		}
		for _, b := range corrupt {
			d.DecodeByte(b)
		}

		good := NewLightStatus(AddressDrive, true)
		var decoded *Packet
		for _, b := range MustEncodePacket(good) {
			p, _ := d.DecodeByte(b)
			if p != nil {
				decoded = p
			}
		}
		if decoded == nil || decoded.Type() != MsgLightStatus {
			t.Fatalf("round %d: decoder did not recover after corrupted frame %X", i, corrupt)
		}
	}
}

// TestFuzzValidation_RandomPayloads runs random payload maps through the
// validator and formatter and verifies neither panics.
func TestFuzzValidation_RandomPayloads(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	types := []uint8{MsgDoorCommand, MsgPositionCommand, MsgLightCommand, MsgStatusRequest,
		MsgDoorStatus, MsgLightStatus, MsgPanelBeacon, MsgErrorInvalidCmd, 0x99}

	for i := 0; i < rounds; i++ {
		payload := make(map[int]interface{})
		for n := rng.Intn(6); n > 0; n-- {
			key := rng.Intn(6)
			switch rng.Intn(3) {
			case 0:
				payload[key] = uint64(rng.Intn(300))
			case 1:
				payload[key] = int64(-rng.Intn(10))
			case 2:
				payload[key] = rng.Intn(2) == 1
			}
		}
		p := NewPacketWithPayload(uint8(rng.Intn(256)), types[rng.Intn(len(types))], payload)
		ValidatePacket(p)
		FormatPacket(p)
	}
}
