// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package bus

import "errors"

// GPIOLine is only available on Linux
type GPIOLine struct{}

// OpenGPIOLine fails outside Linux, which has no GPIO character devices
func OpenGPIOLine(chip string, offset int) (*GPIOLine, error) {
	return nil, errors.New("GPIO direction control requires Linux")
}

func (g *GPIOLine) SetTransmit(bool) error { return nil }
func (g *GPIOLine) Close() error           { return nil }
