// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOLine drives transmit enable from a GPIO character device line
type GPIOLine struct {
	line *gpiocdev.Line
}

// OpenGPIOLine requests offset on chip (for example "gpiochip0") as an
// output, initially receiving.
func OpenGPIOLine(chip string, offset int) (*GPIOLine, error) {
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("garagelink"))
	if err != nil {
		return nil, fmt.Errorf("failed to request GPIO line %s/%d: %w", chip, offset, err)
	}
	return &GPIOLine{line: line}, nil
}

// SetTransmit drives the line high while transmitting
func (g *GPIOLine) SetTransmit(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return g.line.SetValue(v)
}

// Close drives the line low and releases it
func (g *GPIOLine) Close() error {
	_ = g.line.SetValue(0)
	return g.line.Close()
}
