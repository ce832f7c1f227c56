// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// garagelink - Garage door bus controller
//
// Talks to a garage door operator over its half-duplex control bus, keeps a
// live model of the door and serves it over HTTP and MQTT. Also a CLI for
// monitoring and decoding bus frames in human-readable format.

package main

import (
	"os"

	"github.com/pandagarage/garagelink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
