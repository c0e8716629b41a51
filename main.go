// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// datecs-bridge - Datecs Fiscal Printer Bridge
//
// Exposes Datecs fiscal printers on serial ports as a local HTTP API, with
// per-device identity checks and CLI tools for talking to the devices
// directly.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/datecs-bridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
		os.Exit(cmd.ExitCode(err))
	}
}
