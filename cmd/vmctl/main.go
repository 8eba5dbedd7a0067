/*
 * Açaí VM Controller - vmctl Entry Point
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package main

import (
	"os"

	"github.com/tecflorestal/vm-controller/cmd/vmctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
