/*
 * Açaí VM Controller - Health Command
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:          "health",
	Short:        "Check controller liveness",
	RunE:         runHealth,
	SilenceUsage: true,
}

func runHealth(cmd *cobra.Command, args []string) error {
	envelope, status, err := callController("GET", "/health")
	if err != nil {
		return err
	}

	if status >= 400 {
		return fmt.Errorf("controller unhealthy (HTTP %d): %s", status, envelope.Error)
	}

	printData(envelope.Data)
	return nil
}
