/*
 * Açaí VM Controller - Status Command
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:          "status",
	Short:        "Show the VM lifecycle status",
	RunE:         runStatus,
	SilenceUsage: true,
}

func runStatus(cmd *cobra.Command, args []string) error {
	envelope, status, err := callController("GET", "/vm/status")
	if err != nil {
		return err
	}

	if status >= 400 {
		return fmt.Errorf("status query failed (HTTP %d): %s", status, envelope.Error)
	}

	printData(envelope.Data)
	return nil
}
