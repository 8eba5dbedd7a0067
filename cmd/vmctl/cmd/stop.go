/*
 * Açaí VM Controller - Stop Command
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the managed VM",
	Long: `Request an instance stop. Repeated stops are safe: a request that
matches an in-flight stop joins it, and a VM that is already stopped is
reported as such without touching the provider.`,
	RunE:         runStop,
	SilenceUsage: true,
}

func runStop(cmd *cobra.Command, args []string) error {
	envelope, status, err := callController("POST", "/vm/stop")
	if err != nil {
		return err
	}

	switch status {
	case http.StatusAccepted:
		fmt.Println("Stop accepted:")
	case http.StatusOK:
		fmt.Println("VM already stopped:")
	case http.StatusConflict:
		fmt.Println("Conflict: a start is in flight, retry after it completes")
	default:
		fmt.Printf("Stop failed (HTTP %d): %s\n", status, envelope.Error)
	}

	if envelope.Data != nil {
		printData(envelope.Data)
	}

	if status >= 400 {
		return fmt.Errorf("stop request failed")
	}
	return nil
}
