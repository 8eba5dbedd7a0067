/*
 * Açaí VM Controller - Start Command
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the managed VM",
	Long: `Request an instance start. Repeated starts are safe: a request that
matches an in-flight start joins it, and a VM that is already running is
reported as such without touching the provider.`,
	RunE:         runStart,
	SilenceUsage: true,
}

func runStart(cmd *cobra.Command, args []string) error {
	envelope, status, err := callController("POST", "/vm/start")
	if err != nil {
		return err
	}

	switch status {
	case http.StatusAccepted:
		fmt.Println("Start accepted:")
	case http.StatusOK:
		fmt.Println("VM already started:")
	case http.StatusConflict:
		fmt.Println("Conflict: a stop is in flight, retry after it completes")
	default:
		fmt.Printf("Start failed (HTTP %d): %s\n", status, envelope.Error)
	}

	if envelope.Data != nil {
		printData(envelope.Data)
	}

	if status >= 400 {
		return fmt.Errorf("start request failed")
	}
	return nil
}
