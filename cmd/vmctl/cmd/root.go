/*
 * Açaí VM Controller - Root Command
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tecflorestal/vm-controller/internal/models"
)

var (
	serverURL string
	timeout   time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmctl",
	Short: "vmctl – Control the Açaí detector VM",
	Long: `vmctl talks to a running VM controller over HTTP to start, stop and
inspect the managed Compute Engine instance.

The controller URL defaults to http://localhost:8080 and can be overridden
with --server or the VMCTL_SERVER environment variable.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultServer := os.Getenv("VMCTL_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "Controller base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
}

// callController issues one request against the controller and decodes the
// response envelope. The data payload is returned raw for the caller to print.
func callController(method, path string) (*models.HTTPResponse, int, error) {
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequest(method, serverURL+path, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("controller unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var envelope models.HTTPResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("unexpected response: %s", string(body))
	}

	return &envelope, resp.StatusCode, nil
}

// printData pretty-prints the data payload of a response envelope
func printData(data interface{}) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Println(data)
		return
	}
	fmt.Println(string(out))
}
