/*
 * Açaí VM Controller - Configuration Management
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package config

import (
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/tecflorestal/vm-controller/internal/errors"
)

// Config holds all controller configuration
type Config struct {
	// Server configuration
	Port   string `json:"port"`
	Host   string `json:"host"`
	Debug  bool   `json:"debug"`
	LogDir string `json:"log_dir"`

	// Instance identity, resolved once at startup and never mutated
	ProjectID string `json:"project_id"`
	Zone      string `json:"zone"`
	VMName    string `json:"vm_name"`

	// Operation timing
	OperationTimeout   time.Duration `json:"operation_timeout"`
	StalenessThreshold time.Duration `json:"staleness_threshold"`
	PollInterval       time.Duration `json:"poll_interval"`
	SyncWait           time.Duration `json:"sync_wait"`

	// Workload VM backend for connection info and the ML proxy
	MLBackendURL string `json:"ml_backend_url"`

	// Optional lifecycle event publishing
	NATSURL string `json:"nats_url"`
}

// The hosting platform enforces a 3600s request timeout; operation deadlines
// must stay inside it.
const maxOperationTimeout = 3600 * time.Second

// NewConfig creates a new configuration with sensible defaults
func NewConfig() *Config {
	return &Config{
		// Server defaults
		Port:   "8080",
		Host:   "0.0.0.0",
		Debug:  false,
		LogDir: "",

		// Instance defaults
		Zone:   "us-central1-a",
		VMName: "acai-detector-vm",

		// Timing defaults
		OperationTimeout:   10 * time.Minute,
		StalenessThreshold: 60 * time.Second,
		PollInterval:       2 * time.Second,
		SyncWait:           2 * time.Second,

		MLBackendURL: "https://vm-yolo.tecflorestal.dev",
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		c.Port = port
	}

	if host := os.Getenv("HOST"); host != "" {
		c.Host = host
	}

	if debug := os.Getenv("CONTROLLER_DEBUG"); debug == "true" || debug == "1" {
		c.Debug = true
	}

	if logDir := os.Getenv("CONTROLLER_LOG_DIR"); logDir != "" {
		c.LogDir = logDir
	}

	if project := os.Getenv("GCP_PROJECT_ID"); project != "" {
		c.ProjectID = project
	}

	if zone := os.Getenv("VM_ZONE"); zone != "" {
		c.Zone = zone
	}

	if name := os.Getenv("VM_NAME"); name != "" {
		c.VMName = name
	}

	if backend := os.Getenv("ML_BACKEND_URL"); backend != "" {
		c.MLBackendURL = backend
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATSURL = natsURL
	}

	// Malformed timing values are a fatal startup error, never silently
	// replaced by defaults.
	if v := os.Getenv("VM_OPERATION_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return errors.NewConfigurationError("load_env", "VM_OPERATION_TIMEOUT must be a positive number of seconds")
		}
		c.OperationTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("VM_STATUS_MAX_AGE"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return errors.NewConfigurationError("load_env", "VM_STATUS_MAX_AGE must be a positive number of seconds")
		}
		c.StalenessThreshold = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("VM_POLL_INTERVAL"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return errors.NewConfigurationError("load_env", "VM_POLL_INTERVAL must be a positive number of seconds")
		}
		c.PollInterval = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("VM_SYNC_WAIT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			return errors.NewConfigurationError("load_env", "VM_SYNC_WAIT must be a non-negative number of seconds")
		}
		c.SyncWait = time.Duration(secs) * time.Second
	}

	return nil
}

// Validate validates the configuration. Missing or invalid values are a
// fatal startup error, not a runtime fault.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return errors.NewConfigurationError("validate", "GCP_PROJECT_ID is required")
	}

	if c.Zone == "" {
		return errors.NewConfigurationError("validate", "zone cannot be empty")
	}

	if c.VMName == "" {
		return errors.NewConfigurationError("validate", "vm name cannot be empty")
	}

	if c.Port == "" {
		return errors.NewConfigurationError("validate", "port cannot be empty")
	}

	if c.OperationTimeout <= 0 || c.OperationTimeout > maxOperationTimeout {
		return errors.NewConfigurationError("validate", "operation timeout must be within the platform request timeout")
	}

	if c.PollInterval <= 0 {
		return errors.NewConfigurationError("validate", "poll interval must be positive")
	}

	if c.MLBackendURL != "" {
		u, err := url.Parse(c.MLBackendURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.NewConfigurationError("validate", "ml backend url must be an absolute http(s) URL")
		}
	}

	return nil
}

// GetLogLevel returns the configured log level
func (c *Config) GetLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return "info"
}
