/*
 * Açaí VM Controller - HTTP Models
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package models

import (
	"time"
)

// HTTPResponse represents a standardized API response
type HTTPResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// NewSuccessResponse creates a standardized success response
func NewSuccessResponse(data interface{}) *HTTPResponse {
	return &HTTPResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// NewErrorResponse creates a standardized error response
func NewErrorResponse(message string) *HTTPResponse {
	return &HTTPResponse{
		Success:   false,
		Error:     message,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// ServiceInfo is the root endpoint payload
type ServiceInfo struct {
	Message string `json:"message"`
	Version string `json:"version"`
	Project string `json:"project_id"`
	Zone    string `json:"zone"`
	VMName  string `json:"vm_name"`
}

// StatusResponse is the /vm/status payload
type StatusResponse struct {
	Phase          Phase   `json:"phase"`
	ProviderStatus string  `json:"provider_status,omitempty"`
	AgeSeconds     float64 `json:"age_seconds"`
	AgeUnbounded   bool    `json:"age_unbounded"`
	Stale          bool    `json:"stale"`
	Generation     uint64  `json:"generation"`
	LastError      string  `json:"last_error,omitempty"`
}

// OperationStatusResponse is the /vm/operations/{id} payload
type OperationStatusResponse struct {
	OperationID   string `json:"operation_id"`
	Status        string `json:"status"`
	Progress      int32  `json:"progress"`
	OperationType string `json:"operation_type,omitempty"`
	TargetLink    string `json:"target_link,omitempty"`
	InsertTime    string `json:"insert_time,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
}

// ConnectionInfoResponse is the /vm/connection-info payload. The frontend
// uses it to upload directly to the workload VM instead of going through
// the proxy.
type ConnectionInfoResponse struct {
	Status    string `json:"status"`
	VMIP      string `json:"vm_ip"`
	VMPort    int    `json:"vm_port"`
	UploadURL string `json:"upload_url"`
	HealthURL string `json:"health_url"`
	DocsURL   string `json:"docs_url"`
	Message   string `json:"message"`
}
