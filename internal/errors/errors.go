/*
 * Açaí VM Controller - Error Handling
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package errors

import (
	"errors"
	"fmt"
)

// Error types for categorizing controller failures
type ErrorType string

const (
	ErrTypeConfiguration     ErrorType = "configuration"
	ErrTypeConflict          ErrorType = "conflict"
	ErrTypeProviderTransient ErrorType = "provider_transient"
	ErrTypeProviderPermanent ErrorType = "provider_permanent"
	ErrTypeInconclusive      ErrorType = "inconclusive"
	ErrTypeStaleState        ErrorType = "stale_state"
	ErrTypeInternal          ErrorType = "internal"
)

// ControllerError represents a custom application error with context
type ControllerError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Operation string                 `json:"operation"`
	Component string                 `json:"component,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *ControllerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause for error wrapping
func (e *ControllerError) Unwrap() error {
	return e.Cause
}

// New creates a new ControllerError
func New(errType ErrorType, operation, message string) *ControllerError {
	return &ControllerError{
		Type:      errType,
		Message:   message,
		Operation: operation,
		Context:   make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, operation, message string) *ControllerError {
	return &ControllerError{
		Type:      errType,
		Message:   message,
		Operation: operation,
		Cause:     err,
		Context:   make(map[string]interface{}),
	}
}

// WithComponent adds component information to the error
func (e *ControllerError) WithComponent(component string) *ControllerError {
	e.Component = component
	return e
}

// WithContext adds context information to the error
func (e *ControllerError) WithContext(key string, value interface{}) *ControllerError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Configuration error constructors
func NewConfigurationError(operation, message string) *ControllerError {
	return New(ErrTypeConfiguration, operation, message)
}

func WrapConfigurationError(err error, operation, message string) *ControllerError {
	return Wrap(err, ErrTypeConfiguration, operation, message)
}

// Conflict error constructors
func NewConflictError(operation, message string) *ControllerError {
	return New(ErrTypeConflict, operation, message)
}

// Provider error constructors
func NewTransientError(operation, message string) *ControllerError {
	return New(ErrTypeProviderTransient, operation, message)
}

func WrapTransientError(err error, operation, message string) *ControllerError {
	return Wrap(err, ErrTypeProviderTransient, operation, message)
}

func NewPermanentError(operation, message string) *ControllerError {
	return New(ErrTypeProviderPermanent, operation, message)
}

func WrapPermanentError(err error, operation, message string) *ControllerError {
	return Wrap(err, ErrTypeProviderPermanent, operation, message)
}

// Inconclusive error constructors
func NewInconclusiveError(operation, message string) *ControllerError {
	return New(ErrTypeInconclusive, operation, message)
}

// Stale state error constructors
func NewStaleStateError(operation, message string) *ControllerError {
	return New(ErrTypeStaleState, operation, message)
}

// Internal error constructors
func NewInternalError(operation, message string) *ControllerError {
	return New(ErrTypeInternal, operation, message)
}

func WrapInternalError(err error, operation, message string) *ControllerError {
	return Wrap(err, ErrTypeInternal, operation, message)
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var ctrlErr *ControllerError
	if errors.As(err, &ctrlErr) {
		return ctrlErr.Type == errType
	}
	return false
}

// GetType returns the error type if it's a ControllerError, otherwise ErrTypeInternal
func GetType(err error) ErrorType {
	var ctrlErr *ControllerError
	if errors.As(err, &ctrlErr) {
		return ctrlErr.Type
	}
	return ErrTypeInternal
}

// IsTransient reports whether an error may succeed on retry
func IsTransient(err error) bool {
	return IsType(err, ErrTypeProviderTransient)
}
