/*
 * Açaí VM Controller - Error Handling Tests
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package errors

import (
	goerrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NewTransientError("start_instance", "provider returned HTTP 503")
	assert.Contains(t, err.Error(), "provider_transient")
	assert.Contains(t, err.Error(), "start_instance")

	cause := fmt.Errorf("connection refused")
	wrapped := WrapTransientError(cause, "describe_instance", "network failure")
	assert.Contains(t, wrapped.Error(), "caused by: connection refused")
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := WrapPermanentError(cause, "stop_instance", "rejected")
	assert.True(t, goerrors.Is(err, cause))
}

func TestIsTypeThroughWrapping(t *testing.T) {
	inner := NewTransientError("start_instance", "throttled")
	outer := fmt.Errorf("retry budget exhausted: %w", inner)

	assert.True(t, IsType(outer, ErrTypeProviderTransient))
	assert.True(t, IsTransient(outer))
	assert.False(t, IsType(outer, ErrTypeProviderPermanent))
}

func TestGetTypeFallsBackToInternal(t *testing.T) {
	assert.Equal(t, ErrTypeInternal, GetType(fmt.Errorf("plain error")))
	assert.Equal(t, ErrTypeInconclusive, GetType(NewInconclusiveError("start", "deadline passed")))
	assert.Equal(t, ErrTypeStaleState, GetType(NewStaleStateError("reconcile", "superseded observation")))
}

func TestWithContext(t *testing.T) {
	err := NewConflictError("request", "opposite operation in flight").
		WithComponent("coordinator").
		WithContext("kind", "stop")

	assert.Equal(t, "coordinator", err.Component)
	assert.Equal(t, "stop", err.Context["kind"])
}
