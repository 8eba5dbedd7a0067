/*
 * Açaí VM Controller - Lifecycle Models
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package models

import (
	"time"

	"github.com/google/uuid"
)

// Phase represents the controller's belief about the instance lifecycle position
type Phase string

const (
	PhaseUnknown  Phase = "unknown"
	PhaseStopped  Phase = "stopped"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
	PhaseError    Phase = "error"
)

// IsTransient returns true for phases that must never be the terminal state
// of a completed operation
func (p Phase) IsTransient() bool {
	return p == PhaseStarting || p == PhaseStopping
}

// GCE instance status strings as reported by the compute API.
// Ref: https://cloud.google.com/compute/docs/instances/instance-lifecycle#instance-states
const (
	InstanceStatusProvisioning = "PROVISIONING"
	InstanceStatusStaging      = "STAGING"
	InstanceStatusRunning      = "RUNNING"
	InstanceStatusPendingStop  = "PENDING_STOP"
	InstanceStatusStopping     = "STOPPING"
	InstanceStatusStopped      = "STOPPED"
	InstanceStatusTerminated   = "TERMINATED"
	InstanceStatusSuspending   = "SUSPENDING"
)

// PhaseFromInstanceStatus maps a provider status string to a lifecycle phase.
// Unrecognized statuses map to PhaseUnknown.
func PhaseFromInstanceStatus(status string) Phase {
	switch status {
	case InstanceStatusRunning:
		return PhaseRunning
	case InstanceStatusTerminated, InstanceStatusStopped:
		return PhaseStopped
	case InstanceStatusProvisioning, InstanceStatusStaging:
		return PhaseStarting
	case InstanceStatusStopping, InstanceStatusPendingStop, InstanceStatusSuspending:
		return PhaseStopping
	default:
		return PhaseUnknown
	}
}

// LifecycleRecord is the controller's belief about the single managed instance.
// Exactly one record exists per process; it is owned by the operation
// coordinator and mutated only under its lock.
type LifecycleRecord struct {
	Phase          Phase     `json:"phase"`
	Generation     uint64    `json:"generation"`
	LastObservedAt time.Time `json:"last_observed_at"`
	ProviderStatus string    `json:"provider_status,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Age returns the time since the last successful provider observation.
// A zero LastObservedAt means the record was never reconciled and the age
// is unbounded.
func (r *LifecycleRecord) Age(now time.Time) (time.Duration, bool) {
	if r.LastObservedAt.IsZero() {
		return 0, false
	}
	return now.Sub(r.LastObservedAt), true
}

// OperationKind identifies the direction of an in-flight operation
type OperationKind string

const (
	OperationStart OperationKind = "start"
	OperationStop  OperationKind = "stop"
)

// TargetPhase returns the terminal phase an operation of this kind drives toward
func (k OperationKind) TargetPhase() Phase {
	if k == OperationStart {
		return PhaseRunning
	}
	return PhaseStopped
}

// TransientPhase returns the in-flight phase for an operation of this kind
func (k OperationKind) TransientPhase() Phase {
	if k == OperationStart {
		return PhaseStarting
	}
	return PhaseStopping
}

// Opposite returns the reverse-direction operation kind
func (k OperationKind) Opposite() OperationKind {
	if k == OperationStart {
		return OperationStop
	}
	return OperationStart
}

// OperationTicket represents one in-flight start or stop attempt. At most one
// ticket exists at a time; same-kind requests coalesce onto it and await the
// shared done channel.
type OperationTicket struct {
	ID          string        `json:"id"`
	Kind        OperationKind `json:"kind"`
	Generation  uint64        `json:"generation"`
	ProviderOp  string        `json:"provider_operation,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Deadline    time.Time     `json:"deadline"`
	FinalPhase  Phase         `json:"final_phase,omitempty"`
	FinalError  string        `json:"final_error,omitempty"`
	done        chan struct{}
}

// NewOperationTicket creates a ticket for an accepted start/stop request
func NewOperationTicket(kind OperationKind, generation uint64, now time.Time, timeout time.Duration) *OperationTicket {
	return &OperationTicket{
		ID:         uuid.NewString(),
		Kind:       kind,
		Generation: generation,
		StartedAt:  now,
		Deadline:   now.Add(timeout),
		done:       make(chan struct{}),
	}
}

// Done returns a channel closed when the ticket reaches a terminal result
func (t *OperationTicket) Done() <-chan struct{} {
	return t.done
}

// Complete records the terminal result and releases all waiters. Must be
// called exactly once, by the coordinator.
func (t *OperationTicket) Complete(phase Phase, errMsg string) {
	t.FinalPhase = phase
	t.FinalError = errMsg
	close(t.done)
}

// Outcome classifies the user-visible result of a start/stop request
type Outcome string

const (
	OutcomeAccepted       Outcome = "accepted"
	OutcomeAlreadyInState Outcome = "already-in-desired-state"
	OutcomeConflict       Outcome = "conflict"
	OutcomeFailed         Outcome = "failed"
)

// OperationResult is what the coordinator returns for a start/stop request
type OperationResult struct {
	Outcome     Outcome `json:"outcome"`
	Phase       Phase   `json:"phase"`
	OperationID string  `json:"operation_id,omitempty"`
	ProviderOp  string  `json:"provider_operation,omitempty"`
	Reused      bool    `json:"reused"`
	Error       string  `json:"error,omitempty"`
}
