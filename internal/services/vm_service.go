/*
 * Açaí VM Controller - VM Lifecycle Service
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package services

import (
	"context"
	"sync"
	"time"

	"github.com/tecflorestal/vm-controller/internal/compute"
	"github.com/tecflorestal/vm-controller/internal/config"
	"github.com/tecflorestal/vm-controller/internal/errors"
	"github.com/tecflorestal/vm-controller/internal/events"
	"github.com/tecflorestal/vm-controller/internal/logger"
	"github.com/tecflorestal/vm-controller/internal/metrics"
	"github.com/tecflorestal/vm-controller/internal/models"
)

// VMService coordinates start/stop/status requests against the single
// managed instance. All phase transitions and ticket replacement are
// serialized through one mutex; status reads never observe a half-applied
// transition.
type VMService struct {
	config    *config.Config
	logger    *logger.Logger
	client    compute.InstanceClient
	metrics   *metrics.Metrics
	publisher *events.Publisher

	mu          sync.Mutex
	record      models.LifecycleRecord
	ticket      *models.OperationTicket
	reconciling bool
}

// NewVMService creates the coordinator. The record starts in the unknown
// phase; nothing cached from a previous process is ever trusted.
func NewVMService(cfg *config.Config, client compute.InstanceClient, m *metrics.Metrics, pub *events.Publisher) *VMService {
	return &VMService{
		config:    cfg,
		logger:    logger.GetDefault(),
		client:    client,
		metrics:   m,
		publisher: pub,
		record: models.LifecycleRecord{
			Phase: models.PhaseUnknown,
		},
	}
}

// RequestStart asks the coordinator to drive the instance to running
func (s *VMService) RequestStart(ctx context.Context) *models.OperationResult {
	return s.request(ctx, models.OperationStart)
}

// RequestStop asks the coordinator to drive the instance to stopped
func (s *VMService) RequestStop(ctx context.Context) *models.OperationResult {
	return s.request(ctx, models.OperationStop)
}

func (s *VMService) request(ctx context.Context, kind models.OperationKind) *models.OperationResult {
	s.mu.Lock()

	if s.ticket != nil {
		if s.ticket.Kind == kind {
			// Same-kind request coalesces onto the in-flight ticket;
			// no duplicate provider call is issued.
			ticket := s.ticket
			s.mu.Unlock()

			s.logger.WithOperation(ticket.ID, ticket.Generation).WithFields(logger.Fields{
				"kind": kind,
			}).Info("Coalescing request onto in-flight operation")

			return s.await(ctx, ticket, true)
		}

		// Opposite-direction operations never interleave; the caller must
		// retry after the in-flight operation completes.
		phase := s.record.Phase
		inFlight := s.ticket.Kind
		s.mu.Unlock()

		s.logger.WithFields(logger.Fields{
			"kind":      kind,
			"phase":     phase,
			"in_flight": inFlight,
		}).Warn("Rejecting opposite-direction request")

		return &models.OperationResult{
			Outcome: models.OutcomeConflict,
			Phase:   phase,
			Error:   "an opposite-direction operation is in flight",
		}
	}

	// A transient phase in the opposite direction is a conflict even with
	// no ticket in flight: reconciliation observed an externally initiated
	// operation, and it must settle before reversing.
	if s.record.Phase == kind.Opposite().TransientPhase() {
		result := &models.OperationResult{
			Outcome: models.OutcomeConflict,
			Phase:   s.record.Phase,
			Error:   "the instance is mid-transition in the opposite direction",
		}
		s.mu.Unlock()

		s.logger.WithFields(logger.Fields{
			"kind":  kind,
			"phase": result.Phase,
		}).Warn("Rejecting request against an observed opposite transition")

		return result
	}

	// Idempotency guard: already at, or already heading to, the desired
	// phase means no new provider call.
	if s.record.Phase == kind.TargetPhase() || s.record.Phase == kind.TransientPhase() {
		result := &models.OperationResult{
			Outcome: models.OutcomeAlreadyInState,
			Phase:   s.record.Phase,
		}
		s.mu.Unlock()
		return result
	}

	// Accept: bump the generation, install the ticket, enter the transient
	// phase, and launch the operation runner.
	s.record.Generation++
	ticket := models.NewOperationTicket(kind, s.record.Generation, time.Now(), s.config.OperationTimeout)
	s.ticket = ticket
	s.record.LastError = ""
	s.applyTransitionLocked(kind.TransientPhase())
	s.mu.Unlock()

	s.logger.WithOperation(ticket.ID, ticket.Generation).WithFields(logger.Fields{
		"kind":     kind,
		"deadline": ticket.Deadline.Format(time.RFC3339),
	}).Info("Operation accepted")

	go s.runOperation(ticket)

	return s.await(ctx, ticket, false)
}

// await blocks up to the configured synchronous wait for the ticket to reach
// a terminal result, then returns an accepted handle the caller can poll.
func (s *VMService) await(ctx context.Context, ticket *models.OperationTicket, reused bool) *models.OperationResult {
	wait := time.NewTimer(s.config.SyncWait)
	defer wait.Stop()

	select {
	case <-ticket.Done():
		if ticket.FinalError != "" {
			return &models.OperationResult{
				Outcome:     models.OutcomeFailed,
				Phase:       ticket.FinalPhase,
				OperationID: ticket.ID,
				Reused:      reused,
				Error:       ticket.FinalError,
			}
		}
		return &models.OperationResult{
			Outcome:     models.OutcomeAccepted,
			Phase:       ticket.FinalPhase,
			OperationID: ticket.ID,
			ProviderOp:  ticket.ProviderOp,
			Reused:      reused,
		}
	case <-wait.C:
	case <-ctx.Done():
	}

	s.mu.Lock()
	providerOp := ticket.ProviderOp
	phase := s.record.Phase
	s.mu.Unlock()

	return &models.OperationResult{
		Outcome:     models.OutcomeAccepted,
		Phase:       phase,
		OperationID: ticket.ID,
		ProviderOp:  providerOp,
		Reused:      reused,
	}
}

// runOperation drives one ticket to a terminal result: issue the provider
// call, then poll the instance state until it reaches the target phase or
// the ticket deadline passes.
func (s *VMService) runOperation(ticket *models.OperationTicket) {
	ctx, cancel := context.WithDeadline(context.Background(), ticket.Deadline)
	defer cancel()

	var providerOp string
	var err error
	if ticket.Kind == models.OperationStart {
		providerOp, err = s.client.Start(ctx)
	} else {
		providerOp, err = s.client.Stop(ctx)
	}
	s.metrics.IncProviderCall(string(ticket.Kind), resultLabel(err))

	if err != nil {
		s.failOperation(ticket, err)
		return
	}

	s.mu.Lock()
	if s.ticket == ticket {
		ticket.ProviderOp = providerOp
	}
	s.mu.Unlock()

	target := ticket.Kind.TargetPhase()
	poll := time.NewTicker(s.config.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			// The operation ended while still transient. Mark it
			// inconclusive so the next access reconciles against the
			// provider instead of trusting the cached phase.
			s.failOperation(ticket, errors.NewInconclusiveError(
				string(ticket.Kind),
				"operation deadline exceeded before the instance reached a terminal state",
			))
			return
		case <-poll.C:
			info, derr := s.client.Describe(ctx)
			if derr != nil {
				if errors.IsTransient(derr) {
					// Absorbed locally; the deadline bounds the retry budget.
					continue
				}
				s.failOperation(ticket, derr)
				return
			}
			if models.PhaseFromInstanceStatus(info.Status) == target {
				s.finishOperation(ticket, info)
				return
			}
		}
	}
}

// finishOperation applies a successful terminal result, unless the ticket
// was superseded in the meantime.
func (s *VMService) finishOperation(ticket *models.OperationTicket, info *compute.InstanceInfo) {
	target := ticket.Kind.TargetPhase()

	s.mu.Lock()
	if s.ticket == ticket && s.record.Generation == ticket.Generation {
		s.observeLocked(info)
		s.applyTransitionLocked(target)
		s.ticket = nil
	} else {
		s.logger.WithOperation(ticket.ID, ticket.Generation).WithFields(logger.Fields{
			"current_generation": s.record.Generation,
		}).Warn("Discarding stale operation completion")
	}
	s.mu.Unlock()

	ticket.Complete(target, "")
	s.metrics.ObserveOperationDuration(ticket.Kind, "success", time.Since(ticket.StartedAt))

	s.logger.WithOperation(ticket.ID, ticket.Generation).WithFields(logger.Fields{
		"kind":  ticket.Kind,
		"phase": target,
	}).Info("Operation completed")
}

// failOperation applies a failed terminal result, unless the ticket was
// superseded in the meantime.
func (s *VMService) failOperation(ticket *models.OperationTicket, opErr error) {
	s.mu.Lock()
	if s.ticket == ticket && s.record.Generation == ticket.Generation {
		s.record.LastError = opErr.Error()
		s.applyTransitionLocked(models.PhaseError)
		s.ticket = nil
	} else {
		s.logger.WithOperation(ticket.ID, ticket.Generation).WithFields(logger.Fields{
			"current_generation": s.record.Generation,
		}).Warn("Discarding stale operation failure")
	}
	s.mu.Unlock()

	ticket.Complete(models.PhaseError, opErr.Error())
	s.metrics.ObserveOperationDuration(ticket.Kind, string(errors.GetType(opErr)), time.Since(ticket.StartedAt))

	s.logger.WithOperation(ticket.ID, ticket.Generation).WithFields(logger.Fields{
		"kind":  ticket.Kind,
		"error": opErr,
	}).Error("Operation failed")
}

// GetStatus returns the current lifecycle record without mutating it. Stale
// records trigger a background reconciliation; the caller always gets the
// most recently known phase plus its age.
func (s *VMService) GetStatus() *models.StatusResponse {
	s.mu.Lock()
	record := s.record
	inFlight := s.ticket != nil
	s.mu.Unlock()

	age, bounded := record.Age(time.Now())
	stale := !bounded || age > s.config.StalenessThreshold

	if !inFlight && (stale || record.Phase == models.PhaseError || record.Phase == models.PhaseUnknown) {
		s.ReconcileAsync("stale_status")
	}

	return &models.StatusResponse{
		Phase:          record.Phase,
		ProviderStatus: record.ProviderStatus,
		AgeSeconds:     age.Seconds(),
		AgeUnbounded:   !bounded,
		Stale:          stale,
		Generation:     record.Generation,
		LastError:      record.LastError,
	}
}

// Record returns a copy of the lifecycle record
func (s *VMService) Record() models.LifecycleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// ReconcileAsync triggers a non-blocking reconciliation query. At most one
// reconciliation runs at a time, and its result is discarded if an operation
// was accepted while it was in flight.
func (s *VMService) ReconcileAsync(trigger string) {
	s.mu.Lock()
	if s.reconciling || s.ticket != nil {
		s.mu.Unlock()
		return
	}
	s.reconciling = true
	generation := s.record.Generation
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		info, err := s.client.Describe(ctx)
		s.metrics.IncProviderCall("describe", resultLabel(err))

		applied := false
		s.mu.Lock()
		s.reconciling = false
		if err == nil && s.ticket == nil && s.record.Generation == generation {
			s.observeLocked(info)
			s.applyTransitionLocked(models.PhaseFromInstanceStatus(info.Status))
			s.record.LastError = ""
			applied = true
		}
		s.mu.Unlock()

		if err != nil {
			s.metrics.IncReconciliation(trigger, "error")
			s.logger.WithFields(logger.Fields{
				"trigger": trigger,
				"error":   err,
			}).Warn("Reconciliation query failed")
			return
		}

		if !applied {
			staleErr := errors.NewStaleStateError("reconcile",
				"observation superseded by an operation accepted while the query was in flight")
			s.metrics.IncReconciliation(trigger, string(errors.ErrTypeStaleState))
			s.logger.WithFields(logger.Fields{
				"trigger": trigger,
				"error":   staleErr,
			}).Debug("Discarding stale reconciliation result")
			return
		}

		s.metrics.IncReconciliation(trigger, "success")
		s.logger.WithFields(logger.Fields{
			"trigger": trigger,
			"status":  info.Status,
		}).Debug("Reconciled instance state")
	}()
}

// DescribeInstance queries the provider directly and refreshes the record
// observation when no operation is in flight. Used by the connection-info
// endpoint, which needs live network details rather than a cached phase.
func (s *VMService) DescribeInstance(ctx context.Context) (*compute.InstanceInfo, error) {
	info, err := s.client.Describe(ctx)
	s.metrics.IncProviderCall("describe", resultLabel(err))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.ticket == nil {
		s.observeLocked(info)
		s.applyTransitionLocked(models.PhaseFromInstanceStatus(info.Status))
	}
	s.mu.Unlock()

	return info, nil
}

// OperationStatus returns the provider-side state of an operation id
func (s *VMService) OperationStatus(ctx context.Context, id string) (*compute.OperationInfo, error) {
	op, err := s.client.Operation(ctx, id)
	s.metrics.IncProviderCall("get_operation", resultLabel(err))
	return op, err
}

// observeLocked records a successful provider observation. Caller holds s.mu.
func (s *VMService) observeLocked(info *compute.InstanceInfo) {
	s.record.LastObservedAt = time.Now()
	s.record.ProviderStatus = info.Status
}

// applyTransitionLocked moves the record to a new phase. Caller holds s.mu.
func (s *VMService) applyTransitionLocked(to models.Phase) {
	from := s.record.Phase
	if from == to {
		return
	}
	s.record.Phase = to
	s.metrics.IncPhaseTransition(from, to)

	if s.publisher != nil {
		generation := s.record.Generation
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.publisher.PublishTransition(ctx, from, to, generation); err != nil {
				s.logger.WithFields(logger.Fields{"error": err}).Warn("Failed to publish transition event")
			}
		}()
	}

	s.logger.WithVM(s.config.VMName).WithFields(logger.Fields{
		"from":       from,
		"to":         to,
		"generation": s.record.Generation,
	}).Info("Phase transition")
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(errors.GetType(err))
}
