/*
 * Açaí VM Controller - VM Lifecycle Service Tests
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tecflorestal/vm-controller/internal/compute"
	"github.com/tecflorestal/vm-controller/internal/config"
	"github.com/tecflorestal/vm-controller/internal/errors"
	"github.com/tecflorestal/vm-controller/internal/metrics"
	"github.com/tecflorestal/vm-controller/internal/models"
)

// fakeInstanceClient simulates the compute control plane for one instance.
// The provider status can be flipped after a configurable number of describe
// calls to simulate an operation making progress.
type fakeInstanceClient struct {
	mu            sync.Mutex
	status        string
	startCalls    int
	stopCalls     int
	describeCalls int
	startErr      error
	stopErr       error
	describeErr   error
	describeDelay time.Duration
	flipTo        string
	flipRemaining int
}

func newFakeClient(status string) *fakeInstanceClient {
	return &fakeInstanceClient{status: status}
}

// flip arranges for the status to change after n more describe calls
func (f *fakeInstanceClient) flip(to string, afterDescribes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flipTo = to
	f.flipRemaining = afterDescribes
}

func (f *fakeInstanceClient) setStatus(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeInstanceClient) setDescribeDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeDelay = d
}

func (f *fakeInstanceClient) counts() (starts, stops, describes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.stopCalls, f.describeCalls
}

func (f *fakeInstanceClient) Start(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return "", f.startErr
	}
	f.status = models.InstanceStatusProvisioning
	return fmt.Sprintf("operation-start-%d", f.startCalls), nil
}

func (f *fakeInstanceClient) Stop(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if f.stopErr != nil {
		return "", f.stopErr
	}
	f.status = models.InstanceStatusStopping
	return fmt.Sprintf("operation-stop-%d", f.stopCalls), nil
}

func (f *fakeInstanceClient) Describe(ctx context.Context) (*compute.InstanceInfo, error) {
	f.mu.Lock()
	delay := f.describeDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeCalls++
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	if f.flipTo != "" {
		f.flipRemaining--
		if f.flipRemaining <= 0 {
			f.status = f.flipTo
			f.flipTo = ""
		}
	}
	return &compute.InstanceInfo{
		Name:   "acai-detector-vm",
		Status: f.status,
		NetworkInterfaces: []compute.NetworkInterfaceInfo{
			{Network: "default", InternalIP: "10.0.0.2", ExternalIP: "34.42.1.1"},
		},
	}, nil
}

func (f *fakeInstanceClient) Operation(ctx context.Context, id string) (*compute.OperationInfo, error) {
	return &compute.OperationInfo{Name: id, Status: "DONE", Progress: 100}, nil
}

func (f *fakeInstanceClient) Close() error { return nil }

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.ProjectID = "test-project"
	cfg.OperationTimeout = 500 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.SyncWait = 300 * time.Millisecond
	cfg.StalenessThreshold = 50 * time.Millisecond
	return cfg
}

func newTestService(t *testing.T, client *fakeInstanceClient) *VMService {
	t.Helper()
	return NewVMService(testConfig(), client, metrics.NewMetrics(), nil)
}

func TestStartFromUnknownCompletes(t *testing.T) {
	client := newFakeClient(models.InstanceStatusTerminated)
	client.flip(models.InstanceStatusRunning, 2)
	svc := newTestService(t, client)

	result := svc.RequestStart(context.Background())

	require.Equal(t, models.OutcomeAccepted, result.Outcome)
	assert.Equal(t, models.PhaseRunning, result.Phase)
	assert.NotEmpty(t, result.OperationID)
	assert.False(t, result.Reused)

	starts, _, _ := client.counts()
	assert.Equal(t, 1, starts)

	record := svc.Record()
	assert.Equal(t, models.PhaseRunning, record.Phase)
	assert.Equal(t, uint64(1), record.Generation)
	assert.Empty(t, record.LastError)
}

func TestStartIdempotentWhenRunning(t *testing.T) {
	client := newFakeClient(models.InstanceStatusRunning)
	svc := newTestService(t, client)

	_, err := svc.DescribeInstance(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.PhaseRunning, svc.Record().Phase)

	result := svc.RequestStart(context.Background())

	assert.Equal(t, models.OutcomeAlreadyInState, result.Outcome)
	assert.Equal(t, models.PhaseRunning, result.Phase)

	starts, _, _ := client.counts()
	assert.Equal(t, 0, starts, "no provider call for an idempotent start")
}

func TestConcurrentStartsCoalesce(t *testing.T) {
	client := newFakeClient(models.InstanceStatusTerminated)
	svc := newTestService(t, client)
	svc.config.SyncWait = 30 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]*models.OperationResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.RequestStart(context.Background())
		}(i)
	}
	wg.Wait()

	starts, _, _ := client.counts()
	assert.Equal(t, 1, starts, "coalesced requests must share one provider call")

	require.Equal(t, models.OutcomeAccepted, results[0].Outcome)
	require.Equal(t, models.OutcomeAccepted, results[1].Outcome)
	assert.Equal(t, results[0].OperationID, results[1].OperationID, "both callers share the same ticket")
}

func TestOppositeDirectionConflict(t *testing.T) {
	client := newFakeClient(models.InstanceStatusTerminated)
	svc := newTestService(t, client)
	svc.config.SyncWait = 20 * time.Millisecond

	start := svc.RequestStart(context.Background())
	require.Equal(t, models.OutcomeAccepted, start.Outcome)
	require.Equal(t, models.PhaseStarting, start.Phase)

	stop := svc.RequestStop(context.Background())

	assert.Equal(t, models.OutcomeConflict, stop.Outcome)
	assert.NotEmpty(t, stop.Error)

	_, stops, _ := client.counts()
	assert.Equal(t, 0, stops, "conflicting request must not reach the provider")
}

func TestConflictWhenOppositeTransitionObserved(t *testing.T) {
	// Reconciliation can observe an externally initiated transition, leaving
	// a transient phase with no ticket. A reverse-direction request is still
	// a conflict keyed on the phase itself.
	client := newFakeClient(models.InstanceStatusStopping)
	svc := newTestService(t, client)

	_, err := svc.DescribeInstance(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.PhaseStopping, svc.Record().Phase)

	result := svc.RequestStart(context.Background())

	assert.Equal(t, models.OutcomeConflict, result.Outcome)
	assert.Equal(t, models.PhaseStopping, result.Phase)
	assert.NotEmpty(t, result.Error)

	starts, _, _ := client.counts()
	assert.Equal(t, 0, starts, "observed opposite transition must not reach the provider")

	// And symmetrically for a stop against an observed start.
	client.setStatus(models.InstanceStatusProvisioning)
	_, err = svc.DescribeInstance(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.PhaseStarting, svc.Record().Phase)

	result = svc.RequestStop(context.Background())

	assert.Equal(t, models.OutcomeConflict, result.Outcome)
	_, stops, _ := client.counts()
	assert.Equal(t, 0, stops)
}

func TestDeadlineYieldsInconclusiveThenReconciles(t *testing.T) {
	// The instance never leaves PROVISIONING, so the ticket deadline fires.
	client := newFakeClient(models.InstanceStatusTerminated)
	svc := newTestService(t, client)
	svc.config.OperationTimeout = 60 * time.Millisecond

	result := svc.RequestStart(context.Background())

	require.Equal(t, models.OutcomeFailed, result.Outcome)
	assert.Equal(t, models.PhaseError, result.Phase)
	assert.Contains(t, result.Error, string(errors.ErrTypeInconclusive))

	record := svc.Record()
	assert.Equal(t, models.PhaseError, record.Phase)
	assert.NotEmpty(t, record.LastError)

	// A later status query must not trust the cached error phase.
	client.setStatus(models.InstanceStatusRunning)
	svc.GetStatus()

	require.Eventually(t, func() bool {
		return svc.Record().Phase == models.PhaseRunning
	}, time.Second, 10*time.Millisecond, "error phase must be resolved by reconciliation")
}

func TestStartPermanentFailure(t *testing.T) {
	client := newFakeClient(models.InstanceStatusTerminated)
	client.startErr = errors.NewPermanentError("start_instance", "instance not found")
	svc := newTestService(t, client)

	result := svc.RequestStart(context.Background())

	require.Equal(t, models.OutcomeFailed, result.Outcome)
	assert.Equal(t, models.PhaseError, result.Phase)
	assert.NotEmpty(t, result.Error)

	record := svc.Record()
	assert.Equal(t, models.PhaseError, record.Phase)
	assert.NotEmpty(t, record.LastError)
}

func TestStopFromRunning(t *testing.T) {
	client := newFakeClient(models.InstanceStatusRunning)
	svc := newTestService(t, client)

	_, err := svc.DescribeInstance(context.Background())
	require.NoError(t, err)

	client.flip(models.InstanceStatusTerminated, 2)
	result := svc.RequestStop(context.Background())

	require.Equal(t, models.OutcomeAccepted, result.Outcome)
	assert.Equal(t, models.PhaseStopped, result.Phase)

	_, stops, _ := client.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, models.PhaseStopped, svc.Record().Phase)
}

func TestStopIdempotentWhenStopped(t *testing.T) {
	client := newFakeClient(models.InstanceStatusTerminated)
	svc := newTestService(t, client)

	_, err := svc.DescribeInstance(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.PhaseStopped, svc.Record().Phase)

	result := svc.RequestStop(context.Background())

	assert.Equal(t, models.OutcomeAlreadyInState, result.Outcome)
	_, stops, _ := client.counts()
	assert.Equal(t, 0, stops)
}

func TestRestartSafety(t *testing.T) {
	// A fresh process must not trust anything: unknown phase, unbounded age.
	client := newFakeClient(models.InstanceStatusTerminated)
	svc := newTestService(t, client)

	record := svc.Record()
	assert.Equal(t, models.PhaseUnknown, record.Phase)
	assert.True(t, record.LastObservedAt.IsZero())

	status := svc.GetStatus()
	assert.True(t, status.AgeUnbounded)
	assert.True(t, status.Stale)

	// The stale read triggers reconciliation against the provider.
	require.Eventually(t, func() bool {
		return svc.Record().Phase == models.PhaseStopped
	}, time.Second, 10*time.Millisecond)
}

func TestReconcileDiscardedWhenOperationAccepted(t *testing.T) {
	client := newFakeClient(models.InstanceStatusTerminated)
	client.setDescribeDelay(50 * time.Millisecond)
	svc := newTestService(t, client)
	svc.config.SyncWait = 10 * time.Millisecond

	// Reconciliation is in flight against the old TERMINATED status when the
	// start is accepted; its stale answer must not clobber the new phase.
	svc.ReconcileAsync("test")
	result := svc.RequestStart(context.Background())
	require.Equal(t, models.OutcomeAccepted, result.Outcome)
	client.setDescribeDelay(0)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, models.PhaseStarting, svc.Record().Phase,
		"stale reconciliation must not overwrite the in-flight phase")

	starts, _, _ := client.counts()
	assert.Equal(t, 1, starts)
}

func TestTransientDescribeErrorsAbsorbedDuringPolling(t *testing.T) {
	client := newFakeClient(models.InstanceStatusTerminated)
	svc := newTestService(t, client)
	svc.config.OperationTimeout = 2 * time.Second
	svc.config.SyncWait = 20 * time.Millisecond

	start := svc.RequestStart(context.Background())
	require.Equal(t, models.OutcomeAccepted, start.Outcome)

	// Inject transient describe failures mid-operation, then recover.
	client.mu.Lock()
	client.describeErr = errors.NewTransientError("describe_instance", "provider returned HTTP 503")
	client.mu.Unlock()

	time.Sleep(40 * time.Millisecond)

	client.mu.Lock()
	client.describeErr = nil
	client.status = models.InstanceStatusRunning
	client.mu.Unlock()

	require.Eventually(t, func() bool {
		return svc.Record().Phase == models.PhaseRunning
	}, time.Second, 10*time.Millisecond)
}

func TestFullLifecycleScenario(t *testing.T) {
	client := newFakeClient(models.InstanceStatusTerminated)
	svc := newTestService(t, client)
	ctx := context.Background()

	// Fresh process: reconcile before anything is trusted.
	_, err := svc.DescribeInstance(ctx)
	require.NoError(t, err)
	require.Equal(t, models.PhaseStopped, svc.Record().Phase)

	// Start and observe the instance come up.
	client.flip(models.InstanceStatusRunning, 2)
	start := svc.RequestStart(ctx)
	require.Equal(t, models.OutcomeAccepted, start.Outcome)
	require.Equal(t, models.PhaseRunning, svc.Record().Phase)

	// A second start is a no-op.
	again := svc.RequestStart(ctx)
	require.Equal(t, models.OutcomeAlreadyInState, again.Outcome)

	// Stop and observe the instance go down.
	client.flip(models.InstanceStatusTerminated, 2)
	stop := svc.RequestStop(ctx)
	require.Equal(t, models.OutcomeAccepted, stop.Outcome)
	require.Equal(t, models.PhaseStopped, svc.Record().Phase)

	starts, stops, _ := client.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.Equal(t, uint64(2), svc.Record().Generation)
}

func TestOperationStatusPassthrough(t *testing.T) {
	client := newFakeClient(models.InstanceStatusRunning)
	svc := newTestService(t, client)

	op, err := svc.OperationStatus(context.Background(), "operation-start-1")
	require.NoError(t, err)
	assert.Equal(t, "operation-start-1", op.Name)
	assert.Equal(t, "DONE", op.Status)
}
