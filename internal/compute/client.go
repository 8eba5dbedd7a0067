/*
 * Açaí VM Controller - Compute Engine Client
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package compute

import (
	"context"
	goerrors "errors"
	"fmt"
	"net"
	"strings"
	"time"

	compute "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/compute/apiv1/computepb"
	"google.golang.org/api/googleapi"

	"github.com/tecflorestal/vm-controller/internal/errors"
	"github.com/tecflorestal/vm-controller/internal/logger"
)

// NetworkInterfaceInfo describes one NIC of the managed instance
type NetworkInterfaceInfo struct {
	Network    string `json:"network"`
	InternalIP string `json:"internal_ip"`
	ExternalIP string `json:"external_ip,omitempty"`
}

// InstanceInfo is the provider-side view of the managed instance
type InstanceInfo struct {
	Name               string                 `json:"name"`
	Status             string                 `json:"status"`
	MachineType        string                 `json:"machine_type"`
	CreationTimestamp  string                 `json:"creation_timestamp"`
	LastStartTimestamp string                 `json:"last_start_timestamp"`
	NetworkInterfaces  []NetworkInterfaceInfo `json:"network_interfaces"`
}

// ExternalIP returns the first NAT IP found on any interface
func (i *InstanceInfo) ExternalIP() string {
	for _, ni := range i.NetworkInterfaces {
		if ni.ExternalIP != "" {
			return ni.ExternalIP
		}
	}
	return ""
}

// OperationInfo is the provider-side view of a zone operation
type OperationInfo struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	Progress      int32  `json:"progress"`
	OperationType string `json:"operation_type"`
	TargetLink    string `json:"target_link"`
	InsertTime    string `json:"insert_time"`
	EndTime       string `json:"end_time"`
}

// InstanceClient is the narrow contract against the compute control plane.
// The coordinator's logic is tested against a fake implementation of this
// interface.
type InstanceClient interface {
	// Start requests an instance start and returns the provider operation id
	Start(ctx context.Context) (string, error)
	// Stop requests an instance stop and returns the provider operation id
	Stop(ctx context.Context) (string, error)
	// Describe returns the instance's current provider-side state
	Describe(ctx context.Context) (*InstanceInfo, error)
	// Operation returns the state of a previously returned operation id
	Operation(ctx context.Context, id string) (*OperationInfo, error)
	Close() error
}

// GCEClient implements InstanceClient against the Compute Engine API for a
// single instance identity fixed at construction.
type GCEClient struct {
	project string
	zone    string
	name    string

	instances  *compute.InstancesClient
	operations *compute.ZoneOperationsClient
	logger     *logger.Logger

	retryInitial time.Duration
	retryMax     time.Duration
	retryLimit   int
}

// NewGCEClient creates a client bound to one instance. Credentials come from
// the ambient environment (service account on the hosting platform).
func NewGCEClient(ctx context.Context, project, zone, name string) (*GCEClient, error) {
	instances, err := compute.NewInstancesRESTClient(ctx)
	if err != nil {
		return nil, errors.WrapPermanentError(err, "new_client", "failed to create instances client")
	}

	operations, err := compute.NewZoneOperationsRESTClient(ctx)
	if err != nil {
		instances.Close()
		return nil, errors.WrapPermanentError(err, "new_client", "failed to create operations client")
	}

	return &GCEClient{
		project:      project,
		zone:         zone,
		name:         name,
		instances:    instances,
		operations:   operations,
		logger:       logger.GetDefault(),
		retryInitial: 250 * time.Millisecond,
		retryMax:     4 * time.Second,
		retryLimit:   5,
	}, nil
}

// Start requests an instance start
func (c *GCEClient) Start(ctx context.Context) (string, error) {
	var opName string
	err := c.withRetry(ctx, "start_instance", func() error {
		op, err := c.instances.Start(ctx, &computepb.StartInstanceRequest{
			Project:  c.project,
			Zone:     c.zone,
			Instance: c.name,
		})
		if err != nil {
			return classify(err, "start_instance")
		}
		opName = op.Proto().GetName()
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.WithVM(c.name).WithFields(logger.Fields{
		"operation": opName,
	}).Info("Instance start requested")

	return opName, nil
}

// Stop requests an instance stop
func (c *GCEClient) Stop(ctx context.Context) (string, error) {
	var opName string
	err := c.withRetry(ctx, "stop_instance", func() error {
		op, err := c.instances.Stop(ctx, &computepb.StopInstanceRequest{
			Project:  c.project,
			Zone:     c.zone,
			Instance: c.name,
		})
		if err != nil {
			return classify(err, "stop_instance")
		}
		opName = op.Proto().GetName()
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.WithVM(c.name).WithFields(logger.Fields{
		"operation": opName,
	}).Info("Instance stop requested")

	return opName, nil
}

// Describe returns the instance's current provider-side state
func (c *GCEClient) Describe(ctx context.Context) (*InstanceInfo, error) {
	var inst *computepb.Instance
	err := c.withRetry(ctx, "describe_instance", func() error {
		got, err := c.instances.Get(ctx, &computepb.GetInstanceRequest{
			Project:  c.project,
			Zone:     c.zone,
			Instance: c.name,
		})
		if err != nil {
			return classify(err, "describe_instance")
		}
		inst = got
		return nil
	})
	if err != nil {
		return nil, err
	}

	info := &InstanceInfo{
		Name:               inst.GetName(),
		Status:             inst.GetStatus(),
		MachineType:        lastPathSegment(inst.GetMachineType()),
		CreationTimestamp:  inst.GetCreationTimestamp(),
		LastStartTimestamp: inst.GetLastStartTimestamp(),
	}

	for _, ni := range inst.GetNetworkInterfaces() {
		entry := NetworkInterfaceInfo{
			Network:    lastPathSegment(ni.GetNetwork()),
			InternalIP: ni.GetNetworkIP(),
		}
		if acs := ni.GetAccessConfigs(); len(acs) > 0 {
			entry.ExternalIP = acs[0].GetNatIP()
		}
		info.NetworkInterfaces = append(info.NetworkInterfaces, entry)
	}

	return info, nil
}

// Operation returns the state of a zone operation
func (c *GCEClient) Operation(ctx context.Context, id string) (*OperationInfo, error) {
	var op *computepb.Operation
	err := c.withRetry(ctx, "get_operation", func() error {
		got, err := c.operations.Get(ctx, &computepb.GetZoneOperationRequest{
			Project:   c.project,
			Zone:      c.zone,
			Operation: id,
		})
		if err != nil {
			return classify(err, "get_operation")
		}
		op = got
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &OperationInfo{
		Name:          op.GetName(),
		Status:        op.GetStatus().String(),
		Progress:      op.GetProgress(),
		OperationType: op.GetOperationType(),
		TargetLink:    op.GetTargetLink(),
		InsertTime:    op.GetInsertTime(),
		EndTime:       op.GetEndTime(),
	}, nil
}

// Close releases the underlying API clients
func (c *GCEClient) Close() error {
	instErr := c.instances.Close()
	opErr := c.operations.Close()
	if instErr != nil {
		return instErr
	}
	return opErr
}

// withRetry retries fn on transient failures with bounded exponential
// backoff. Permanent errors fail immediately; the retry budget is bounded
// by the caller's context deadline.
func (c *GCEClient) withRetry(ctx context.Context, operation string, fn func() error) error {
	delay := c.retryInitial

	var lastErr error
	for attempt := 1; attempt <= c.retryLimit; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errors.IsTransient(lastErr) {
			return lastErr
		}

		c.logger.WithVM(c.name).WithFields(logger.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay_ms":  delay.Milliseconds(),
			"error":     lastErr,
		}).Debug("Transient provider error, retrying")

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrTypeProviderTransient, operation, "retry budget exhausted by deadline")
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.retryMax {
			delay = c.retryMax
		}
	}

	return lastErr
}

// classify translates a provider error into the controller's error types.
// Rate limiting and server-side failures are transient; not-found,
// permission and malformed-request failures are permanent.
func classify(err error, operation string) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if goerrors.As(err, &gerr) {
		switch {
		case gerr.Code == 429 || gerr.Code >= 500:
			return errors.WrapTransientError(err, operation, fmt.Sprintf("provider returned HTTP %d", gerr.Code))
		default:
			return errors.WrapPermanentError(err, operation, fmt.Sprintf("provider rejected request with HTTP %d", gerr.Code))
		}
	}

	var netErr net.Error
	if goerrors.As(err, &netErr) {
		return errors.WrapTransientError(err, operation, "network failure reaching provider")
	}

	if goerrors.Is(err, context.DeadlineExceeded) || goerrors.Is(err, context.Canceled) {
		return errors.WrapTransientError(err, operation, "provider call interrupted")
	}

	return errors.WrapPermanentError(err, operation, "provider call failed")
}

func lastPathSegment(s string) string {
	if s == "" {
		return ""
	}
	parts := strings.Split(s, "/")
	return parts[len(parts)-1]
}
