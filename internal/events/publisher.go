/*
 * Açaí VM Controller - Lifecycle Event Publishing
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tecflorestal/vm-controller/internal/logger"
	"github.com/tecflorestal/vm-controller/internal/models"
)

// SubjectLifecycle is the subject lifecycle transition events are published on
const SubjectLifecycle = "vm.lifecycle"

// TransitionEvent is the payload published for each phase transition
type TransitionEvent struct {
	Event      string       `json:"event"`
	VMName     string       `json:"vm_name"`
	From       models.Phase `json:"from"`
	To         models.Phase `json:"to"`
	Generation uint64       `json:"generation"`
	Time       int64        `json:"time"`
}

// Publisher publishes lifecycle transition events to NATS. A nil Publisher
// is valid and publishes nothing, so event publishing stays optional.
type Publisher struct {
	nc     *nats.Conn
	vmName string
}

// NewPublisher connects to NATS and returns a publisher for one instance
func NewPublisher(url, vmName string) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("tecflorestal-vm-controller"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithComponent("events").WithField("error", err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithComponent("events").WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, vmName: vmName}, nil
}

// PublishTransition publishes one phase transition event. Failures are
// returned for logging but never block the state machine.
func (p *Publisher) PublishTransition(ctx context.Context, from, to models.Phase, generation uint64) error {
	if p == nil {
		return nil
	}
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}

	payload, err := json.Marshal(TransitionEvent{
		Event:      "vm.phase_changed",
		VMName:     p.vmName,
		From:       from,
		To:         to,
		Generation: generation,
		Time:       time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	return p.nc.Publish(SubjectLifecycle, payload)
}

// Close drains and closes the NATS connection
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Drain()
	p.nc.Close()
}
