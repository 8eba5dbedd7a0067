/*
 * Açaí VM Controller - Main Entry Point
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tecflorestal/vm-controller/internal/compute"
	"github.com/tecflorestal/vm-controller/internal/config"
	"github.com/tecflorestal/vm-controller/internal/events"
	"github.com/tecflorestal/vm-controller/internal/logger"
	"github.com/tecflorestal/vm-controller/internal/metrics"
	"github.com/tecflorestal/vm-controller/internal/server"
	"github.com/tecflorestal/vm-controller/internal/services"
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		logger.Fatal("Failed to load configuration: " + err.Error())
	}

	if err := logger.Init(cfg.GetLogLevel(), cfg.LogDir); err != nil {
		logger.Fatal("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetDefault()

	if err := cfg.Validate(); err != nil {
		log.WithFields(logger.Fields{"error": err}).Fatal("Invalid configuration")
	}

	log.WithFields(logger.Fields{
		"version": server.Version,
		"project": cfg.ProjectID,
		"zone":    cfg.Zone,
		"vm_name": cfg.VMName,
	}).Info("Starting VM controller")

	ctx := context.Background()

	client, err := compute.NewGCEClient(ctx, cfg.ProjectID, cfg.Zone, cfg.VMName)
	if err != nil {
		log.WithFields(logger.Fields{"error": err}).Fatal("Failed to create compute client")
	}
	defer client.Close()

	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.NATSURL, cfg.VMName)
		if err != nil {
			// Event publishing is best-effort; the controller runs without it.
			log.WithFields(logger.Fields{"error": err}).Warn("Failed to connect to NATS, events disabled")
		} else {
			defer publisher.Close()
		}
	}

	m := metrics.NewMetrics()

	vmService := services.NewVMService(cfg, client, m, publisher)
	vmService.ReconcileAsync("startup")

	srv := server.New(cfg, log, vmService, m)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("Received shutdown signal")
	case err := <-errChan:
		log.WithFields(logger.Fields{"error": err}).Error("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.WithFields(logger.Fields{"error": err}).Error("Server shutdown failed")
	}

	log.Info("Shutdown complete")
}
