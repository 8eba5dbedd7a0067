/*
 * Açaí VM Controller - HTTP Server
 * Copyright (c) 2025 Tecflorestal
 * All rights reserved.
 */

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tecflorestal/vm-controller/internal/config"
	"github.com/tecflorestal/vm-controller/internal/errors"
	"github.com/tecflorestal/vm-controller/internal/logger"
	"github.com/tecflorestal/vm-controller/internal/metrics"
	"github.com/tecflorestal/vm-controller/internal/middleware"
	"github.com/tecflorestal/vm-controller/internal/models"
	"github.com/tecflorestal/vm-controller/internal/services"
)

// Version is the controller version reported on the root endpoint
const Version = "2.0.0"

// Server represents the HTTP server
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	vmService *services.VMService
	metrics   *metrics.Metrics
	proxy     *httputil.ReverseProxy
	server    *http.Server
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, vmService *services.VMService, m *metrics.Metrics) *Server {
	s := &Server{
		config:    cfg,
		logger:    log,
		vmService: vmService,
		metrics:   m,
	}

	backend, err := url.Parse(cfg.MLBackendURL)
	if err != nil || backend.Host == "" {
		// Validate rejects this at startup; guard anyway so a nil proxy
		// answers 503 instead of panicking.
		log.WithFields(logger.Fields{
			"url":   cfg.MLBackendURL,
			"error": err,
		}).Warn("ML backend URL is unusable, proxy disabled")
	} else {
		proxy := httputil.NewSingleHostReverseProxy(backend)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, perr error) {
			log.WithRequest(r.Method, r.URL.String(), r.RemoteAddr).WithFields(logger.Fields{
				"error": perr,
			}).Warn("ML backend proxy error")
			s.sendErrorResponse(w, "ML backend is unreachable", http.StatusBadGateway)
		}
		s.proxy = proxy
	}

	return s
}

// Router builds the HTTP routing table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.CORSMiddleware())

	r.HandleFunc("/", s.handleRoot).Methods("GET")
	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")

	r.HandleFunc("/vm/status", s.handleVMStatus).Methods("GET")
	r.HandleFunc("/vm/start", s.handleVMStart).Methods("POST")
	r.HandleFunc("/vm/stop", s.handleVMStop).Methods("POST")
	r.HandleFunc("/vm/operations/{id}", s.handleOperationStatus).Methods("GET")
	r.HandleFunc("/vm/connection-info", s.handleConnectionInfo).Methods("GET")

	r.PathPrefix("/ml/").HandlerFunc(s.handleMLProxy)

	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.config.Host + ":" + s.config.Port,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.WithFields(logger.Fields{
		"host": s.config.Host,
		"port": s.config.Port,
	}).Info("Starting VM controller server")

	return s.server.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping server")
	return s.server.Shutdown(ctx)
}

// Handler functions

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.sendSuccessResponse(w, models.ServiceInfo{
		Message: "Açaí VM Controller",
		Version: Version,
		Project: s.config.ProjectID,
		Zone:    s.config.Zone,
		VMName:  s.config.VMName,
	}, http.StatusOK)
}

// handleHealthCheck reports controller process liveness only. It never
// touches the coordinator or the provider, so orchestrator probes stay
// cheap and a provider outage does not make the controller look dead.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.sendSuccessResponse(w, map[string]interface{}{
		"status":  "healthy",
		"service": "vm-controller",
		"version": Version,
	}, http.StatusOK)
}

func (s *Server) handleVMStatus(w http.ResponseWriter, r *http.Request) {
	status := s.vmService.GetStatus()
	s.sendSuccessResponse(w, status, http.StatusOK)
}

func (s *Server) handleVMStart(w http.ResponseWriter, r *http.Request) {
	result := s.vmService.RequestStart(r.Context())
	s.sendOperationResult(w, result)
}

func (s *Server) handleVMStop(w http.ResponseWriter, r *http.Request) {
	result := s.vmService.RequestStop(r.Context())
	s.sendOperationResult(w, result)
}

// sendOperationResult maps a coordinator outcome to an HTTP status
func (s *Server) sendOperationResult(w http.ResponseWriter, result *models.OperationResult) {
	switch result.Outcome {
	case models.OutcomeAccepted:
		s.sendSuccessResponse(w, result, http.StatusAccepted)
	case models.OutcomeAlreadyInState:
		s.sendSuccessResponse(w, result, http.StatusOK)
	case models.OutcomeConflict:
		s.sendDataErrorResponse(w, result, result.Error, http.StatusConflict)
	case models.OutcomeFailed:
		s.sendDataErrorResponse(w, result, result.Error, http.StatusBadGateway)
	default:
		s.sendErrorResponse(w, "unexpected operation outcome", http.StatusInternalServerError)
	}
}

func (s *Server) handleOperationStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		s.sendErrorResponse(w, "Operation id required", http.StatusBadRequest)
		return
	}

	op, err := s.vmService.OperationStatus(r.Context(), id)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeProviderPermanent) {
			s.sendErrorResponse(w, fmt.Sprintf("Operation not found: %s", id), http.StatusNotFound)
			return
		}
		s.logger.WithFields(logger.Fields{
			"operation_id": id,
			"error":        err,
		}).Error("Failed to query operation status")
		s.sendErrorResponse(w, "Failed to query operation status", http.StatusBadGateway)
		return
	}

	s.sendSuccessResponse(w, models.OperationStatusResponse{
		OperationID:   op.Name,
		Status:        op.Status,
		Progress:      op.Progress,
		OperationType: op.OperationType,
		TargetLink:    op.TargetLink,
		InsertTime:    op.InsertTime,
		EndTime:       op.EndTime,
	}, http.StatusOK)
}

// handleConnectionInfo returns the workload endpoints on the instance. It
// always queries the provider live because the frontend uses the answer to
// open a direct connection.
func (s *Server) handleConnectionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.vmService.DescribeInstance(r.Context())
	if err != nil {
		s.logger.WithFields(logger.Fields{
			"error": err,
		}).Error("Failed to describe instance for connection info")
		s.sendErrorResponse(w, "Failed to query instance", http.StatusBadGateway)
		return
	}

	if models.PhaseFromInstanceStatus(info.Status) != models.PhaseRunning {
		s.sendDataErrorResponse(w, models.ConnectionInfoResponse{
			Status:  info.Status,
			Message: "VM is not running; start it before connecting",
		}, "VM is not running", http.StatusServiceUnavailable)
		return
	}

	ip := info.ExternalIP()
	if ip == "" {
		s.sendDataErrorResponse(w, models.ConnectionInfoResponse{
			Status:  info.Status,
			Message: "VM has no external IP",
		}, "VM has no external IP", http.StatusServiceUnavailable)
		return
	}

	base := fmt.Sprintf("http://%s:8000", ip)
	s.sendSuccessResponse(w, models.ConnectionInfoResponse{
		Status:    info.Status,
		VMIP:      ip,
		VMPort:    8000,
		UploadURL: base + "/upload",
		HealthURL: base + "/health",
		DocsURL:   base + "/docs",
		Message:   "Connect directly to the VM for uploads",
	}, http.StatusOK)
}

// handleMLProxy forwards requests under /ml/ to the workload backend while
// the instance is running. Uploads are redirected to the direct connection
// because the proxy would double the transfer.
func (s *Server) handleMLProxy(w http.ResponseWriter, r *http.Request) {
	if s.proxy == nil {
		s.sendErrorResponse(w, "ML backend is not configured", http.StatusServiceUnavailable)
		return
	}

	status := s.vmService.GetStatus()
	if status.Phase != models.PhaseRunning {
		s.sendDataErrorResponse(w, map[string]interface{}{
			"phase": status.Phase,
		}, "VM is not running; start it before using the ML API", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/ml")
	if r.Method == "POST" && (rest == "/upload" || rest == "/upload/") {
		s.sendErrorResponse(w, "Upload through the proxy is not supported; use /vm/connection-info and upload directly", http.StatusBadRequest)
		return
	}

	r.URL.Path = rest
	s.proxy.ServeHTTP(w, r)
}

// Response helper functions

func (s *Server) sendSuccessResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.NewSuccessResponse(data))
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.NewErrorResponse(message))
}

// sendDataErrorResponse sends an error envelope that still carries a payload,
// so clients get the phase or partial state alongside the failure.
func (s *Server) sendDataErrorResponse(w http.ResponseWriter, data interface{}, message string, statusCode int) {
	response := models.NewErrorResponse(message)
	response.Data = data

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
