// Package api provides the HTTP endpoints for health, performance reports,
// partitions and cache administration.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/internal/partition"
	"github.com/auditvault/auditperf/internal/performance"
	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/health"
	"github.com/auditvault/auditperf/pkg/status"
	"github.com/auditvault/auditperf/pkg/utils"
)

// ReportSource is the performance coordinator as seen by the API.
type ReportSource interface {
	LatestReport() *performance.PerformanceReport
	GenerateReport(ctx context.Context) *performance.PerformanceReport
	InvalidateCache(ctx context.Context, pattern string) (int, error)
	Remediation() *performance.RemediationEngine
}

// PartitionSource is the partition lifecycle manager as seen by the API.
type PartitionSource interface {
	Stats(table string) (partition.TableStats, error)
	AllStats() []partition.TableStats
	RunMaintenance(ctx context.Context) partition.MaintenanceResult
}

// Dependencies are the components behind the endpoints. Nil members turn
// their endpoints into 503 responses.
type Dependencies struct {
	Reports    ReportSource
	Partitions PartitionSource
	Health     *health.Tracker
	Status     *status.Tracker
	Metrics    http.Handler
	Logger     *slog.Logger
}

// Server provides HTTP API endpoints for monitoring and administration
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	deps       Dependencies
	config     ServerConfig
	logger     *slog.Logger
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8080")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ServerConfigFrom applies the api section to the defaults.
func ServerConfigFrom(cfg config.APIConfig) ServerConfig {
	sc := DefaultServerConfig()
	if cfg.Address != "" {
		sc.Address = cfg.Address
	}
	return sc
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	s := &Server{
		deps:   deps,
		config: cfg,
		logger: utils.OrDiscard(deps.Logger).With("component", "api"),
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)

	// Status endpoints
	mux.HandleFunc("/status", s.handleSystemStatus)
	mux.HandleFunc("/status/operations", s.handleOperations)
	mux.HandleFunc("/status/operations/", s.handleOperation)
	mux.HandleFunc("/status/history", s.handleHistory)

	// Performance endpoints
	mux.HandleFunc("/report", s.handleReport)
	mux.HandleFunc("/report/refresh", s.handleReportRefresh)
	mux.HandleFunc("/remediation", s.handleRemediation)
	mux.HandleFunc("/partitions", s.handlePartitions)
	mux.HandleFunc("/partitions/maintenance", s.handleMaintenance)
	mux.HandleFunc("/cache/invalidate", s.handleInvalidate)

	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}

	mux.HandleFunc("/info", s.handleInfo)

	handler := s.loggingMiddleware(mux)
	if cfg.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("starting API server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", "error", err)
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Health endpoint handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	if s.deps.Health == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{
			"status": "healthy",
			"note":   "Health tracking not configured",
		})
		return
	}

	overallHealth := s.deps.Health.GetOverallHealth()
	statusCode := http.StatusOK
	switch overallHealth {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, map[string]any{
		"status":     overallHealth,
		"timestamp":  time.Now(),
		"components": s.deps.Health.GetAllComponents(),
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	ready, state := true, health.StateHealthy
	if s.deps.Health != nil {
		state = s.deps.Health.GetOverallHealth()
		ready = state != health.StateUnavailable && s.deps.Health.IsHealthy(health.ComponentDatabase)
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	s.respondJSON(w, statusCode, map[string]any{
		"ready":     ready,
		"status":    state,
		"timestamp": time.Now(),
	})
}

// Status endpoint handlers

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) || !s.require(w, s.deps.Status != nil, "Status tracking") {
		return
	}
	s.respondJSON(w, http.StatusOK, s.deps.Status.GetSystemStatus())
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) || !s.require(w, s.deps.Status != nil, "Status tracking") {
		return
	}

	operations := s.deps.Status.GetAllOperations()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"operations": operations,
		"count":      len(operations),
		"timestamp":  time.Now(),
	})
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) || !s.require(w, s.deps.Status != nil, "Status tracking") {
		return
	}

	opID := r.URL.Path[len("/status/operations/"):]
	if opID == "" {
		s.respondError(w, http.StatusBadRequest, "Operation ID required")
		return
	}

	operation, err := s.deps.Status.GetOperation(opID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, operation)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) || !s.require(w, s.deps.Status != nil, "Status tracking") {
		return
	}

	limit := queryLimit(r, 10)
	history := s.deps.Status.GetHistory(limit)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"history":   history,
		"count":     len(history),
		"limit":     limit,
		"timestamp": time.Now(),
	})
}

// Performance endpoint handlers

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) || !s.require(w, s.deps.Reports != nil, "Performance reporting") {
		return
	}

	report := s.deps.Reports.LatestReport()
	if report == nil {
		report = s.generateReport(r.Context())
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleReportRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) || !s.require(w, s.deps.Reports != nil, "Performance reporting") {
		return
	}
	s.respondJSON(w, http.StatusOK, s.generateReport(r.Context()))
}

func (s *Server) generateReport(ctx context.Context) *performance.PerformanceReport {
	var report *performance.PerformanceReport
	s.track(ctx, status.OpReport, nil, func(ctx context.Context) (map[string]any, error) {
		report = s.deps.Reports.GenerateReport(ctx)
		return map[string]any{"report_id": report.ID, "healthy": report.Healthy()}, nil
	})
	return report
}

func (s *Server) handleRemediation(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) || !s.require(w, s.deps.Reports != nil, "Performance reporting") {
		return
	}

	engine := s.deps.Reports.Remediation()
	if engine == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"enabled": false, "history": []performance.ActionRecord{}})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"enabled": true,
		"history": engine.History(queryLimit(r, 20)),
	})
}

func (s *Server) handlePartitions(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) || !s.require(w, s.deps.Partitions != nil, "Partitioning") {
		return
	}

	table := r.URL.Query().Get("table")
	if table == "" {
		s.respondJSON(w, http.StatusOK, map[string]any{"tables": s.deps.Partitions.AllStats()})
		return
	}
	stats, err := s.deps.Partitions.Stats(table)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) || !s.require(w, s.deps.Partitions != nil, "Partitioning") {
		return
	}

	var result partition.MaintenanceResult
	s.track(r.Context(), status.OpMaintenance, map[string]any{"trigger": "api"}, func(ctx context.Context) (map[string]any, error) {
		result = s.deps.Partitions.RunMaintenance(ctx)
		meta := map[string]any{
			"created":  len(result.Created),
			"dropped":  len(result.Dropped),
			"archived": len(result.Archived),
		}
		if n := len(result.Failures); n > 0 {
			return meta, fmt.Errorf("maintenance finished with %d failures", n)
		}
		return meta, nil
	})

	statusCode := http.StatusOK
	if len(result.Failures) > 0 {
		statusCode = http.StatusMultiStatus
	}
	s.respondJSON(w, statusCode, result)
}

type invalidateRequest struct {
	Pattern string `json:"pattern"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) || !s.require(w, s.deps.Reports != nil, "Query cache") {
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Pattern == "" {
		s.respondError(w, http.StatusBadRequest, "pattern is required")
		return
	}

	var removed int
	err := s.track(r.Context(), status.OpInvalidate, map[string]any{"pattern": req.Pattern}, func(ctx context.Context) (map[string]any, error) {
		n, err := s.deps.Reports.InvalidateCache(ctx, req.Pattern)
		removed = n
		return map[string]any{"removed": n}, err
	})
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"pattern": req.Pattern,
		"removed": removed,
	})
}

// Info endpoint

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	endpoints := []string{
		"GET /health",
		"GET /health/live",
		"GET /health/ready",
		"GET /status",
		"GET /status/operations",
		"GET /status/operations/{id}",
		"GET /status/history",
		"GET /report",
		"POST /report/refresh",
		"GET /remediation",
		"GET /partitions",
		"POST /partitions/maintenance",
		"POST /cache/invalidate",
		"GET /info",
	}
	if s.deps.Metrics != nil {
		endpoints = append(endpoints, "GET /metrics")
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service":   "auditperf",
		"timestamp": time.Now(),
		"endpoints": endpoints,
	})
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func (s *Server) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func (s *Server) require(w http.ResponseWriter, ok bool, what string) bool {
	if !ok {
		s.respondError(w, http.StatusServiceUnavailable, what+" not configured")
	}
	return ok
}

// track records fn in the status tracker when one is configured.
func (s *Server) track(ctx context.Context, opType string, metadata map[string]any, fn func(ctx context.Context) (map[string]any, error)) error {
	if s.deps.Status == nil {
		_, err := fn(ctx)
		return err
	}
	return s.deps.Status.Track(ctx, opType, metadata, fn)
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// statusFor maps error codes to HTTP statuses.
func statusFor(err error) int {
	switch errors.GetErrorCode(err) {
	case errors.ErrCodePartitionNotFound, errors.ErrCodeOperationNotFound:
		return http.StatusNotFound
	case errors.ErrCodeCacheUnavailable, errors.ErrCodeConnectionFailed, errors.ErrCodeConnectionTimeout:
		return http.StatusServiceUnavailable
	}
	if errors.IsConfigError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "error", err)
	}
	s.respondJSON(w, code, map[string]any{
		"error":     err.Error(),
		"code":      errors.GetErrorCode(err),
		"timestamp": time.Now(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]any{
		"error":     message,
		"timestamp": time.Now(),
	})
}
