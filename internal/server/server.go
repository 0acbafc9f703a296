package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rayguard/sentinel-backbone/internal/chain"
	"github.com/rayguard/sentinel-backbone/internal/config"
	"github.com/rayguard/sentinel-backbone/internal/guard"
	"github.com/rayguard/sentinel-backbone/internal/hub"
	"github.com/rayguard/sentinel-backbone/internal/metrics"
	"github.com/rayguard/sentinel-backbone/internal/recorder"
	"github.com/rayguard/sentinel-backbone/internal/registry"
	"github.com/rayguard/sentinel-backbone/internal/storage"
	"github.com/rayguard/sentinel-backbone/internal/verifier"
	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// HTTPServer exposes the intake, stream, verification and history endpoints
type HTTPServer struct {
	config   *config.ServerConfig
	server   *http.Server
	router   *mux.Router
	recorder *recorder.Recorder
	verifier *verifier.Verifier
	registry *registry.Registry
	hub      *hub.Hub
	guard    *guard.Guard
	store    chain.StoreClient
	storage  storage.Storage
	logger   *logrus.Logger

	metricsManager *metrics.Manager
	startTime      time.Time
}

// NewHTTPServer creates a new HTTP server. storage and metricsManager may
// be nil; the history and metrics endpoints degrade accordingly.
func NewHTTPServer(
	cfg *config.ServerConfig,
	rec *recorder.Recorder,
	ver *verifier.Verifier,
	reg *registry.Registry,
	h *hub.Hub,
	g *guard.Guard,
	store chain.StoreClient,
	db storage.Storage,
	metricsManager *metrics.Manager,
) *HTTPServer {
	server := &HTTPServer{
		config:         cfg,
		recorder:       rec,
		verifier:       ver,
		registry:       reg,
		hub:            h,
		guard:          g,
		store:          store,
		storage:        db,
		logger:         utils.GetLogger(),
		metricsManager: metricsManager,
		startTime:      time.Now(),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     server.router,
		ReadTimeout: cfg.ReadTimeout,
		// WriteTimeout stays at the configured value; zero keeps long-lived
		// stream responses open.
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Router returns the configured router, used by tests
func (s *HTTPServer) Router() http.Handler {
	return s.router
}

func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthHandler).Methods("GET")
	api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")

	api.HandleFunc("/record", s.recordHandler).Methods("POST")
	api.HandleFunc("/verify", s.verifyHandler).Methods("POST")
	api.HandleFunc("/ledgers", s.createLedgerHandler).Methods("POST")
	api.HandleFunc("/ledgers", s.listLedgersHandler).Methods("GET")
	api.HandleFunc("/events", s.listEventsHandler).Methods("GET")
	api.HandleFunc("/derive", s.deriveHandler).Methods("GET")

	api.HandleFunc("/stream", s.streamHandler).Methods("GET")
	api.HandleFunc("/ws", s.websocketHandler).Methods("GET")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}
}

// Start starts the HTTP server and blocks until it exits
func (s *HTTPServer) Start() error {
	s.logger.WithField("address", s.server.Addr).Info("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return utils.NewAppError(utils.ErrCodeInternal, "HTTP server failed", err.Error())
	}
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().UTC(),
	})
}

// detailedHealthHandler returns per-component health
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{
		"hub": map[string]interface{}{
			"healthy":     true,
			"subscribers": s.hub.SubscriberCount(),
		},
		"registry": s.registry.GetStats(),
		"guard":    s.guard.GetStats(),
	}

	healthy := true
	if s.storage != nil {
		storageHealthy := s.storage.Ping() == nil
		components["storage"] = map[string]interface{}{"healthy": storageHealthy}
		healthy = healthy && storageHealthy
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"uptime":     time.Since(s.startTime).String(),
		"components": components,
	})
}

// statsHandler returns runtime statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"hub":      s.hub.GetStats(),
		"registry": s.registry.GetStats(),
		"guard":    s.guard.GetStats(),
		"uptime":   time.Since(s.startTime).String(),
	}

	if s.storage != nil {
		if storageStats, err := s.storage.GetStorageStats(r.Context()); err == nil {
			stats["storage"] = storageStats
		}
		if threatStats, err := s.storage.GetThreatStats(r.Context()); err == nil {
			stats["threats"] = threatStats
		}
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// updateSubscriberGauge reflects the hub's live subscriber count. Reading
// the count after the hub mutation keeps the gauge correct under concurrent
// connects and disconnects.
func (s *HTTPServer) updateSubscriberGauge() {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().UpdateHubSubscribers(s.hub.SubscriberCount())
	}
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithField("error", err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		}).Warn("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}

// writeAppError maps an application error onto an HTTP status
func (s *HTTPServer) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case utils.IsValidation(err):
		s.writeError(w, http.StatusBadRequest, "Invalid request", err)
	case utils.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, "Not found", err)
	case utils.IsConflict(err):
		s.writeError(w, http.StatusConflict, "Conflict", err)
	case utils.IsUnavailable(err):
		s.writeError(w, http.StatusServiceUnavailable, "Service unavailable", err)
	default:
		s.writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
