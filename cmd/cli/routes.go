package main

import (
	"context"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"go.uber.org/zap"
)

// deviceStore is the read side of the database used by the API
type deviceStore interface {
	ListDevices(ctx context.Context) ([]models.StoredDevice, error)
	GetDevice(ctx context.Context, identifier string) (*models.StoredDevice, error)
	GetLatestReading(ctx context.Context, identifier string) (*models.StoredReading, error)
	QueryReadings(ctx context.Context, q models.ReadingQuery) ([]models.StoredReading, error)
	QueryHistory(ctx context.Context, q models.HistoryQuery) ([]models.StoredHistoryRecord, error)
	HistoryStats(ctx context.Context, q models.HistoryQuery) (*models.HistoryStats, error)
	GetSyncState(ctx context.Context, identifier string) (*models.SyncState, error)
	IsConnectionHealthy() bool
}

// RouteManager handles all API routes
type RouteManager struct {
	dbManager   deviceStore
	gatherer    prometheus.Gatherer
	apiKey      string
	corsOrigins []string
	logger      *zap.Logger
	Router      *mux.Router
}

// NewRouteManager creates a new RouteManager instance. A nil gatherer
// serves the default prometheus registry.
func NewRouteManager(dbManager deviceStore, gatherer prometheus.Gatherer, apiKey string, corsOrigins []string, logger *zap.Logger) *RouteManager {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &RouteManager{
		dbManager:   dbManager,
		gatherer:    gatherer,
		apiKey:      apiKey,
		corsOrigins: corsOrigins,
		logger:      logger,
		Router:      mux.NewRouter(),
	}
}

// Setup configures all API routes
func (rm *RouteManager) Setup() {
	r := rm.Router

	// Health check and metrics
	r.HandleFunc("/health", rm.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(rm.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(rm.apiKeyMiddleware)
	rm.setupAPIRoutes(api)
}

// setupAPIRoutes configures all API v1 routes
func (rm *RouteManager) setupAPIRoutes(api *mux.Router) {
	// Devices
	api.HandleFunc("/devices", rm.getDevicesHandler).Methods("GET")
	api.HandleFunc("/devices/{id}", rm.getDeviceHandler).Methods("GET")

	// Readings
	api.HandleFunc("/devices/{id}/readings", rm.getReadingsHandler).Methods("GET")
	api.HandleFunc("/devices/{id}/readings/latest", rm.getLatestReadingHandler).Methods("GET")

	// History
	api.HandleFunc("/devices/{id}/history", rm.getHistoryHandler).Methods("GET")
	api.HandleFunc("/devices/{id}/history/stats", rm.getHistoryStatsHandler).Methods("GET")
	api.HandleFunc("/devices/{id}/sync", rm.getSyncStateHandler).Methods("GET")
}

// Handler wraps the router with CORS and access logging
func (rm *RouteManager) Handler() http.Handler {
	origins := rm.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-API-Key"}),
		handlers.MaxAge(3600),
	)

	return handlers.LoggingHandler(zap.NewStdLog(rm.logger).Writer(), cors(rm.Router))
}
