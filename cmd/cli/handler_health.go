package main

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// healthHandler returns server health status
func (rm *RouteManager) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "ok",
		"database":  "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   version,
	}
	code := http.StatusOK

	if !rm.dbManager.IsConnectionHealthy() {
		status["status"] = "degraded"
		status["database"] = "unhealthy"
		code = http.StatusServiceUnavailable
	} else if devices, err := rm.dbManager.ListDevices(r.Context()); err != nil {
		rm.logger.Warn("health check could not count devices", zap.Error(err))
	} else {
		status["devices"] = len(devices)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
