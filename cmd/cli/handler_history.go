package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"go.uber.org/zap"
)

// getReadingsHandler returns polled readings of a device
// Query params:
//   - since, until: time window (RFC3339 or Unix timestamp)
//   - limit: max number of results (default: 100, max: 10000)
//   - offset: pagination offset
//   - order: sort order (asc/desc, default: desc)
func (rm *RouteManager) getReadingsHandler(w http.ResponseWriter, r *http.Request) {
	window, err := parseQueryWindow(r, 100, "desc")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	query := models.ReadingQuery{
		DeviceID: mux.Vars(r)["id"],
		Since:    window.Since,
		Until:    window.Until,
		Limit:    window.Limit,
		Offset:   window.Offset,
		Order:    window.Order,
	}
	if err := query.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	readings, err := rm.dbManager.QueryReadings(r.Context(), query)
	if err != nil {
		rm.logger.Error("❌ Failed to query readings", zap.String("device", query.DeviceID), zap.Error(err))
		http.Error(w, "Failed to query readings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, readings)
}

// getLatestReadingHandler returns the newest polled reading of a device
func (rm *RouteManager) getLatestReadingHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	reading, err := rm.dbManager.GetLatestReading(r.Context(), id)
	if err != nil {
		rm.logger.Error("❌ Failed to get latest reading", zap.String("device", id), zap.Error(err))
		http.Error(w, "Failed to get latest reading", http.StatusInternalServerError)
		return
	}
	if reading == nil {
		http.Error(w, "No readings for device", http.StatusNotFound)
		return
	}

	writeJSON(w, reading)
}

// getHistoryHandler returns synced history records of a device
// Query params:
//   - since, until: time window (RFC3339 or Unix timestamp)
//   - limit: max number of results (default: 1000, max: 10000)
//   - offset: pagination offset
//   - order: sort order (asc/desc, default: asc)
func (rm *RouteManager) getHistoryHandler(w http.ResponseWriter, r *http.Request) {
	query, ok := historyQuery(w, r)
	if !ok {
		return
	}

	records, err := rm.dbManager.QueryHistory(r.Context(), query)
	if err != nil {
		rm.logger.Error("❌ Failed to query history", zap.String("device", query.DeviceID), zap.Error(err))
		http.Error(w, "Failed to query history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, records)
}

// getHistoryStatsHandler returns min, max and average per measurement
func (rm *RouteManager) getHistoryStatsHandler(w http.ResponseWriter, r *http.Request) {
	query, ok := historyQuery(w, r)
	if !ok {
		return
	}

	stats, err := rm.dbManager.HistoryStats(r.Context(), query)
	if err != nil {
		rm.logger.Error("❌ Failed to compute history stats", zap.String("device", query.DeviceID), zap.Error(err))
		http.Error(w, "Failed to compute history stats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, stats)
}

// historyQuery parses and validates the history parameters, writing a 400 on failure
func historyQuery(w http.ResponseWriter, r *http.Request) (models.HistoryQuery, bool) {
	query := models.NewHistoryQuery(mux.Vars(r)["id"])

	window, err := parseQueryWindow(r, query.Limit, query.Order)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return query, false
	}
	query.Since = window.Since
	query.Until = window.Until
	query.Limit = window.Limit
	query.Offset = window.Offset
	query.Order = window.Order

	if err := query.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return query, false
	}
	return query, true
}
