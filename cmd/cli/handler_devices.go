package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// getDevicesHandler returns all known devices
func (rm *RouteManager) getDevicesHandler(w http.ResponseWriter, r *http.Request) {
	devices, err := rm.dbManager.ListDevices(r.Context())
	if err != nil {
		rm.logger.Error("❌ Failed to list devices", zap.Error(err))
		http.Error(w, "Failed to list devices", http.StatusInternalServerError)
		return
	}

	writeJSON(w, devices)
}

// getDeviceHandler returns a single device by identifier
func (rm *RouteManager) getDeviceHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	device, err := rm.dbManager.GetDevice(r.Context(), id)
	if err != nil {
		rm.logger.Error("❌ Failed to get device", zap.String("device", id), zap.Error(err))
		http.Error(w, "Failed to get device", http.StatusInternalServerError)
		return
	}
	if device == nil {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}

	writeJSON(w, device)
}

// getSyncStateHandler returns the history sync watermark of a device
func (rm *RouteManager) getSyncStateHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	state, err := rm.dbManager.GetSyncState(r.Context(), id)
	if err != nil {
		rm.logger.Error("❌ Failed to get sync state", zap.String("device", id), zap.Error(err))
		http.Error(w, "Failed to get sync state", http.StatusInternalServerError)
		return
	}
	if state == nil {
		http.Error(w, "Device was never synced", http.StatusNotFound)
		return
	}

	writeJSON(w, state)
}

// queryWindow holds the shared time window and paging parameters
type queryWindow struct {
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
	Order  string
}

// parseQueryWindow extracts since, until, limit, offset and order.
// Times are RFC3339 or Unix seconds.
func parseQueryWindow(r *http.Request, defaultLimit int, defaultOrder string) (queryWindow, error) {
	q := r.URL.Query()
	window := queryWindow{Limit: defaultLimit, Order: defaultOrder}

	var err error
	if window.Since, err = parseTimeParam(q.Get("since")); err != nil {
		return window, fmt.Errorf("invalid since: %w", err)
	}
	if window.Until, err = parseTimeParam(q.Get("until")); err != nil {
		return window, fmt.Errorf("invalid until: %w", err)
	}

	if v := q.Get("limit"); v != "" {
		if window.Limit, err = strconv.Atoi(v); err != nil {
			return window, fmt.Errorf("invalid limit: %s", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if window.Offset, err = strconv.Atoi(v); err != nil {
			return window, fmt.Errorf("invalid offset: %s", v)
		}
	}
	if v := q.Get("order"); v != "" {
		window.Order = strings.ToLower(v)
	}

	return window, nil
}

func parseTimeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.Unix(unix, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
