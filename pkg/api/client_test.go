package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		writeJSON(w, HealthStatus{Status: "ok", Database: "healthy", Devices: 2})
	}))
	defer server.Close()

	health, err := NewClient(server.URL + "/").Health()
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.Devices)
}

func TestClient_APIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, HealthStatus{Status: "ok"})
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Health()
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.Message)

	_, err = NewClient(server.URL, WithAPIKey("secret")).Health()
	assert.NoError(t, err)

	_, err = NewClient(server.URL, WithHTTPClient(&http.Client{}), WithAPIKey("secret")).Health()
	assert.NoError(t, err)
}

func TestClient_ListDevices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/devices", r.URL.Path)
		writeJSON(w, []models.StoredDevice{
			{Identifier: "AA:BB:CC:DD:EE:01", Name: "Aranet4 1A2B3", TypeName: "Aranet4"},
			{Identifier: "AA:BB:CC:DD:EE:02", Name: "Aranet2 4C5D6", TypeName: "Aranet2"},
		})
	}))
	defer server.Close()

	devices, err := NewClient(server.URL).ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "Aranet4 1A2B3", devices[0].Name)
	assert.Equal(t, "AA:BB:CC:DD:EE:02", devices[1].Identifier)
}

func TestClient_GetDevice_EscapesIdentifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/devices/Aranet4%201A2B3", r.URL.EscapedPath())
		writeJSON(w, models.StoredDevice{Identifier: "Aranet4 1A2B3"})
	}))
	defer server.Close()

	device, err := NewClient(server.URL).GetDevice("Aranet4 1A2B3")
	require.NoError(t, err)
	assert.Equal(t, "Aranet4 1A2B3", device.Identifier)
}

func TestClient_GetLatestReading(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/devices/AA:BB/readings/latest" {
			http.Error(w, "no readings", http.StatusNotFound)
			return
		}
		writeJSON(w, models.StoredReading{
			DeviceID:       "AA:BB",
			CurrentReading: models.CurrentReading{CO2: 812, Temperature: 22.35, Status: models.StatusYellow},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	reading, err := client.GetLatestReading("AA:BB")
	require.NoError(t, err)
	assert.Equal(t, uint16(812), reading.CO2)
	assert.Equal(t, models.StatusYellow, reading.Status)

	_, err = client.GetLatestReading("CC:DD")
	assert.True(t, IsNotFound(err))
}

func TestClient_GetHistory(t *testing.T) {
	since := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/api/v1/devices/AA:BB/history", r.URL.Path)
		assert.Equal(t, "2024-05-01T12:00:00Z", q.Get("since"))
		assert.Empty(t, q.Get("until"))
		assert.Equal(t, "50", q.Get("limit"))
		assert.Equal(t, "asc", q.Get("order"))

		writeJSON(w, []models.StoredHistoryRecord{
			{DeviceID: "AA:BB", HistoryRecord: models.HistoryRecord{Timestamp: since, CO2: 700}},
			{DeviceID: "AA:BB", HistoryRecord: models.HistoryRecord{Timestamp: since.Add(5 * time.Minute), CO2: 720}},
		})
	}))
	defer server.Close()

	records, err := NewClient(server.URL).GetHistory("AA:BB", HistoryOptions{Since: since, Limit: 50, Order: "asc"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint16(720), records[1].CO2)
	assert.True(t, records[0].Timestamp.Equal(since))
}

func TestClient_GetHistoryStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/devices/AA:BB/history/stats", r.URL.Path)
		writeJSON(w, models.HistoryStats{
			Count: 10,
			Measurements: map[string]models.MeasurementStats{
				models.MeasurementCO2: {Min: 400, Max: 900, Avg: 612.5, Count: 10},
			},
		})
	}))
	defer server.Close()

	stats, err := NewClient(server.URL).GetHistoryStats("AA:BB", HistoryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Count)
	assert.Equal(t, 612.5, stats.Measurements[models.MeasurementCO2].Avg)
}

func TestClient_GetSyncState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.SyncState{DeviceID: "AA:BB", LastHistoryIndex: 480, TotalReadings: 500})
	}))
	defer server.Close()

	state, err := NewClient(server.URL).GetSyncState("AA:BB")
	require.NoError(t, err)
	assert.Equal(t, uint16(480), state.LastHistoryIndex)
	assert.Equal(t, uint16(500), state.TotalReadings)
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, HealthStatus{Status: "ok"})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, WithTimeout(20*time.Millisecond)).Health()
	assert.Error(t, err)
	assert.False(t, IsNotFound(err))
}
