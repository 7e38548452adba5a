package database

import (
	"context"
	"testing"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
)

func historyFixture(start time.Time, count int) []models.HistoryRecord {
	records := make([]models.HistoryRecord, count)
	for i := range records {
		records[i] = models.HistoryRecord{
			Timestamp:   start.Add(time.Duration(i) * time.Minute),
			CO2:         uint16(600 + i),
			Temperature: 21.0,
			Pressure:    1013.2,
			Humidity:    40,
		}
	}
	return records
}

func TestSyncRoundTrip(t *testing.T) {
	dm := setupTestDatabaseManager(t)
	if dm == nil {
		t.Skip("Skipping test that requires real database connection")
	}
	defer dm.Close()

	ctx := context.Background()

	if _, err := dm.UpsertDevice(ctx, testIdentifier, "Aranet4 1A2B3"); err != nil {
		t.Fatalf("Failed to upsert device: %v", err)
	}

	start, err := dm.CalculateSyncStart(ctx, testIdentifier, 10)
	if err != nil {
		t.Fatalf("Failed to calculate sync start: %v", err)
	}
	if start != 1 {
		t.Errorf("Expected first sync to start at 1, got %d", start)
	}

	base := time.Now().UTC().Truncate(time.Minute).Add(-time.Hour)
	inserted, err := dm.InsertHistory(ctx, testIdentifier, historyFixture(base, 10))
	if err != nil {
		t.Fatalf("Failed to insert history: %v", err)
	}
	if inserted != 10 {
		t.Errorf("Expected 10 new records, got %d", inserted)
	}

	// Overlapping window
	inserted, err = dm.InsertHistory(ctx, testIdentifier, historyFixture(base.Add(8*time.Minute), 5))
	if err != nil {
		t.Fatalf("Failed to insert history: %v", err)
	}
	if inserted != 3 {
		t.Errorf("Expected 3 new records, got %d", inserted)
	}

	count, err := dm.CountHistory(ctx, testIdentifier)
	if err != nil {
		t.Fatalf("Failed to count history: %v", err)
	}
	if count != 13 {
		t.Errorf("Expected 13 stored records, got %d", count)
	}

	if err := dm.UpdateSyncState(ctx, testIdentifier, 13, 13); err != nil {
		t.Fatalf("Failed to update sync state: %v", err)
	}

	start, err = dm.CalculateSyncStart(ctx, testIdentifier, 15)
	if err != nil {
		t.Fatalf("Failed to calculate sync start: %v", err)
	}
	if start != 13 {
		t.Errorf("Expected incremental sync to start at 13, got %d", start)
	}

	records, err := dm.QueryHistory(ctx, models.NewHistoryQuery(testIdentifier))
	if err != nil {
		t.Fatalf("Failed to query history: %v", err)
	}
	if len(records) != 13 || records[0].CO2 != 600 {
		t.Errorf("Expected 13 records starting at co2=600, got %d", len(records))
	}

	stats, err := dm.HistoryStats(ctx, models.NewHistoryQuery(testIdentifier))
	if err != nil {
		t.Fatalf("Failed to compute stats: %v", err)
	}
	if _, ok := stats.Measurements[models.MeasurementRadon]; ok {
		t.Error("Expected no radon stats for an Aranet4")
	}
}

func TestReadingRoundTrip(t *testing.T) {
	dm := setupTestDatabaseManager(t)
	if dm == nil {
		t.Skip("Skipping test that requires real database connection")
	}
	defer dm.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		err := dm.InsertReading(ctx, testIdentifier, models.CurrentReading{
			CO2:         uint16(700 + i),
			Temperature: 22.0,
			Status:      models.StatusGreen,
			CapturedAt:  now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Failed to insert reading: %v", err)
		}
	}

	latest, err := dm.GetLatestReading(ctx, testIdentifier)
	if err != nil {
		t.Fatalf("Failed to get latest reading: %v", err)
	}
	if latest == nil || latest.CO2 != 702 || latest.Status != models.StatusGreen {
		t.Errorf("Expected latest reading with co2=702, got %+v", latest)
	}

	devices, err := dm.ListDevices(ctx)
	if err != nil {
		t.Fatalf("Failed to list devices: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("Expected the reading to create the device row, got %d devices", len(devices))
	}
}
