package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"go.uber.org/zap"
)

// historyMeasurements maps the summarised measurements to history columns
var historyMeasurements = []struct {
	name   string
	column string
}{
	{models.MeasurementCO2, "co2"},
	{models.MeasurementTemperature, "temperature"},
	{models.MeasurementHumidity, "humidity"},
	{models.MeasurementPressure, "pressure"},
	{models.MeasurementRadon, "radon"},
	{models.MeasurementRadiationRate, "radiation_rate"},
	{models.MeasurementRadiationTotal, "radiation_total"},
}

// InsertHistory stores history records in one transaction and returns how
// many were new. Records whose timestamp is already stored are skipped.
func (dm *DatabaseManager) InsertHistory(ctx context.Context, identifier string, records []models.HistoryRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	deviceID, err := dm.deviceID(ctx, identifier)
	if err != nil {
		return 0, err
	}

	tx, err := dm.BeginWithHealthCheck(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO history (
            device_id, timestamp, co2, temperature, pressure, humidity,
            radon, radiation_rate, radiation_total
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (device_id, timestamp) DO NOTHING
    `)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare history insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, record := range records {
		result, err := stmt.ExecContext(ctx,
			deviceID,
			record.Timestamp.UTC(),
			nullIfZero(int64(record.CO2)),
			record.Temperature,
			nullIfZeroFloat(record.Pressure),
			int(record.Humidity),
			nullUint32(record.Radon),
			nullFloat(record.RadiationRate),
			nullFloat(record.RadiationTotal),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert history record at %s: %w", record.Timestamp, err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit history: %w", err)
	}

	dm.logger.Debug("stored history",
		zap.String("device", identifier),
		zap.Int("records", len(records)),
		zap.Int("inserted", inserted),
	)
	return inserted, nil
}

// QueryHistory returns stored history records of one device within the query window
func (dm *DatabaseManager) QueryHistory(ctx context.Context, q models.HistoryQuery) ([]models.StoredHistoryRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	where, args := windowClause("h.timestamp", q.DeviceID, q.Since, q.Until)
	query := fmt.Sprintf(`
        SELECT d.identifier, h.timestamp, h.co2, h.temperature, h.pressure, h.humidity,
               h.radon, h.radiation_rate, h.radiation_total, h.synced_at
        FROM history h
        JOIN devices d ON h.device_id = d.id
        WHERE %s
        ORDER BY h.timestamp %s
        LIMIT $%d OFFSET $%d
    `, where, q.Order, len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)

	rows, err := dm.QueryWithHealthCheck(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := []models.StoredHistoryRecord{}
	for rows.Next() {
		var (
			r           models.StoredHistoryRecord
			co2, radon  sql.NullInt64
			pressure    sql.NullFloat64
			rate, total sql.NullFloat64
			humidity    int
		)

		err := rows.Scan(
			&r.DeviceID,
			&r.Timestamp,
			&co2,
			&r.Temperature,
			&pressure,
			&humidity,
			&radon,
			&rate,
			&total,
			&r.SyncedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}

		r.CO2 = uint16(co2.Int64)
		r.Pressure = pressure.Float64
		r.Humidity = uint8(humidity)
		r.Radon = uint32Ptr(radon)
		r.RadiationRate = floatPtr(rate)
		r.RadiationTotal = floatPtr(total)
		records = append(records, r)
	}

	return records, rows.Err()
}

// CountHistory returns the number of stored history records of a device
func (dm *DatabaseManager) CountHistory(ctx context.Context, identifier string) (int, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	query := `
        SELECT COUNT(*)
        FROM history h
        JOIN devices d ON h.device_id = d.id
        WHERE d.identifier = $1
    `

	var count int
	if err := dm.QueryRowWithHealthCheck(ctx, query, identifier).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return count, nil
}

// HistoryStats summarises stored history within the query window. Limit,
// offset and order are ignored.
func (dm *DatabaseManager) HistoryStats(ctx context.Context, q models.HistoryQuery) (*models.HistoryStats, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	selects := []string{"COUNT(*)", "MIN(h.timestamp)", "MAX(h.timestamp)"}
	for _, m := range historyMeasurements {
		selects = append(selects, fmt.Sprintf(
			"MIN(h.%[1]s)::float8, MAX(h.%[1]s)::float8, AVG(h.%[1]s)::float8, COUNT(h.%[1]s)",
			m.column,
		))
	}

	where, args := windowClause("h.timestamp", q.DeviceID, q.Since, q.Until)
	query := fmt.Sprintf(`
        SELECT %s
        FROM history h
        JOIN devices d ON h.device_id = d.id
        WHERE %s
    `, strings.Join(selects, ", "), where)

	var (
		stats       models.HistoryStats
		first, last sql.NullTime
	)
	mins := make([]sql.NullFloat64, len(historyMeasurements))
	maxs := make([]sql.NullFloat64, len(historyMeasurements))
	avgs := make([]sql.NullFloat64, len(historyMeasurements))
	counts := make([]int, len(historyMeasurements))

	dest := []interface{}{&stats.Count, &first, &last}
	for i := range historyMeasurements {
		dest = append(dest, &mins[i], &maxs[i], &avgs[i], &counts[i])
	}

	if err := dm.QueryRowWithHealthCheck(ctx, query, args...).Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to compute history stats: %w", err)
	}

	if first.Valid {
		stats.First = &first.Time
	}
	if last.Valid {
		stats.Last = &last.Time
	}

	stats.Measurements = make(map[string]models.MeasurementStats)
	for i, m := range historyMeasurements {
		if counts[i] == 0 {
			continue
		}
		stats.Measurements[m.name] = models.MeasurementStats{
			Min:   mins[i].Float64,
			Max:   maxs[i].Float64,
			Avg:   avgs[i].Float64,
			Count: counts[i],
		}
	}

	return &stats, nil
}

func nullIfZero(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullIfZeroFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: v != 0}
}
