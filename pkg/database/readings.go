package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
)

const readingColumns = `
            r.id, d.identifier, r.captured_at, r.co2, r.temperature, r.pressure, r.humidity,
            r.battery, r.status, r.interval_seconds, r.age_seconds, r.radon, r.radon_avg_24h,
            r.radon_avg_7d, r.radon_avg_30d, r.radiation_rate, r.radiation_total, r.radiation_duration`

// InsertReading stores a polled reading. The device row is created when missing.
func (dm *DatabaseManager) InsertReading(ctx context.Context, identifier string, reading models.CurrentReading) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	deviceID, err := dm.upsertDevice(ctx, identifier, "")
	if err != nil {
		return err
	}

	capturedAt := reading.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	query := `
        INSERT INTO readings (
            device_id, captured_at, co2, temperature, pressure, humidity, battery, status,
            interval_seconds, age_seconds, radon, radon_avg_24h, radon_avg_7d, radon_avg_30d,
            radiation_rate, radiation_total, radiation_duration
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
    `

	_, err = dm.ExecWithHealthCheck(ctx, query,
		deviceID,
		capturedAt.UTC(),
		int(reading.CO2),
		reading.Temperature,
		reading.Pressure,
		int(reading.Humidity),
		int(reading.Battery),
		reading.Status.String(),
		int(reading.Interval),
		int(reading.Age),
		nullUint32(reading.Radon),
		nullUint32(reading.RadonAvg24h),
		nullUint32(reading.RadonAvg7d),
		nullUint32(reading.RadonAvg30d),
		nullFloat(reading.RadiationRate),
		nullFloat(reading.RadiationTotal),
		nullUint64(reading.RadiationDuration),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// QueryReadings returns stored readings of one device within the query window
func (dm *DatabaseManager) QueryReadings(ctx context.Context, q models.ReadingQuery) ([]models.StoredReading, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	where, args := windowClause("r.captured_at", q.DeviceID, q.Since, q.Until)
	query := fmt.Sprintf(`
        SELECT %s
        FROM readings r
        JOIN devices d ON r.device_id = d.id
        WHERE %s
        ORDER BY r.captured_at %s
        LIMIT $%d OFFSET $%d
    `, readingColumns, where, q.Order, len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)

	rows, err := dm.QueryWithHealthCheck(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings := []models.StoredReading{}
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, *reading)
	}

	return readings, rows.Err()
}

// GetLatestReading returns the newest stored reading, or nil when there is none
func (dm *DatabaseManager) GetLatestReading(ctx context.Context, identifier string) (*models.StoredReading, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	query := `
        SELECT ` + readingColumns + `
        FROM readings r
        JOIN devices d ON r.device_id = d.id
        WHERE d.identifier = $1
        ORDER BY r.captured_at DESC
        LIMIT 1
    `

	reading, err := scanReading(dm.QueryRowWithHealthCheck(ctx, query, identifier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}
	return reading, nil
}

func scanReading(row rowScanner) (*models.StoredReading, error) {
	var (
		r                                 models.StoredReading
		co2, humidity, battery            int
		interval, age                     int
		status                            string
		radon, avg24h, avg7d, avg30d, dur sql.NullInt64
		radiationRate, radiationTotal     sql.NullFloat64
	)

	err := row.Scan(
		&r.ID,
		&r.DeviceID,
		&r.CapturedAt,
		&co2,
		&r.Temperature,
		&r.Pressure,
		&humidity,
		&battery,
		&status,
		&interval,
		&age,
		&radon,
		&avg24h,
		&avg7d,
		&avg30d,
		&radiationRate,
		&radiationTotal,
		&dur,
	)
	if err != nil {
		return nil, err
	}

	r.CO2 = uint16(co2)
	r.Humidity = uint8(humidity)
	r.Battery = uint8(battery)
	r.Status = models.ParseStatus(status)
	r.Interval = uint16(interval)
	r.Age = uint16(age)
	r.Radon = uint32Ptr(radon)
	r.RadonAvg24h = uint32Ptr(avg24h)
	r.RadonAvg7d = uint32Ptr(avg7d)
	r.RadonAvg30d = uint32Ptr(avg30d)
	r.RadiationRate = floatPtr(radiationRate)
	r.RadiationTotal = floatPtr(radiationTotal)
	if dur.Valid {
		v := uint64(dur.Int64)
		r.RadiationDuration = &v
	}
	return &r, nil
}

// windowClause builds the shared identifier and time window filter.
// Placeholders start at $1.
func windowClause(column, identifier string, since, until *time.Time) (string, []interface{}) {
	where := "d.identifier = $1"
	args := []interface{}{identifier}

	if since != nil {
		args = append(args, since.UTC())
		where += fmt.Sprintf(" AND %s >= $%d", column, len(args))
	}
	if until != nil {
		args = append(args, until.UTC())
		where += fmt.Sprintf(" AND %s <= $%d", column, len(args))
	}
	return where, args
}

func nullUint32(v *uint32) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullUint64(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func uint32Ptr(v sql.NullInt64) *uint32 {
	if !v.Valid {
		return nil
	}
	u := uint32(v.Int64)
	return &u
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
