package aranet

import (
	"context"
	"fmt"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"go.uber.org/zap"
)

// HistoryOptions configures a history download. Indices are 1-based and
// inclusive; zero means the start or end of the device buffer.
type HistoryOptions struct {
	StartIndex uint16
	EndIndex   uint16
	// ReadDelay is the pause between a V2 request and its read
	ReadDelay time.Duration
	// Progress is called off the download goroutine with the latest update
	Progress func(HistoryProgress)

	V1NotificationTimeout time.Duration
	V1MaxStalls           int
	V2MaxRetries          int
}

// DefaultHistoryOptions downloads the whole buffer
func DefaultHistoryOptions() HistoryOptions {
	return HistoryOptions{
		ReadDelay:             50 * time.Millisecond,
		V1NotificationTimeout: 5 * time.Second,
		V1MaxStalls:           3,
		V2MaxRetries:          3,
	}
}

func (o HistoryOptions) withDefaults() HistoryOptions {
	def := DefaultHistoryOptions()
	if o.ReadDelay <= 0 {
		o.ReadDelay = def.ReadDelay
	}
	if o.V1NotificationTimeout <= 0 {
		o.V1NotificationTimeout = def.V1NotificationTimeout
	}
	if o.V1MaxStalls <= 0 {
		o.V1MaxStalls = def.V1MaxStalls
	}
	if o.V2MaxRetries <= 0 {
		o.V2MaxRetries = def.V2MaxRetries
	}
	return o
}

// HistoryProgress reports download progress
type HistoryProgress struct {
	CurrentParam     models.HistoryParam `json:"current_param"`
	ParamIndex       int                 `json:"param_index"`
	TotalParams      int                 `json:"total_params"`
	ValuesDownloaded int                 `json:"values_downloaded"`
	TotalValues      int                 `json:"total_values"`
	OverallProgress  float32             `json:"overall_progress"`
}

func newHistoryProgress(param models.HistoryParam, paramIndex, totalParams, downloaded, total int) HistoryProgress {
	frac := 1.0
	if total > 0 {
		frac = float64(downloaded) / float64(total)
	}
	overall := (float64(paramIndex-1) + frac) / float64(totalParams)
	overall = min(max(overall, 0), 1)

	return HistoryProgress{
		CurrentParam:     param,
		ParamIndex:       paramIndex,
		TotalParams:      totalParams,
		ValuesDownloaded: downloaded,
		TotalValues:      total,
		OverallProgress:  float32(overall),
	}
}

// progressReporter delivers progress on its own goroutine. Only the
// latest pending update is kept so a slow callback never stalls the download.
type progressReporter struct {
	ch   chan HistoryProgress
	done chan struct{}
}

func newProgressReporter(fn func(HistoryProgress)) *progressReporter {
	if fn == nil {
		return nil
	}
	r := &progressReporter{
		ch:   make(chan HistoryProgress, 1),
		done: make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		for p := range r.ch {
			fn(p)
		}
	}()
	return r
}

func (r *progressReporter) report(p HistoryProgress) {
	if r == nil {
		return
	}
	for {
		select {
		case r.ch <- p:
			return
		default:
		}
		select {
		case <-r.ch:
		default:
		}
	}
}

// close flushes the pending update and waits for the callback to return
func (r *progressReporter) close() {
	if r == nil {
		return
	}
	close(r.ch)
	<-r.done
}

// historyProtocol downloads one parameter stream. Implementations are
// called with the device lock held.
type historyProtocol interface {
	name() string
	fetch(ctx context.Context, d *Device, param models.HistoryParam, start, end uint16, opts HistoryOptions, progress func(done, total int)) (map[uint16]float64, error)
}

// historyParams returns the streams downloaded for a model, primary first
func historyParams(t models.DeviceType) ([]models.HistoryParam, error) {
	switch t {
	case models.DeviceTypeAranet2:
		return []models.HistoryParam{models.HistoryParamTemperature, models.HistoryParamHumidity2}, nil
	case models.DeviceTypeAranetRadon:
		return []models.HistoryParam{
			models.HistoryParamRadon,
			models.HistoryParamTemperature,
			models.HistoryParamPressure,
			models.HistoryParamHumidity2,
		}, nil
	case models.DeviceTypeAranetRadiation:
		return nil, fmt.Errorf("history download for %s: %w", t, ErrUnsupported)
	}
	return []models.HistoryParam{
		models.HistoryParamCO2,
		models.HistoryParamTemperature,
		models.HistoryParamPressure,
		models.HistoryParamHumidity,
	}, nil
}

// GetHistoryInfo reads the size and timing of the history buffer
func (d *Device) GetHistoryInfo(ctx context.Context) (models.HistoryInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.historyInfo(ctx)
}

func (d *Device) historyInfo(ctx context.Context) (models.HistoryInfo, error) {
	total, err := d.read(ctx, CharTotalReadings)
	if err != nil {
		return models.HistoryInfo{}, fmt.Errorf("failed to read total readings: %w", err)
	}
	interval, err := d.read(ctx, CharReadInterval)
	if err != nil {
		return models.HistoryInfo{}, fmt.Errorf("failed to read interval: %w", err)
	}
	since, err := d.read(ctx, CharSecondsSinceUpdate)
	if err != nil && !IsConnectionLost(err) {
		d.logger.Debug("seconds since update unavailable", zap.Error(err))
		since = nil
	} else if err != nil {
		return models.HistoryInfo{}, err
	}
	return DecodeHistoryInfo(total, interval, since)
}

// DownloadHistory downloads the whole history buffer
func (d *Device) DownloadHistory(ctx context.Context) ([]models.HistoryRecord, error) {
	return d.DownloadHistoryWithOptions(ctx, DefaultHistoryOptions())
}

// DownloadHistoryWithOptions downloads records in [StartIndex, EndIndex].
// Parameter streams are fetched one after the other and joined by index;
// any stream failure aborts the whole download.
//
// Progress runs on its own goroutine and may call other Device methods;
// they wait until the download has released the link.
func (d *Device) DownloadHistoryWithOptions(ctx context.Context, opts HistoryOptions) ([]models.HistoryRecord, error) {
	opts = opts.withDefaults()

	// The reporter is closed after the lock is released so a callback
	// blocked on the device can still finish.
	reporter := newProgressReporter(opts.Progress)
	records, err := d.downloadHistory(ctx, opts, reporter)
	reporter.close()
	return records, err
}

func (d *Device) downloadHistory(ctx context.Context, opts HistoryOptions, reporter *progressReporter) ([]models.HistoryRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := d.historyInfo(ctx)
	if err != nil {
		return nil, err
	}
	anchor := time.Now().Add(-time.Duration(info.SecondsSinceUpdate) * time.Second)

	start, end := opts.StartIndex, opts.EndIndex
	if start == 0 {
		start = 1
	}
	if end == 0 || end > info.TotalReadings {
		end = info.TotalReadings
	}
	if start > end {
		return []models.HistoryRecord{}, nil
	}

	params, err := historyParams(d.deviceType)
	if err != nil {
		return nil, err
	}

	d.logger.Info("downloading history",
		zap.String("protocol", d.history.name()),
		zap.Uint16("start", start),
		zap.Uint16("end", end),
		zap.Uint16("total", info.TotalReadings),
	)

	streams := make(map[models.HistoryParam]map[uint16]float64, len(params))
	for i, param := range params {
		reporter.report(newHistoryProgress(param, i+1, len(params), 0, int(end-start)+1))

		values, err := d.history.fetch(ctx, d, param, start, end, opts, func(done, total int) {
			reporter.report(newHistoryProgress(param, i+1, len(params), done, total))
		})
		if err != nil {
			return nil, &HistoryError{Param: param, Err: err}
		}
		streams[param] = values
		d.logger.Debug("history parameter downloaded", zap.Stringer("param", param), zap.Int("values", len(values)))

		// Records exist only where the primary stream has values
		if i == 0 && len(values) == 0 {
			d.logger.Info("✓ history downloaded", zap.Int("records", 0))
			return []models.HistoryRecord{}, nil
		}
	}

	records := mergeHistory(params, streams, start, end, info, anchor)
	d.logger.Info("✓ history downloaded", zap.Int("records", len(records)))
	return records, nil
}

// historyTimestamp places a 1-based index on the wall clock. The newest
// sample (idx == total) was taken at anchor.
func historyTimestamp(anchor time.Time, info models.HistoryInfo, idx uint16) time.Time {
	back := time.Duration(int(info.TotalReadings)-int(idx)) * info.Interval()
	return anchor.Add(-back).Truncate(time.Second).UTC()
}

// mergeHistory joins streams by index. An index is emitted when the
// primary stream holds it.
func mergeHistory(params []models.HistoryParam, streams map[models.HistoryParam]map[uint16]float64, start, end uint16, info models.HistoryInfo, anchor time.Time) []models.HistoryRecord {
	primary := streams[params[0]]
	records := make([]models.HistoryRecord, 0, len(primary))

	for idx := int(start); idx <= int(end); idx++ {
		if _, ok := primary[uint16(idx)]; !ok {
			continue
		}
		rec := models.HistoryRecord{Timestamp: historyTimestamp(anchor, info, uint16(idx))}
		for _, param := range params {
			v, ok := streams[param][uint16(idx)]
			if !ok {
				continue
			}
			switch param {
			case models.HistoryParamCO2:
				rec.CO2 = uint16(v)
			case models.HistoryParamTemperature:
				rec.Temperature = v
			case models.HistoryParamPressure:
				rec.Pressure = v
			case models.HistoryParamHumidity, models.HistoryParamHumidity2:
				rec.Humidity = uint8(v)
			case models.HistoryParamRadon:
				radon := uint32(v)
				rec.Radon = &radon
			}
		}
		records = append(records, rec)
	}
	return records
}
