package aranet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"
)

func u16(v int) []byte {
	b := make([]byte, 2)
	le.PutUint16(b, uint16(v))
	return b
}

// historyValue encodes a recognisable sample for index idx
func historyValue(param models.HistoryParam, idx int) []byte {
	switch param {
	case models.HistoryParamCO2:
		return u16(400 + idx)
	case models.HistoryParamTemperature:
		return u16(400 + idx) // 20.0 C + idx/20
	case models.HistoryParamPressure:
		return u16(10000 + idx)
	case models.HistoryParamHumidity:
		return []byte{byte(30 + idx%50)}
	}
	return nil
}

func historyPeripheral(total, interval, since int) *fakePeripheral {
	return aranet4Peripheral(testAddress).
		set(CharTotalReadings, u16(total)).
		set(CharReadInterval, u16(interval)).
		set(CharSecondsSinceUpdate, u16(since))
}

// serveV2 answers page requests with up to pageSize values
func serveV2(total, pageSize int) func(p *fakePeripheral, char bluetooth.UUID, data []byte) {
	return func(p *fakePeripheral, char bluetooth.UUID, data []byte) {
		if char != CharCommand || data[0] != CmdHistoryV2 {
			return
		}
		param := models.HistoryParam(data[1])
		start := int(le.Uint16(data[2:]))
		count := max(min(pageSize, total-start+1), 0)

		page := []byte{byte(param)}
		page = append(page, u16(60)...)
		page = append(page, u16(total)...)
		page = append(page, u16(0)...)
		page = append(page, u16(start)...)
		page = append(page, byte(count))
		for i := 0; i < count; i++ {
			page = append(page, historyValue(param, start+i)...)
		}
		p.set(CharHistoryV2, page)
	}
}

// serveV1 answers a range request with notifications of pageSize values,
// sent newest first with one duplicate and one foreign packet.
func serveV1(pageSize int) func(p *fakePeripheral, char bluetooth.UUID, data []byte) {
	return func(p *fakePeripheral, char bluetooth.UUID, data []byte) {
		if char != CharCommand || data[0] != CmdHistoryV1 {
			return
		}
		param := models.HistoryParam(data[1])
		start := int(le.Uint16(data[2:]))
		count := int(le.Uint16(data[4:]))

		var packets [][]byte
		for s := start; s < start+count; s += pageSize {
			n := min(pageSize, start+count-s)
			pkt := []byte{byte(param)}
			pkt = append(pkt, u16(s)...)
			pkt = append(pkt, byte(n))
			for i := 0; i < n; i++ {
				pkt = append(pkt, historyValue(param, s+i)...)
			}
			packets = append(packets, pkt)
		}

		p.notify(CharHistoryV1, []byte{byte(param) + 1, 1, 0, 1, 0xFF, 0xFF})
		for i := len(packets) - 1; i >= 0; i-- {
			p.notify(CharHistoryV1, packets[i])
			if i == len(packets)-1 {
				p.notify(CharHistoryV1, packets[i])
			}
		}
	}
}

func connectHistoryDevice(t *testing.T, p *fakePeripheral) *Device {
	t.Helper()
	adapter := newFakeAdapter()
	adapter.addDevice(testAddress, "Aranet4 1A2B3", p)

	d, err := Connect(context.Background(), adapter, testAddress, testConnectOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Disconnect() })
	return d
}

func fastHistoryOptions() HistoryOptions {
	return HistoryOptions{
		ReadDelay:             time.Millisecond,
		V1NotificationTimeout: 20 * time.Millisecond,
		V1MaxStalls:           2,
		V2MaxRetries:          2,
	}
}

func TestDownloadHistory_V2(t *testing.T) {
	p := historyPeripheral(12, 60, 0).set(CharHistoryV2, nil)
	p.onWrite = serveV2(12, 5)
	d := connectHistoryDevice(t, p)
	require.Equal(t, "v2", d.HistoryProtocol())

	records, err := d.DownloadHistoryWithOptions(context.Background(), fastHistoryOptions())
	require.NoError(t, err)
	require.Len(t, records, 12)

	for i, rec := range records {
		idx := i + 1
		assert.Equal(t, uint16(400+idx), rec.CO2)
		assert.InDelta(t, float64(400+idx)/20, rec.Temperature, 0.001)
		assert.InDelta(t, float64(10000+idx)/10, rec.Pressure, 0.001)
		assert.Equal(t, uint8(30+idx), rec.Humidity)
	}

	var starts []uint16
	for _, w := range p.writesTo(CharCommand) {
		if models.HistoryParam(w[1]) == models.HistoryParamCO2 {
			starts = append(starts, le.Uint16(w[2:]))
		}
	}
	assert.Equal(t, []uint16{1, 6, 11}, starts)
}

func TestDownloadHistory_V2_Range(t *testing.T) {
	p := historyPeripheral(20, 60, 0).set(CharHistoryV2, nil)
	p.onWrite = serveV2(20, 5)
	d := connectHistoryDevice(t, p)

	opts := fastHistoryOptions()
	opts.StartIndex, opts.EndIndex = 5, 8
	records, err := d.DownloadHistoryWithOptions(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, uint16(405), records[0].CO2)
	assert.Equal(t, uint16(408), records[3].CO2)

	// one request per parameter
	assert.Len(t, p.writesTo(CharCommand), 4)
}

func TestDownloadHistory_V2_ParamMismatch(t *testing.T) {
	p := historyPeripheral(12, 60, 0)
	reads := 0
	var mu sync.Mutex
	p.reads[CharHistoryV2] = func() ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		reads++
		return []byte{byte(models.HistoryParamPressure), 0x3C, 0, 12, 0, 0, 0, 1, 0, 1, 0x10, 0x27}, nil
	}
	d := connectHistoryDevice(t, p)

	_, err := d.DownloadHistoryWithOptions(context.Background(), fastHistoryOptions())

	var histErr *HistoryError
	require.True(t, errors.As(err, &histErr))
	assert.Equal(t, models.HistoryParamCO2, histErr.Param)
	var invalid *InvalidDataError
	assert.True(t, errors.As(err, &invalid))
	assert.Equal(t, 3, reads)
}

func TestDownloadHistory_V2_EmptyPage(t *testing.T) {
	p := historyPeripheral(12, 60, 0).set(CharHistoryV2, []byte{byte(models.HistoryParamCO2), 0x3C, 0, 12, 0, 0, 0, 1, 0, 0})
	d := connectHistoryDevice(t, p)

	records, err := d.DownloadHistoryWithOptions(context.Background(), fastHistoryOptions())
	require.NoError(t, err)
	assert.Empty(t, records)

	// No secondary streams are requested once the primary one is empty
	writes := p.writesTo(CharCommand)
	require.Len(t, writes, 1)
	assert.Equal(t, byte(models.HistoryParamCO2), writes[0][1])
}

func TestDownloadHistory_V1(t *testing.T) {
	p := historyPeripheral(25, 300, 0)
	p.onWrite = serveV1(10)
	d := connectHistoryDevice(t, p)
	require.Equal(t, "v1", d.HistoryProtocol())

	records, err := d.DownloadHistoryWithOptions(context.Background(), fastHistoryOptions())
	require.NoError(t, err)
	require.Len(t, records, 25)

	for i, rec := range records {
		assert.Equal(t, uint16(400+i+1), rec.CO2)
		if i > 0 {
			assert.Equal(t, 300*time.Second, rec.Timestamp.Sub(records[i-1].Timestamp))
		}
	}

	assert.Empty(t, p.subscribers, "expected notifications to be disabled")
	assert.Equal(t, []byte{0x82, 0x04, 0x01, 0x00, 0x19, 0x00}, p.writesTo(CharCommand)[0])
}

func TestDownloadHistory_V1_Stall(t *testing.T) {
	p := historyPeripheral(5, 60, 0)
	d := connectHistoryDevice(t, p)

	start := time.Now()
	_, err := d.DownloadHistoryWithOptions(context.Background(), fastHistoryOptions())

	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.True(t, IsRetriable(err))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestDownloadHistory_Timestamps(t *testing.T) {
	p := historyPeripheral(10, 60, 30).set(CharHistoryV2, nil)
	p.onWrite = serveV2(10, 10)
	d := connectHistoryDevice(t, p)

	before := time.Now()
	records, err := d.DownloadHistoryWithOptions(context.Background(), fastHistoryOptions())
	require.NoError(t, err)
	require.Len(t, records, 10)

	newest := records[9].Timestamp
	assert.WithinDuration(t, before.Add(-30*time.Second), newest, 2*time.Second)
	assert.Equal(t, newest.Add(-9*time.Minute), records[0].Timestamp)
	assert.Zero(t, newest.Nanosecond())
}

func TestDownloadHistory_EmptyRange(t *testing.T) {
	p := historyPeripheral(10, 60, 0).set(CharHistoryV2, nil)
	p.onWrite = serveV2(10, 10)
	d := connectHistoryDevice(t, p)

	opts := fastHistoryOptions()
	opts.StartIndex = 11
	records, err := d.DownloadHistoryWithOptions(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, p.writesTo(CharCommand))
}

func TestDownloadHistory_Progress(t *testing.T) {
	p := historyPeripheral(12, 60, 0).set(CharHistoryV2, nil)
	p.onWrite = serveV2(12, 4)
	d := connectHistoryDevice(t, p)

	var mu sync.Mutex
	var updates []HistoryProgress
	opts := fastHistoryOptions()
	opts.Progress = func(hp HistoryProgress) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, hp)
	}

	_, err := d.DownloadHistoryWithOptions(context.Background(), opts)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	for _, u := range updates {
		assert.GreaterOrEqual(t, u.OverallProgress, float32(0))
		assert.LessOrEqual(t, u.OverallProgress, float32(1))
		assert.Equal(t, 4, u.TotalParams)
	}
	last := updates[len(updates)-1]
	assert.Equal(t, models.HistoryParamHumidity, last.CurrentParam)
	assert.InDelta(t, 1.0, last.OverallProgress, 0.0001)
}

func TestDownloadHistory_ProgressCallsDevice(t *testing.T) {
	p := historyPeripheral(12, 60, 0).set(CharHistoryV2, nil)
	p.onWrite = serveV2(12, 4)
	d := connectHistoryDevice(t, p)

	var mu sync.Mutex
	var batteries []uint8
	opts := fastHistoryOptions()
	opts.Progress = func(HistoryProgress) {
		b, err := d.ReadBattery(context.Background())
		if err != nil {
			t.Errorf("Expected battery read from progress callback: %v", err)
			return
		}
		mu.Lock()
		batteries = append(batteries, b)
		mu.Unlock()
	}

	done := make(chan error, 1)
	go func() {
		_, err := d.DownloadHistoryWithOptions(context.Background(), opts)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Expected download to finish while the callback uses the device")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, batteries)
	assert.Equal(t, uint8(85), batteries[0])
}

func TestDownloadHistory_RadiationUnsupported(t *testing.T) {
	adapter := newFakeAdapter()
	p := historyPeripheral(10, 60, 0)
	adapter.addDevice(testAddress, "Aranet Radiation 4F", p)

	d, err := Connect(context.Background(), adapter, testAddress, testConnectOptions())
	require.NoError(t, err)
	defer d.Disconnect()

	_, err = d.DownloadHistory(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, IsRetriable(err))
}

func TestHistoryProgress_Overall(t *testing.T) {
	p := newHistoryProgress(models.HistoryParamTemperature, 2, 4, 50, 100)
	assert.InDelta(t, 0.375, p.OverallProgress, 0.0001)

	p = newHistoryProgress(models.HistoryParamCO2, 1, 4, 0, 0)
	assert.InDelta(t, 0.25, p.OverallProgress, 0.0001)
}

func TestHistoryParams(t *testing.T) {
	params, err := historyParams(models.DeviceTypeAranet2)
	require.NoError(t, err)
	assert.Equal(t, []models.HistoryParam{models.HistoryParamTemperature, models.HistoryParamHumidity2}, params)

	params, err = historyParams(models.DeviceTypeAranetRadon)
	require.NoError(t, err)
	assert.Equal(t, models.HistoryParamRadon, params[0])
}
