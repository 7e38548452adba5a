package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sguter90/aranetmaestro/pkg/aranet"
	"github.com/sguter90/aranetmaestro/pkg/database"
	"github.com/sguter90/aranetmaestro/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ HistorySource = (*aranet.Device)(nil)
	_ HistorySource = (*aranet.ReconnectingDevice)(nil)
	_ Store         = (*database.DatabaseManager)(nil)
)

type fakeSource struct {
	name     string
	info     models.HistoryInfo
	records  []models.HistoryRecord
	infoErr  error
	dlErr    error
	requests []aranet.HistoryOptions
}

func (f *fakeSource) Name() string            { return f.name }
func (f *fakeSource) Type() models.DeviceType { return models.DeviceTypeAranet4 }

func (f *fakeSource) ReadDeviceInfo(ctx context.Context) (models.DeviceInfo, error) {
	if f.infoErr != nil {
		return models.DeviceInfo{}, f.infoErr
	}
	return models.DeviceInfo{Name: f.name, Serial: "SN-1", Firmware: "v1.4.19"}, nil
}

func (f *fakeSource) GetHistoryInfo(ctx context.Context) (models.HistoryInfo, error) {
	return f.info, nil
}

func (f *fakeSource) DownloadHistoryWithOptions(ctx context.Context, opts aranet.HistoryOptions) ([]models.HistoryRecord, error) {
	f.requests = append(f.requests, opts)
	if f.dlErr != nil {
		return nil, f.dlErr
	}
	var out []models.HistoryRecord
	for i := opts.StartIndex; i <= opts.EndIndex && int(i) <= len(f.records); i++ {
		out = append(out, f.records[i-1])
	}
	return out, nil
}

// memStore keeps history keyed by timestamp, like the unique index in Postgres
type memStore struct {
	devices map[string]models.StoredDevice
	history map[string]map[time.Time]bool
	state   map[string]models.SyncState
	order   []string
}

func newMemStore() *memStore {
	return &memStore{
		devices: make(map[string]models.StoredDevice),
		history: make(map[string]map[time.Time]bool),
		state:   make(map[string]models.SyncState),
	}
}

func (s *memStore) UpsertDevice(ctx context.Context, identifier, name string) (uuid.UUID, error) {
	d, ok := s.devices[identifier]
	if !ok {
		d = models.StoredDevice{ID: uuid.New(), Identifier: identifier}
		s.order = append(s.order, identifier)
	}
	if name != "" {
		d.Name = name
	}
	s.devices[identifier] = d
	return d.ID, nil
}

func (s *memStore) UpdateDeviceInfo(ctx context.Context, identifier string, info models.DeviceInfo, t models.DeviceType) error {
	d := s.devices[identifier]
	d.Serial = info.Serial
	d.DeviceType = t
	s.devices[identifier] = d
	return nil
}

func (s *memStore) ListDevices(ctx context.Context) ([]models.StoredDevice, error) {
	out := make([]models.StoredDevice, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.devices[id])
	}
	return out, nil
}

func (s *memStore) CalculateSyncStart(ctx context.Context, identifier string, total uint16) (uint16, error) {
	st, ok := s.state[identifier]
	if !ok || st.LastHistoryIndex == 0 || total < st.LastHistoryIndex {
		return 1, nil
	}
	return st.LastHistoryIndex, nil
}

func (s *memStore) InsertHistory(ctx context.Context, identifier string, records []models.HistoryRecord) (int, error) {
	if s.history[identifier] == nil {
		s.history[identifier] = make(map[time.Time]bool)
	}
	inserted := 0
	for _, r := range records {
		if !s.history[identifier][r.Timestamp] {
			s.history[identifier][r.Timestamp] = true
			inserted++
		}
	}
	return inserted, nil
}

func (s *memStore) UpdateSyncState(ctx context.Context, identifier string, last, total uint16) error {
	if last > total {
		return errors.New("last index exceeds total")
	}
	s.state[identifier] = models.SyncState{DeviceID: identifier, LastHistoryIndex: last, TotalReadings: total}
	return nil
}

func makeRecords(n int) []models.HistoryRecord {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	records := make([]models.HistoryRecord, n)
	for i := range records {
		records[i] = models.HistoryRecord{Timestamp: base.Add(time.Duration(i) * time.Minute), CO2: uint16(500 + i)}
	}
	return records
}

func TestSync_FirstSyncDownloadsEverything(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{name: "Aranet4 1A2B3", info: models.HistoryInfo{TotalReadings: 500, IntervalSeconds: 60}, records: makeRecords(500)}

	result, err := NewReconciler(store, nil).Sync(context.Background(), src, "dev-1", SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, uint16(1), result.Start)
	assert.Equal(t, 500, result.Downloaded)
	assert.Equal(t, 500, result.Inserted)
	assert.Equal(t, uint16(500), store.state["dev-1"].LastHistoryIndex)
	assert.Equal(t, "SN-1", store.devices["dev-1"].Serial)
}

func TestSync_Incremental(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{name: "Aranet4", info: models.HistoryInfo{TotalReadings: 480}, records: makeRecords(500)}
	r := NewReconciler(store, nil)

	_, err := r.Sync(context.Background(), src, "dev-1", SyncOptions{})
	require.NoError(t, err)

	src.info.TotalReadings = 500
	result, err := r.Sync(context.Background(), src, "dev-1", SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, uint16(480), result.Start)
	assert.Equal(t, 21, result.Downloaded)
	assert.Equal(t, 20, result.Inserted)

	last := src.requests[len(src.requests)-1]
	assert.Equal(t, uint16(480), last.StartIndex)
	assert.Equal(t, uint16(500), last.EndIndex)
}

func TestSync_FullIgnoresWatermark(t *testing.T) {
	store := newMemStore()
	store.state["dev-1"] = models.SyncState{LastHistoryIndex: 90, TotalReadings: 100}
	src := &fakeSource{name: "Aranet4", info: models.HistoryInfo{TotalReadings: 100}, records: makeRecords(100)}

	result, err := NewReconciler(store, nil).Sync(context.Background(), src, "dev-1", SyncOptions{Full: true})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), result.Start)
	assert.Equal(t, 100, result.Downloaded)
}

func TestSync_DownloadErrorKeepsWatermark(t *testing.T) {
	store := newMemStore()
	store.state["dev-1"] = models.SyncState{LastHistoryIndex: 50, TotalReadings: 50}
	src := &fakeSource{
		name:  "Aranet4",
		info:  models.HistoryInfo{TotalReadings: 80},
		dlErr: &aranet.TimeoutError{Operation: "history", Duration: time.Second},
	}

	_, err := NewReconciler(store, nil).Sync(context.Background(), src, "dev-1", SyncOptions{})
	require.Error(t, err)

	var timeout *aranet.TimeoutError
	assert.ErrorAs(t, err, &timeout)
	assert.Equal(t, uint16(50), store.state["dev-1"].LastHistoryIndex)
}

func TestSync_DeviceReset(t *testing.T) {
	store := newMemStore()
	store.state["dev-1"] = models.SyncState{LastHistoryIndex: 480, TotalReadings: 480}
	src := &fakeSource{name: "Aranet4", info: models.HistoryInfo{TotalReadings: 20}, records: makeRecords(20)}

	result, err := NewReconciler(store, nil).Sync(context.Background(), src, "dev-1", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), result.Start)
	assert.Equal(t, uint16(20), store.state["dev-1"].LastHistoryIndex)
}

func TestSync_EmptyHistory(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{name: "Aranet2"}

	result, err := NewReconciler(store, nil).Sync(context.Background(), src, "dev-1", SyncOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.Downloaded)
	assert.Empty(t, src.requests)
}

func TestSync_DeviceInfoFailureIsNotFatal(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{
		name:    "Aranet4",
		info:    models.HistoryInfo{TotalReadings: 3},
		records: makeRecords(3),
		infoErr: aranet.ErrCharacteristicNotFound,
	}

	result, err := NewReconciler(store, nil).Sync(context.Background(), src, "dev-1", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Inserted)
}

func TestSyncAll_CollectsErrors(t *testing.T) {
	store := newMemStore()
	store.UpsertDevice(context.Background(), "good", "Good")
	store.UpsertDevice(context.Background(), "gone", "Gone")

	released := 0
	dial := func(ctx context.Context, identifier string) (HistorySource, func() error, error) {
		if identifier == "gone" {
			return nil, nil, &aranet.DeviceNotFoundError{Identifier: identifier}
		}
		src := &fakeSource{name: "Good", info: models.HistoryInfo{TotalReadings: 5}, records: makeRecords(5)}
		return src, func() error { released++; return nil }, nil
	}

	results, err := NewReconciler(store, nil).SyncAll(context.Background(), dial, SyncOptions{})
	require.Error(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 5, results[0].Inserted)
	assert.Empty(t, results[0].Error)
	assert.NotEmpty(t, results[1].Error)
	assert.Equal(t, 1, released)

	var notFound *aranet.DeviceNotFoundError
	assert.ErrorAs(t, err, &notFound)
}
