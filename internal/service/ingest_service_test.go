package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/repository"
	"github.com/jengzang/mobile-supervisor-go/internal/spatial"
	"github.com/jengzang/mobile-supervisor-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ingestFixture struct {
	db        *sql.DB
	devices   *repository.DeviceRepository
	locations *repository.LocationRepository
	events    *recordingBroadcaster
	lookups   *recordingSubmitter
	svc       *IngestService
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &ingestFixture{
		db:        db,
		devices:   repository.NewDeviceRepository(db),
		locations: repository.NewLocationRepository(db),
		events:    &recordingBroadcaster{},
		lookups:   &recordingSubmitter{},
	}
	f.svc = NewIngestService(db, f.devices, f.locations, f.events, f.lookups, IngestConfig{
		Filter:          spatial.FilterConfig{MinMoveMeters: 5, MaxSpeedKph: 200},
		SmoothingWindow: 3,
	})
	return f
}

func (f *ingestFixture) device(t *testing.T, code string) *models.Device {
	t.Helper()
	d := &models.Device{DeviceCode: code, DisplayName: "Driver " + code, IsActive: true}
	require.NoError(t, f.devices.Create(context.Background(), d))
	return d
}

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func TestIngestAcceptsFirstReportWithTowers(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)
	d := f.device(t, "D1")

	signal := -85
	res, err := f.svc.Ingest(ctx, models.PositionReport{
		DeviceID:  d.ID,
		Lat:       10.7769,
		Lon:       106.7009,
		Timestamp: t0,
		Towers: []models.ReportedTower{
			{TowerIdentifier: towerID(2001), Radio: "lte", SignalDBM: &signal},
			reported(2002),
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Persisted)
	assert.Equal(t, spatial.ReasonFirstSample, res.Reason)
	assert.Equal(t, 2, res.Towers)

	latest, err := f.locations.Latest(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 10.7769, latest.Lat)
	assert.True(t, latest.RecordedAt.Equal(t0))

	obs, err := f.locations.LatestObservationBatch(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.True(t, obs[0].IsServing)
	assert.EqualValues(t, 2001, obs[0].CID)
	require.NotNil(t, obs[0].SignalDBM)
	assert.Equal(t, -85, *obs[0].SignalDBM)
	assert.False(t, obs[1].IsServing)

	stored, err := f.devices.GetByID(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSeenAt)
	assert.True(t, stored.LastSeenAt.Equal(t0))

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, d.ID, events[0].DeviceID)
	assert.Equal(t, "Driver D1", events[0].UserName)
	require.NotNil(t, events[0].ServingCellID)
	assert.EqualValues(t, 2001, *events[0].ServingCellID)
	require.NotNil(t, events[0].SignalStrength)
	assert.Equal(t, -85, *events[0].SignalStrength)
	assert.Equal(t, t0.UnixMilli(), events[0].Timestamp)
}

func TestIngestFiltersSmallMoveButStillBroadcasts(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)
	d := f.device(t, "D2")

	_, err := f.svc.Ingest(ctx, models.PositionReport{DeviceID: d.ID, Lat: 10.7769, Lon: 106.7009, Timestamp: t0})
	require.NoError(t, err)

	// About 1 m north
	res, err := f.svc.Ingest(ctx, models.PositionReport{DeviceID: d.ID, Lat: 10.77691, Lon: 106.7009, Timestamp: t0.Add(10 * time.Second)})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.False(t, res.Persisted)
	assert.Equal(t, spatial.ReasonTooClose, res.Reason)

	// About 111 m north a minute later
	res, err = f.svc.Ingest(ctx, models.PositionReport{DeviceID: d.ID, Lat: 10.7779, Lon: 106.7009, Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, spatial.ReasonMoved, res.Reason)

	history, err := f.locations.History(ctx, d.ID, models.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 10.7769, history[0].Lat)
	assert.Equal(t, 10.7779, history[1].Lat)

	assert.Len(t, f.events.all(), 3)
}

func TestIngestRejectsImplausibleJump(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)
	d := f.device(t, "D3")

	_, err := f.svc.Ingest(ctx, models.PositionReport{DeviceID: d.ID, Lat: 10.7769, Lon: 106.7009, Timestamp: t0})
	require.NoError(t, err)

	// Hanoi ten seconds later
	res, err := f.svc.Ingest(ctx, models.PositionReport{DeviceID: d.ID, Lat: 21.0285, Lon: 105.8542, Timestamp: t0.Add(10 * time.Second)})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, spatial.ReasonTooFast, res.Reason)
}

func TestIngestProvisionsDeviceByPhone(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)

	first, err := f.svc.Ingest(ctx, models.PositionReport{PhoneNumber: "0901234567", Lat: 16.05, Lon: 108.2, Timestamp: t0})
	require.NoError(t, err)
	require.NotEmpty(t, first.DeviceID)

	second, err := f.svc.Ingest(ctx, models.PositionReport{PhoneNumber: "0901234567", Lat: 16.06, Lon: 108.2, Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, first.DeviceID, second.DeviceID)

	d, err := f.devices.GetByPhone(ctx, "0901234567")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, models.AutoDeviceCode("0901234567"), d.DeviceCode)
}

func TestIngestUnknownDeviceWithoutPhone(t *testing.T) {
	f := newIngestFixture(t)

	_, err := f.svc.Ingest(context.Background(), models.PositionReport{DeviceID: "missing", Lat: 10, Lon: 106})
	assert.ErrorIs(t, err, models.ErrDeviceUnresolvable)
	assert.True(t, models.IsClientError(err))
	assert.Empty(t, f.events.all())
}

func TestIngestRejectsInvalidReport(t *testing.T) {
	f := newIngestFixture(t)
	d := f.device(t, "D4")

	_, err := f.svc.Ingest(context.Background(), models.PositionReport{DeviceID: d.ID, Lat: 91, Lon: 106})
	assert.ErrorIs(t, err, models.ErrInvalidReport)

	_, err = f.svc.Ingest(context.Background(), models.PositionReport{Lat: 10, Lon: 106})
	assert.ErrorIs(t, err, models.ErrInvalidReport)
	assert.Empty(t, f.events.all())
}

func TestIngestSubmitsDistinctTowersEvenWhenFiltered(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)
	d := f.device(t, "D5")

	towers := []models.ReportedTower{reported(1), reported(2), reported(1)}
	_, err := f.svc.Ingest(ctx, models.PositionReport{DeviceID: d.ID, Lat: 10, Lon: 106, Timestamp: t0, Towers: towers})
	require.NoError(t, err)

	res, err := f.svc.Ingest(ctx, models.PositionReport{DeviceID: d.ID, Lat: 10, Lon: 106, Timestamp: t0.Add(time.Second), Towers: towers})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, 2, res.Towers)

	var cids []int64
	for _, tw := range f.lookups.all() {
		cids = append(cids, tw.CID)
	}
	assert.Equal(t, []int64{1, 2, 1, 2}, cids)
}

func TestIngestPersistFailureLeavesNoPartialWrite(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)
	d := f.device(t, "D6")

	_, err := f.db.Exec(`DROP TABLE cell_tower_history`)
	require.NoError(t, err)

	res, err := f.svc.Ingest(ctx, models.PositionReport{
		DeviceID: d.ID, Lat: 10, Lon: 106, Timestamp: t0,
		Towers: []models.ReportedTower{reported(7)},
	})
	require.Error(t, err)
	assert.False(t, models.IsClientError(err))
	require.NotNil(t, res)
	assert.True(t, res.Accepted)
	assert.False(t, res.Persisted)

	// Broadcast and tower submission happened anyway
	assert.Len(t, f.events.all(), 1)
	assert.Len(t, f.lookups.all(), 1)

	latest, err := f.locations.Latest(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestIngestSmoothsLivePosition(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)
	d := f.device(t, "D7")

	for i, lat := range []float64{10.000, 10.003, 10.006} {
		_, err := f.svc.Ingest(ctx, models.PositionReport{DeviceID: d.ID, Lat: lat, Lon: 106, Timestamp: t0.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	events := f.events.all()
	require.Len(t, events, 3)
	assert.False(t, events[0].Moving)
	assert.InDelta(t, 10.003, events[2].SmoothLat, 1e-9)
	assert.True(t, events[2].Moving)
}
