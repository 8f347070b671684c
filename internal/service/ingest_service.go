package service

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jengzang/mobile-supervisor-go/internal/database"
	"github.com/jengzang/mobile-supervisor-go/internal/logging"
	"github.com/jengzang/mobile-supervisor-go/internal/metrics"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/spatial"
)

// DeviceDirectory resolves report identities to devices
type DeviceDirectory interface {
	GetByID(ctx context.Context, id string) (*models.Device, error)
	UpsertByPhone(ctx context.Context, phone string) (*models.Device, error)
	TouchTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) error
}

// LocationWriter reads the previous sample and persists new ones
type LocationWriter interface {
	Latest(ctx context.Context, deviceID string) (*models.LocationSample, error)
	InsertSampleTx(ctx context.Context, tx *sql.Tx, sample *models.LocationSample, observations []models.TowerObservation) error
}

// Broadcaster pushes live positions to subscribers. It must not block.
type Broadcaster interface {
	BroadcastPosition(evt models.PositionEvent)
}

// TowerSubmitter queues background tower resolution
type TowerSubmitter interface {
	Submit(tower models.ReportedTower) bool
}

// IngestConfig tunes position ingestion
type IngestConfig struct {
	Filter          spatial.FilterConfig
	SmoothingWindow int
}

const lockStripes = 64

// liveTrack is the per-device state behind the smoothed live position
type liveTrack struct {
	smoother *spatial.Smoother
	last     *spatial.Sample
}

// IngestService is the single entry point for device position reports
type IngestService struct {
	db          *sql.DB
	devices     DeviceDirectory
	locations   LocationWriter
	broadcaster Broadcaster
	lookups     TowerSubmitter
	cfg         IngestConfig

	// Per-device serialization keeps samples in arrival order
	locks [lockStripes]sync.Mutex

	liveMu sync.Mutex
	live   map[string]*liveTrack

	now func() time.Time
}

// NewIngestService creates the ingestor
func NewIngestService(db *sql.DB, devices DeviceDirectory, locations LocationWriter, broadcaster Broadcaster, lookups TowerSubmitter, cfg IngestConfig) *IngestService {
	return &IngestService{
		db:          db,
		devices:     devices,
		locations:   locations,
		broadcaster: broadcaster,
		lookups:     lookups,
		cfg:         cfg,
		live:        make(map[string]*liveTrack),
		now:         time.Now,
	}
}

// Ingest processes one report: resolve the device, filter against the last
// stored sample, broadcast, persist the sample with its towers atomically
// when accepted, then queue every distinct tower for background resolution.
// Broadcast happens before persistence and regardless of the filter verdict.
func (s *IngestService) Ingest(ctx context.Context, report models.PositionReport) (*models.IngestResult, error) {
	if err := checkReport(report); err != nil {
		metrics.IngestReports.WithLabelValues("invalid").Inc()
		return nil, err
	}

	device, err := s.resolveDevice(ctx, report)
	if err != nil {
		if models.IsClientError(err) {
			metrics.IngestReports.WithLabelValues("invalid").Inc()
		} else {
			metrics.IngestReports.WithLabelValues("failed").Inc()
		}
		return nil, err
	}

	at := report.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	result := &models.IngestResult{DeviceID: device.ID}
	persistErr := s.record(ctx, device, report, at, result)

	for _, t := range report.DistinctTowers() {
		if s.lookups.Submit(t) {
			result.Towers++
		}
	}

	if persistErr != nil {
		metrics.IngestReports.WithLabelValues("failed").Inc()
		logging.Error().Err(persistErr).Str("device_id", device.ID).Msg("Failed to persist position")
		return result, persistErr
	}
	if result.Accepted {
		metrics.IngestReports.WithLabelValues("accepted").Inc()
	} else {
		metrics.IngestReports.WithLabelValues("filtered").Inc()
	}
	return result, nil
}

// record runs the filter, broadcast and write steps under the device's lock
func (s *IngestService) record(ctx context.Context, device *models.Device, report models.PositionReport, at time.Time, result *models.IngestResult) error {
	mu := s.lockFor(device.ID)
	mu.Lock()
	defer mu.Unlock()

	cand := spatial.Sample{Point: spatial.Point{Lat: report.Lat, Lon: report.Lon}, At: at}

	prev, latestErr := s.locations.Latest(ctx, device.ID)
	var decision spatial.Decision
	if latestErr == nil {
		var prevSample *spatial.Sample
		if prev != nil {
			prevSample = &spatial.Sample{Point: spatial.Point{Lat: prev.Lat, Lon: prev.Lon}, At: prev.RecordedAt}
		}
		decision = spatial.Evaluate(prevSample, cand, s.cfg.Filter)
	}

	s.broadcaster.BroadcastPosition(s.positionEvent(device, report, cand))

	if latestErr != nil {
		return latestErr
	}

	result.Accepted = decision.Accept
	result.Reason = decision.Reason
	if !decision.Accept {
		logging.Debug().
			Str("device_id", device.ID).
			Str("reason", decision.Reason).
			Float64("distance_m", decision.DistanceMeters).
			Msg("Position filtered")
		return nil
	}

	sample := &models.LocationSample{DeviceID: device.ID, Lat: report.Lat, Lon: report.Lon, RecordedAt: at}
	observations := make([]models.TowerObservation, 0, len(report.Towers))
	for i, t := range report.Towers {
		observations = append(observations, models.TowerObservation{
			DeviceID:        device.ID,
			TowerIdentifier: t.TowerIdentifier,
			Radio:           t.Radio,
			SignalStrength:  t.SignalStrength,
			SignalDBM:       t.SignalDBM,
			PCI:             t.PCI,
			IsServing:       i == 0,
			RecordedAt:      at,
		})
	}

	err := database.Transaction(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.locations.InsertSampleTx(ctx, tx, sample, observations); err != nil {
			return err
		}
		return s.devices.TouchTx(ctx, tx, device.ID, at)
	})
	if err != nil {
		return fmt.Errorf("failed to persist position for %s: %w", device.ID, err)
	}
	result.Persisted = true
	return nil
}

func checkReport(r models.PositionReport) error {
	if !spatial.ValidCoordinate(r.Lat, r.Lon) {
		return fmt.Errorf("%w: coordinates out of range", models.ErrInvalidReport)
	}
	if r.DeviceID == "" && r.PhoneNumber == "" {
		return fmt.Errorf("%w: no device identity", models.ErrInvalidReport)
	}
	for _, t := range r.Towers {
		if !t.Valid() {
			return fmt.Errorf("%w: negative tower identifier %s", models.ErrInvalidReport, t.Key())
		}
	}
	return nil
}

// resolveDevice looks the device up by id, then by phone, provisioning a new
// device for a phone number seen for the first time.
func (s *IngestService) resolveDevice(ctx context.Context, r models.PositionReport) (*models.Device, error) {
	if r.DeviceID != "" {
		d, err := s.devices.GetByID(ctx, r.DeviceID)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
	}
	if r.PhoneNumber != "" {
		return s.devices.UpsertByPhone(ctx, r.PhoneNumber)
	}
	return nil, fmt.Errorf("%w: unknown device %s", models.ErrDeviceUnresolvable, r.DeviceID)
}

func (s *IngestService) lockFor(deviceID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *IngestService) positionEvent(device *models.Device, report models.PositionReport, cand spatial.Sample) models.PositionEvent {
	evt := models.PositionEvent{
		DeviceID:    device.ID,
		Lat:         report.Lat,
		Lon:         report.Lon,
		Timestamp:   cand.At.UnixMilli(),
		UserName:    device.Label(),
		PhoneNumber: device.PhoneNumber,
	}
	if len(report.Towers) > 0 {
		serving := report.Towers[0]
		cid, lac := serving.CID, serving.LAC
		evt.ServingCellID = &cid
		evt.ServingLAC = &lac
		evt.SignalStrength = serving.SignalStrength
		if evt.SignalStrength == nil {
			evt.SignalStrength = serving.SignalDBM
		}
	}

	s.liveMu.Lock()
	track, ok := s.live[device.ID]
	if !ok {
		track = &liveTrack{smoother: spatial.NewSmoother(s.cfg.SmoothingWindow)}
		s.live[device.ID] = track
	}
	smoothed := spatial.Sample{Point: track.smoother.Push(cand.Point), At: cand.At}
	evt.SmoothLat, evt.SmoothLon = smoothed.Lat, smoothed.Lon
	if spatial.ShouldAccept(track.last, smoothed, s.cfg.Filter) {
		evt.Moving = track.last != nil
		track.last = &smoothed
	}
	s.liveMu.Unlock()

	return evt
}
