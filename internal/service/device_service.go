package service

import (
	"context"
	"fmt"

	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/repository"
)

// DeviceService serves the read side of devices: listing, latest cells and history
type DeviceService struct {
	devices   *repository.DeviceRepository
	locations *repository.LocationRepository
	towers    *repository.TowerRepository
}

// NewDeviceService creates a new device service
func NewDeviceService(devices *repository.DeviceRepository, locations *repository.LocationRepository, towers *repository.TowerRepository) *DeviceService {
	return &DeviceService{
		devices:   devices,
		locations: locations,
		towers:    towers,
	}
}

// ListDevices returns every known device
func (s *DeviceService) ListDevices(ctx context.Context) ([]models.Device, error) {
	devices, err := s.devices.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// GetDevice returns a device or ErrDeviceNotFound
func (s *DeviceService) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	d, err := s.devices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrDeviceNotFound, id)
	}
	return d, nil
}

// LatestCells returns the towers recorded with the device's most recent
// sample. The serving cell is the one flagged serving, or the first one when
// none is flagged. Each cell carries its cached tower once resolved. A device
// without observations gets an empty snapshot.
func (s *DeviceService) LatestCells(ctx context.Context, id string) (*models.CellSnapshot, error) {
	if _, err := s.GetDevice(ctx, id); err != nil {
		return nil, err
	}

	obs, err := s.locations.LatestObservationBatch(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := &models.CellSnapshot{DeviceID: id, Neighbors: []models.ObservedCell{}}
	if len(obs) == 0 {
		return snap, nil
	}
	snap.RecordedAt = obs[0].RecordedAt

	serving := 0
	for i := range obs {
		if obs[i].IsServing {
			serving = i
			break
		}
	}
	for i := range obs {
		tower, err := s.towers.Get(ctx, obs[i].TowerIdentifier)
		if err != nil {
			return nil, err
		}
		cell := models.ObservedCell{TowerObservation: obs[i], Tower: tower}
		if i == serving {
			snap.Serving = &cell
		} else {
			snap.Neighbors = append(snap.Neighbors, cell)
		}
	}
	return snap, nil
}

// History returns the device's samples in the filter window, each with the
// towers observed at the same instant.
func (s *DeviceService) History(ctx context.Context, id string, filter models.HistoryFilter) ([]models.HistoryEntry, error) {
	if _, err := s.GetDevice(ctx, id); err != nil {
		return nil, err
	}
	if !filter.Start.IsZero() && !filter.End.IsZero() && filter.End.Before(filter.Start) {
		return nil, fmt.Errorf("%w: end before start", models.ErrInvalidQuery)
	}

	samples, err := s.locations.History(ctx, id, filter)
	if err != nil {
		return nil, err
	}
	entries := make([]models.HistoryEntry, 0, len(samples))
	if len(samples) == 0 {
		return entries, nil
	}

	obs, err := s.locations.ObservationsBetween(ctx, id, samples[0].RecordedAt, samples[len(samples)-1].RecordedAt)
	if err != nil {
		return nil, err
	}
	byTime := make(map[int64][]models.TowerObservation)
	for _, o := range obs {
		ms := o.RecordedAt.UnixMilli()
		byTime[ms] = append(byTime[ms], o)
	}

	for _, sample := range samples {
		towers := byTime[sample.RecordedAt.UnixMilli()]
		if towers == nil {
			towers = []models.TowerObservation{}
		}
		entries = append(entries, models.HistoryEntry{LocationSample: sample, Towers: towers})
	}
	return entries, nil
}
