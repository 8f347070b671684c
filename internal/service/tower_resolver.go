package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jengzang/mobile-supervisor-go/internal/logging"
	"github.com/jengzang/mobile-supervisor-go/internal/metrics"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/provider"
)

// TowerStore is the cache the resolver reads through
type TowerStore interface {
	Get(ctx context.Context, id models.TowerIdentifier) (*models.TowerRecord, error)
	InsertIfAbsent(ctx context.Context, rec *models.TowerRecord) (bool, error)
}

// TowerResolver resolves tower identifiers through the local cache, falling
// back to the geolocation provider on a miss. Concurrent misses for the same
// identifier share a single provider call.
type TowerResolver struct {
	store   TowerStore
	locator provider.CellLocator
	timeout time.Duration
	group   singleflight.Group
}

// NewTowerResolver creates a resolver. timeout bounds each provider call.
func NewTowerResolver(store TowerStore, locator provider.CellLocator, timeout time.Duration) *TowerResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TowerResolver{store: store, locator: locator, timeout: timeout}
}

// Resolve returns the cached record, fetching and caching it on a miss.
// Returns models.ErrTowerNotFound, wrapping the provider error, when the
// provider cannot locate the tower.
func (r *TowerResolver) Resolve(ctx context.Context, tower models.ReportedTower) (*models.TowerRecord, error) {
	rec, err := r.store.Get(ctx, tower.TowerIdentifier)
	if err != nil {
		metrics.TowerLookups.WithLabelValues("error").Inc()
		return nil, err
	}
	if rec != nil {
		metrics.TowerLookups.WithLabelValues("hit").Inc()
		return rec, nil
	}

	// The shared call outlives any single caller's cancellation
	v, err, _ := r.group.Do(tower.Key(), func() (interface{}, error) {
		return r.fetch(context.WithoutCancel(ctx), tower)
	})
	if err != nil {
		if errors.Is(err, models.ErrTowerNotFound) {
			metrics.TowerLookups.WithLabelValues("not_found").Inc()
		} else {
			metrics.TowerLookups.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.TowerLookups.WithLabelValues("resolved").Inc()
	return v.(*models.TowerRecord), nil
}

func (r *TowerResolver) fetch(ctx context.Context, tower models.ReportedTower) (*models.TowerRecord, error) {
	// A flight that finished just before this one started may have cached it
	if rec, err := r.store.Get(ctx, tower.TowerIdentifier); err != nil || rec != nil {
		return rec, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	loc, err := r.locator.Locate(callCtx, tower)
	cancel()
	if err != nil {
		logging.Warn().Err(err).Str("tower", tower.Key()).Str("provider", r.locator.Name()).Msg("Tower lookup failed")
		return nil, fmt.Errorf("%w: %s: %w", models.ErrTowerNotFound, tower.Key(), err)
	}

	rec := &models.TowerRecord{
		TowerIdentifier: tower.TowerIdentifier,
		Lat:             loc.Lat,
		Lon:             loc.Lon,
		Radio:           tower.Radio,
		RangeMeters:     loc.RangeMeters,
		Address:         loc.Address,
	}

	if _, err := r.store.InsertIfAbsent(ctx, rec); err != nil {
		return nil, err
	}

	// Re-read so that a record written concurrently by another process wins
	stored, err := r.store.Get(ctx, tower.TowerIdentifier)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return rec, nil
	}
	logging.Debug().Str("tower", tower.Key()).Float64("lat", stored.Lat).Float64("lon", stored.Lon).Msg("Tower resolved")
	return stored, nil
}
