package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jengzang/mobile-supervisor-go/internal/logging"
	"github.com/jengzang/mobile-supervisor-go/internal/metrics"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/provider"
)

// AddressStore is the slice of the tower repository the enrichment job needs
type AddressStore interface {
	ListMissingAddress(ctx context.Context, limit int, retryBefore time.Time) ([]models.TowerRecord, error)
	UpdateAddress(ctx context.Context, id models.TowerIdentifier, address string) (bool, error)
	MarkGeocodeAttempt(ctx context.Context, id models.TowerIdentifier, at time.Time) error
}

// EnrichmentConfig tunes the address enrichment job
type EnrichmentConfig struct {
	// MinInterval is the minimum spacing between geocoder calls
	MinInterval time.Duration
	// Timeout bounds each geocoder call
	Timeout time.Duration
	// RetryAfter keeps a failed tower out of later batches
	RetryAfter time.Duration
}

// EnrichmentService fills in missing tower addresses one geocoder call at a time
type EnrichmentService struct {
	store    AddressStore
	geocoder provider.ReverseGeocoder
	limiter  *rate.Limiter
	cfg      EnrichmentConfig
	// mu keeps a single batch, and so a single geocoder call, in flight
	mu  sync.Mutex
	now func() time.Time
}

// NewEnrichmentService creates the enrichment job
func NewEnrichmentService(store AddressStore, geocoder provider.ReverseGeocoder, cfg EnrichmentConfig) *EnrichmentService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &EnrichmentService{
		store:    store,
		geocoder: geocoder,
		limiter:  rate.NewLimiter(limit, 1),
		cfg:      cfg,
		now:      time.Now,
	}
}

// EnrichBatch geocodes up to limit towers that have no address yet. A failed
// tower is skipped and not retried until RetryAfter has passed. Only the
// address column is ever written.
func (s *EnrichmentService) EnrichBatch(ctx context.Context, limit int) (models.EnrichResult, error) {
	var result models.EnrichResult
	if limit < 1 {
		return result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	towers, err := s.store.ListMissingAddress(ctx, limit, s.now().Add(-s.cfg.RetryAfter))
	if err != nil {
		return result, err
	}
	result.Scanned = len(towers)

	for i := range towers {
		t := &towers[i]
		if err := s.limiter.Wait(ctx); err != nil {
			return result, err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		addr, err := s.geocoder.Reverse(callCtx, t.Lat, t.Lon)
		cancel()

		if err != nil || addr == "" {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			metrics.EnrichedTowers.WithLabelValues("failed").Inc()
			if !errors.Is(err, models.ErrProviderNoResult) {
				logging.Warn().Err(err).Str("tower", t.Key()).Msg("Reverse geocoding failed")
			}
			if markErr := s.store.MarkGeocodeAttempt(ctx, t.TowerIdentifier, s.now()); markErr != nil {
				logging.Error().Err(markErr).Str("tower", t.Key()).Msg("Failed to record geocode attempt")
			}
			continue
		}

		ok, err := s.store.UpdateAddress(ctx, t.TowerIdentifier, addr)
		if err != nil {
			return result, err
		}
		if ok {
			result.Updated++
			metrics.EnrichedTowers.WithLabelValues("updated").Inc()
		}
	}

	logging.Info().
		Int("scanned", result.Scanned).
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Msg("Address enrichment batch finished")
	return result, nil
}

// FillAll runs batches until one finds nothing left to try. Towers that fail
// are parked for RetryAfter, so the loop always terminates.
func (s *EnrichmentService) FillAll(ctx context.Context, batchSize int) (models.EnrichResult, error) {
	var total models.EnrichResult
	for {
		r, err := s.EnrichBatch(ctx, batchSize)
		total.Scanned += r.Scanned
		total.Updated += r.Updated
		total.Failed += r.Failed
		if err != nil {
			return total, err
		}
		if r.Scanned == 0 || r.Scanned < batchSize {
			return total, nil
		}
		// Without a retry window failed towers would be picked up again at once
		if r.Updated == 0 && s.cfg.RetryAfter <= 0 {
			return total, nil
		}
	}
}

// EnrichmentScheduler runs EnrichBatch on a fixed interval
type EnrichmentScheduler struct {
	svc       *EnrichmentService
	interval  time.Duration
	batchSize int
}

// NewEnrichmentScheduler creates a scheduler; a non-positive interval makes Serve idle
func NewEnrichmentScheduler(svc *EnrichmentService, interval time.Duration, batchSize int) *EnrichmentScheduler {
	return &EnrichmentScheduler{svc: svc, interval: interval, batchSize: batchSize}
}

// Serve blocks until ctx is cancelled
func (s *EnrichmentScheduler) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.svc.EnrichBatch(ctx, s.batchSize); err != nil && ctx.Err() == nil {
				logging.Error().Err(err).Msg("Scheduled address enrichment failed")
			}
		}
	}
}
