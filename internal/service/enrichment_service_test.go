package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/repository"
	"github.com/jengzang/mobile-supervisor-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGeocoder answers with an address derived from the latitude, failing on
// the latitudes listed in unknown.
type stubGeocoder struct {
	mu      sync.Mutex
	calls   []time.Time
	unknown map[float64]bool
}

func (g *stubGeocoder) Name() string { return "stub-geocoder" }

func (g *stubGeocoder) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, time.Now())
	if g.unknown[lat] {
		return "", models.ErrProviderNoResult
	}
	return fmt.Sprintf("addr %.2f", lat), nil
}

func (g *stubGeocoder) callTimes() []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]time.Time(nil), g.calls...)
}

func seedTowers(t *testing.T, repo *repository.TowerRepository, n int) {
	t.Helper()
	recs := make([]models.TowerRecord, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, models.TowerRecord{
			TowerIdentifier: towerID(int64(i + 1)),
			Lat:             10 + float64(i)/100,
			Lon:             106,
		})
	}
	_, err := repo.BulkInsertIgnore(context.Background(), recs)
	require.NoError(t, err)
}

func TestEnrichBatchFillsOnlyAddress(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTowerRepository(testutil.NewDB(t))
	seedTowers(t, repo, 3)

	svc := NewEnrichmentService(repo, &stubGeocoder{}, EnrichmentConfig{RetryAfter: time.Hour})
	res, err := svc.EnrichBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, models.EnrichResult{Scanned: 3, Updated: 3}, res)

	rec, err := repo.Get(ctx, towerID(2))
	require.NoError(t, err)
	assert.Equal(t, "addr 10.01", rec.Address)
	assert.Equal(t, 10.01, rec.Lat)
	assert.Equal(t, 106.0, rec.Lon)

	// Nothing left to do
	res, err = svc.EnrichBatch(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Updated)
}

func TestEnrichBatchRespectsMinInterval(t *testing.T) {
	repo := repository.NewTowerRepository(testutil.NewDB(t))
	seedTowers(t, repo, 4)

	geo := &stubGeocoder{}
	interval := 40 * time.Millisecond
	svc := NewEnrichmentService(repo, geo, EnrichmentConfig{MinInterval: interval, RetryAfter: time.Hour})

	_, err := svc.EnrichBatch(context.Background(), 10)
	require.NoError(t, err)

	calls := geo.callTimes()
	require.Len(t, calls, 4)
	for i := 1; i < len(calls); i++ {
		// Small slack for timer granularity
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), interval-5*time.Millisecond)
	}
}

func TestEnrichBatchSkipsFailures(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTowerRepository(testutil.NewDB(t))
	seedTowers(t, repo, 3)

	geo := &stubGeocoder{unknown: map[float64]bool{10.01: true}}
	svc := NewEnrichmentService(repo, geo, EnrichmentConfig{RetryAfter: time.Hour})

	res, err := svc.EnrichBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Failed)

	rec, err := repo.Get(ctx, towerID(2))
	require.NoError(t, err)
	assert.Empty(t, rec.Address)

	// The failed tower is parked, so the next batch has nothing to try
	res, err = svc.EnrichBatch(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
	assert.Len(t, geo.callTimes(), 3)
}

func TestFillAllDrainsResolvableBacklog(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTowerRepository(testutil.NewDB(t))
	seedTowers(t, repo, 12)

	// The first batch is entirely unresolvable
	geo := &stubGeocoder{unknown: map[float64]bool{10.00: true, 10.01: true, 10.02: true}}
	svc := NewEnrichmentService(repo, geo, EnrichmentConfig{RetryAfter: time.Hour})

	total, err := svc.FillAll(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 9, total.Updated)
	assert.Equal(t, 3, total.Failed)

	missing, err := repo.ListMissingAddress(ctx, 100, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, missing, 3)
	for _, m := range missing {
		assert.True(t, geo.unknown[m.Lat])
	}
}
