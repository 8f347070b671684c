package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jengzang/mobile-supervisor-go/internal/logging"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "console", Output: io.Discard})
}

var testTower = models.ReportedTower{
	TowerIdentifier: models.TowerIdentifier{MCC: 452, MNC: 4, LAC: 10100, CID: 2001},
}

func TestUnwiredLabsLocate(t *testing.T) {
	var got unwiredRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":"ok","balance":99,"lat":10.7769,"lon":106.7009,"accuracy":850,"address":"Ben Nghe, District 1"}`))
	}))
	defer srv.Close()

	c := NewUnwiredLabsClient(srv.URL, "pk.test", "", time.Second)
	loc, err := c.Locate(context.Background(), testTower)
	require.NoError(t, err)

	assert.Equal(t, 10.7769, loc.Lat)
	assert.Equal(t, 106.7009, loc.Lon)
	assert.Equal(t, 850, loc.RangeMeters)
	assert.Equal(t, "Ben Nghe, District 1", loc.Address)

	assert.Equal(t, "pk.test", got.Token)
	assert.Equal(t, "lte", got.Radio)
	assert.EqualValues(t, 452, got.MCC)
	require.Len(t, got.Cells, 1)
	assert.EqualValues(t, 2001, got.Cells[0].CID)
	assert.Equal(t, 1, got.Address)
}

func TestUnwiredLabsErrorStatusIsNoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","message":"No matches found"}`))
	}))
	defer srv.Close()

	_, err := NewUnwiredLabsClient(srv.URL, "pk.test", "lte", time.Second).Locate(context.Background(), testTower)
	assert.ErrorIs(t, err, models.ErrProviderNoResult)
}

func TestUnwiredLabsHTTPFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewUnwiredLabsClient(srv.URL, "pk.test", "lte", time.Second).Locate(context.Background(), testTower)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestUnwiredLabsWithoutTokenIsUnavailable(t *testing.T) {
	_, err := NewUnwiredLabsClient("http://127.0.0.1:1", "", "lte", time.Second).Locate(context.Background(), testTower)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestNominatimReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "10.7769000", r.URL.Query().Get("lat"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"display_name":"Ben Nghe, District 1, Ho Chi Minh City"}`))
	}))
	defer srv.Close()

	c := NewNominatimClient(srv.URL, "", "test-agent", time.Second)
	addr, err := c.Reverse(context.Background(), 10.7769, 106.7009)
	require.NoError(t, err)
	assert.Equal(t, "Ben Nghe, District 1, Ho Chi Minh City", addr)
}

func TestNominatimUnableToGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	_, err := NewNominatimClient(srv.URL, "", "", time.Second).Reverse(context.Background(), 0, 0)
	assert.ErrorIs(t, err, models.ErrProviderNoResult)
}

type failingLocator struct {
	calls atomic.Int32
	err   error
}

func (f *failingLocator) Name() string { return "failing" }

func (f *failingLocator) Locate(ctx context.Context, tower models.ReportedTower) (*Location, error) {
	f.calls.Add(1)
	return nil, f.err
}

func TestBreakingLocatorOpensOnUnavailable(t *testing.T) {
	inner := &failingLocator{err: models.ErrProviderUnavailable}
	b := NewBreakingLocator(inner, BreakerSettings{MinRequests: 3, FailureRatio: 0.5, OpenTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := b.Locate(context.Background(), testTower)
		assert.ErrorIs(t, err, models.ErrProviderUnavailable)
	}

	_, err := b.Locate(context.Background(), testTower)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
	assert.EqualValues(t, 3, inner.calls.Load(), "open circuit must not reach the provider")
}

func TestBreakingLocatorIgnoresNoResult(t *testing.T) {
	inner := &failingLocator{err: models.ErrProviderNoResult}
	b := NewBreakingLocator(inner, BreakerSettings{MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Hour})

	for i := 0; i < 5; i++ {
		_, err := b.Locate(context.Background(), testTower)
		assert.True(t, errors.Is(err, models.ErrProviderNoResult))
	}
	assert.EqualValues(t, 5, inner.calls.Load())
}
