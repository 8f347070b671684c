// Package provider holds the clients for external cell-id geolocation and
// reverse geocoding services.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/jengzang/mobile-supervisor-go/internal/metrics"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
)

// Location is a provider's answer for one cell
type Location struct {
	Lat         float64
	Lon         float64
	RangeMeters int
	Address     string
}

// CellLocator resolves a tower identifier to a location
type CellLocator interface {
	// Locate returns models.ErrProviderNoResult when the provider does not
	// know the cell and models.ErrProviderUnavailable for transport failures.
	Locate(ctx context.Context, tower models.ReportedTower) (*Location, error)
	Name() string
}

// UnwiredLabsClient talks to the Unwired Labs / LocationAPI process endpoint
type UnwiredLabsClient struct {
	client       *http.Client
	endpoint     string
	token        string
	defaultRadio string
}

// NewUnwiredLabsClient creates a client. A zero timeout uses 10s.
func NewUnwiredLabsClient(endpoint, token, defaultRadio string, timeout time.Duration) *UnwiredLabsClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if defaultRadio == "" {
		defaultRadio = "lte"
	}
	return &UnwiredLabsClient{
		client:       &http.Client{Timeout: timeout},
		endpoint:     endpoint,
		token:        token,
		defaultRadio: defaultRadio,
	}
}

func (c *UnwiredLabsClient) Name() string {
	return "unwiredlabs"
}

type unwiredCell struct {
	LAC    int64 `json:"lac"`
	CID    int64 `json:"cid"`
	Signal *int  `json:"signal,omitempty"`
	PSC    *int  `json:"psc,omitempty"`
}

type unwiredRequest struct {
	Token   string        `json:"token"`
	Radio   string        `json:"radio"`
	MCC     int64         `json:"mcc"`
	MNC     int64         `json:"mnc"`
	Cells   []unwiredCell `json:"cells"`
	Address int           `json:"address"`
}

type unwiredResponse struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Accuracy int      `json:"accuracy"`
	Range    int      `json:"range"`
	Address  string   `json:"address"`
}

// Locate looks up a single cell. An address is requested alongside the
// coordinates when the provider supports it.
func (c *UnwiredLabsClient) Locate(ctx context.Context, tower models.ReportedTower) (*Location, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: no API token configured", models.ErrProviderUnavailable)
	}

	radio := tower.Radio
	if radio == "" {
		radio = c.defaultRadio
	}
	signal := tower.SignalDBM
	if signal == nil {
		signal = tower.SignalStrength
	}

	body, err := json.Marshal(unwiredRequest{
		Token:   c.token,
		Radio:   radio,
		MCC:     tower.MCC,
		MNC:     tower.MNC,
		Cells:   []unwiredCell{{LAC: tower.LAC, CID: tower.CID, Signal: signal, PSC: tower.PCI}},
		Address: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ProviderLatency.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(c.Name(), "error").Inc()
		return nil, fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		metrics.ProviderRequests.WithLabelValues(c.Name(), "error").Inc()
		return nil, err
	}

	var out unwiredResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.ProviderRequests.WithLabelValues(c.Name(), "error").Inc()
		return nil, fmt.Errorf("%w: failed to decode response: %v", models.ErrProviderUnavailable, err)
	}

	if out.Status != "ok" || out.Lat == nil || out.Lon == nil {
		metrics.ProviderRequests.WithLabelValues(c.Name(), "no_result").Inc()
		return nil, fmt.Errorf("%w: status=%s %s", models.ErrProviderNoResult, out.Status, out.Message)
	}

	rng := out.Accuracy
	if rng == 0 {
		rng = out.Range
	}

	metrics.ProviderRequests.WithLabelValues(c.Name(), "ok").Inc()
	return &Location{Lat: *out.Lat, Lon: *out.Lon, RangeMeters: rng, Address: out.Address}, nil
}

// checkStatus maps non-2xx responses to ErrProviderUnavailable
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limited (HTTP 429)", models.ErrProviderUnavailable)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: rejected credentials (HTTP %d)", models.ErrProviderUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: unexpected status %d", models.ErrProviderUnavailable, resp.StatusCode)
	}
}
