package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/jengzang/mobile-supervisor-go/internal/metrics"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
)

// ReverseGeocoder turns coordinates into a human-readable address
type ReverseGeocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (string, error)
	Name() string
}

// NominatimClient speaks the Nominatim reverse API, which LocationIQ also serves
type NominatimClient struct {
	client    *http.Client
	endpoint  string
	apiKey    string
	userAgent string
}

// NewNominatimClient creates a reverse geocoding client. apiKey is optional.
func NewNominatimClient(endpoint, apiKey, userAgent string, timeout time.Duration) *NominatimClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NominatimClient{
		client:    &http.Client{Timeout: timeout},
		endpoint:  endpoint,
		apiKey:    apiKey,
		userAgent: userAgent,
	}
}

func (c *NominatimClient) Name() string {
	return "nominatim"
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Error       any    `json:"error"`
}

// Reverse returns models.ErrProviderNoResult when no address is known for the point
func (c *NominatimClient) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 7, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 7, 64))
	q.Set("zoom", "18")
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ProviderLatency.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(c.Name(), "error").Inc()
		return "", fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	// LocationIQ answers 404 for points with no address
	if resp.StatusCode == http.StatusNotFound {
		metrics.ProviderRequests.WithLabelValues(c.Name(), "no_result").Inc()
		return "", models.ErrProviderNoResult
	}
	if err := checkStatus(resp); err != nil {
		metrics.ProviderRequests.WithLabelValues(c.Name(), "error").Inc()
		return "", err
	}

	var out nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.ProviderRequests.WithLabelValues(c.Name(), "error").Inc()
		return "", fmt.Errorf("%w: failed to decode response: %v", models.ErrProviderUnavailable, err)
	}
	if out.Error != nil || out.DisplayName == "" {
		metrics.ProviderRequests.WithLabelValues(c.Name(), "no_result").Inc()
		return "", models.ErrProviderNoResult
	}

	metrics.ProviderRequests.WithLabelValues(c.Name(), "ok").Inc()
	return out.DisplayName, nil
}
