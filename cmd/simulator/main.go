// Command simulator random-walks a few fake devices and posts their positions
// to the intake endpoint once per tick.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/jengzang/mobile-supervisor-go/internal/logging"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func main() {
	api := flag.String("api", envOr("API_BASE", "http://localhost:8080"), "server base URL")
	tick := flag.Duration("tick", time.Duration(envInt("SIM_TICK_MS", 1000))*time.Millisecond, "interval between reports")
	stepMeters := flag.Float64("step", envFloat("SIM_STEP_METERS", 12), "distance moved per tick in meters")
	n := flag.Int("devices", envInt("SIM_NUM_DEVICES", 3), "number of simulated devices")
	lat := flag.Float64("lat", envFloat("SIM_START_LAT", 10.776889), "start latitude")
	lon := flag.Float64("lon", envFloat("SIM_START_LNG", 106.700806), "start longitude")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console", Timestamp: true, Output: os.Stdout})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices := newDevices(*n, *lat, *lon)
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	client := &http.Client{Timeout: 5 * time.Second}
	url := *api + "/api/v1/ingest/position"

	logging.Info().Str("url", url).Dur("tick", *tick).Int("devices", len(devices)).Msg("Simulator started")

	ticker := time.NewTicker(*tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Simulator stopped")
			return
		case now := <-ticker.C:
			for _, d := range devices {
				d.step(rng, *stepMeters)
			}
			send(ctx, client, url, devices, now.UTC())
		}
	}
}

func send(ctx context.Context, client *http.Client, url string, devices []*simDevice, now time.Time) {
	var wg sync.WaitGroup
	for _, d := range devices {
		body, err := json.Marshal(positionBody{
			PhoneNumber:  d.Phone,
			Latitude:     d.Lat,
			Longitude:    d.Lon,
			ISOTimestamp: now.Format(time.RFC3339),
		})
		if err != nil {
			continue
		}

		wg.Add(1)
		go func(d *simDevice, body []byte) {
			defer wg.Done()
			if err := post(ctx, client, url, body); err != nil {
				logging.Warn().Err(err).Str("device", d.Name).Msg("Report failed")
				return
			}
			logging.Info().Str("device", d.Name).Str("pos", fmt.Sprintf("%.6f, %.6f", d.Lat, d.Lon)).Msg("Report sent")
		}(d, body)
	}
	wg.Wait()
}

func post(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
