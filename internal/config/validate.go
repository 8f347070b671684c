package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the loaded configuration and normalizes a bare port number
// into a listen address.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if !strings.Contains(c.Server.Addr, ":") {
		c.Server.Addr = ":" + c.Server.Addr
	}
	if c.Server.AuthEnabled && c.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret is required when auth is enabled")
	}

	if c.Database.Path == "" {
		return errors.New("database.path must not be empty")
	}

	if c.Geolocation.QueueWorkers < 1 {
		return fmt.Errorf("geolocation.queue_workers must be >= 1, got %d", c.Geolocation.QueueWorkers)
	}
	if c.Geolocation.QueueDepth < 1 {
		return fmt.Errorf("geolocation.queue_depth must be >= 1, got %d", c.Geolocation.QueueDepth)
	}

	if c.Geocoding.MinInterval < 0 {
		return errors.New("geocoding.min_interval must not be negative")
	}
	if c.Geocoding.BatchSize < 1 {
		return fmt.Errorf("geocoding.batch_size must be >= 1, got %d", c.Geocoding.BatchSize)
	}

	if c.Filter.MinMoveMeters < 0 {
		return errors.New("filter.min_move_meters must not be negative")
	}
	if c.Filter.SmoothingWindow < 1 {
		c.Filter.SmoothingWindow = 1
	}

	if c.Import.BatchSize < 1 {
		return fmt.Errorf("import.batch_size must be >= 1, got %d", c.Import.BatchSize)
	}
	if c.Import.MinLat > c.Import.MaxLat || c.Import.MinLon > c.Import.MaxLon {
		return errors.New("import bounding box is inverted")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			return errors.New("mqtt.host is required when mqtt is enabled")
		}
		if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
			return fmt.Errorf("mqtt.port out of range: %d", c.MQTT.Port)
		}
	}

	if c.Realtime.BufferSize < 1 {
		c.Realtime.BufferSize = 256
	}

	return nil
}

// BrokerURL returns the MQTT broker URL, using TLS for port 8883 or when requested
func (m MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if m.TLS || m.Port == 8883 {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.Host, m.Port)
}
