package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/mobile-supervisor/config.yaml",
}

// Load 加载配置: defaults, then an optional YAML file, then environment variables
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		return ""
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var envMappings = map[string]string{
	"port":                   "server.addr",
	"jwt_secret":             "server.jwt_secret",
	"auth_enabled":           "server.auth_enabled",
	"ingest_rate_per_second": "server.ingest_rate_per_second",
	"ingest_burst":           "server.ingest_burst",

	"db_path":           "database.path",
	"db_max_open_conns": "database.max_open_conns",

	"log_level":  "log.level",
	"log_format": "log.format",
	"log_caller": "log.caller",

	"opencellid_api_key":    "geolocation.api_key",
	"geolocation_endpoint":  "geolocation.endpoint",
	"geolocation_timeout":   "geolocation.timeout",
	"lookup_queue_workers":  "geolocation.queue_workers",
	"lookup_queue_depth":    "geolocation.queue_depth",
	"geocode_endpoint":      "geocoding.endpoint",
	"geocode_api_key":       "geocoding.api_key",
	"geocode_user_agent":    "geocoding.user_agent",
	"geocode_min_interval":  "geocoding.min_interval",
	"geocode_batch_size":    "geocoding.batch_size",
	"geocode_interval":      "geocoding.interval",
	"geocode_retry_after":   "geocoding.retry_after",
	"ingest_min_move":       "filter.min_move_meters",
	"filter_max_speed_kph":  "filter.max_speed_kph",
	"filter_smoothing_size": "filter.smoothing_window",

	"import_path":       "import.path",
	"import_batch_size": "import.batch_size",
	"import_min_lat":    "import.min_lat",
	"import_max_lat":    "import.max_lat",
	"import_min_lon":    "import.min_lon",
	"import_max_lon":    "import.max_lon",
	"import_fill":       "import.fill_after_import",

	"mqtt_enabled":   "mqtt.enabled",
	"mqtt_host":      "mqtt.host",
	"mqtt_port":      "mqtt.port",
	"mqtt_user":      "mqtt.username",
	"mqtt_pass":      "mqtt.password",
	"mqtt_topic":     "mqtt.topic",
	"mqtt_client_id": "mqtt.client_id",
	"mqtt_tls":       "mqtt.tls",

	"realtime_snapshot":    "realtime.snapshot_on_connect",
	"realtime_buffer_size": "realtime.buffer_size",
}

// envTransformFunc maps flat environment variable names onto koanf paths.
// Unmapped variables return "" and are ignored.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
