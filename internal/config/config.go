package config

import "time"

// Config 应用配置
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Log         LogConfig         `koanf:"log"`
	Geolocation GeolocationConfig `koanf:"geolocation"`
	Geocoding   GeocodingConfig   `koanf:"geocoding"`
	Filter      FilterConfig      `koanf:"filter"`
	Import      ImportConfig      `koanf:"import"`
	MQTT        MQTTConfig        `koanf:"mqtt"`
	Realtime    RealtimeConfig    `koanf:"realtime"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// AuthEnabled guards the dashboard routes with a bearer JWT
	AuthEnabled bool   `koanf:"auth_enabled"`
	JWTSecret   string `koanf:"jwt_secret"`
	// Per-IP limit applied to the ingest routes
	IngestRatePerSecond float64 `koanf:"ingest_rate_per_second"`
	IngestBurst         int     `koanf:"ingest_burst"`
}

// DatabaseConfig SQLite 配置
type DatabaseConfig struct {
	Path         string        `koanf:"path"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	BusyTimeout  time.Duration `koanf:"busy_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// GeolocationConfig configures the cell-id lookup provider and the lookup queue
type GeolocationConfig struct {
	Endpoint     string        `koanf:"endpoint"`
	APIKey       string        `koanf:"api_key"`
	Timeout      time.Duration `koanf:"timeout"`
	DefaultRadio string        `koanf:"default_radio"`
	QueueWorkers int           `koanf:"queue_workers"`
	QueueDepth   int           `koanf:"queue_depth"`
}

// GeocodingConfig configures reverse geocoding for tower addresses
type GeocodingConfig struct {
	Endpoint    string        `koanf:"endpoint"`
	APIKey      string        `koanf:"api_key"`
	UserAgent   string        `koanf:"user_agent"`
	Timeout     time.Duration `koanf:"timeout"`
	MinInterval time.Duration `koanf:"min_interval"`
	BatchSize   int           `koanf:"batch_size"`
	// Interval of the background enrichment run, 0 disables it
	Interval time.Duration `koanf:"interval"`
	// RetryAfter keeps a failed tower out of later batches for this long
	RetryAfter time.Duration `koanf:"retry_after"`
}

// FilterConfig 位移过滤配置
type FilterConfig struct {
	MinMoveMeters   float64 `koanf:"min_move_meters"`
	MaxSpeedKph     float64 `koanf:"max_speed_kph"`
	SmoothingWindow int     `koanf:"smoothing_window"`
}

// ImportConfig configures the bulk tower dataset import
type ImportConfig struct {
	Path            string  `koanf:"path"`
	BatchSize       int     `koanf:"batch_size"`
	MinLat          float64 `koanf:"min_lat"`
	MaxLat          float64 `koanf:"max_lat"`
	MinLon          float64 `koanf:"min_lon"`
	MaxLon          float64 `koanf:"max_lon"`
	FillAfterImport bool    `koanf:"fill_after_import"`
}

// MQTTConfig configures the device report subscriber
type MQTTConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Topic    string `koanf:"topic"`
	ClientID string `koanf:"client_id"`
	TLS      bool   `koanf:"tls"`
}

type RealtimeConfig struct {
	SnapshotOnConnect bool `koanf:"snapshot_on_connect"`
	BufferSize        int  `koanf:"buffer_size"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                ":8080",
			ReadTimeout:         15 * time.Second,
			WriteTimeout:        15 * time.Second,
			ShutdownTimeout:     10 * time.Second,
			JWTSecret:           "your-secret-key-change-in-production",
			IngestRatePerSecond: 20,
			IngestBurst:         40,
		},
		Database: DatabaseConfig{
			Path:         "./data/mobile_supervisor.db",
			MaxOpenConns: 10,
			BusyTimeout:  5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Geolocation: GeolocationConfig{
			Endpoint:     "https://us1.unwiredlabs.com/v2/process.php",
			Timeout:      8 * time.Second,
			DefaultRadio: "lte",
			QueueWorkers: 2,
			QueueDepth:   1024,
		},
		Geocoding: GeocodingConfig{
			Endpoint:    "https://nominatim.openstreetmap.org/reverse",
			UserAgent:   "mobile-supervisor/1.0",
			Timeout:     10 * time.Second,
			MinInterval: time.Second,
			BatchSize:   50,
			Interval:    10 * time.Minute,
			RetryAfter:  24 * time.Hour,
		},
		Filter: FilterConfig{
			MinMoveMeters:   5,
			MaxSpeedKph:     200,
			SmoothingWindow: 3,
		},
		Import: ImportConfig{
			Path:            "./data/452.csv",
			BatchSize:       1000,
			MinLat:          8.0,
			MaxLat:          23.5,
			MinLon:          102.0,
			MaxLon:          110.0,
			FillAfterImport: true,
		},
		MQTT: MQTTConfig{
			Port:     8883,
			Topic:    "cell_info",
			ClientID: "mobile-supervisor",
			TLS:      true,
		},
		Realtime: RealtimeConfig{
			SnapshotOnConnect: true,
			BufferSize:        256,
		},
	}
}
