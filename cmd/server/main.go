package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/mobile-supervisor-go/internal/api"
	"github.com/jengzang/mobile-supervisor-go/internal/config"
	"github.com/jengzang/mobile-supervisor-go/internal/database"
	"github.com/jengzang/mobile-supervisor-go/internal/handler"
	"github.com/jengzang/mobile-supervisor-go/internal/logging"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/mqtt"
	"github.com/jengzang/mobile-supervisor-go/internal/provider"
	"github.com/jengzang/mobile-supervisor-go/internal/realtime"
	"github.com/jengzang/mobile-supervisor-go/internal/repository"
	"github.com/jengzang/mobile-supervisor-go/internal/service"
	"github.com/jengzang/mobile-supervisor-go/internal/spatial"
	"github.com/jengzang/mobile-supervisor-go/internal/supervisor"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Caller:    cfg.Log.Caller,
		Timestamp: true,
		Output:    os.Stdout,
	})
	if cfg.Log.Format != "console" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化数据库
	if err := database.Init(database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	}); err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer database.Close()

	db := database.GetDB()
	if err := database.Migrate(db); err != nil {
		logging.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// 仓储
	towerRepo := repository.NewTowerRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	locationRepo := repository.NewLocationRepository(db)

	// 外部服务
	breaker := provider.DefaultBreakerSettings()
	locator := provider.NewBreakingLocator(
		provider.NewUnwiredLabsClient(cfg.Geolocation.Endpoint, cfg.Geolocation.APIKey, cfg.Geolocation.DefaultRadio, cfg.Geolocation.Timeout),
		breaker,
	)
	geocoder := provider.NewBreakingGeocoder(
		provider.NewNominatimClient(cfg.Geocoding.Endpoint, cfg.Geocoding.APIKey, cfg.Geocoding.UserAgent, cfg.Geocoding.Timeout),
		breaker,
	)

	// 业务服务
	hub := realtime.NewHub(realtime.Config{
		SnapshotOnConnect: cfg.Realtime.SnapshotOnConnect,
		BufferSize:        cfg.Realtime.BufferSize,
	})
	resolver := service.NewTowerResolver(towerRepo, locator, cfg.Geolocation.Timeout)
	lookups := service.NewLookupQueue(resolver, cfg.Geolocation.QueueWorkers, cfg.Geolocation.QueueDepth)
	enricher := service.NewEnrichmentService(towerRepo, geocoder, service.EnrichmentConfig{
		MinInterval: cfg.Geocoding.MinInterval,
		Timeout:     cfg.Geocoding.Timeout,
		RetryAfter:  cfg.Geocoding.RetryAfter,
	})
	importer := service.NewImportService(towerRepo, service.ImportConfig{
		BatchSize: cfg.Import.BatchSize,
		Box: models.BoundingBox{
			MinLat: cfg.Import.MinLat, MaxLat: cfg.Import.MaxLat,
			MinLon: cfg.Import.MinLon, MaxLon: cfg.Import.MaxLon,
		},
	})
	ingest := service.NewIngestService(db, deviceRepo, locationRepo, hub, lookups, service.IngestConfig{
		Filter: spatial.FilterConfig{
			MinMoveMeters: cfg.Filter.MinMoveMeters,
			MaxSpeedKph:   cfg.Filter.MaxSpeedKph,
		},
		SmoothingWindow: cfg.Filter.SmoothingWindow,
	})
	devices := service.NewDeviceService(deviceRepo, locationRepo, towerRepo)

	// 初始化路由
	router := api.SetupRouter(cfg, api.Handlers{
		Ingest: handler.NewIngestHandler(ingest),
		Tower: handler.NewTowerHandler(towerRepo, resolver, importer, enricher, handler.TowerOptions{
			DatasetPath:     cfg.Import.Path,
			EnrichBatchSize: cfg.Geocoding.BatchSize,
			EnrichAfter:     cfg.Import.FillAfterImport,
		}),
		Device: handler.NewDeviceHandler(devices),
		Hub:    hub,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 服务监管树
	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddDataService(supervisor.NewNamed("lookup-queue", lookups))
	if cfg.Geocoding.Interval > 0 {
		tree.AddDataService(supervisor.NewNamed("enrichment-scheduler",
			service.NewEnrichmentScheduler(enricher, cfg.Geocoding.Interval, cfg.Geocoding.BatchSize)))
	}
	tree.AddMessagingService(supervisor.NewNamed("realtime-hub", hub))
	if cfg.MQTT.Enabled {
		tree.AddMessagingService(supervisor.NewNamed("mqtt-subscriber", mqtt.NewSubscriber(cfg.MQTT, ingest)))
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动服务器
	logging.Info().Str("addr", cfg.Server.Addr).Bool("mqtt", cfg.MQTT.Enabled).Msg("Server starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervisor stopped unexpectedly")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}
	logging.Info().Msg("Server stopped")
}
