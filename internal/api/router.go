package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jengzang/mobile-supervisor-go/internal/config"
	"github.com/jengzang/mobile-supervisor-go/internal/handler"
	"github.com/jengzang/mobile-supervisor-go/internal/middleware"
	"github.com/jengzang/mobile-supervisor-go/internal/realtime"
)

// Handlers 路由依赖
type Handlers struct {
	Ingest *handler.IngestHandler
	Tower  *handler.TowerHandler
	Device *handler.DeviceHandler
	Hub    *realtime.Hub
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger())

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Mobile Supervisor API is running",
		})
	})

	// Prometheus 指标
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	// 设备上报接口，按 IP 限流
	ingest := api.Group("", middleware.RateLimit(cfg.Server.IngestRatePerSecond, cfg.Server.IngestBurst))
	{
		ingest.POST("/ingest/position", h.Ingest.PostPosition)
		ingest.POST("/data/submit", h.Ingest.PostPosition)
	}

	// 控制台接口
	dashboard := api.Group("")
	if cfg.Server.AuthEnabled {
		dashboard.Use(middleware.Auth(cfg.Server.JWTSecret))
	}
	{
		// 基站接口
		bts := dashboard.Group("/bts")
		{
			bts.GET("", h.Tower.GetInBoundingBox)
			bts.GET("/lookup", h.Tower.Lookup)
			bts.POST("/import", h.Tower.Import)
			bts.POST("/enrich", h.Tower.Enrich)
			bts.POST("/fill-all-address", h.Tower.FillAllAddresses)
		}

		// 设备接口
		devices := dashboard.Group("/devices")
		{
			devices.GET("", h.Device.ListDevices)
			devices.GET("/:id/cells", h.Device.GetLatestCells)
			devices.GET("/:id/history", h.Device.GetHistory)
		}

		// 实时推送
		dashboard.GET("/realtime/ws", func(c *gin.Context) {
			h.Hub.ServeWS(c.Writer, c.Request)
		})
	}

	return r
}
