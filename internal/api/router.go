package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/servermon/pkg/config"
	"github.com/NikhilSetiya/servermon/pkg/health"
	"github.com/NikhilSetiya/servermon/pkg/logging"
	"github.com/NikhilSetiya/servermon/pkg/metrics"
)

// Dependencies are the services the router exposes. Metrics and Hub are
// optional.
type Dependencies struct {
	Targets   TargetStore
	Samples   SampleHistory
	Refresher Refresher
	Alerts    AlertHistory
	Lifecycle AlertTransitions
	Health    *health.Service
	Metrics   *metrics.Metrics
	Hub       http.Handler
	Logger    *logging.Logger
}

// NewRouter creates and configures the API router
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(ErrorHandlingMiddleware(logger))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(SecurityHeadersMiddleware())

	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	if deps.Health != nil {
		router.GET("/health", deps.Health.Handler())
		router.GET("/health/live", deps.Health.LivenessHandler())
	}

	if deps.Hub != nil {
		router.GET("/ws", gin.WrapH(deps.Hub))
	}

	targetHandler := NewTargetHandler(deps.Targets, deps.Samples, deps.Refresher)
	alertHandler := NewAlertHandler(deps.Alerts, deps.Lifecycle)

	v1 := router.Group("/api/v1")
	{
		targets := v1.Group("/targets")
		{
			targets.GET("", targetHandler.ListTargets)
			targets.GET("/:id/samples", targetHandler.ListSamples)
			targets.POST("/:id/collect", targetHandler.Collect)
		}

		alerts := v1.Group("/alerts")
		{
			alerts.GET("", alertHandler.ListAlerts)
			alerts.POST("/:id/acknowledge", alertHandler.Acknowledge)
			alerts.POST("/:id/resolve", alertHandler.Resolve)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router
}
