package app

import (
	"github.com/osvaldoandrade/panoq/internal/controllers"
	"github.com/osvaldoandrade/panoq/internal/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/health", controllers.NewHealthController().Handle)
	app.Engine.GET("/ready", controllers.NewReadyController(app.ProbeRedis).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := app.Engine.Group("/api")
	{
		bucket := ratelimit.Bucket{
			RequestsPerMinute: app.Config.TestRateLimitRPM,
			BurstSize:         app.Config.TestRateLimitBurst,
		}
		api.POST("/test/inference", controllers.NewTestInferenceController(app.Dispatcher, app.Config.InferenceTimeout(), app.RateLimiter, bucket).Handle)
	}
}
