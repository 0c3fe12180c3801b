package handlers

import (
	"net/http"

	"github.com/afformationceo-debug/csflow-sub002/internal/config"
	"github.com/afformationceo-debug/csflow-sub002/internal/metrics"
	"github.com/afformationceo-debug/csflow-sub002/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RouterDeps 라우터 구성 의존성
type RouterDeps struct {
	Health     *HealthHandler
	Webhook    *WebhookHandler
	Escalation *EscalationHandler
	SLA        *SLAHandler
	Config     *config.Config
}

// SetupRouter 전체 라우트 구성
func SetupRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Config.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware(deps.Config.Monitoring.Tracing.ServiceName))
	}

	router.GET("/health", deps.Health.Health)
	router.GET("/ready", deps.Health.Ready)
	router.GET("/stats", func(c *gin.Context) {
		processed, rejects := metrics.WebhookSnapshot()
		dropTotal, dropBy := metrics.RateLimitSnapshot()
		c.JSON(http.StatusOK, gin.H{
			"webhooks": gin.H{"processed": processed, "signature_rejects": rejects},
			"rate_limit": gin.H{"dropped_total": dropTotal, "dropped_by_path": dropBy},
		})
	})

	webhooks := router.Group("/webhooks")
	webhooks.Use(middleware.RateLimit(deps.Config.Security.RateLimiting))
	{
		webhooks.POST("/:platform", deps.Webhook.Receive)
		webhooks.GET("/:platform", deps.Webhook.Verify)
	}

	api := router.Group("/api")
	{
		api.GET("/escalations", deps.Escalation.List)
		api.GET("/escalations/metrics", deps.Escalation.Metrics)
		api.POST("/escalations/:id/assign", deps.Escalation.AutoAssign)
		api.POST("/escalations/:id/resolve", deps.Escalation.Resolve)

		api.GET("/sla/conversations/:id", deps.SLA.ConversationStatus)
		api.GET("/sla/metrics", deps.SLA.Metrics)
		api.POST("/sla/check", deps.SLA.RunCheck)
		api.POST("/sla/sweep", deps.SLA.RunSweep)
	}

	return router
}
