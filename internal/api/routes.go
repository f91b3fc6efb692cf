package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(handler *Handler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.Default()

	// Health check
	r.GET("/health", handler.Health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// Provider fixtures need no tenant
	r.GET("/api/v1/providers/types/:type/simulate", handler.SimulateAlert)

	// API v1
	v1 := r.Group("/api/v1", handler.RequireTenant())
	{
		v1.POST("/alerts/event", handler.PushEvent)
		v1.POST("/alerts/event/:type", handler.PushProviderEvent)
		v1.GET("/alerts", handler.ListAlerts)
		v1.POST("/alerts/enrich", handler.EnrichAlert)

		v1.GET("/providers", handler.ListProviders)
		v1.GET("/providers/alerts", handler.AllProviderAlerts)
		v1.GET("/providers/:id/alerts", handler.ProviderAlerts)
		v1.POST("/providers/:id/query", handler.Query)
		v1.POST("/providers/:id/notify", handler.Notify)
		v1.GET("/providers/:id/status", handler.ProviderStatus)
		v1.GET("/providers/:id/expose", handler.ProviderExpose)
		v1.GET("/providers/:id/scopes", handler.ProviderScopes)
	}

	return r
}
