package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emirozbir/alertflow/internal/config"
)

const (
	apiKeyHeader = "X-API-KEY"
	tenantKey    = "tenant"
	apiKeyKey    = "api_key"
)

// RequireTenant resolves the tenant from the X-API-KEY header.
func (h *Handler) RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(apiKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + apiKeyHeader + " header"})
			return
		}
		tenant, ok := h.config.Load().TenantByAPIKey(key)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Set(tenantKey, tenant)
		c.Set(apiKeyKey, key)
		c.Next()
	}
}

func tenantFrom(c *gin.Context) *config.TenantConfig {
	return c.MustGet(tenantKey).(*config.TenantConfig)
}
