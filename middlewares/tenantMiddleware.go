package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/doctemplates_backend/utils"
)

// TenantMiddleware scopes the request to one tenant. Every template route
// requires both an authenticated session and an x-tenant-id header; handlers
// never accept a tenant id from the request body.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		tenantId := c.Request.Header.Get("x-tenant-id")
		if tenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "x-tenant-id header is required"})
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(utils.SetTenantIdInContext(c.Request.Context(), tenantId))
		c.Next()
	}
}
