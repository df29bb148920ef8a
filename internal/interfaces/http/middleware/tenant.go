package middleware

import (
	"net/http"
	"strings"

	"github.com/erp/reconciliation/internal/infrastructure/logger"
	"github.com/erp/reconciliation/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Keys used to carry the caller's tenant and identity
const (
	TenantIDKey     = "tenant_id"
	ActorKey        = "actor"
	TenantHeaderKey = "X-Tenant-ID"
	ActorHeaderKey  = "X-Actor"
)

// MaxActorLength bounds the actor header stored in audit entries
const MaxActorLength = 100

// TenantConfig holds configuration for the tenant middleware
type TenantConfig struct {
	// SkipPaths are paths that don't require tenant context (e.g., health check)
	SkipPaths []string
}

// DefaultTenantConfig returns default tenant middleware configuration
func DefaultTenantConfig() TenantConfig {
	return TenantConfig{
		SkipPaths: []string{"/health", "/healthz", "/ready"},
	}
}

// Tenant requires an X-Tenant-ID header holding a UUID and records it, along
// with the optional X-Actor header, in the gin and request contexts
func Tenant() gin.HandlerFunc {
	return TenantWithConfig(DefaultTenantConfig())
}

// TenantWithConfig returns tenant middleware with custom configuration
func TenantWithConfig(cfg TenantConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skipPath := range cfg.SkipPaths {
			if path == skipPath || strings.HasPrefix(path, skipPath+"/") {
				c.Next()
				return
			}
		}

		raw := strings.TrimSpace(c.GetHeader(TenantHeaderKey))
		if raw == "" {
			respondMissingTenant(c, "Tenant identification required")
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil || tenantID == uuid.Nil {
			respondMissingTenant(c, "Invalid tenant ID format")
			return
		}
		c.Set(TenantIDKey, tenantID)

		ctx := logger.WithTenantID(c.Request.Context(), tenantID.String())
		if actor := strings.TrimSpace(c.GetHeader(ActorHeaderKey)); actor != "" {
			if len(actor) > MaxActorLength {
				actor = actor[:MaxActorLength]
			}
			c.Set(ActorKey, actor)
			ctx = logger.WithActor(ctx, actor)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func respondMissingTenant(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponse(dto.ErrCodeMissingTenant, message, requestID(c)))
}

// GetTenantID retrieves the tenant ID from gin.Context
func GetTenantID(c *gin.Context) (uuid.UUID, bool) {
	if v, exists := c.Get(TenantIDKey); exists {
		if id, ok := v.(uuid.UUID); ok {
			return id, true
		}
	}
	return uuid.Nil, false
}

// GetActor retrieves the X-Actor value, or ""
func GetActor(c *gin.Context) string {
	return c.GetString(ActorKey)
}

// requestID returns the ID set by logger.GinMiddleware, falling back to
// the request header
func requestID(c *gin.Context) string {
	if id := logger.GetRequestID(c.Request.Context()); id != "" {
		return id
	}
	id := c.GetHeader(logger.RequestIDHeader)
	if len(id) > MaxRequestIDLength {
		return id[:MaxRequestIDLength]
	}
	return id
}
