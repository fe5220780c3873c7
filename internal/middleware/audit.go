package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/subforge/audit-api/internal/audit"
	"github.com/subforge/audit-api/internal/models"
	"github.com/subforge/audit-api/pkg/middleware/requestid"
)

// AuditContext resolves per-request identity and transport metadata and
// attaches it to the request context, where the outbox writer falls
// back to it for events logged without explicit actor fields. It must
// run after the JWT middleware on authenticated routes.
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := audit.RequestContext{
			RequestID:    requestid.Value(c),
			ActorType:    models.ActorTypeSystem,
			Source:       models.SourceAPI,
			IPAddress:    c.ClientIP(),
			ForwardedFor: c.GetHeader("X-Forwarded-For"),
			UserAgent:    c.GetHeader("User-Agent"),
			Method:       c.Request.Method,
			Path:         c.FullPath(),
		}
		if rc.Path == "" {
			rc.Path = c.Request.URL.Path
		}

		if claimsValue, exists := c.Get(ContextUserKey); exists {
			if claims, ok := claimsValue.(*models.JWTClaims); ok {
				rc.ActorUserID = claims.UserID
				rc.ActorEmail = claims.Email
				rc.SessionID = claims.SessionID
				rc.ActorType = models.ActorTypeUser
			}
		}

		ctx := audit.WithRequestContext(c.Request.Context(), rc)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
