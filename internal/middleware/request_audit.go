package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/subforge/audit-api/internal/service"
)

type requestAuditor interface {
	LogEvent(ctx context.Context, ext sqlx.ExtContext, p service.EventParams) string
}

// RequestAudit records access to an admin endpoint through the audit
// pipeline itself, so reads of the audit trail leave their own trail.
// Actor and transport fields come from the ambient request context set
// by AuditContext; the event rides its own autocommitted insert rather
// than a request transaction, since these endpoints mutate nothing.
func RequestAudit(auditSvc requestAuditor, ext sqlx.ExtContext, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		auditSvc.LogEvent(c.Request.Context(), ext, service.EventParams{
			Category:   "admin",
			Action:     action,
			Success:    status < http.StatusBadRequest,
			HTTPStatus: &status,
		})
	}
}
