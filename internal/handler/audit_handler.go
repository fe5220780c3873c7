package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/subforge/audit-api/internal/dto"
	"github.com/subforge/audit-api/internal/models"
	appErrors "github.com/subforge/audit-api/pkg/errors"
	"github.com/subforge/audit-api/pkg/response"
)

type auditQueryService interface {
	ListLogs(ctx context.Context, q dto.LogQuery) ([]models.AuditLogEntry, *models.Pagination, error)
	Verify(ctx context.Context, limit int) (*dto.VerifyResult, error)
	ExportLogs(ctx context.Context, q dto.ExportQuery, w io.Writer) error
	OutboxStats(ctx context.Context) (*dto.OutboxStats, error)
	ReplayFailed(ctx context.Context) (*dto.ReplayResponse, error)
}

// AuditHandler exposes the audit admin endpoints.
type AuditHandler struct {
	service auditQueryService
}

// NewAuditHandler builds a new handler.
func NewAuditHandler(service auditQueryService) *AuditHandler {
	return &AuditHandler{service: service}
}

// List godoc
// @Summary List audit log records
// @Tags Audit
// @Produce json
// @Param category query string false "Category filter"
// @Param action query string false "Action filter"
// @Param severity query string false "Severity filter"
// @Param actor_id query string false "Actor filter"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit/logs [get]
func (h *AuditHandler) List(c *gin.Context) {
	var q dto.LogQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid audit log query"))
		return
	}
	entries, pagination, err := h.service.ListLogs(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Verify godoc
// @Summary Verify the audit hash chain over a recent window
// @Tags Audit
// @Produce json
// @Param limit query int false "Window size (newest records)"
// @Success 200 {object} response.Envelope
// @Router /audit/logs/verify [get]
func (h *AuditHandler) Verify(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))
	result, err := h.service.Verify(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Export audit log records
// @Tags Audit
// @Produce json
// @Param category query string false "Category filter"
// @Param action query string false "Action filter"
// @Param severity query string false "Severity filter"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param format query string false "ndjson (default), csv or pdf"
// @Success 200 {string} string "streamed export"
// @Router /audit/logs/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	var q dto.ExportQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}

	switch q.Format {
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="audit-log.csv"`)
	case "pdf":
		c.Header("Content-Type", "application/pdf")
		c.Header("Content-Disposition", `attachment; filename="audit-log.pdf"`)
	default:
		c.Header("Content-Type", "application/x-ndjson")
		c.Header("Content-Disposition", `attachment; filename="audit-log.ndjson"`)
	}

	if err := h.service.ExportLogs(c.Request.Context(), q, c.Writer); err != nil {
		// Headers may already be on the wire; all we can do is abort.
		_ = c.Error(err)
		c.Abort()
	}
}

// OutboxStats godoc
// @Summary Summarize outbox health
// @Tags Audit
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /audit/outbox/stats [get]
func (h *AuditHandler) OutboxStats(c *gin.Context) {
	stats, err := h.service.OutboxStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Replay godoc
// @Summary Requeue permanently failed outbox rows
// @Tags Audit
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /audit/outbox/replay [post]
func (h *AuditHandler) Replay(c *gin.Context) {
	result, err := h.service.ReplayFailed(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
