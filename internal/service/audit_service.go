package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/subforge/audit-api/internal/audit"
	"github.com/subforge/audit-api/internal/dto"
	"github.com/subforge/audit-api/internal/models"
	"github.com/subforge/audit-api/internal/repository"
	appErrors "github.com/subforge/audit-api/pkg/errors"
	"github.com/subforge/audit-api/pkg/export"
	"github.com/subforge/audit-api/pkg/ratelimit"
)

type auditStore interface {
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
	CreateEvent(ctx context.Context, ext sqlx.ExtContext, event *models.AuditEvent) error
	ListRecent(ctx context.Context, limit int) ([]models.AuditLogEntry, error)
	ListFiltered(ctx context.Context, filter repository.LogFilter, page, pageSize int) ([]models.AuditLogEntry, int, error)
	ListFilteredAfter(ctx context.Context, filter repository.LogFilter, cursor int64, limit int) ([]models.AuditLogEntry, error)
	Stats(ctx context.Context) (*repository.OutboxCounts, error)
	ReplayFailed(ctx context.Context, ext sqlx.ExtContext) (int64, error)
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

const statsCacheKey = "audit:outbox:stats"

// EventParams carries one audit event through the write entrypoint.
// Only Category, Action and Success are required; actor and request
// fields left empty are resolved from the ambient request context.
type EventParams struct {
	Category       string `validate:"required"`
	Action         string `validate:"required"`
	Success        bool
	Severity       *models.Severity
	Outcome        *models.Outcome
	ActorUserID    *string
	ActorEmail     *string
	ActorType      models.ActorType
	ImpersonatorID *string
	ResourceType   *string
	ResourceID     *string
	TargetUserID   *string
	ErrorCode      *string
	HTTPStatus     *int
	Details        map[string]interface{}
}

// AuditServiceConfig tunes the write and query paths.
type AuditServiceConfig struct {
	Environment    string
	VerifyMaxLimit int
	ExportPageSize int
	ExportMaxRows  int
	StatsCacheTTL  time.Duration
}

// AuditService is the only write entrypoint into the audit pipeline and
// the read surface for verification, listing and export.
type AuditService struct {
	repo     auditStore
	gate     *ratelimit.Gate
	cache    statsCache
	metrics  *MetricsService
	logger   *zap.Logger
	validate *validator.Validate
	cfg      AuditServiceConfig

	ndjson *export.NDJSONExporter
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
}

// NewAuditService constructs the service.
func NewAuditService(repo auditStore, gate *ratelimit.Gate, cache statsCache, metrics *MetricsService, logger *zap.Logger, cfg AuditServiceConfig) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerifyMaxLimit <= 0 {
		cfg.VerifyMaxLimit = 10000
	}
	if cfg.ExportPageSize <= 0 {
		cfg.ExportPageSize = 500
	}
	if cfg.ExportMaxRows <= 0 {
		cfg.ExportMaxRows = 100000
	}
	if cfg.StatsCacheTTL <= 0 {
		cfg.StatsCacheTTL = time.Minute
	}
	return &AuditService{
		repo:     repo,
		gate:     gate,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		validate: validator.New(),
		cfg:      cfg,
		ndjson:   export.NewNDJSONExporter(),
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
	}
}

// LogEvent admits one audit event into the outbox using the caller's
// transaction. It never commits, never returns an error, and never
// panics across this boundary: audit logging is a side channel that
// must not fail the business operation it rides on. The returned event
// id is empty when the event was shed or could not be assembled.
func (s *AuditService) LogEvent(ctx context.Context, ext sqlx.ExtContext, p EventParams) string {
	slot := s.gate.Acquire()
	defer slot.Release()
	if !slot.Held() {
		if s.metrics != nil {
			s.metrics.AuditDropped()
		}
		return ""
	}

	if err := s.validate.Struct(p); err != nil {
		s.logger.Error("audit event rejected",
			zap.String("action", p.Action),
			zap.Error(err),
		)
		return ""
	}

	eventID := uuid.NewString()
	event := &models.AuditEvent{
		EventID:   eventID,
		CreatedAt: time.Now().UTC(),
		EventData: s.assemble(ctx, p),
	}

	if err := s.repo.CreateEvent(ctx, ext, event); err != nil {
		s.logger.Error("audit event enqueue failed",
			zap.String("event_id", eventID),
			zap.String("action", p.Action),
			zap.Error(err),
		)
		return ""
	}
	if s.metrics != nil {
		s.metrics.AuditAdmitted()
	}
	return eventID
}

// assemble builds the immutable snapshot, resolving missing actor and
// request fields from the ambient request context.
func (s *AuditService) assemble(ctx context.Context, p EventParams) models.EventData {
	data := models.EventData{
		Category:       p.Category,
		Action:         normalizeAction(p.Category, p.Action),
		Success:        p.Success,
		Outcome:        models.OutcomeFor(p.Success),
		// Truncated to the timestamptz column's resolution so the value
		// hashed at promotion survives the database round trip intact.
		Timestamp:      time.Now().UTC().Truncate(time.Microsecond),
		ActorUserID:    p.ActorUserID,
		ActorEmail:     p.ActorEmail,
		ActorType:      p.ActorType,
		ImpersonatorID: p.ImpersonatorID,
		Source:         models.SourceSystem,
		ResourceType:   p.ResourceType,
		ResourceID:     p.ResourceID,
		TargetUserID:   p.TargetUserID,
		ErrorCode:      p.ErrorCode,
		HTTPStatus:     p.HTTPStatus,
		Details:        audit.SanitizeDetails(p.Details),
		Environment:    s.cfg.Environment,
		SchemaVersion:  models.AuditSchemaVersion,
	}

	if p.Severity != nil {
		data.Severity = *p.Severity
	} else {
		data.Severity = audit.Classify(data.Action, p.Success)
	}
	if p.Outcome != nil {
		data.Outcome = *p.Outcome
	}
	if data.ActorType == "" {
		data.ActorType = models.ActorTypeSystem
	}

	if rc, ok := audit.RequestContextFrom(ctx); ok {
		if data.ActorUserID == nil && rc.ActorUserID != "" {
			data.ActorUserID = &rc.ActorUserID
		}
		if data.ActorEmail == nil && rc.ActorEmail != "" {
			data.ActorEmail = &rc.ActorEmail
		}
		if p.ActorType == "" && rc.ActorType != "" {
			data.ActorType = rc.ActorType
		}
		if rc.Source != "" {
			data.Source = rc.Source
		}
		data.RequestID = optional(rc.RequestID)
		data.SessionID = optional(rc.SessionID)
		data.RequestMethod = optional(rc.Method)
		data.RequestPath = optional(rc.Path)
		data.IPAddress = optional(rc.IPAddress)
		data.ForwardedFor = optional(rc.ForwardedFor)
		data.UserAgent = optional(rc.UserAgent)
	}
	return data
}

// Verify walks up to limit newest records in chronological order and
// recomputes every hash against its in-window predecessor. Read-only;
// findings are reported, never repaired.
func (s *AuditService) Verify(ctx context.Context, limit int) (*dto.VerifyResult, error) {
	if limit <= 0 || limit > s.cfg.VerifyMaxLimit {
		limit = s.cfg.VerifyMaxLimit
	}
	entries, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit records")
	}
	reverse(entries)

	result := &dto.VerifyResult{Verified: true, Issues: []string{}, CheckedCount: len(entries)}
	for i, entry := range entries {
		// The true predecessor of the window's first record may lie
		// outside the window, so its stored prev_hash is trusted.
		prev := entry.PrevHash
		if i > 0 {
			prev = entries[i-1].EventHash
		}
		computed := audit.ComputeHash(audit.HashInput{
			EventID:      entry.EventID,
			Timestamp:    entry.Timestamp,
			Action:       entry.Action,
			ActorUserID:  entry.ActorUserID,
			TargetUserID: entry.TargetUserID,
			ResourceType: entry.ResourceType,
			ResourceID:   entry.ResourceID,
			Success:      entry.Success,
			HTTPStatus:   entry.HTTPStatus,
			Details:      entry.Details,
			PrevHash:     prev,
		})
		if computed != entry.EventHash {
			result.Issues = append(result.Issues, fmt.Sprintf(
				"record id=%d event_id=%s hash mismatch: stored %s..., computed %s...",
				entry.ID, entry.EventID, hashPrefix(entry.EventHash), hashPrefix(computed)))
		}
	}

	if len(result.Issues) > 0 {
		result.Verified = false
		if s.metrics != nil {
			s.metrics.VerifyFailed()
		}
		s.logger.Error("audit chain verification failed",
			zap.Int("checked", result.CheckedCount),
			zap.Int("issues", len(result.Issues)),
		)
	}
	return result, nil
}

// ListLogs returns one page of records matching the query.
func (s *AuditService) ListLogs(ctx context.Context, q dto.LogQuery) ([]models.AuditLogEntry, *models.Pagination, error) {
	filter, err := buildFilter(q.Category, q.Action, q.Severity, q.From, q.To)
	if err != nil {
		return nil, nil, err
	}
	filter.Success = q.Success
	filter.ActorID = q.ActorID

	page := q.Page
	if page <= 0 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	entries, total, err := s.repo.ListFiltered(ctx, filter, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit records")
	}
	return entries, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// ExportLogs streams matching records to w in the requested format.
// NDJSON and CSV page through the table with a keyset cursor so large
// windows stream without holding everything in memory; PDF is a bounded
// human-readable summary.
func (s *AuditService) ExportLogs(ctx context.Context, q dto.ExportQuery, w io.Writer) error {
	filter, err := buildFilter(q.Category, q.Action, q.Severity, q.From, q.To)
	if err != nil {
		return err
	}

	format := q.Format
	if format == "" {
		format = "ndjson"
	}

	if format == "pdf" {
		return s.exportPDF(ctx, filter, w)
	}

	if format == "csv" {
		if err := s.csv.WriteHeader(w, exportHeaders); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write export header")
		}
	}

	cursor := int64(0)
	written := 0
	for written < s.cfg.ExportMaxRows {
		entries, err := s.repo.ListFilteredAfter(ctx, filter, cursor, s.cfg.ExportPageSize)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export page")
		}
		if len(entries) == 0 {
			return nil
		}
		for _, entry := range entries {
			if format == "csv" {
				if err := s.csv.WriteRows(w, exportHeaders, []map[string]string{entryRow(entry)}); err != nil {
					return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write export row")
				}
			} else {
				if err := s.ndjson.WriteRecord(w, entry); err != nil {
					return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write export record")
				}
			}
			cursor = entry.ID
			written++
			if written >= s.cfg.ExportMaxRows {
				return nil
			}
		}
	}
	return nil
}

func (s *AuditService) exportPDF(ctx context.Context, filter repository.LogFilter, w io.Writer) error {
	entries, err := s.repo.ListFilteredAfter(ctx, filter, 0, s.cfg.ExportPageSize)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export page")
	}
	rows := make([]map[string]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, entryRow(entry))
	}
	if err := s.pdf.Render(w, export.Dataset{Headers: exportHeaders, Rows: rows}, "audit log"); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
	}
	return nil
}

// OutboxStats aggregates outbox health, served from cache when fresh.
func (s *AuditService) OutboxStats(ctx context.Context) (*dto.OutboxStats, error) {
	if s.cache != nil {
		var cached dto.OutboxStats
		if err := s.cache.Get(ctx, statsCacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	counts, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate outbox stats")
	}

	stats := &dto.OutboxStats{
		Pending:   counts.Pending,
		Failed:    counts.Failed,
		Processed: counts.Processed,
	}
	if counts.OldestPending != nil {
		age := time.Since(*counts.OldestPending).Seconds()
		stats.OldestPendingAge = &age
		stats.OldestPendingAt = counts.OldestPending
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, statsCacheKey, stats, s.cfg.StatsCacheTTL); err != nil {
			s.logger.Warn("outbox stats cache write failed", zap.Error(err))
		}
	}
	return stats, nil
}

// ReplayFailed requeues permanently failed outbox rows. The replay and
// the audit event recording it share one transaction: either both land
// or neither does.
func (s *AuditService) ReplayFailed(ctx context.Context) (*dto.ReplayResponse, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin replay tx")
	}
	defer tx.Rollback() //nolint:errcheck

	replayed, err := s.repo.ReplayFailed(ctx, tx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replay outbox rows")
	}

	s.LogEvent(ctx, tx, EventParams{
		Category: "audit",
		Action:   "audit.outbox_replay",
		Success:  true,
		Details:  map[string]interface{}{"count": replayed},
	})

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit replay tx")
	}
	s.logger.Info("failed outbox rows replayed", zap.Int64("count", replayed))
	return &dto.ReplayResponse{Replayed: replayed}, nil
}

var exportHeaders = []string{
	"id", "event_id", "timestamp", "category", "action", "severity", "success",
	"actor_user_id", "resource_type", "resource_id", "ip_address", "event_hash",
}

func entryRow(entry models.AuditLogEntry) map[string]string {
	return map[string]string{
		"id":            strconv.FormatInt(entry.ID, 10),
		"event_id":      entry.EventID,
		"timestamp":     entry.Timestamp.UTC().Format(time.RFC3339Nano),
		"category":      entry.Category,
		"action":        entry.Action,
		"severity":      string(entry.Severity),
		"success":       strconv.FormatBool(entry.Success),
		"actor_user_id": deref(entry.ActorUserID),
		"resource_type": deref(entry.ResourceType),
		"resource_id":   deref(entry.ResourceID),
		"ip_address":    deref(entry.IPAddress),
		"event_hash":    entry.EventHash,
	}
}

func buildFilter(category, action, severity, from, to string) (repository.LogFilter, error) {
	filter := repository.LogFilter{Category: category, Action: action}
	if severity != "" {
		sev := models.Severity(severity)
		filter.Severity = &sev
	}
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid from timestamp")
		}
		filter.From = &t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid to timestamp")
		}
		filter.To = &t
	}
	return filter, nil
}

// normalizeAction enforces the category prefix convention so lookups
// and exports can rely on action names being fully qualified.
func normalizeAction(category, action string) string {
	if category == "" || strings.HasPrefix(action, category+".") {
		return action
	}
	return category + "." + action
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func hashPrefix(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func reverse(entries []models.AuditLogEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
