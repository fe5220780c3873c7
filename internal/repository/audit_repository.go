package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/subforge/audit-api/internal/models"
)

// chainLockKey is the advisory lock namespace serializing drain
// batches. Two concurrent drain runs must never interleave their
// prev_hash resolution, so the whole batch holds this lock.
const chainLockKey = 0x41554454 // "AUDT"

const logEntryColumns = `id, event_id, timestamp, category, action, severity, success, outcome,
actor_user_id, actor_email, actor_type, impersonator_id,
request_id, session_id, request_method, request_path, source,
ip_address, forwarded_for, user_agent,
resource_type, resource_id, target_user_id,
error_code, http_status, details, schema_version, prev_hash, event_hash`

const outboxColumns = `id, event_id, created_at, event_data, processed, processed_at,
attempts, last_error, next_attempt_at, failed`

// AuditRepository persists outbox rows and immutable audit records.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// BeginTx opens a transaction for a drain batch or a request scope.
func (r *AuditRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin audit tx: %w", err)
	}
	return tx, nil
}

// CreateEvent inserts one outbox row on the CALLER's transaction (or
// any other executor). It never commits; the caller's commit decides
// whether the audit intent survives together with the business change.
func (r *AuditRepository) CreateEvent(ctx context.Context, ext sqlx.ExtContext, event *models.AuditEvent) error {
	const query = `INSERT INTO audit_outbox (event_id, created_at, event_data, processed, attempts, failed)
VALUES (:event_id, :created_at, :event_data, false, 0, false)`
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if _, err := sqlx.NamedExecContext(ctx, ext, query, event); err != nil {
		return fmt.Errorf("create audit outbox event: %w", err)
	}
	return nil
}

// TryChainLock takes the transaction-scoped advisory lock guarding the
// chain append. Returns false when another drain run already holds it;
// the lock releases automatically at commit or rollback.
func (r *AuditRepository) TryChainLock(ctx context.Context, tx *sqlx.Tx) (bool, error) {
	var locked bool
	if err := tx.GetContext(ctx, &locked, `SELECT pg_try_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return false, fmt.Errorf("acquire chain lock: %w", err)
	}
	return locked, nil
}

// ClaimPending locks up to limit due outbox rows, oldest first,
// skipping rows already locked by a concurrent claim.
func (r *AuditRepository) ClaimPending(ctx context.Context, tx *sqlx.Tx, limit int, now time.Time) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM audit_outbox
WHERE processed = false AND failed = false AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
ORDER BY created_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED`, outboxColumns)
	var events []models.AuditEvent
	if err := tx.SelectContext(ctx, &events, query, now, limit); err != nil {
		return nil, fmt.Errorf("claim pending outbox rows: %w", err)
	}
	return events, nil
}

type chainTipRow struct {
	EventHash string    `db:"event_hash"`
	Timestamp time.Time `db:"timestamp"`
}

// ChainTip returns the hash and timestamp of the most recent audit
// record in chain order, or zero values when the chain is empty. The
// worker needs both: the hash seeds prev_hash resolution and the
// timestamp keeps appended records from sorting before the tip.
func (r *AuditRepository) ChainTip(ctx context.Context, tx *sqlx.Tx) (string, time.Time, error) {
	const query = `SELECT event_hash, timestamp FROM audit_log ORDER BY timestamp DESC, id DESC LIMIT 1`
	var tip chainTipRow
	if err := tx.GetContext(ctx, &tip, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, nil
		}
		return "", time.Time{}, fmt.Errorf("load chain tip: %w", err)
	}
	return tip.EventHash, tip.Timestamp, nil
}

// ChainEntryByEventID returns the stored hash and timestamp for an
// already-promoted event. Used when a promotion turns out to be a
// duplicate retry.
func (r *AuditRepository) ChainEntryByEventID(ctx context.Context, tx *sqlx.Tx, eventID string) (string, time.Time, error) {
	const query = `SELECT event_hash, timestamp FROM audit_log WHERE event_id = $1`
	var tip chainTipRow
	if err := tx.GetContext(ctx, &tip, query, eventID); err != nil {
		return "", time.Time{}, fmt.Errorf("load chain entry by event id: %w", err)
	}
	return tip.EventHash, tip.Timestamp, nil
}

// InsertLogEntry appends one immutable record. The unique constraint on
// event_id makes retried promotions idempotent: a conflicting insert is
// reported as inserted=false, never as an error.
func (r *AuditRepository) InsertLogEntry(ctx context.Context, tx *sqlx.Tx, entry *models.AuditLogEntry) (bool, error) {
	const query = `INSERT INTO audit_log (event_id, timestamp, category, action, severity, success, outcome,
actor_user_id, actor_email, actor_type, impersonator_id,
request_id, session_id, request_method, request_path, source,
ip_address, forwarded_for, user_agent,
resource_type, resource_id, target_user_id,
error_code, http_status, details, schema_version, prev_hash, event_hash)
VALUES (:event_id, :timestamp, :category, :action, :severity, :success, :outcome,
:actor_user_id, :actor_email, :actor_type, :impersonator_id,
:request_id, :session_id, :request_method, :request_path, :source,
:ip_address, :forwarded_for, :user_agent,
:resource_type, :resource_id, :target_user_id,
:error_code, :http_status, :details, :schema_version, :prev_hash, :event_hash)
ON CONFLICT (event_id) DO NOTHING`
	result, err := sqlx.NamedExecContext(ctx, tx, query, entry)
	if err != nil {
		return false, fmt.Errorf("insert audit log entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert audit log entry rows: %w", err)
	}
	return affected > 0, nil
}

// MarkProcessed retires an outbox row after successful promotion.
func (r *AuditRepository) MarkProcessed(ctx context.Context, tx *sqlx.Tx, id int64, at time.Time) error {
	const query = `UPDATE audit_outbox SET processed = true, processed_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark outbox row processed: %w", err)
	}
	return nil
}

// MarkRetry records a failed promotion attempt. Once failed is set the
// row is terminal and only ReplayFailed brings it back.
func (r *AuditRepository) MarkRetry(ctx context.Context, tx *sqlx.Tx, id int64, attempts int, lastError string, nextAttemptAt *time.Time, failed bool) error {
	const query = `UPDATE audit_outbox
SET attempts = $2, last_error = $3, next_attempt_at = $4, failed = $5 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, attempts, lastError, nextAttemptAt, failed); err != nil {
		return fmt.Errorf("mark outbox row retry: %w", err)
	}
	return nil
}

// ListRecent returns up to limit newest records, newest first.
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := fmt.Sprintf(`SELECT %s FROM audit_log ORDER BY timestamp DESC, id DESC LIMIT $1`, logEntryColumns)
	var entries []models.AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("list recent audit log entries: %w", err)
	}
	return entries, nil
}

// LogFilter narrows list and export queries.
type LogFilter struct {
	Category string
	Action   string
	Severity *models.Severity
	Success  *bool
	ActorID  string
	From     *time.Time
	To       *time.Time
}

func (f LogFilter) where() (string, []interface{}) {
	clauses := make([]string, 0, 6)
	args := make([]interface{}, 0, 6)
	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Severity != nil {
		add("severity = $%d", *f.Severity)
	}
	if f.Success != nil {
		add("success = $%d", *f.Success)
	}
	if f.ActorID != "" {
		add("actor_user_id = $%d", f.ActorID)
	}
	if f.From != nil {
		add("timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		add("timestamp < $%d", *f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListFiltered returns one page of matching records (newest first) and
// the total match count for pagination metadata.
func (r *AuditRepository) ListFiltered(ctx context.Context, filter LogFilter, page, pageSize int) ([]models.AuditLogEntry, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	where, args := filter.where()

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_log"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit log entries: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_log%s ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d`,
		logEntryColumns, where, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	var entries []models.AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit log entries: %w", err)
	}
	return entries, total, nil
}

// ListFilteredAfter returns up to limit matching records with id
// greater than cursor, in chain order. Export paging uses this keyset
// form so large windows never need deep OFFSET scans.
func (r *AuditRepository) ListFilteredAfter(ctx context.Context, filter LogFilter, cursor int64, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	where, args := filter.where()
	if where == "" {
		where = fmt.Sprintf(" WHERE id > $%d", len(args)+1)
	} else {
		where += fmt.Sprintf(" AND id > $%d", len(args)+1)
	}
	args = append(args, cursor)

	query := fmt.Sprintf(`SELECT %s FROM audit_log%s ORDER BY id ASC LIMIT $%d`,
		logEntryColumns, where, len(args)+1)
	args = append(args, limit)

	var entries []models.AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list audit log entries after cursor: %w", err)
	}
	return entries, nil
}

// OutboxCounts summarizes outbox health for operators.
type OutboxCounts struct {
	Pending       int        `db:"pending"`
	Failed        int        `db:"failed"`
	Processed     int        `db:"processed"`
	OldestPending *time.Time `db:"oldest_pending"`
}

// Stats aggregates the outbox state in a single scan.
func (r *AuditRepository) Stats(ctx context.Context) (*OutboxCounts, error) {
	const query = `SELECT
COUNT(*) FILTER (WHERE processed = false AND failed = false) AS pending,
COUNT(*) FILTER (WHERE failed = true) AS failed,
COUNT(*) FILTER (WHERE processed = true) AS processed,
MIN(created_at) FILTER (WHERE processed = false AND failed = false) AS oldest_pending
FROM audit_outbox`
	var counts OutboxCounts
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("aggregate outbox stats: %w", err)
	}
	return &counts, nil
}

// ReplayFailed puts permanently failed rows back into rotation for
// another full round of drain attempts. It runs on the caller's
// executor so the replay and its own audit record commit together.
func (r *AuditRepository) ReplayFailed(ctx context.Context, ext sqlx.ExtContext) (int64, error) {
	const query = `UPDATE audit_outbox
SET failed = false, attempts = 0, next_attempt_at = NULL, last_error = NULL
WHERE failed = true AND processed = false`
	result, err := ext.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("replay failed outbox rows: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("replay failed outbox rows affected: %w", err)
	}
	return affected, nil
}
