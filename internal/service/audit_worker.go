package service

import (
	"context"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/subforge/audit-api/internal/audit"
	"github.com/subforge/audit-api/internal/models"
)

type outboxDrainStore interface {
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
	TryChainLock(ctx context.Context, tx *sqlx.Tx) (bool, error)
	ClaimPending(ctx context.Context, tx *sqlx.Tx, limit int, now time.Time) ([]models.AuditEvent, error)
	ChainTip(ctx context.Context, tx *sqlx.Tx) (string, time.Time, error)
	ChainEntryByEventID(ctx context.Context, tx *sqlx.Tx, eventID string) (string, time.Time, error)
	InsertLogEntry(ctx context.Context, tx *sqlx.Tx, entry *models.AuditLogEntry) (bool, error)
	MarkProcessed(ctx context.Context, tx *sqlx.Tx, id int64, at time.Time) error
	MarkRetry(ctx context.Context, tx *sqlx.Tx, id int64, attempts int, lastError string, nextAttemptAt *time.Time, failed bool) error
}

// DrainConfig tunes the outbox drain worker.
type DrainConfig struct {
	BatchSize   int
	MaxAttempts int
}

// DrainWorker promotes pending outbox rows into the immutable,
// hash-chained audit log. It is the only writer of the audit table.
type DrainWorker struct {
	repo    outboxDrainStore
	metrics *MetricsService
	logger  *zap.Logger
	cfg     DrainConfig
	now     func() time.Time
}

// NewDrainWorker constructs a worker.
func NewDrainWorker(repo outboxDrainStore, metrics *MetricsService, logger *zap.Logger, cfg DrainConfig) *DrainWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &DrainWorker{
		repo:    repo,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Tick adapts DrainBatch to the periodic runner signature.
func (w *DrainWorker) Tick(ctx context.Context) (int, error) {
	return w.DrainBatch(ctx, w.cfg.BatchSize)
}

// DrainBatch claims up to batchSize due outbox rows, oldest first, and
// promotes them. The whole batch runs in one transaction guarded by an
// advisory lock on the chain: concurrent drain runs (other instances,
// overlapping schedules) skip their cycle instead of interleaving
// commits, which would corrupt prev_hash resolution. Row failures are
// isolated; their retry bookkeeping commits together with the batch.
func (w *DrainWorker) DrainBatch(ctx context.Context, batchSize int) (int, error) {
	started := w.now()

	tx, err := w.repo.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	// Rollback is a no-op after a successful commit.
	defer tx.Rollback() //nolint:errcheck

	locked, err := w.repo.TryChainLock(ctx, tx)
	if err != nil {
		return 0, err
	}
	if !locked {
		w.logger.Debug("audit drain skipped, another drain holds the chain lock")
		return 0, nil
	}

	events, err := w.repo.ClaimPending(ctx, tx, batchSize, w.now())
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, tx.Commit()
	}

	prevHash, tipAt, err := w.repo.ChainTip(ctx, tx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range events {
		event := &events[i]
		newHash, newAt, err := w.promote(ctx, tx, event, prevHash, tipAt)
		if err != nil {
			w.recordFailure(ctx, tx, event, err)
			continue
		}
		prevHash, tipAt = newHash, newAt
		processed++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if w.metrics != nil {
		w.metrics.OutboxDrained(processed)
		w.metrics.ObserveDrain(time.Since(started))
	}
	return processed, nil
}

// promote inserts the immutable record for one outbox row and retires
// the row. It returns the chain tip after this row: the freshly
// computed hash and promoted timestamp, or the previously stored ones
// when the insert turned out to be a duplicate retry of an
// already-promoted event.
func (w *DrainWorker) promote(ctx context.Context, tx *sqlx.Tx, event *models.AuditEvent, prevHash string, tipAt time.Time) (string, time.Time, error) {
	entry := buildLogEntry(event, prevHash, tipAt)

	inserted, err := w.repo.InsertLogEntry(ctx, tx, entry)
	if err != nil {
		return "", time.Time{}, err
	}
	if !inserted {
		// A prior run promoted this event but crashed before retiring
		// the outbox row. The stored record wins; re-seed the chain
		// cursor from it.
		stored, storedAt, err := w.repo.ChainEntryByEventID(ctx, tx, event.EventID)
		if err != nil {
			return "", time.Time{}, err
		}
		if err := w.repo.MarkProcessed(ctx, tx, event.ID, w.now()); err != nil {
			return "", time.Time{}, err
		}
		return stored, storedAt, nil
	}

	if err := w.repo.MarkProcessed(ctx, tx, event.ID, w.now()); err != nil {
		return "", time.Time{}, err
	}
	return entry.EventHash, entry.Timestamp, nil
}

func (w *DrainWorker) recordFailure(ctx context.Context, tx *sqlx.Tx, event *models.AuditEvent, cause error) {
	attempts := event.Attempts + 1
	failed := attempts >= w.cfg.MaxAttempts

	var nextAttemptAt *time.Time
	if !failed {
		next := w.now().Add(backoffDelay(attempts))
		nextAttemptAt = &next
	}

	if err := w.repo.MarkRetry(ctx, tx, event.ID, attempts, cause.Error(), nextAttemptAt, failed); err != nil {
		w.logger.Error("audit outbox retry bookkeeping failed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}

	if failed {
		if w.metrics != nil {
			w.metrics.OutboxFailed()
		}
		w.logger.Error("audit outbox row abandoned after max attempts",
			zap.String("event_id", event.EventID),
			zap.Int("attempts", attempts),
			zap.NamedError("cause", cause),
		)
		return
	}
	if w.metrics != nil {
		w.metrics.OutboxRetried()
	}
	w.logger.Warn("audit outbox promotion failed, scheduled for retry",
		zap.String("event_id", event.EventID),
		zap.Int("attempts", attempts),
		zap.Timep("next_attempt_at", nextAttemptAt),
		zap.NamedError("cause", cause),
	)
}

// backoffDelay returns 5^attempts seconds: 5s, 25s, 125s, 625s.
func backoffDelay(attempts int) time.Duration {
	return time.Duration(math.Pow(5, float64(attempts))) * time.Second
}

// buildLogEntry maps the snapshotted event data onto an immutable
// record and seals it with the chained hash. The timestamp is truncated
// to the timestamptz column's microsecond resolution so the hashed
// value survives the round trip, and clamped to the tip's timestamp so
// chain order never disagrees with the (timestamp, id) order the
// verifiers walk. Equal timestamps are safe: ids are assigned in append
// order and break the tie.
func buildLogEntry(event *models.AuditEvent, prevHash string, tipAt time.Time) *models.AuditLogEntry {
	data := event.EventData
	if prevHash == "" {
		prevHash = audit.ZeroHash
	}
	at := data.Timestamp.UTC().Truncate(time.Microsecond)
	if at.Before(tipAt) {
		// A retried row enqueued before records that already promoted.
		at = tipAt
	}

	entry := &models.AuditLogEntry{
		EventID:        event.EventID,
		Timestamp:      at,
		Category:       data.Category,
		Action:         data.Action,
		Severity:       data.Severity,
		Success:        data.Success,
		Outcome:        data.Outcome,
		ActorUserID:    data.ActorUserID,
		ActorEmail:     data.ActorEmail,
		ActorType:      data.ActorType,
		ImpersonatorID: data.ImpersonatorID,
		RequestID:      data.RequestID,
		SessionID:      data.SessionID,
		RequestMethod:  data.RequestMethod,
		RequestPath:    data.RequestPath,
		Source:         data.Source,
		IPAddress:      data.IPAddress,
		ForwardedFor:   data.ForwardedFor,
		UserAgent:      data.UserAgent,
		ResourceType:   data.ResourceType,
		ResourceID:     data.ResourceID,
		TargetUserID:   data.TargetUserID,
		ErrorCode:      data.ErrorCode,
		HTTPStatus:     data.HTTPStatus,
		Details:        models.Details(data.Details),
		SchemaVersion:  data.SchemaVersion,
		PrevHash:       prevHash,
	}
	entry.EventHash = audit.ComputeHash(audit.HashInput{
		EventID:      entry.EventID,
		Timestamp:    entry.Timestamp,
		Action:       entry.Action,
		ActorUserID:  entry.ActorUserID,
		TargetUserID: entry.TargetUserID,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Success:      entry.Success,
		HTTPStatus:   entry.HTTPStatus,
		Details:      data.Details,
		PrevHash:     entry.PrevHash,
	})
	return entry
}
