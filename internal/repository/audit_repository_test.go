package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subforge/audit-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func sampleEvent() *models.AuditEvent {
	return &models.AuditEvent{
		EventID:   "6b97b314-8f82-4bb5-a1c1-6ff0d4a21f55",
		CreatedAt: time.Now().UTC(),
		EventData: models.EventData{
			Category:      "auth",
			Action:        "auth.login",
			Severity:      models.SeverityInfo,
			Success:       true,
			Outcome:       models.OutcomeSuccess,
			Timestamp:     time.Now().UTC(),
			ActorType:     models.ActorTypeUser,
			Source:        models.SourceAPI,
			SchemaVersion: models.AuditSchemaVersion,
		},
	}
}

func TestCreateEventOnCallerTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_outbox").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := repo.BeginTx(context.Background())
	require.NoError(t, err)

	err = repo.CreateEvent(context.Background(), tx, sampleEvent())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEventRollsBackWithCaller(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_outbox").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	tx, err := repo.BeginTx(context.Background())
	require.NoError(t, err)

	err = repo.CreateEvent(context.Background(), tx, sampleEvent())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryChainLock(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_xact_lock($1)")).
		WithArgs(int64(chainLockKey)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(true))
	mock.ExpectRollback()

	tx, err := repo.BeginTx(context.Background())
	require.NoError(t, err)

	locked, err := repo.TryChainLock(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, locked)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPendingSkipsLockedRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "event_id", "created_at", "processed", "attempts", "failed"}).
		AddRow(int64(1), "evt-1", now.Add(-2*time.Minute), false, 0, false).
		AddRow(int64(2), "evt-2", now.Add(-time.Minute), false, 1, false)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(now, 10).
		WillReturnRows(rows)
	mock.ExpectRollback()

	tx, err := repo.BeginTx(context.Background())
	require.NoError(t, err)

	events, err := repo.ClaimPending(context.Background(), tx, 10, now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt-1", events[0].EventID)
	assert.Equal(t, 1, events[1].Attempts)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChainTipEmptyChain(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT event_hash, timestamp FROM audit_log ORDER BY timestamp DESC, id DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"event_hash", "timestamp"}))
	mock.ExpectRollback()

	tx, err := repo.BeginTx(context.Background())
	require.NoError(t, err)

	hash, at, err := repo.ChainTip(context.Background(), tx)
	require.NoError(t, err)
	assert.Empty(t, hash)
	assert.True(t, at.IsZero())
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChainTipReturnsHashAndTimestamp(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	tipAt := time.Date(2024, 5, 1, 8, 0, 2, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT event_hash, timestamp FROM audit_log ORDER BY timestamp DESC, id DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"event_hash", "timestamp"}).AddRow("aa", tipAt))
	mock.ExpectRollback()

	tx, err := repo.BeginTx(context.Background())
	require.NoError(t, err)

	hash, at, err := repo.ChainTip(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, "aa", hash)
	assert.True(t, at.Equal(tipAt))
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLogEntryReportsConflictAsNotInserted(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_log").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO audit_log").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := repo.BeginTx(context.Background())
	require.NoError(t, err)

	entry := &models.AuditLogEntry{
		EventID:   "evt-1",
		Timestamp: time.Now().UTC(),
		Category:  "auth",
		Action:    "auth.login",
		Severity:  models.SeverityInfo,
		Success:   true,
		Outcome:   models.OutcomeSuccess,
		ActorType: models.ActorTypeUser,
		Source:    models.SourceAPI,
		PrevHash:  "0000000000000000000000000000000000000000000000000000000000000000",
		EventHash: "feedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedface",
	}

	inserted, err := repo.InsertLogEntry(context.Background(), tx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertLogEntry(context.Background(), tx, entry)
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessedAndRetry(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	at := time.Now().UTC()
	next := at.Add(5 * time.Second)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE audit_outbox SET processed = true, processed_at = $2 WHERE id = $1")).
		WithArgs(int64(7), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE audit_outbox").
		WithArgs(int64(8), 1, "connection reset", next, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := repo.BeginTx(context.Background())
	require.NoError(t, err)

	require.NoError(t, repo.MarkProcessed(context.Background(), tx, 7, at))
	require.NoError(t, repo.MarkRetry(context.Background(), tx, 8, 1, "connection reset", &next, false))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFilteredBuildsWhereClause(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	sev := models.SeverityCritical
	filter := LogFilter{Category: "auth", Severity: &sev}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_log WHERE category = $1 AND severity = $2")).
		WithArgs("auth", sev).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows := sqlmock.NewRows([]string{"id", "event_id", "category", "action", "severity", "success", "event_hash"}).
		AddRow(int64(3), "evt-3", "auth", "auth.mfa_disable", "critical", true, "aa")
	mock.ExpectQuery("(?s)SELECT .+ FROM audit_log WHERE category = \\$1 AND severity = \\$2 ORDER BY timestamp DESC, id DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs("auth", sev, 20, 0).
		WillReturnRows(rows)

	entries, total, err := repo.ListFiltered(context.Background(), filter, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "auth.mfa_disable", entries[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFilteredAfterUsesKeysetCursor(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	rows := sqlmock.NewRows([]string{"id", "event_id", "action", "event_hash"}).
		AddRow(int64(43), "evt-43", "auth.login", "bb")
	mock.ExpectQuery("(?s)SELECT .+ FROM audit_log WHERE id > \\$1 ORDER BY id ASC LIMIT \\$2").
		WithArgs(int64(42), 500).
		WillReturnRows(rows)

	entries, err := repo.ListFilteredAfter(context.Background(), LogFilter{}, 42, 500)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(43), entries[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	oldest := time.Now().UTC().Add(-time.Hour)
	mock.ExpectQuery("FROM audit_outbox").
		WillReturnRows(sqlmock.NewRows([]string{"pending", "failed", "processed", "oldest_pending"}).
			AddRow(12, 2, 340, oldest))

	counts, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, counts.Pending)
	assert.Equal(t, 2, counts.Failed)
	assert.Equal(t, 340, counts.Processed)
	require.NotNil(t, counts.OldestPending)
	assert.Equal(t, oldest, counts.OldestPending.UTC())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplayFailed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE audit_outbox").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	tx, err := repo.BeginTx(context.Background())
	require.NoError(t, err)

	replayed, err := repo.ReplayFailed(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), replayed)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChainEntryByEventIDPropagatesError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT event_hash, timestamp FROM audit_log WHERE event_id").
		WithArgs("evt-missing").
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	tx, err := repo.BeginTx(context.Background())
	require.NoError(t, err)

	_, _, err = repo.ChainEntryByEventID(context.Background(), tx, "evt-missing")
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}
