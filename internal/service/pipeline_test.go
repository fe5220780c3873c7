package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subforge/audit-api/internal/models"
)

// Exercises the full path an event travels: admission into the outbox,
// promotion into the chained log, and verification of the result.
func TestAuditPipelineEndToEnd(t *testing.T) {
	writeStore := &mockAuditStore{}
	writeSvc := newTestService(writeStore, nil, nil)

	ctx := context.Background()
	actions := []struct {
		category string
		action   string
		success  bool
	}{
		{"auth", "login", true},
		{"user", "role_change", true},
		{"auth", "login", false},
	}
	for _, a := range actions {
		id := writeSvc.LogEvent(ctx, nil, EventParams{Category: a.category, Action: a.action, Success: a.success})
		require.NotEmpty(t, id)
	}
	require.Len(t, writeStore.created, 3)

	events := make([]models.AuditEvent, 0, len(writeStore.created))
	for i, created := range writeStore.created {
		event := *created
		event.ID = int64(i + 1)
		events = append(events, event)
	}

	drainStore := &mockDrainStore{locked: true, events: events}
	worker, mock, cleanup := newDrainFixture(t, drainStore)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectCommit()

	processed, err := worker.DrainBatch(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 3, processed)
	require.Len(t, drainStore.inserted, 3)
	assert.Equal(t, "auth", drainStore.inserted[0].Category)
	assert.Equal(t, models.SeverityInfo, drainStore.inserted[0].Severity)
	assert.Equal(t, models.SeverityCritical, drainStore.inserted[1].Severity)
	assert.Equal(t, models.SeverityWarning, drainStore.inserted[2].Severity)

	promoted := make([]models.AuditLogEntry, 0, len(drainStore.inserted))
	for i, entry := range drainStore.inserted {
		record := *entry
		record.ID = int64(i + 1)
		// The timestamptz column keeps microseconds; verification reads
		// the rounded value back, so model that round trip here.
		record.Timestamp = record.Timestamp.Round(time.Microsecond)
		promoted = append(promoted, record)
	}

	readStore := &mockAuditStore{recent: newestFirst(promoted)}
	readSvc := newTestService(readStore, nil, nil)

	result, err := readSvc.Verify(ctx, 100)
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, 3, result.CheckedCount)

	// Flipping a single bit after promotion must surface on verify.
	tampered := make([]models.AuditLogEntry, len(promoted))
	copy(tampered, promoted)
	tampered[1].Success = false
	readStore = &mockAuditStore{recent: newestFirst(tampered)}
	readSvc = newTestService(readStore, nil, nil)

	result, err = readSvc.Verify(ctx, 100)
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Len(t, result.Issues, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
