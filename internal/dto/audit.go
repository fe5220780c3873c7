package dto

import "time"

// LogQuery is the filter accepted by the audit log list endpoint.
type LogQuery struct {
	Category string `form:"category"`
	Action   string `form:"action"`
	Severity string `form:"severity" binding:"omitempty,oneof=info warning error critical"`
	Success  *bool  `form:"success"`
	ActorID  string `form:"actor_id"`
	From     string `form:"from"`
	To       string `form:"to"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size" binding:"omitempty,max=500"`
}

// ExportQuery narrows and formats a bulk export.
type ExportQuery struct {
	Category string `form:"category"`
	Action   string `form:"action"`
	Severity string `form:"severity" binding:"omitempty,oneof=info warning error critical"`
	From     string `form:"from"`
	To       string `form:"to"`
	Format   string `form:"format" binding:"omitempty,oneof=ndjson csv pdf"`
}

// VerifyResult reports the outcome of a bounded-window chain check.
type VerifyResult struct {
	Verified     bool     `json:"verified"`
	Issues       []string `json:"issues"`
	CheckedCount int      `json:"checked_count"`
}

// OutboxStats summarizes outbox health.
type OutboxStats struct {
	Pending          int        `json:"pending"`
	Failed           int        `json:"failed"`
	Processed        int        `json:"processed"`
	OldestPendingAge *float64   `json:"oldest_pending_age_seconds,omitempty"`
	OldestPendingAt  *time.Time `json:"oldest_pending_at,omitempty"`
}

// ReplayResponse reports how many failed rows were requeued.
type ReplayResponse struct {
	Replayed int64 `json:"replayed"`
}

