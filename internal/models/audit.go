package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Severity classifies how alarming an audit event is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Outcome captures the result dimension of an audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeAttempt Outcome = "attempt"
)

// ActorType identifies what kind of principal performed an action.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
	ActorTypeAPIKey ActorType = "api_key"
)

// Source identifies the channel an audited action arrived through.
type Source string

const (
	SourceWeb    Source = "web"
	SourceAPI    Source = "api"
	SourceCLI    Source = "cli"
	SourceSystem Source = "system"
)

// AuditSchemaVersion is stamped onto every promoted record so future
// schema changes can adjust the canonical hash input per version.
const AuditSchemaVersion = 1

// EventData is the full snapshot of an audit event captured at enqueue
// time. The drain worker promotes it verbatim; nothing is re-resolved
// later, so a record stays reproducible even if the actor row changes.
type EventData struct {
	Category       string                 `json:"category"`
	Action         string                 `json:"action"`
	Severity       Severity               `json:"severity"`
	Success        bool                   `json:"success"`
	Outcome        Outcome                `json:"outcome"`
	Timestamp      time.Time              `json:"timestamp"`
	ActorUserID    *string                `json:"actor_user_id,omitempty"`
	ActorEmail     *string                `json:"actor_email,omitempty"`
	ActorType      ActorType              `json:"actor_type"`
	ImpersonatorID *string                `json:"impersonator_id,omitempty"`
	RequestID      *string                `json:"request_id,omitempty"`
	SessionID      *string                `json:"session_id,omitempty"`
	RequestMethod  *string                `json:"request_method,omitempty"`
	RequestPath    *string                `json:"request_path,omitempty"`
	Source         Source                 `json:"source"`
	IPAddress      *string                `json:"ip_address,omitempty"`
	ForwardedFor   *string                `json:"forwarded_for,omitempty"`
	UserAgent      *string                `json:"user_agent,omitempty"`
	ResourceType   *string                `json:"resource_type,omitempty"`
	ResourceID     *string                `json:"resource_id,omitempty"`
	TargetUserID   *string                `json:"target_user_id,omitempty"`
	ErrorCode      *string                `json:"error_code,omitempty"`
	HTTPStatus     *int                   `json:"http_status,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Environment    string                 `json:"environment,omitempty"`
	SchemaVersion  int                    `json:"schema_version"`
}

// Value marshals the snapshot to JSON for JSONB persistence.
func (d EventData) Value() (driver.Value, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event data: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB payloads into the snapshot struct.
func (d *EventData) Scan(value interface{}) error {
	if value == nil {
		*d = EventData{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for EventData", value)
	}
	if len(data) == 0 {
		*d = EventData{}
		return nil
	}
	if err := json.Unmarshal(data, d); err != nil {
		return fmt.Errorf("unmarshal audit event data: %w", err)
	}
	return nil
}

// Details is a nullable JSONB map column.
type Details map[string]interface{}

// Value marshals details for persistence; nil maps persist as NULL.
func (m Details) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal audit details: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB payloads into the map.
func (m *Details) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for Details", value)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("unmarshal audit details: %w", err)
	}
	return nil
}

// AuditEvent is one transactional outbox row. It is created inside the
// business transaction that triggered it and mutated only by the drain
// worker afterwards. Rows are never deleted, only marked.
type AuditEvent struct {
	ID            int64      `db:"id" json:"id"`
	EventID       string     `db:"event_id" json:"event_id"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	EventData     EventData  `db:"event_data" json:"event_data"`
	Processed     bool       `db:"processed" json:"processed"`
	ProcessedAt   *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	Attempts      int        `db:"attempts" json:"attempts"`
	LastError     *string    `db:"last_error" json:"last_error,omitempty"`
	NextAttemptAt *time.Time `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	Failed        bool       `db:"failed" json:"failed"`
}

// AuditLogEntry is one immutable, hash-chained audit record. Only the
// drain worker inserts rows; no update or delete path exists.
type AuditLogEntry struct {
	ID             int64     `db:"id" json:"id"`
	EventID        string    `db:"event_id" json:"event_id"`
	Timestamp      time.Time `db:"timestamp" json:"timestamp"`
	Category       string    `db:"category" json:"category"`
	Action         string    `db:"action" json:"action"`
	Severity       Severity  `db:"severity" json:"severity"`
	Success        bool      `db:"success" json:"success"`
	Outcome        Outcome   `db:"outcome" json:"outcome"`
	ActorUserID    *string   `db:"actor_user_id" json:"actor_user_id,omitempty"`
	ActorEmail     *string   `db:"actor_email" json:"actor_email,omitempty"`
	ActorType      ActorType `db:"actor_type" json:"actor_type"`
	ImpersonatorID *string   `db:"impersonator_id" json:"impersonator_id,omitempty"`
	RequestID      *string   `db:"request_id" json:"request_id,omitempty"`
	SessionID      *string   `db:"session_id" json:"session_id,omitempty"`
	RequestMethod  *string   `db:"request_method" json:"request_method,omitempty"`
	RequestPath    *string   `db:"request_path" json:"request_path,omitempty"`
	Source         Source    `db:"source" json:"source"`
	IPAddress      *string   `db:"ip_address" json:"ip_address,omitempty"`
	ForwardedFor   *string   `db:"forwarded_for" json:"forwarded_for,omitempty"`
	UserAgent      *string   `db:"user_agent" json:"user_agent,omitempty"`
	ResourceType   *string   `db:"resource_type" json:"resource_type,omitempty"`
	ResourceID     *string   `db:"resource_id" json:"resource_id,omitempty"`
	TargetUserID   *string   `db:"target_user_id" json:"target_user_id,omitempty"`
	ErrorCode      *string   `db:"error_code" json:"error_code,omitempty"`
	HTTPStatus     *int      `db:"http_status" json:"http_status,omitempty"`
	Details        Details   `db:"details" json:"details,omitempty"`
	SchemaVersion  int       `db:"schema_version" json:"schema_version"`
	PrevHash       string    `db:"prev_hash" json:"prev_hash"`
	EventHash      string    `db:"event_hash" json:"event_hash"`
}

// OutcomeFor derives the outcome dimension from a success flag.
func OutcomeFor(success bool) Outcome {
	if success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
