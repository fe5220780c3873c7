package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Audit Pipeline API",
        "description": "Tamper-evident audit logging service",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Audit", "description": "Immutable audit log queries and integrity checks"},
        {"name": "Metrics", "description": "Pipeline observability"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Degraded"}
                }
            }
        },
        "/api/v1/audit/logs": {
            "get": {
                "tags": ["Audit"],
                "summary": "List audit log records",
                "parameters": [
                    {"name": "category", "in": "query", "type": "string"},
                    {"name": "action", "in": "query", "type": "string"},
                    {"name": "severity", "in": "query", "type": "string", "enum": ["info", "warning", "error", "critical"]},
                    {"name": "success", "in": "query", "type": "boolean"},
                    {"name": "actor_id", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "to", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/audit/logs/verify": {
            "get": {
                "tags": ["Audit"],
                "summary": "Verify the hash chain over a recent window",
                "parameters": [
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/VerifyResult"}}
                }
            }
        },
        "/api/v1/audit/logs/export": {
            "get": {
                "tags": ["Audit"],
                "summary": "Export audit records (ndjson, csv or pdf)",
                "parameters": [
                    {"name": "category", "in": "query", "type": "string"},
                    {"name": "action", "in": "query", "type": "string"},
                    {"name": "severity", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "to", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["ndjson", "csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "Streamed export"}
                }
            }
        },
        "/api/v1/audit/outbox/stats": {
            "get": {
                "tags": ["Audit"],
                "summary": "Summarize outbox health",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/OutboxStats"}}
                }
            }
        },
        "/api/v1/audit/outbox/replay": {
            "post": {
                "tags": ["Audit"],
                "summary": "Requeue permanently failed outbox rows",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ReplayResponse"}}
                }
            }
        },
        "/api/v1/metrics/summary": {
            "get": {
                "tags": ["Metrics"],
                "summary": "Audit pipeline counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "AuditLogEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "event_id": {"type": "string"},
                "timestamp": {"type": "string", "format": "date-time"},
                "category": {"type": "string"},
                "action": {"type": "string"},
                "severity": {"type": "string"},
                "success": {"type": "boolean"},
                "outcome": {"type": "string"},
                "actor_user_id": {"type": "string"},
                "actor_type": {"type": "string"},
                "source": {"type": "string"},
                "resource_type": {"type": "string"},
                "resource_id": {"type": "string"},
                "details": {"type": "object"},
                "schema_version": {"type": "integer"},
                "prev_hash": {"type": "string"},
                "event_hash": {"type": "string"}
            }
        },
        "VerifyResult": {
            "type": "object",
            "properties": {
                "verified": {"type": "boolean"},
                "issues": {"type": "array", "items": {"type": "string"}},
                "checked_count": {"type": "integer"}
            }
        },
        "OutboxStats": {
            "type": "object",
            "properties": {
                "pending": {"type": "integer"},
                "failed": {"type": "integer"},
                "processed": {"type": "integer"},
                "oldest_pending_age_seconds": {"type": "number"},
                "oldest_pending_at": {"type": "string", "format": "date-time"}
            }
        },
        "ReplayResponse": {
            "type": "object",
            "properties": {
                "replayed": {"type": "integer"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
