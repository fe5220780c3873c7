package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserRole enumerates the roles recognised by the admin API.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleAuditor  UserRole = "AUDITOR"
	RoleOperator UserRole = "OPERATOR"
)

// JWTClaims represents the JWT payload for access tokens issued by the
// main application. This service only validates them.
type JWTClaims struct {
	UserID    string   `json:"user_id"`
	Role      UserRole `json:"role"`
	Email     string   `json:"email"`
	SessionID string   `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// HealthStatus is returned by liveness and readiness probes.
type HealthStatus struct {
	Status    string    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
}
