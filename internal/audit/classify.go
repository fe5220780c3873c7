package audit

import "github.com/subforge/audit-api/internal/models"

type actionOutcome struct {
	action  string
	success bool
}

// severityTable maps (action, success) pairs to a non-default severity.
// Anything absent falls back to SeverityInfo.
var severityTable = map[actionOutcome]models.Severity{
	{"auth.login", false}:            models.SeverityWarning,
	{"auth.mfa_verify", false}:       models.SeverityWarning,
	{"auth.mfa_disable", true}:       models.SeverityCritical,
	{"auth.token_suspicious", true}:  models.SeverityCritical,
	{"auth.token_suspicious", false}: models.SeverityCritical,
	{"auth.password_change", false}:  models.SeverityWarning,
	{"auth.sessions_revoked", true}:  models.SeverityWarning,
	{"user.delete", true}:            models.SeverityCritical,
	{"user.role_change", true}:       models.SeverityCritical,
	{"apikey.create", true}:          models.SeverityWarning,
	{"settings.security_update", true}: models.SeverityWarning,
}

// Classify maps an action and its success flag to a severity level.
// Pure and total: unknown pairs default to info.
func Classify(action string, success bool) models.Severity {
	if severity, ok := severityTable[actionOutcome{action, success}]; ok {
		return severity
	}
	return models.SeverityInfo
}
