package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/subforge/audit-api/internal/models"
)

func TestClassifyKnownPairs(t *testing.T) {
	cases := []struct {
		name     string
		action   string
		success  bool
		expected models.Severity
	}{
		{"failed login", "auth.login", false, models.SeverityWarning},
		{"successful login", "auth.login", true, models.SeverityInfo},
		{"mfa disabled", "auth.mfa_disable", true, models.SeverityCritical},
		{"suspicious token success", "auth.token_suspicious", true, models.SeverityCritical},
		{"suspicious token failure", "auth.token_suspicious", false, models.SeverityCritical},
		{"user deleted", "user.delete", true, models.SeverityCritical},
		{"role change", "user.role_change", true, models.SeverityCritical},
		{"api key created", "apikey.create", true, models.SeverityWarning},
		{"sessions revoked", "auth.sessions_revoked", true, models.SeverityWarning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.action, tc.success))
		})
	}
}

func TestClassifyUnknownActionDefaultsToInfo(t *testing.T) {
	assert.Equal(t, models.SeverityInfo, Classify("totally.unknown.action", false))
	assert.Equal(t, models.SeverityInfo, Classify("totally.unknown.action", true))
	assert.Equal(t, models.SeverityInfo, Classify("", false))
}
