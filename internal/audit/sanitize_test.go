package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeDetailsDropsUnknownKeys(t *testing.T) {
	out := SanitizeDetails(map[string]interface{}{
		"reason":       "manual_disable",
		"secret_token": "abc123",
		"internal_ptr": map[string]interface{}{"x": 1},
	})
	require.NotNil(t, out)
	assert.Equal(t, map[string]interface{}{"reason": "manual_disable"}, out)
}

func TestSanitizeDetailsRedactsSensitiveAllowlistedValues(t *testing.T) {
	// token_type is allowlisted but its name matches the sensitive
	// pattern, so the value is kept as a marker rather than dropped.
	out := SanitizeDetails(map[string]interface{}{
		"token_type": "refresh",
		"reason":     "rotation",
	})
	require.NotNil(t, out)
	assert.Equal(t, RedactionMarker, out["token_type"])
	assert.Equal(t, "rotation", out["reason"])
}

func TestSanitizeDetailsMethodSuffixIsNotSensitive(t *testing.T) {
	out := SanitizeDetails(map[string]interface{}{
		"auth_method": "totp",
		"mfa_method":  "webauthn",
	})
	require.NotNil(t, out)
	assert.Equal(t, "totp", out["auth_method"])
	assert.Equal(t, "webauthn", out["mfa_method"])
}

func TestSanitizeDetailsNilAndEmpty(t *testing.T) {
	assert.Nil(t, SanitizeDetails(nil))
	assert.Nil(t, SanitizeDetails(map[string]interface{}{}))
	// Nothing surviving the allowlist also yields nil.
	assert.Nil(t, SanitizeDetails(map[string]interface{}{"password": "hunter2"}))
}

func TestSanitizeDetailsCapsSerializedSize(t *testing.T) {
	out := SanitizeDetails(map[string]interface{}{
		"reason": strings.Repeat("x", 64*1024),
		"field":  "email",
	})
	require.NotNil(t, out)
	assert.Equal(t, true, out[TruncatedKey])
	// The oversized value is evicted, the small one survives.
	assert.NotContains(t, out, "reason")
	assert.Equal(t, "email", out["field"])
	assert.LessOrEqual(t, serializedSize(out), maxDetailsBytes)
}

func TestSanitizeDetailsEvictsLargestFirst(t *testing.T) {
	out := SanitizeDetails(map[string]interface{}{
		"old_value": strings.Repeat("a", 20*1024),
		"new_value": strings.Repeat("b", 30*1024),
		"reason":    "bulk_update",
	})
	require.NotNil(t, out)
	assert.Equal(t, true, out[TruncatedKey])
	assert.NotContains(t, out, "new_value")
	assert.Contains(t, out, "old_value")
	assert.Equal(t, "bulk_update", out["reason"])
}

func TestLargestValueKeyDeterministicTieBreak(t *testing.T) {
	m := map[string]interface{}{
		"field":  "aaaa",
		"reason": "bbbb",
	}
	assert.Equal(t, "field", largestValueKey(m))
}
