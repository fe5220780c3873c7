package audit

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// RedactionMarker replaces string values stored under secret-like keys.
const RedactionMarker = "[REDACTED]"

// TruncatedKey flags that oversized values were removed from details.
const TruncatedKey = "_truncated"

// maxDetailsBytes caps the serialized size of a details payload.
const maxDetailsBytes = 32 * 1024

// detailsAllowlist is the closed set of detail keys that survive
// sanitization. Everything else is dropped, not redacted: callers must
// not be able to smuggle arbitrary payloads into the immutable log.
var detailsAllowlist = map[string]struct{}{
	"reason":       {},
	"field":        {},
	"fields":       {},
	"old_value":    {},
	"new_value":    {},
	"email":        {},
	"username":     {},
	"auth_method":  {},
	"mfa_method":   {},
	"token_type":   {},
	"provider":     {},
	"language":     {},
	"languages":    {},
	"media_title":  {},
	"media_type":   {},
	"release":      {},
	"score":        {},
	"job_id":       {},
	"job_type":     {},
	"setting":      {},
	"filename":     {},
	"path":         {},
	"count":        {},
	"duration_ms":  {},
	"status":       {},
	"error":        {},
	"attempts":     {},
	"source_before": {},
	"source_after":  {},
}

var sensitiveKeyPattern = regexp.MustCompile(`(?i)(token|secret|password|api_key|session_id|auth)`)

// SanitizeDetails enforces the allowlist, redacts string values stored
// under secret-like key names, and caps the serialized size at 32 KiB.
// It never fails; the worst case is {"_truncated": true} alone. A nil
// result means nothing survived and no details should be recorded.
func SanitizeDetails(details map[string]interface{}) map[string]interface{} {
	if len(details) == 0 {
		return nil
	}

	sanitized := make(map[string]interface{}, len(details))
	for key, value := range details {
		if _, ok := detailsAllowlist[key]; !ok {
			continue
		}
		if _, isString := value.(string); isString && isSensitiveKey(key) {
			sanitized[key] = RedactionMarker
			continue
		}
		sanitized[key] = value
	}
	if len(sanitized) == 0 {
		return nil
	}

	for serializedSize(sanitized) > maxDetailsBytes {
		sanitized[TruncatedKey] = true
		victim := largestValueKey(sanitized)
		if victim == "" {
			break
		}
		delete(sanitized, victim)
	}
	return sanitized
}

func isSensitiveKey(key string) bool {
	if strings.HasSuffix(strings.ToLower(key), "method") {
		return false
	}
	return sensitiveKeyPattern.MatchString(key)
}

func serializedSize(m map[string]interface{}) int {
	data, err := json.Marshal(m)
	if err != nil {
		// Unserializable values count as oversized so they get evicted.
		return maxDetailsBytes + 1
	}
	return len(data)
}

// largestValueKey returns the key holding the largest serialized value,
// breaking ties deterministically by sorted key order. The truncation
// flag itself is never a candidate.
func largestValueKey(m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for key := range m {
		if key == TruncatedKey {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	largest := ""
	largestSize := -1
	for _, key := range keys {
		size := maxDetailsBytes + 1
		if data, err := json.Marshal(m[key]); err == nil {
			size = len(data)
		}
		if size > largestSize {
			largest = key
			largestSize = size
		}
	}
	return largest
}
