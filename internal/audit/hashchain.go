package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ZeroHash is the prev_hash sentinel for the first record in the chain.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// HashInput carries the fields folded into one chained record digest.
type HashInput struct {
	EventID      string
	Timestamp    time.Time
	Action       string
	ActorUserID  *string
	TargetUserID *string
	ResourceType *string
	ResourceID   *string
	Success      bool
	HTTPStatus   *int
	Details      map[string]interface{}
	PrevHash     string
}

// ComputeHash produces the SHA-256 hex digest linking a record to its
// predecessor. The input is a canonical pipe-delimited concatenation;
// identical inputs always yield identical output, which is what lets an
// independent verifier recompute the chain. Timestamps participate at
// microsecond precision, the resolution of the timestamptz column the
// verifier reads back.
func ComputeHash(in HashInput) string {
	fields := []string{
		in.EventID,
		in.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		in.Action,
		derefString(in.ActorUserID),
		derefString(in.TargetUserID),
		derefString(in.ResourceType),
		derefString(in.ResourceID),
		boolDigit(in.Success),
		statusString(in.HTTPStatus),
		DetailsDigest(in.Details),
		prevOrSentinel(in.PrevHash),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// DetailsDigest collapses a details payload into a short stable digest:
// the first 16 hex characters of the SHA-256 of its sorted-key JSON
// serialization, or "" when there are no details. encoding/json sorts
// map keys, so the serialization is canonical.
func DetailsDigest(details map[string]interface{}) string {
	if len(details) == 0 {
		return ""
	}
	data, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

func prevOrSentinel(prev string) string {
	if prev == "" {
		return ZeroHash
	}
	return prev
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func statusString(status *int) string {
	if status == nil {
		return ""
	}
	return strconv.Itoa(*status)
}
