// Command chaincheck walks the entire audit_log table in chain order
// and recomputes every hash. Unlike the bounded admin endpoint, it is
// meant for offline forensic verification of the full history.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/subforge/audit-api/internal/audit"
	"github.com/subforge/audit-api/internal/models"
	"github.com/subforge/audit-api/pkg/config"
	"github.com/subforge/audit-api/pkg/database"
)

const pageQuery = `SELECT id, event_id, timestamp, category, action, severity, success, outcome,
actor_user_id, actor_email, actor_type, impersonator_id,
request_id, session_id, request_method, request_path, source,
ip_address, forwarded_for, user_agent,
resource_type, resource_id, target_user_id,
error_code, http_status, details, schema_version, prev_hash, event_hash
FROM audit_log
WHERE (timestamp, id) > ($1, $2)
ORDER BY timestamp ASC, id ASC
LIMIT $3`

func main() {
	pageSize := flag.Int("page-size", 1000, "records fetched per page")
	maxIssues := flag.Int("max-issues", 50, "stop after this many issues (0 = unlimited)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	checked, issues := walkChain(context.Background(), db, *pageSize, *maxIssues)

	fmt.Printf("checked %d records, %d issues\n", checked, len(issues))
	for _, issue := range issues {
		fmt.Println("  " + issue)
	}
	if len(issues) > 0 {
		os.Exit(1)
	}
}

func walkChain(ctx context.Context, db *sqlx.DB, pageSize, maxIssues int) (int, []string) {
	var (
		issues     []string
		checked    int
		prevHash   string
		cursorTime time.Time
		cursorID   int64
	)

	for {
		var entries []models.AuditLogEntry
		if err := db.SelectContext(ctx, &entries, pageQuery, cursorTime, cursorID, pageSize); err != nil {
			log.Fatalf("failed to read audit log page: %v", err)
		}
		if len(entries) == 0 {
			return checked, issues
		}

		for _, entry := range entries {
			prev := prevHash
			if prev == "" {
				prev = audit.ZeroHash
				if entry.PrevHash != audit.ZeroHash {
					issues = append(issues, fmt.Sprintf(
						"record id=%d event_id=%s: first record prev_hash is not the zero sentinel", entry.ID, entry.EventID))
				}
			}
			computed := audit.ComputeHash(audit.HashInput{
				EventID:      entry.EventID,
				Timestamp:    entry.Timestamp,
				Action:       entry.Action,
				ActorUserID:  entry.ActorUserID,
				TargetUserID: entry.TargetUserID,
				ResourceType: entry.ResourceType,
				ResourceID:   entry.ResourceID,
				Success:      entry.Success,
				HTTPStatus:   entry.HTTPStatus,
				Details:      entry.Details,
				PrevHash:     prev,
			})
			if computed != entry.EventHash {
				issues = append(issues, fmt.Sprintf(
					"record id=%d event_id=%s hash mismatch: stored %.12s..., computed %.12s...",
					entry.ID, entry.EventID, entry.EventHash, computed))
			}
			prevHash = entry.EventHash
			checked++
			cursorTime, cursorID = entry.Timestamp, entry.ID

			if maxIssues > 0 && len(issues) >= maxIssues {
				return checked, issues
			}
		}
	}
}
