package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subforge/audit-api/internal/service"
)

type stubAuditor struct {
	events []service.EventParams
}

func (s *stubAuditor) LogEvent(_ context.Context, _ sqlx.ExtContext, p service.EventParams) string {
	s.events = append(s.events, p)
	return "evt-1"
}

func TestRequestAuditRecordsOutcome(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name    string
		status  int
		success bool
	}{
		{"ok response", http.StatusOK, true},
		{"server error", http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auditor := &stubAuditor{}
			router := gin.New()
			router.GET("/audit/logs", RequestAudit(auditor, nil, "logs_viewed"), func(c *gin.Context) {
				c.Status(tc.status)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audit/logs", nil))

			require.Len(t, auditor.events, 1)
			ev := auditor.events[0]
			assert.Equal(t, "admin", ev.Category)
			assert.Equal(t, "logs_viewed", ev.Action)
			assert.Equal(t, tc.success, ev.Success)
			require.NotNil(t, ev.HTTPStatus)
			assert.Equal(t, tc.status, *ev.HTTPStatus)
		})
	}
}

func TestRequestAuditRunsAfterHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	auditor := &stubAuditor{}
	handled := false
	router := gin.New()
	router.POST("/audit/logs/export", RequestAudit(auditor, nil, "logs_exported"), func(c *gin.Context) {
		assert.Empty(t, auditor.events)
		handled = true
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/audit/logs/export", nil))

	require.True(t, handled)
	require.Len(t, auditor.events, 1)
	assert.Equal(t, "logs_exported", auditor.events[0].Action)
}
