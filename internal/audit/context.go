package audit

import (
	"context"

	"github.com/subforge/audit-api/internal/models"
)

type contextKey struct{}

// RequestContext is the ambient per-request identity and transport
// metadata the outbox writer falls back to when the caller does not
// pass explicit actor fields. It is carried on context.Context, never
// on package state, so background jobs simply run without one.
type RequestContext struct {
	RequestID    string
	SessionID    string
	ActorUserID  string
	ActorEmail   string
	ActorType    models.ActorType
	Source       models.Source
	IPAddress    string
	ForwardedFor string
	UserAgent    string
	Method       string
	Path         string
}

// WithRequestContext attaches request metadata to the context.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// RequestContextFrom extracts request metadata, reporting whether any
// was attached.
func RequestContextFrom(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(RequestContext)
	return rc, ok
}
