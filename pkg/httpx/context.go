package httpx

import (
	"context"

	"github.com/asoos/integration-gateway/pkg/jwtx"
)

type ctxKey string

const (
	CtxKeySubjectID ctxKey = "subject_id"
	CtxKeyClientID  ctxKey = "client_id"
	CtxKeyScopes    ctxKey = "scopes"
	CtxKeyClaims    ctxKey = "claims"
)

// SubjectID returns the authenticated subject from the request context.
func SubjectID(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeySubjectID).(string); ok {
		return v
	}
	return ""
}

// ClientID returns the OAuth client the bearer token was issued to.
func ClientID(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyClientID).(string); ok {
		return v
	}
	return ""
}

// Scopes returns the granted scopes from the request context.
func Scopes(ctx context.Context) []string {
	if v, ok := ctx.Value(CtxKeyScopes).([]string); ok {
		return v
	}
	return nil
}

// Claims returns the full verified claims from the request context.
func Claims(ctx context.Context) (jwtx.Claims, bool) {
	c, ok := ctx.Value(CtxKeyClaims).(jwtx.Claims)
	return c, ok
}

// ContextWithAuth injects verified claims into the context the way
// AuthnMiddleware does. Exported for tests and in-process dispatch.
func ContextWithAuth(ctx context.Context, c jwtx.Claims) context.Context {
	ctx = context.WithValue(ctx, CtxKeySubjectID, c.Subject)
	ctx = context.WithValue(ctx, CtxKeyClientID, c.ClientID)
	ctx = context.WithValue(ctx, CtxKeyScopes, c.Scopes)
	return context.WithValue(ctx, CtxKeyClaims, c)
}
