package httpx

import (
	"context"

	"github.com/EduardoReolon/jwtguard/guard"
)

type ctxKey string

const (
	CtxKeyUserID  ctxKey = "user_id"
	CtxKeySession ctxKey = "session"
)

// SessionFromContext returns the guard session placed by Authn, or nil.
func SessionFromContext(ctx context.Context) *guard.Session {
	s, _ := ctx.Value(CtxKeySession).(*guard.Session)
	return s
}

// UserIDFromContext returns the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(CtxKeyUserID).(string)
	return id
}
