// Package httpx is the glue between the guard and a net/http pipeline:
// bearer authentication middleware, JSON response helpers and per-client
// rate limiting. The guard itself never routes requests; this package is
// how a router consumes it.
package httpx

import (
	"context"
	"net/http"

	"github.com/EduardoReolon/jwtguard/guard"
	"github.com/EduardoReolon/jwtguard/pkg/slogx"
)

// Middleware is the usual http.Handler decorator shape.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares outermost-first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Authn authenticates every request through the guard and rejects
// anything that doesn't carry a valid bearer token. On success the
// session and user id are injected into the request context.
//
// Authentication failures answer 401 with an RFC 6750 WWW-Authenticate
// header; infrastructure failures (store down) answer 500 — they are not
// the client's fault.
func Authn(g *guard.Guard) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			sess := g.ForRequest(r)
			ok, err := sess.Check(ctx)
			if err != nil {
				slogx.FromContext(ctx).Error("authentication backend failure", "err", err)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if !ok {
				writeBearerError(w, "invalid or missing bearer token")
				return
			}

			ctx = contextWithSession(ctx, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func contextWithSession(ctx context.Context, sess *guard.Session) context.Context {
	ctx = context.WithValue(ctx, CtxKeySession, sess)
	if u := sess.User(); u != nil {
		ctx = context.WithValue(ctx, CtxKeyUserID, u.AuthID())
	}
	return ctx
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	w.WriteHeader(http.StatusUnauthorized)
}
