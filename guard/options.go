package guard

import "time"

type loginOptions struct {
	name       string
	claims     map[string]any
	meta       map[string]string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// LoginOption customizes a single login.
type LoginOption func(*loginOptions)

// WithName names the persisted token record. Defaults to the configured
// token name.
func WithName(name string) LoginOption {
	return func(o *loginOptions) { o.name = name }
}

// WithClaims merges extra entries into the signed token's data bag.
// The identity field cannot be overridden.
func WithClaims(claims map[string]any) LoginOption {
	return func(o *loginOptions) { o.claims = claims }
}

// WithMeta attaches opaque metadata to the persisted record. It is never
// embedded in the signed token.
func WithMeta(meta map[string]string) LoginOption {
	return func(o *loginOptions) { o.meta = meta }
}

// WithAccessTTL overrides the configured access token expiry for this
// login. Negative values mint a token without an exp claim.
func WithAccessTTL(ttl time.Duration) LoginOption {
	return func(o *loginOptions) { o.accessTTL = ttl }
}

// WithRefreshTTL overrides the configured refresh token expiry for this
// login. Negative values persist a record without a refresh expiry.
func WithRefreshTTL(ttl time.Duration) LoginOption {
	return func(o *loginOptions) { o.refreshTTL = ttl }
}

type logoutOptions struct {
	refreshToken string
}

// LogoutOption customizes a logout.
type LogoutOption func(*logoutOptions)

// WithRefreshToken supplies the refresh token whose record should be
// revoked. Required in pure-refresh-token mode, where the access token
// leaves no trace in the store.
func WithRefreshToken(token string) LogoutOption {
	return func(o *logoutOptions) { o.refreshToken = token }
}
