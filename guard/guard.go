// Package guard authenticates HTTP requests with RS256-signed bearer
// tokens and manages the token lifecycle: issuance, verification,
// persistence, rotation and revocation.
//
// A Guard is built once and is safe for concurrent use; each inbound
// request gets its own Session via [Guard.ForRequest], which holds the
// per-request authentication state machine.
package guard

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/EduardoReolon/jwtguard/pkg/jwtx"
	"github.com/EduardoReolon/jwtguard/store"
)

// Default token lifetimes applied when the configuration leaves them
// unset. Short-lived access, week-long refresh.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	// DefaultTokenName labels persisted records when the caller names
	// neither the login nor the configuration.
	DefaultTokenName = "JWT Access Token"
)

// Config is the guard's configuration surface. It is read once by New;
// changing it afterwards has no effect.
type Config struct {
	// PersistAccessToken selects the deployment mode: true stores the
	// access token fingerprint alongside the refresh fingerprint (so
	// logout can revoke live access tokens), false stores only the
	// refresh record.
	PersistAccessToken bool

	// PrivateKey is the PEM-encoded RSA key used for signing and
	// verification. Required.
	PrivateKey []byte

	// AccessTokenTTL and RefreshTokenTTL are the default expiries when
	// a login does not override them. Zero selects the package
	// defaults; negative disables the respective expiry.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Issuer and Audience are embedded into and enforced on every
	// token when non-empty.
	Issuer   string
	Audience string

	// TokenName is the default name of persisted records.
	TokenName string
}

// Guard binds the token codec, hasher, store and user resolver into the
// session machine's shared, immutable half.
type Guard struct {
	cfg      Config
	signer   *jwtx.Signer
	verifier *jwtx.Verifier
	tokens   store.Tokens
	users    Resolver
	observer Observer
	strategy strategy
}

// Option customizes a Guard at construction.
type Option func(*Guard)

// WithObserver installs a domain-event observer for login and
// authenticate notifications.
func WithObserver(o Observer) Option {
	return func(g *Guard) {
		if o != nil {
			g.observer = o
		}
	}
}

// New validates the configuration and builds a Guard.
func New(cfg Config, tokens store.Tokens, users Resolver, opts ...Option) (*Guard, error) {
	if tokens == nil {
		return nil, errors.New("guard: nil token store")
	}
	if users == nil {
		return nil, errors.New("guard: nil user resolver")
	}
	if len(cfg.PrivateKey) == 0 {
		return nil, errors.New("guard: missing private key")
	}

	signer, err := jwtx.NewSigner(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("guard: load private key: %w", err)
	}

	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if cfg.TokenName == "" {
		cfg.TokenName = DefaultTokenName
	}

	g := &Guard{
		cfg:      cfg,
		signer:   signer,
		verifier: jwtx.NewVerifier(signer.Public(), cfg.Issuer, cfg.Audience),
		tokens:   tokens,
		users:    users,
		observer: NopObserver{},
		strategy: refreshOnlyStrategy{},
	}
	if cfg.PersistAccessToken {
		g.strategy = persistedStrategy{}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ForRequest creates the per-request Session. Request may be nil for
// flows that never authenticate a header (pure login or refresh
// redemption); Authenticate on such a session fails with
// ErrMissingAuthHeader.
func (g *Guard) ForRequest(r *http.Request) *Session {
	return &Session{guard: g, req: r}
}
