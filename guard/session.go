package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/EduardoReolon/jwtguard/pkg/cryptox"
	"github.com/EduardoReolon/jwtguard/pkg/idx"
	"github.com/EduardoReolon/jwtguard/pkg/jwtx"
	"github.com/EduardoReolon/jwtguard/pkg/slogx"
)

// State is the session machine's position. Anonymous is initial;
// Authenticated and Failed are the terminal outcomes of an authenticate
// pass.
type State uint8

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Session is the request-scoped half of the guard. It is not safe for
// concurrent use and must not be shared across requests; create one per
// inbound request with [Guard.ForRequest].
type Session struct {
	guard *Guard
	req   *http.Request

	state     State
	attempted bool

	user      User
	claims    *jwtx.Claims
	tokenHash string
	authErr   error
}

// State returns the machine's current position.
func (s *Session) State() State { return s.state }

// Attempted reports whether an authenticate pass already ran on this
// session.
func (s *Session) Attempted() bool { return s.attempted }

// IsAuthenticated reports whether the session reached Authenticated.
func (s *Session) IsAuthenticated() bool { return s.state == StateAuthenticated }

// IsGuest is the inverse of IsAuthenticated.
func (s *Session) IsGuest() bool { return !s.IsAuthenticated() }

// User returns the resolved identity, or nil before a successful
// authenticate or login.
func (s *Session) User() User { return s.user }

// Claims returns the verified or issued claims for the current session.
func (s *Session) Claims() *jwtx.Claims { return s.claims }

// TokenHash returns the fingerprint of the session's access token.
func (s *Session) TokenHash() string { return s.tokenHash }

// MarshalJSON summarizes the session for introspection payloads.
func (s *Session) MarshalJSON() ([]byte, error) {
	var userID string
	if s.user != nil {
		userID = s.user.AuthID()
	}
	return json.Marshal(struct {
		IsLoggedIn              bool   `json:"isLoggedIn"`
		IsGuest                 bool   `json:"isGuest"`
		AuthenticationAttempted bool   `json:"authenticationAttempted"`
		IsAuthenticated         bool   `json:"isAuthenticated"`
		User                    string `json:"user,omitempty"`
	}{
		IsLoggedIn:              s.IsAuthenticated(),
		IsGuest:                 s.IsGuest(),
		AuthenticationAttempted: s.attempted,
		IsAuthenticated:         s.IsAuthenticated(),
		User:                    userID,
	})
}

// Login mints an access+refresh pair for an already-authenticated user,
// persists the hashed record and marks the session authenticated. The
// returned Token is the only place the raw pair is ever visible.
func (s *Session) Login(ctx context.Context, user User, opts ...LoginOption) (*Token, error) {
	if user == nil {
		return nil, authFailure(ErrUserNotFound)
	}
	userID := user.AuthID()
	if userID == "" {
		return nil, fmt.Errorf("guard: user has no id")
	}

	g := s.guard
	o := loginOptions{name: g.cfg.TokenName}
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	m, err := g.mint(userID, o.claims, o.accessTTL, o.refreshTTL, now)
	if err != nil {
		return nil, err
	}

	rec := g.strategy.record(m, idx.New().String(), o.name, userID, o.meta, now)
	if _, err := g.tokens.Write(ctx, rec); err != nil {
		return nil, fmt.Errorf("guard: persist token record: %w", err)
	}

	token := &Token{
		Name:             o.name,
		AccessToken:      m.accessToken,
		RefreshToken:     m.refreshToken,
		ExpiresAt:        m.accessExpiresAt,
		RefreshExpiresAt: m.refreshExpiresAt,
		User:             user,
		Meta:             o.meta,
	}
	if m.accessExpiresAt != nil {
		token.ExpiresIn = m.accessExpiresAt.Sub(now)
	}

	s.markAuthenticated(user, m.claims, m.accessHash)

	notify(ctx, func() {
		g.observer.OnLogin(ctx, Event{
			UserID:      userID,
			TokenHash:   m.accessHash,
			Claims:      m.claims,
			IssuedToken: token,
		})
	})

	return token, nil
}

// LoginByID resolves a user by id and logs them in.
func (s *Session) LoginByID(ctx context.Context, id string, opts ...LoginOption) (*Token, error) {
	user, err := s.guard.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Login(ctx, user, opts...)
}

// Authenticate verifies the request's bearer token and resolves its
// user. It runs at most once per session: repeated calls return the
// cached outcome without re-verifying.
func (s *Session) Authenticate(ctx context.Context) (User, error) {
	if s.attempted {
		if s.state == StateAuthenticated {
			return s.user, nil
		}
		return nil, s.authErr
	}

	s.attempted = true
	s.state = StateAuthenticating

	user, err := s.authenticate(ctx)
	if err != nil {
		s.state = StateFailed
		s.authErr = err
		return nil, err
	}
	return user, nil
}

func (s *Session) authenticate(ctx context.Context) (User, error) {
	g := s.guard

	raw, err := s.bearerToken()
	if err != nil {
		return nil, err
	}

	claims, err := g.verifier.Verify(raw)
	if err != nil {
		// Every verifier failure is an expected authentication
		// outcome: bad signature, expiry, claim shape, issuer or
		// audience.
		return nil, authFailure(err)
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, authFailure(err)
	}

	user, err := g.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	hash := cryptox.FingerprintToken(raw)
	if err := g.strategy.verifyPersisted(ctx, g.tokens, hash); err != nil {
		return nil, err
	}

	s.markAuthenticated(user, claims, hash)

	notify(ctx, func() {
		g.observer.OnAuthenticate(ctx, Event{
			UserID:    userID,
			TokenHash: hash,
			Claims:    claims,
		})
	})

	return user, nil
}

// Check wraps Authenticate, reducing expected authentication failures to
// a boolean and logging their cause. Infrastructure errors (store
// unavailable, resolver failure) are not authentication outcomes and
// propagate unmodified.
func (s *Session) Check(ctx context.Context) (bool, error) {
	_, err := s.Authenticate(ctx)
	if err != nil {
		if IsAuthError(err) {
			slogx.FromContext(ctx).Warn("authentication failure", "err", err)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// LoginViaRefreshToken redeems a refresh token for a brand-new session.
// The old record is consumed atomically before the new pair is minted,
// so of two concurrent redeemers exactly one succeeds and a redeemed
// token can never be replayed.
func (s *Session) LoginViaRefreshToken(ctx context.Context, refreshToken string, opts ...LoginOption) (*Token, error) {
	rec, err := s.guard.redeem(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.guard.resolve(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	return s.Login(ctx, user, opts...)
}

// Logout revokes the session's token record and resets the machine to
// Anonymous. If no authenticate pass ran yet, one runs first so the
// session knows which record it holds. In pure-refresh-token mode the
// refresh token must be supplied via WithRefreshToken; omitting it is a
// usage error, not an authentication failure.
func (s *Session) Logout(ctx context.Context, opts ...LogoutOption) error {
	var o logoutOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !s.attempted {
		if _, err := s.Check(ctx); err != nil {
			return err
		}
	}

	if err := s.guard.strategy.revoke(ctx, s.guard.tokens, s.tokenHash, o.refreshToken); err != nil {
		return err
	}

	s.state = StateAnonymous
	s.attempted = false
	s.user = nil
	s.claims = nil
	s.tokenHash = ""
	s.authErr = nil
	return nil
}

// Revoke is an alias for Logout.
func (s *Session) Revoke(ctx context.Context, opts ...LogoutOption) error {
	return s.Logout(ctx, opts...)
}

func (s *Session) markAuthenticated(user User, claims jwtx.Claims, tokenHash string) {
	s.state = StateAuthenticated
	s.attempted = true
	s.user = user
	s.claims = &claims
	s.tokenHash = tokenHash
	s.authErr = nil
}

// bearerToken extracts the raw token from the Authorization header.
// A missing header and a malformed one are distinct failures.
func (s *Session) bearerToken() (string, error) {
	if s.req == nil {
		return "", authFailure(ErrMissingAuthHeader)
	}
	header := s.req.Header.Get("Authorization")
	if header == "" {
		return "", authFailure(ErrMissingAuthHeader)
	}

	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(value) == "" {
		return "", authFailure(ErrMalformedAuthHeader)
	}
	return strings.TrimSpace(value), nil
}

// resolve maps a token's user id to a User. Both "resolver said no" and
// "resolver returned nothing" collapse into ErrUserNotFound.
func (g *Guard) resolve(ctx context.Context, id string) (User, error) {
	user, err := g.users.FindByID(ctx, id)
	if err != nil {
		return nil, authFailure(fmt.Errorf("%w: %w", ErrUserNotFound, err))
	}
	if user == nil {
		return nil, authFailure(ErrUserNotFound)
	}
	return user, nil
}
