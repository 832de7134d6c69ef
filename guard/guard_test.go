package guard_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/EduardoReolon/jwtguard/guard"
	"github.com/EduardoReolon/jwtguard/pkg/cryptox"
	"github.com/EduardoReolon/jwtguard/store"
	"github.com/EduardoReolon/jwtguard/store/drivers/memory"
	"github.com/stretchr/testify/require"
)

type testUser struct {
	ID   string
	Name string
}

func (u testUser) AuthID() string { return u.ID }

// mapResolver resolves users from a fixed map and counts lookups.
type mapResolver struct {
	mu    sync.Mutex
	users map[string]testUser
	calls int
}

func (r *mapResolver) FindByID(_ context.Context, id string) (guard.User, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return u, nil
}

func (r *mapResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// brokenStore fails every operation with the injected error.
type brokenStore struct{ err error }

func (b brokenStore) Read(context.Context, string, store.Type) (store.Record, error) {
	return store.Record{}, b.err
}
func (b brokenStore) ReadByRefreshHash(context.Context, string) (store.Record, error) {
	return store.Record{}, b.err
}
func (b brokenStore) Write(context.Context, store.Record) (string, error) { return "", b.err }
func (b brokenStore) DeleteByHash(context.Context, string, store.Type) error {
	return b.err
}
func (b brokenStore) ConsumeByHash(context.Context, string, store.Type) (store.Record, error) {
	return store.Record{}, b.err
}
func (b brokenStore) ConsumeByRefreshHash(context.Context, string) (store.Record, error) {
	return store.Record{}, b.err
}

var testKey []byte

func init() {
	var err error
	testKey, err = cryptox.GenerateRSAKey(2048)
	if err != nil {
		panic(err)
	}
}

type fixture struct {
	guard    *guard.Guard
	tokens   *memory.Store
	resolver *mapResolver
}

func newFixture(t *testing.T, cfg guard.Config, opts ...guard.Option) *fixture {
	t.Helper()

	if cfg.PrivateKey == nil {
		cfg.PrivateKey = testKey
	}
	tokens := memory.New()
	resolver := &mapResolver{users: map[string]testUser{
		"u1": {ID: "u1", Name: "Alice"},
		"u2": {ID: "u2", Name: "Bob"},
	}}

	g, err := guard.New(cfg, tokens, resolver, opts...)
	require.NoError(t, err)
	return &fixture{guard: g, tokens: tokens, resolver: resolver}
}

func bearerRequest(t *testing.T, token string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestNew_Validation(t *testing.T) {
	tokens := memory.New()
	resolver := &mapResolver{}

	_, err := guard.New(guard.Config{PrivateKey: testKey}, nil, resolver)
	require.Error(t, err)

	_, err = guard.New(guard.Config{PrivateKey: testKey}, tokens, nil)
	require.Error(t, err)

	_, err = guard.New(guard.Config{}, tokens, resolver)
	require.Error(t, err)

	_, err = guard.New(guard.Config{PrivateKey: []byte("not a pem key")}, tokens, resolver)
	require.Error(t, err)
}

func TestLogin_RefreshOnlyMode(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	sess := f.guard.ForRequest(nil)
	token, err := sess.Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, token.AccessToken)
	require.NotEmpty(t, token.RefreshToken)
	require.NotEqual(t, token.AccessToken, token.RefreshToken)

	require.True(t, sess.IsAuthenticated())
	require.Equal(t, guard.StateAuthenticated, sess.State())
	require.Equal(t, "u1", sess.User().AuthID())

	// Only the refresh fingerprint lands in the store, the raw value never
	refreshHash := cryptox.FingerprintToken(token.RefreshToken)
	rec, err := f.tokens.Read(ctx, refreshHash, store.TypeRefresh)
	require.NoError(t, err)
	require.Equal(t, "u1", rec.UserID)
	require.Equal(t, guard.DefaultTokenName, rec.Name)
	require.NotEqual(t, token.RefreshToken, rec.TokenHash)

	// No access-token record in this mode
	accessHash := cryptox.FingerprintToken(token.AccessToken)
	_, err = f.tokens.Read(ctx, accessHash, store.TypeJWT)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestLogin_PersistedMode(t *testing.T) {
	f := newFixture(t, guard.Config{PersistAccessToken: true})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)

	accessHash := cryptox.FingerprintToken(token.AccessToken)
	rec, err := f.tokens.Read(ctx, accessHash, store.TypeJWT)
	require.NoError(t, err)
	require.Equal(t, "u1", rec.UserID)
	require.Equal(t, cryptox.FingerprintToken(token.RefreshToken), rec.RefreshTokenHash)
	require.NotNil(t, rec.ExpiresAt)
	require.NotNil(t, rec.RefreshExpiresAt)
}

func TestLogin_Options(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"},
		guard.WithName("cli session"),
		guard.WithClaims(map[string]any{"role": "admin"}),
		guard.WithMeta(map[string]string{"device": "laptop"}),
		guard.WithAccessTTL(time.Minute),
	)
	require.NoError(t, err)
	require.Equal(t, "cli session", token.Name)
	require.Equal(t, "laptop", token.Meta["device"])
	require.NotNil(t, token.ExpiresAt)
	require.InDelta(t, time.Minute.Seconds(), token.ExpiresIn.Seconds(), 1)

	rec, err := f.tokens.Read(ctx, cryptox.FingerprintToken(token.RefreshToken), store.TypeRefresh)
	require.NoError(t, err)
	require.Equal(t, "cli session", rec.Name)
	require.Equal(t, "laptop", rec.Meta["device"])
}

func TestLogin_NegativeTTLDisablesExpiry(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"},
		guard.WithAccessTTL(-1),
		guard.WithRefreshTTL(-1),
	)
	require.NoError(t, err)
	require.Nil(t, token.ExpiresAt)
	require.Nil(t, token.RefreshExpiresAt)

	rec, err := f.tokens.Read(ctx, cryptox.FingerprintToken(token.RefreshToken), store.TypeRefresh)
	require.NoError(t, err)
	require.Nil(t, rec.ExpiresAt)
}

func TestLogin_NilUser(t *testing.T) {
	f := newFixture(t, guard.Config{})

	_, err := f.guard.ForRequest(nil).Login(context.Background(), nil)
	require.ErrorIs(t, err, guard.ErrUserNotFound)
	require.True(t, guard.IsAuthError(err))
}

func TestLoginByID(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).LoginByID(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, "u2", token.User.AuthID())

	_, err = f.guard.ForRequest(nil).LoginByID(ctx, "nobody")
	require.ErrorIs(t, err, guard.ErrUserNotFound)
	require.True(t, guard.IsAuthError(err))
}

func TestAuthenticate_RoundTrip(t *testing.T) {
	for _, persist := range []bool{false, true} {
		name := "refresh-only"
		if persist {
			name = "persisted"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, guard.Config{PersistAccessToken: persist, Issuer: "jwtguard", Audience: "api"})
			ctx := context.Background()

			token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"})
			require.NoError(t, err)

			sess := f.guard.ForRequest(bearerRequest(t, token.AccessToken))
			user, err := sess.Authenticate(ctx)
			require.NoError(t, err)
			require.Equal(t, "u1", user.AuthID())
			require.True(t, sess.IsAuthenticated())
			require.False(t, sess.IsGuest())
			require.Equal(t, cryptox.FingerprintToken(token.AccessToken), sess.TokenHash())

			userID, err := sess.Claims().UserID()
			require.NoError(t, err)
			require.Equal(t, "u1", userID)
		})
	}
}

func TestAuthenticate_Idempotent(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)

	sess := f.guard.ForRequest(bearerRequest(t, token.AccessToken))
	_, err = sess.Authenticate(ctx)
	require.NoError(t, err)
	calls := f.resolver.callCount()

	// Repeated calls return the cached outcome without re-resolving
	for i := 0; i < 3; i++ {
		user, err := sess.Authenticate(ctx)
		require.NoError(t, err)
		require.Equal(t, "u1", user.AuthID())
	}
	require.Equal(t, calls, f.resolver.callCount())
}

func TestAuthenticate_FailureIsCached(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	sess := f.guard.ForRequest(bearerRequest(t, ""))
	_, err := sess.Authenticate(ctx)
	require.ErrorIs(t, err, guard.ErrMissingAuthHeader)
	require.Equal(t, guard.StateFailed, sess.State())
	require.True(t, sess.Attempted())

	_, err2 := sess.Authenticate(ctx)
	require.Equal(t, err, err2, "failed outcome should be cached")
}

func TestAuthenticate_HeaderShapes(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"missing header", "", guard.ErrMissingAuthHeader},
		{"wrong scheme", "Token " + token.AccessToken, guard.ErrMalformedAuthHeader},
		{"no token value", "Bearer", guard.ErrMalformedAuthHeader},
		{"blank token value", "Bearer    ", guard.ErrMalformedAuthHeader},
		{"lowercase scheme accepted", "bearer " + token.AccessToken, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "/", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			sess := f.guard.ForRequest(req)
			_, err = sess.Authenticate(ctx)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
			require.True(t, guard.IsAuthError(err))
		})
	}
}

func TestAuthenticate_GarbageToken(t *testing.T) {
	f := newFixture(t, guard.Config{})

	sess := f.guard.ForRequest(bearerRequest(t, "not-a-jwt"))
	_, err := sess.Authenticate(context.Background())
	require.Error(t, err)
	require.True(t, guard.IsAuthError(err))
}

func TestAuthenticate_ExpiredAccessToken(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"},
		guard.WithAccessTTL(time.Nanosecond))
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	sess := f.guard.ForRequest(bearerRequest(t, token.AccessToken))
	_, err = sess.Authenticate(ctx)
	require.Error(t, err)
	require.True(t, guard.IsAuthError(err))
}

func TestAuthenticate_UnknownUser(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)

	// User disappears between login and the next request
	delete(f.resolver.users, "u1")

	sess := f.guard.ForRequest(bearerRequest(t, token.AccessToken))
	_, err = sess.Authenticate(ctx)
	require.ErrorIs(t, err, guard.ErrUserNotFound)
	require.True(t, guard.IsAuthError(err))
}

func TestAuthenticate_RevokedInPersistedMode(t *testing.T) {
	f := newFixture(t, guard.Config{PersistAccessToken: true})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)

	// Revoke out-of-band: the signed token is still valid, the record gone
	accessHash := cryptox.FingerprintToken(token.AccessToken)
	require.NoError(t, f.tokens.DeleteByHash(ctx, accessHash, store.TypeJWT))

	sess := f.guard.ForRequest(bearerRequest(t, token.AccessToken))
	_, err = sess.Authenticate(ctx)
	require.ErrorIs(t, err, guard.ErrTokenRevoked)
	require.True(t, guard.IsAuthError(err))
}

func TestAuthenticate_RefreshOnlySkipsStore(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)

	// Wipe the refresh record; the signed access token stands alone
	require.NoError(t, f.tokens.DeleteByHash(ctx,
		cryptox.FingerprintToken(token.RefreshToken), store.TypeRefresh))

	sess := f.guard.ForRequest(bearerRequest(t, token.AccessToken))
	_, err = sess.Authenticate(ctx)
	require.NoError(t, err)
}

func TestCheck(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)

	t.Run("authenticated", func(t *testing.T) {
		ok, err := f.guard.ForRequest(bearerRequest(t, token.AccessToken)).Check(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("auth failure downgrades to false", func(t *testing.T) {
		ok, err := f.guard.ForRequest(bearerRequest(t, "garbage")).Check(ctx)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestCheck_InfrastructureErrorPropagates(t *testing.T) {
	storeErr := errors.New("disk on fire")
	g, err := guard.New(guard.Config{PersistAccessToken: true, PrivateKey: testKey},
		brokenStore{err: storeErr},
		&mapResolver{users: map[string]testUser{"u1": {ID: "u1"}}})
	require.NoError(t, err)

	// Mint through a healthy guard sharing the same key, then verify
	// against the guard whose store is down
	f := newFixture(t, guard.Config{PersistAccessToken: true})
	token, err := f.guard.ForRequest(nil).Login(context.Background(), testUser{ID: "u1"})
	require.NoError(t, err)

	ok, err := g.ForRequest(bearerRequest(t, token.AccessToken)).Check(context.Background())
	require.ErrorIs(t, err, storeErr)
	require.False(t, guard.IsAuthError(err))
	require.False(t, ok)
}

func TestLoginViaRefreshToken_Rotation(t *testing.T) {
	for _, persist := range []bool{false, true} {
		name := "refresh-only"
		if persist {
			name = "persisted"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, guard.Config{PersistAccessToken: persist})
			ctx := context.Background()

			first, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"})
			require.NoError(t, err)

			second, err := f.guard.ForRequest(nil).LoginViaRefreshToken(ctx, first.RefreshToken)
			require.NoError(t, err)
			require.Equal(t, "u1", second.User.AuthID())
			require.NotEqual(t, first.RefreshToken, second.RefreshToken)
			require.NotEqual(t, first.AccessToken, second.AccessToken)

			// The redeemed token is single-use
			_, err = f.guard.ForRequest(nil).LoginViaRefreshToken(ctx, first.RefreshToken)
			require.ErrorIs(t, err, guard.ErrInvalidRefreshToken)
			require.True(t, guard.IsAuthError(err))

			// The replacement still works
			third, err := f.guard.ForRequest(nil).LoginViaRefreshToken(ctx, second.RefreshToken)
			require.NoError(t, err)
			require.Equal(t, "u1", third.User.AuthID())
		})
	}
}

func TestLoginViaRefreshToken_Invalid(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	for _, tok := range []string{"", "never-issued"} {
		_, err := f.guard.ForRequest(nil).LoginViaRefreshToken(ctx, tok)
		require.ErrorIs(t, err, guard.ErrInvalidRefreshToken)
		require.True(t, guard.IsAuthError(err))
	}
}

func TestLoginViaRefreshToken_Expired(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"},
		guard.WithRefreshTTL(time.Nanosecond))
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	// An expired refresh token reads exactly like a missing one
	_, err = f.guard.ForRequest(nil).LoginViaRefreshToken(ctx, token.RefreshToken)
	require.ErrorIs(t, err, guard.ErrInvalidRefreshToken)
}

func TestLoginViaRefreshToken_ConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)

	const contenders = 16
	var wg sync.WaitGroup
	wins := make(chan *guard.Token, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok, err := f.guard.ForRequest(nil).LoginViaRefreshToken(ctx, token.RefreshToken); err == nil {
				wins <- tok
			}
		}()
	}
	wg.Wait()
	close(wins)

	require.Len(t, wins, 1, "exactly one redemption should succeed")
}

func TestLogout_RefreshOnlyRequiresRefreshToken(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	sess := f.guard.ForRequest(nil)
	token, err := sess.Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)

	// Usage error, not an authentication outcome
	err = sess.Logout(ctx)
	require.ErrorIs(t, err, guard.ErrMissingRefreshToken)
	require.False(t, guard.IsAuthError(err))

	require.NoError(t, sess.Logout(ctx, guard.WithRefreshToken(token.RefreshToken)))
	require.Equal(t, guard.StateAnonymous, sess.State())
	require.False(t, sess.Attempted())
	require.Nil(t, sess.User())

	// The refresh record is gone
	_, err = f.guard.ForRequest(nil).LoginViaRefreshToken(ctx, token.RefreshToken)
	require.ErrorIs(t, err, guard.ErrInvalidRefreshToken)
}

func TestLogout_PersistedRevokesAccessToken(t *testing.T) {
	f := newFixture(t, guard.Config{PersistAccessToken: true})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)

	sess := f.guard.ForRequest(bearerRequest(t, token.AccessToken))
	_, err = sess.Authenticate(ctx)
	require.NoError(t, err)

	require.NoError(t, sess.Logout(ctx))
	require.Equal(t, guard.StateAnonymous, sess.State())

	// The still-valid signed token no longer authenticates
	_, err = f.guard.ForRequest(bearerRequest(t, token.AccessToken)).Authenticate(ctx)
	require.ErrorIs(t, err, guard.ErrTokenRevoked)
}

func TestLogout_RunsAuthenticateFirst(t *testing.T) {
	f := newFixture(t, guard.Config{PersistAccessToken: true})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)

	// Logout on a fresh session authenticates from the request header
	sess := f.guard.ForRequest(bearerRequest(t, token.AccessToken))
	require.NoError(t, sess.Logout(ctx))

	_, err = f.tokens.Read(ctx, cryptox.FingerprintToken(token.AccessToken), store.TypeJWT)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestLogout_UnauthenticatedPersistedIsNoOp(t *testing.T) {
	f := newFixture(t, guard.Config{PersistAccessToken: true})

	// No header, never authenticated: nothing to revoke
	sess := f.guard.ForRequest(nil)
	require.NoError(t, sess.Logout(context.Background()))
}

func TestRevokeAlias(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	sess := f.guard.ForRequest(nil)
	token, err := sess.Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)

	require.NoError(t, sess.Revoke(ctx, guard.WithRefreshToken(token.RefreshToken)))
	require.True(t, sess.IsGuest())
}

func TestSessionMarshalJSON(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	sess := f.guard.ForRequest(nil)
	_, err := sess.Login(ctx, testUser{ID: "u1"})
	require.NoError(t, err)

	out, err := json.Marshal(sess)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	require.Equal(t, true, got["isLoggedIn"])
	require.Equal(t, false, got["isGuest"])
	require.Equal(t, true, got["isAuthenticated"])
	require.Equal(t, true, got["authenticationAttempted"])
	require.Equal(t, "u1", got["user"])
}

func TestTokenMarshalJSON(t *testing.T) {
	f := newFixture(t, guard.Config{})
	ctx := context.Background()

	token, err := f.guard.ForRequest(nil).Login(ctx, testUser{ID: "u1"},
		guard.WithAccessTTL(time.Hour))
	require.NoError(t, err)

	out, err := json.Marshal(token)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	require.Equal(t, "bearer", got["type"])
	require.Equal(t, token.AccessToken, got["token"])
	require.Equal(t, token.RefreshToken, got["refreshToken"])
	require.InDelta(t, time.Hour.Seconds(), got["expires_in"].(float64), 1)
	require.NotEmpty(t, got["expires_at"])
}

func TestTokenMarshalJSON_NoExpiry(t *testing.T) {
	f := newFixture(t, guard.Config{})

	token, err := f.guard.ForRequest(nil).Login(context.Background(), testUser{ID: "u1"},
		guard.WithAccessTTL(-1))
	require.NoError(t, err)

	out, err := json.Marshal(token)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	require.NotContains(t, got, "expires_at")
	require.NotContains(t, got, "expires_in")
}

func TestStateString(t *testing.T) {
	require.Equal(t, "anonymous", guard.StateAnonymous.String())
	require.Equal(t, "authenticating", guard.StateAuthenticating.String())
	require.Equal(t, "authenticated", guard.StateAuthenticated.String())
	require.Equal(t, "failed", guard.StateFailed.String())
}
