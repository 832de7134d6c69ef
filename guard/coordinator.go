package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EduardoReolon/jwtguard/pkg/cryptox"
	"github.com/EduardoReolon/jwtguard/pkg/jwtx"
	"github.com/EduardoReolon/jwtguard/store"
)

// minted is one freshly issued access+refresh pair together with the
// fingerprints that are allowed to reach the store.
type minted struct {
	accessToken  string
	accessHash   string
	refreshToken string
	refreshHash  string

	accessExpiresAt  *time.Time
	refreshExpiresAt *time.Time

	claims jwtx.Claims
}

// mint signs an access token for the user and pairs it with a fresh
// opaque refresh token. The refresh token is random, not signed: its
// validity proof is its fingerprint being present in the store.
//
// A zero ttl falls back to the configured default; a negative ttl mints
// without that expiry.
func (g *Guard) mint(userID string, extra map[string]any, accessTTL, refreshTTL time.Duration, now time.Time) (minted, error) {
	if accessTTL == 0 {
		accessTTL = g.cfg.AccessTokenTTL
	}
	if refreshTTL == 0 {
		refreshTTL = g.cfg.RefreshTokenTTL
	}

	claims := jwtx.NewClaims(userID, extra, max(accessTTL, 0), g.cfg.Issuer, g.cfg.Audience, now)

	accessToken, err := g.signer.Sign(claims)
	if err != nil {
		return minted{}, fmt.Errorf("guard: sign access token: %w", err)
	}

	refreshToken, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return minted{}, err
	}

	m := minted{
		accessToken:  accessToken,
		accessHash:   cryptox.FingerprintToken(accessToken),
		refreshToken: refreshToken,
		refreshHash:  cryptox.FingerprintToken(refreshToken),
		claims:       claims,
	}
	if accessTTL > 0 {
		t := now.Add(accessTTL)
		m.accessExpiresAt = &t
	}
	if refreshTTL > 0 {
		t := now.Add(refreshTTL)
		m.refreshExpiresAt = &t
	}
	return m, nil
}

// redeem trades a refresh token for the record it belongs to, removing
// the record in the same storage-level step. The caller then mints a
// fresh pair for the resolved user, so at no point do two records derive
// from the same redeemed token.
func (g *Guard) redeem(ctx context.Context, refreshToken string) (store.Record, error) {
	if refreshToken == "" {
		return store.Record{}, authFailure(ErrInvalidRefreshToken)
	}

	rec, err := g.strategy.consume(ctx, g.tokens, cryptox.FingerprintToken(refreshToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Record{}, authFailure(ErrInvalidRefreshToken)
		}
		return store.Record{}, err
	}
	return rec, nil
}

// strategy fixes the deployment mode at construction time instead of
// re-branching on configuration in every operation.
type strategy interface {
	// record shapes the persisted row for a freshly minted pair.
	record(m minted, id, name, userID string, meta map[string]string, now time.Time) store.Record

	// consume atomically removes and returns the record matching a
	// refresh fingerprint.
	consume(ctx context.Context, tokens store.Tokens, refreshHash string) (store.Record, error)

	// verifyPersisted confirms an access token is still backed by a
	// live record, where the mode persists access tokens at all.
	verifyPersisted(ctx context.Context, tokens store.Tokens, accessHash string) error

	// revoke removes the record belonging to the current session.
	revoke(ctx context.Context, tokens store.Tokens, accessHash, refreshToken string) error
}

// refreshOnlyStrategy persists nothing but the refresh token record; the
// signed access token stands alone until it expires.
type refreshOnlyStrategy struct{}

func (refreshOnlyStrategy) record(m minted, id, name, userID string, meta map[string]string, now time.Time) store.Record {
	return store.Record{
		ID:        id,
		Name:      name,
		UserID:    userID,
		Type:      store.TypeRefresh,
		TokenHash: m.refreshHash,
		ExpiresAt: m.refreshExpiresAt,
		Meta:      meta,
		CreatedAt: now,
	}
}

func (refreshOnlyStrategy) consume(ctx context.Context, tokens store.Tokens, refreshHash string) (store.Record, error) {
	return tokens.ConsumeByHash(ctx, refreshHash, store.TypeRefresh)
}

func (refreshOnlyStrategy) verifyPersisted(context.Context, store.Tokens, string) error {
	return nil
}

func (refreshOnlyStrategy) revoke(ctx context.Context, tokens store.Tokens, _ string, refreshToken string) error {
	if refreshToken == "" {
		return ErrMissingRefreshToken
	}
	return tokens.DeleteByHash(ctx, cryptox.FingerprintToken(refreshToken), store.TypeRefresh)
}

// persistedStrategy keeps both halves of the pair on one record, keyed
// by the access token fingerprint with the refresh fingerprint alongside.
type persistedStrategy struct{}

func (persistedStrategy) record(m minted, id, name, userID string, meta map[string]string, now time.Time) store.Record {
	return store.Record{
		ID:               id,
		Name:             name,
		UserID:           userID,
		Type:             store.TypeJWT,
		TokenHash:        m.accessHash,
		ExpiresAt:        m.accessExpiresAt,
		RefreshTokenHash: m.refreshHash,
		RefreshExpiresAt: m.refreshExpiresAt,
		Meta:             meta,
		CreatedAt:        now,
	}
}

func (persistedStrategy) consume(ctx context.Context, tokens store.Tokens, refreshHash string) (store.Record, error) {
	return tokens.ConsumeByRefreshHash(ctx, refreshHash)
}

func (persistedStrategy) verifyPersisted(ctx context.Context, tokens store.Tokens, accessHash string) error {
	_, err := tokens.Read(ctx, accessHash, store.TypeJWT)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return authFailure(ErrTokenRevoked)
		}
		return err
	}
	return nil
}

func (persistedStrategy) revoke(ctx context.Context, tokens store.Tokens, accessHash string, _ string) error {
	if accessHash == "" {
		return nil
	}
	return tokens.DeleteByHash(ctx, accessHash, store.TypeJWT)
}
