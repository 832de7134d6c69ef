// Package jwtx signs and verifies the module's access tokens. The wire
// shape keeps the custom payload under a single "data" claim with the
// user identifier at "data.userId", alongside the registered iss/aud/iat
// and an optional exp.
package jwtx

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserIDKey is the mandatory identity field inside the "data" claim.
const UserIDKey = "userId"

// Claims are the access-token claims. Everything application-specific
// lives in Data; the registered claims carry the temporal and
// issuer/audience fields.
type Claims struct {
	jwt.RegisteredClaims

	Data map[string]any `json:"data,omitempty"`
}

// NewClaims builds claims for a user. Extra entries are merged into the
// data bag without overwriting the identity field. A zero ttl produces a
// token without an exp claim; the store-level expiry then remains the
// only time bound.
func NewClaims(userID string, extra map[string]any, ttl time.Duration, issuer, audience string, now time.Time) Claims {
	data := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		data[k] = v
	}
	data[UserIDKey] = userID

	rc := jwt.RegisteredClaims{
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if audience != "" {
		rc.Audience = jwt.ClaimStrings{audience}
	}
	if ttl > 0 {
		rc.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	return Claims{RegisteredClaims: rc, Data: data}
}

// UserID extracts the identity field from the data bag. Numeric IDs are
// accepted since a JSON payload minted elsewhere may carry them as
// numbers.
func (c *Claims) UserID() (string, error) {
	v, ok := c.Data[UserIDKey]
	if !ok {
		return "", ErrClaimMissing
	}

	switch id := v.(type) {
	case string:
		if id == "" {
			return "", ErrClaimMissing
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	default:
		return "", ErrClaimMissing
	}
}

// ValidateIssuer checks the iss claim against the expected value.
// An empty expectation enforces nothing.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks that the expected audience is present.
// An empty expectation enforces nothing.
func (c *Claims) ValidateAudience(expected string) error {
	if expected == "" {
		return nil
	}
	for _, aud := range c.Audience {
		if aud == expected {
			return nil
		}
	}
	return ErrAudience
}

// ValidateExpiry checks exp against wall-clock time. This runs after
// signature verification and independently of the jwt library's own
// validator, so the expiry guarantee does not depend on parser options
// or leeway tooling.
func (c *Claims) ValidateExpiry(now time.Time) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}
	return nil
}
