package guard

import (
	"encoding/json"
	"time"
)

// TokenType is the scheme reported in login responses. Always bearer.
const TokenType = "bearer"

// Token is the result of a login: the only moment raw secrets are
// visible to a caller. After this the store only ever sees fingerprints.
type Token struct {
	Name         string
	AccessToken  string
	RefreshToken string

	// ExpiresAt / ExpiresIn describe the access token's lifetime when
	// one was configured.
	ExpiresAt *time.Time
	ExpiresIn time.Duration

	// RefreshExpiresAt bounds the refresh token's redeemability.
	RefreshExpiresAt *time.Time

	User User
	Meta map[string]string
}

// MarshalJSON renders the shareable client payload:
// {type, token, refreshToken, expires_at?, expires_in?}.
func (t *Token) MarshalJSON() ([]byte, error) {
	out := struct {
		Type         string `json:"type"`
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
		ExpiresAt    string `json:"expires_at,omitempty"`
		ExpiresIn    int64  `json:"expires_in,omitempty"`
	}{
		Type:         TokenType,
		Token:        t.AccessToken,
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresAt != nil {
		out.ExpiresAt = t.ExpiresAt.UTC().Format(time.RFC3339)
		out.ExpiresIn = int64(t.ExpiresIn.Seconds())
	}
	return json.Marshal(out)
}
