package jwtx

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrInvalidSig   = errors.New("jwtx: invalid signature")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrAudience     = errors.New("jwtx: audience mismatch")
	ErrClaimMissing = errors.New("jwtx: missing userId claim")
)

// Verifier validates RS256 tokens against a single public key and the
// configured issuer/audience expectations. Claim checks (issuer,
// audience, expiry, identity presence) run manually after signature
// verification so each failure maps to a distinct error.
type Verifier struct {
	pub      *rsa.PublicKey
	issuer   string
	audience string
	parser   *jwt.Parser
}

// NewVerifier creates a verifier for the given public key. Empty issuer
// or audience disables the respective check.
func NewVerifier(pub *rsa.PublicKey, issuer, audience string) *Verifier {
	return &Verifier{
		pub:      pub,
		issuer:   issuer,
		audience: audience,
		// Claims validation is done by hand below; the parser only
		// handles structure and signature.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Verify checks the token's signature and claims and returns the parsed
// claims. Failures are one of ErrMalformed, ErrInvalidSig, ErrIssuer,
// ErrAudience, ErrExpired or ErrClaimMissing.
func (v *Verifier) Verify(tokenStr string) (Claims, error) {
	token, err := v.parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.pub, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Claims{}, fmt.Errorf("%w: %w", ErrInvalidSig, err)
		}
		return Claims{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return Claims{}, ErrMalformed
	}

	if err := claims.ValidateIssuer(v.issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateAudience(v.audience); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateExpiry(time.Now().UTC()); err != nil {
		return Claims{}, err
	}
	if _, err := claims.UserID(); err != nil {
		return Claims{}, err
	}

	return *claims, nil
}
