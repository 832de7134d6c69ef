package guard

import "errors"

// Sentinel failures surfaced by guard operations. All of these are
// expected, recoverable-by-caller authentication outcomes except
// ErrMissingRefreshToken, which reports caller misuse of Logout in
// pure-refresh-token mode.
var (
	ErrMissingAuthHeader   = errors.New("guard: no authorization header passed")
	ErrMalformedAuthHeader = errors.New("guard: invalid authorization header value")
	ErrUserNotFound        = errors.New("guard: no user found from token payload")
	ErrTokenRevoked        = errors.New("guard: token revoked")
	ErrInvalidRefreshToken = errors.New("guard: invalid refresh token")
	ErrMissingRefreshToken = errors.New("guard: empty or no refresh token passed")
)

// AuthError marks a failure as an expected authentication outcome.
// Check downgrades exactly this class to a boolean; anything not wrapped
// in it (store outages, resolver crashes) propagates unmodified.
//
// errors.Is sees through the wrapper, so callers can still match the
// sentinel cause: errors.Is(err, guard.ErrTokenRevoked).
type AuthError struct {
	err error
}

func (e *AuthError) Error() string { return e.err.Error() }
func (e *AuthError) Unwrap() error { return e.err }

func authFailure(err error) error {
	return &AuthError{err: err}
}

// IsAuthError reports whether err is an expected authentication failure
// rather than an infrastructure error.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
