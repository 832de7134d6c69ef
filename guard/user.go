package guard

import "context"

// User is the minimal identity the guard needs: a stable unique id.
// Credential verification happens outside the guard; by the time a User
// reaches Login it is already authenticated.
type User interface {
	AuthID() string
}

// Resolver turns the id inside a verified token back into a User.
// Returning store-style "not found" conditions as (nil, nil) or as an
// error both surface to callers as ErrUserNotFound.
type Resolver interface {
	FindByID(ctx context.Context, id string) (User, error)
}

// UserID is a ready-made User for callers whose identity is just the id
// string.
type UserID string

func (u UserID) AuthID() string { return string(u) }
