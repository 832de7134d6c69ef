// Package store defines the persistence contract for issued token
// records. Concrete drivers (sqlite, memory) implement Tokens; the guard
// never touches a driver directly and never hands a raw secret to one —
// every hash in this package is a SHA-256 fingerprint.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("store: not found")

	// ErrEmptyHashOrType reports input validation failure on store calls.
	// It is a caller bug, not an authentication outcome.
	ErrEmptyHashOrType = errors.New("store: empty token hash or type")
)

// Type distinguishes the two deployment modes a record can belong to.
type Type string

const (
	// TypeJWT marks records in persisted-access-token mode: the record
	// carries the access token fingerprint plus the refresh fingerprint.
	TypeJWT Type = "jwt_token"

	// TypeRefresh marks records in pure-refresh-token mode: only the
	// refresh token fingerprint is persisted, under TokenHash.
	TypeRefresh Type = "jwt_refresh_token"
)

// Record is one issued session. TokenHash is the lookup key; raw token
// values never appear here.
type Record struct {
	ID        string
	Name      string
	UserID    string
	Type      Type
	TokenHash string

	// ExpiresAt bounds TokenHash lookups. In TypeRefresh records it is
	// the refresh expiry; in TypeJWT records it mirrors the access
	// token's own exp and is advisory (the signature-level exp is
	// authoritative for access tokens).
	ExpiresAt *time.Time

	// RefreshTokenHash and RefreshExpiresAt are only set on TypeJWT
	// records, where both halves of the pair share one row.
	RefreshTokenHash string
	RefreshExpiresAt *time.Time

	Meta      map[string]string
	CreatedAt time.Time
}

// Tokens is the token store contract. All operations accept a context and
// may suspend on I/O; they inherit the surrounding request's cancellation
// and define no timeouts of their own.
//
// Expiry handling: Read returns records regardless of ExpiresAt (the
// record-level bound on access tokens is advisory). Refresh lookups —
// ReadByRefreshHash and both Consume operations — treat an expired record
// exactly like a missing one and return ErrNotFound, deliberately
// collapsing the two causes.
type Tokens interface {
	// Read returns the record stored under the given fingerprint and
	// type, or ErrNotFound.
	Read(ctx context.Context, hash string, typ Type) (Record, error)

	// ReadByRefreshHash returns the TypeJWT record whose refresh
	// fingerprint matches. Only used in persisted-access-token mode.
	ReadByRefreshHash(ctx context.Context, refreshHash string) (Record, error)

	// Write persists a record and returns its ID. Write is atomic with
	// respect to concurrent reads keyed by the same fingerprint.
	Write(ctx context.Context, rec Record) (string, error)

	// DeleteByHash removes the record stored under the fingerprint and
	// type. Deleting a missing record is a no-op, not an error.
	DeleteByHash(ctx context.Context, hash string, typ Type) error

	// ConsumeByHash atomically removes and returns the record stored
	// under the fingerprint and type. Of two concurrent consumers of the
	// same fingerprint exactly one receives the record; the other gets
	// ErrNotFound. This single-step delete-and-check is what makes
	// refresh tokens single-use under concurrency.
	ConsumeByHash(ctx context.Context, hash string, typ Type) (Record, error)

	// ConsumeByRefreshHash is ConsumeByHash keyed on the refresh
	// fingerprint of a TypeJWT record.
	ConsumeByRefreshHash(ctx context.Context, refreshHash string) (Record, error)
}
