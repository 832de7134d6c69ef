// Package sqlite is the durable store.Tokens adapter backed by embedded
// SQLite. The consume operations use a single DELETE ... RETURNING
// statement, so redeeming a refresh token removes and checks the record
// in one storage-level step.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/EduardoReolon/jwtguard/store"

	_ "modernc.org/sqlite"
)

// DefaultForeignKeyColumn is the user-id column created by the bundled
// migrations.
const DefaultForeignKeyColumn = "user_id"

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type Store struct {
	db      *sql.DB
	userCol string

	readQ             string
	readByRefreshQ    string
	insertQ           string
	deleteQ           string
	consumeQ          string
	consumeByRefreshQ string
}

var _ store.Tokens = (*Store)(nil)

type Option func(*Store)

// WithForeignKeyColumn renames the user-id column for deployments that
// point the adapter at a pre-provisioned table. The bundled migrations
// always create DefaultForeignKeyColumn; with a custom column the schema
// is the caller's responsibility and ApplyMigrations must not be used.
func WithForeignKeyColumn(col string) Option {
	return func(s *Store) { s.userCol = col }
}

func NewStore(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, userCol: DefaultForeignKeyColumn}
	for _, opt := range opts {
		opt(s)
	}
	if !identPattern.MatchString(s.userCol) {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: invalid foreign key column %q", s.userCol)
	}
	s.buildQueries()

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// buildQueries renders the statements once at construction; the user-id
// column is the only dynamic identifier and is validated beforehand.
func (s *Store) buildQueries() {
	cols := fmt.Sprintf(
		"id, name, %s, type, token_hash, expires_at, refresh_token_hash, refresh_expires_at, meta, created_at",
		s.userCol,
	)

	s.readQ = fmt.Sprintf(
		"SELECT %s FROM token_records WHERE token_hash = ? AND type = ?", cols)
	s.readByRefreshQ = fmt.Sprintf(
		"SELECT %s FROM token_records WHERE refresh_token_hash = ?", cols)
	s.insertQ = fmt.Sprintf(
		"INSERT INTO token_records (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", cols)
	s.deleteQ = "DELETE FROM token_records WHERE token_hash = ? AND type = ?"
	s.consumeQ = fmt.Sprintf(
		"DELETE FROM token_records WHERE token_hash = ? AND type = ? RETURNING %s", cols)
	s.consumeByRefreshQ = fmt.Sprintf(
		"DELETE FROM token_records WHERE refresh_token_hash = ? RETURNING %s", cols)
}

func (s *Store) Read(ctx context.Context, hash string, typ store.Type) (store.Record, error) {
	if hash == "" || typ == "" {
		return store.Record{}, store.ErrEmptyHashOrType
	}
	return scanRecord(s.db.QueryRowContext(ctx, s.readQ, hash, string(typ)))
}

func (s *Store) ReadByRefreshHash(ctx context.Context, refreshHash string) (store.Record, error) {
	if refreshHash == "" {
		return store.Record{}, store.ErrEmptyHashOrType
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, s.readByRefreshQ, refreshHash))
	if err != nil {
		return store.Record{}, err
	}
	if refreshExpired(rec) {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Write(ctx context.Context, rec store.Record) (string, error) {
	if rec.TokenHash == "" || rec.Type == "" {
		return "", store.ErrEmptyHashOrType
	}

	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode meta: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.insertQ,
		rec.ID,
		rec.Name,
		rec.UserID,
		string(rec.Type),
		rec.TokenHash,
		optionalTime(rec.ExpiresAt),
		optionalString(rec.RefreshTokenHash),
		optionalTime(rec.RefreshExpiresAt),
		string(meta),
		rec.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: write token record: %w", err)
	}
	return rec.ID, nil
}

func (s *Store) DeleteByHash(ctx context.Context, hash string, typ store.Type) error {
	if hash == "" || typ == "" {
		return store.ErrEmptyHashOrType
	}
	// Deleting an absent record is a no-op by contract.
	_, err := s.db.ExecContext(ctx, s.deleteQ, hash, string(typ))
	return err
}

func (s *Store) ConsumeByHash(ctx context.Context, hash string, typ store.Type) (store.Record, error) {
	if hash == "" || typ == "" {
		return store.Record{}, store.ErrEmptyHashOrType
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, s.consumeQ, hash, string(typ)))
	if err != nil {
		return store.Record{}, err
	}
	if rec.ExpiresAt != nil && time.Now().After(*rec.ExpiresAt) {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ConsumeByRefreshHash(ctx context.Context, refreshHash string) (store.Record, error) {
	if refreshHash == "" {
		return store.Record{}, store.ErrEmptyHashOrType
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, s.consumeByRefreshQ, refreshHash))
	if err != nil {
		return store.Record{}, err
	}
	if refreshExpired(rec) {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (store.Record, error) {
	var (
		rec         store.Record
		typ         string
		expiresAt   sql.NullTime
		refreshHash sql.NullString
		refreshExp  sql.NullTime
		meta        string
	)

	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.UserID,
		&typ,
		&rec.TokenHash,
		&expiresAt,
		&refreshHash,
		&refreshExp,
		&meta,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Record{}, store.ErrNotFound
		}
		return store.Record{}, fmt.Errorf("sqlite: scan token record: %w", err)
	}

	rec.Type = store.Type(typ)
	if expiresAt.Valid {
		t := expiresAt.Time
		rec.ExpiresAt = &t
	}
	if refreshHash.Valid {
		rec.RefreshTokenHash = refreshHash.String
	}
	if refreshExp.Valid {
		t := refreshExp.Time
		rec.RefreshExpiresAt = &t
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &rec.Meta); err != nil {
			return store.Record{}, fmt.Errorf("sqlite: decode meta: %w", err)
		}
	}

	return rec, nil
}

func refreshExpired(rec store.Record) bool {
	return rec.RefreshExpiresAt != nil && time.Now().After(*rec.RefreshExpiresAt)
}

func optionalTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func optionalString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
