// Package memory is an in-process store.Tokens adapter. It backs tests
// and single-node deployments; every operation runs under one mutex, so
// the consume operations are trivially atomic.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/EduardoReolon/jwtguard/store"
)

type key struct {
	hash string
	typ  store.Type
}

type Store struct {
	mu        sync.Mutex
	records   map[key]store.Record
	byRefresh map[string]key
}

var _ store.Tokens = (*Store)(nil)

func New() *Store {
	return &Store{
		records:   make(map[key]store.Record),
		byRefresh: make(map[string]key),
	}
}

func (s *Store) Read(ctx context.Context, hash string, typ store.Type) (store.Record, error) {
	if hash == "" || typ == "" {
		return store.Record{}, store.ErrEmptyHashOrType
	}
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key{hash, typ}]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ReadByRefreshHash(ctx context.Context, refreshHash string) (store.Record, error) {
	if refreshHash == "" {
		return store.Record{}, store.ErrEmptyHashOrType
	}
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.byRefresh[refreshHash]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	rec := s.records[k]
	if expired(rec.RefreshExpiresAt) {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Write(ctx context.Context, rec store.Record) (string, error) {
	if rec.TokenHash == "" || rec.Type == "" {
		return "", store.ErrEmptyHashOrType
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{rec.TokenHash, rec.Type}
	s.records[k] = rec
	if rec.RefreshTokenHash != "" {
		s.byRefresh[rec.RefreshTokenHash] = k
	}
	return rec.ID, nil
}

func (s *Store) DeleteByHash(ctx context.Context, hash string, typ store.Type) error {
	if hash == "" || typ == "" {
		return store.ErrEmptyHashOrType
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(key{hash, typ})
	return nil
}

func (s *Store) ConsumeByHash(ctx context.Context, hash string, typ store.Type) (store.Record, error) {
	if hash == "" || typ == "" {
		return store.Record{}, store.ErrEmptyHashOrType
	}
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{hash, typ}
	rec, ok := s.records[k]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	s.remove(k)
	if expired(rec.ExpiresAt) {
		// Consumed either way, but an expired refresh record reads as
		// absent to the caller.
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ConsumeByRefreshHash(ctx context.Context, refreshHash string) (store.Record, error) {
	if refreshHash == "" {
		return store.Record{}, store.ErrEmptyHashOrType
	}
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.byRefresh[refreshHash]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	rec := s.records[k]
	s.remove(k)
	if expired(rec.RefreshExpiresAt) {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

// remove deletes a record and its refresh index entry. Callers hold mu.
func (s *Store) remove(k key) {
	rec, ok := s.records[k]
	if !ok {
		return
	}
	delete(s.records, k)
	if rec.RefreshTokenHash != "" {
		delete(s.byRefresh, rec.RefreshTokenHash)
	}
}

func expired(t *time.Time) bool {
	return t != nil && time.Now().After(*t)
}
