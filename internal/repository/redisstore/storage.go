// Package redisstore keeps refresh tokens in redis.
//
// Every token is a hash under its own key with redis expiry set to the token expiry;
// a set per identity indexes token keys of that identity.
// Transactions are optimistic: keys read inside a transaction are WATCHed,
// writes are queued and applied with one MULTI/EXEC on commit.
package redisstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/models"
	"github.com/nkiryanov/caroauth/internal/repository"
)

const defaultPrefix = "caroauth"

type Option func(*Storage)

// Prefix for every key the storage owns
func WithPrefix(prefix string) Option {
	return func(s *Storage) {
		s.prefix = prefix
	}
}

// Storage keeps refresh tokens in redis. Users are served by other repository
type Storage struct {
	client redis.UniversalClient
	users  repository.UserRepo
	prefix string
}

func NewStorage(client redis.UniversalClient, users repository.UserRepo, opts ...Option) repository.Storage {
	s := &Storage{client: client, users: users, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) User() repository.UserRepo {
	return s.users
}

// Every call of the returned repo runs in its own transaction
func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{storage: s}
}

func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	return s.watch(ctx, func(repo *RefreshTokenRepo) error {
		return fn(&txStorage{users: s.users, refresh: repo})
	})
}

func (s *Storage) watch(ctx context.Context, fn func(*RefreshTokenRepo) error) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		repo := &RefreshTokenRepo{storage: s, tx: tx}

		if err := fn(repo); err != nil {
			return err
		}

		return repo.commit(ctx)
	})

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("redis tx error: %w", apperrors.ErrConcurrentUpdate)
	}

	return err
}

func (s *Storage) tokenKey(token string) string {
	return s.prefix + ":rt:" + hashToken(token)
}

func (s *Storage) tokenKeyFromHash(hash string) string {
	return s.prefix + ":rt:" + hash
}

func (s *Storage) identityKey(identity models.Identity) string {
	return s.prefix + ":rt:user:" + identity.String()
}

func (s *Storage) identityKeyPattern() string {
	return s.prefix + ":rt:user:*"
}

// Tokens are long; keys use their digest
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Storage bound to a running transaction
type txStorage struct {
	users   repository.UserRepo
	refresh *RefreshTokenRepo
}

func (s *txStorage) User() repository.UserRepo              { return s.users }
func (s *txStorage) Refresh() repository.RefreshTokenRepo { return s.refresh }

// Already in transaction: run fn within it
func (s *txStorage) InTx(_ context.Context, fn func(repository.Storage) error) error {
	return fn(s)
}
