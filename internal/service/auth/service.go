// Package auth establishes and rotates login sessions and authenticates callers by access token.
//
// A session is a pair of tokens: short-lived access token and long-lived refresh token.
// The refresh token is persisted and single-use: presenting it mints a new pair and drops every
// stored token of the identity, so at most one refresh token per identity is valid at any time.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/logger"
	"github.com/nkiryanov/caroauth/internal/metrics"
	"github.com/nkiryanov/caroauth/internal/models"
	"github.com/nkiryanov/caroauth/internal/repository"
	"github.com/nkiryanov/caroauth/internal/service/auth/tokenmanager"
)

const defaultMaxAttempts = 3

// User directory used on registration and login
type UserService interface {
	CreateUser(ctx context.Context, username string, email string, password string) (models.User, error)
	CheckCredentials(ctx context.Context, login string, password string) (models.User, error)
}

type Config struct {
	Logger  logger.Logger
	Metrics *metrics.Metrics

	// How many times a transaction is run when it loses a race with concurrent one
	MaxAttempts int
}

type AuthService struct {
	tokens  *tokenmanager.TokenManager
	storage repository.Storage
	users   UserService

	logger      logger.Logger
	metrics     *metrics.Metrics
	maxAttempts int
}

func NewService(cfg Config, tokens *tokenmanager.TokenManager, storage repository.Storage, users UserService) (*AuthService, error) {
	if tokens == nil {
		return nil, errors.New("token manager is required")
	}
	if storage == nil {
		return nil, errors.New("storage is required")
	}

	s := &AuthService{
		tokens:      tokens,
		storage:     storage,
		users:       users,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		maxAttempts: cfg.MaxAttempts,
	}

	if s.logger == nil {
		s.logger = logger.NewNoOpLogger()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoOp()
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}

	return s, nil
}

// Run fn in storage transaction, run it again if it lost a race
func (s *AuthService) inTx(ctx context.Context, fn func(tx repository.Storage) error) error {
	var err error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.storage.InTx(ctx, fn)
		if !errors.Is(err, apperrors.ErrConcurrentUpdate) {
			return err
		}

		s.logger.Debug("transaction lost a race", "attempt", attempt)
	}

	return fmt.Errorf("transaction failed after %d attempts. Err: %w", s.maxAttempts, err)
}
