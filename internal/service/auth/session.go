package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/metrics"
	"github.com/nkiryanov/caroauth/internal/models"
	"github.com/nkiryanov/caroauth/internal/repository"
	"github.com/nkiryanov/caroauth/internal/service/auth/tokenmanager"
)

// Start new session for the identity: drop every stored refresh token of it and issue a fresh pair.
// Label goes to access token as informational username
func (s *AuthService) Establish(ctx context.Context, identity models.Identity, label string) (models.TokenPair, error) {
	var pair models.TokenPair

	err := s.inTx(ctx, func(tx repository.Storage) error {
		var err error
		pair, err = s.startSession(ctx, tx, identity, label)
		return err
	})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't establish session. Err: %w", err)
	}

	s.metrics.SessionsEstablished.Inc()
	return pair, nil
}

// Exchange valid refresh token for a new pair. The presented token is invalidated.
//
// Errors (each matches apperrors.ErrUnauthorized):
//   - apperrors.ErrInvalidToken: token can't be verified, is not a refresh token or is not stored
//   - apperrors.ErrTokenExpired: stored record expired
//   - apperrors.ErrSubjectMismatch: token subject is not the record owner
//
// Any other error is a storage failure.
func (s *AuthService) Rotate(ctx context.Context, presented string) (models.TokenPair, error) {
	pair, err := s.rotate(ctx, presented)

	outcome := rotationOutcome(err)
	s.metrics.SessionRotations.WithLabelValues(outcome).Inc()

	switch outcome {
	case metrics.OutcomeOK:
	case metrics.OutcomeError:
		s.logger.Error("refresh token rotation failed", "error", err)
	default:
		s.logger.Info("refresh token rejected", "reason", err)
	}

	return pair, err
}

func (s *AuthService) rotate(ctx context.Context, presented string) (models.TokenPair, error) {
	token, err := s.tokens.Verify(presented)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}
	if token.Type != tokenmanager.TypeRefresh {
		return models.TokenPair{}, fmt.Errorf("%w: token type is '%s'", apperrors.ErrInvalidToken, token.Type)
	}

	var pair models.TokenPair

	err = s.inTx(ctx, func(tx repository.Storage) error {
		record, err := tx.Refresh().FindByToken(ctx, presented)
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
			return fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
		case err != nil:
			return fmt.Errorf("can't find refresh token. Err: %w", err)
		}

		// Expires exactly at ExpiresAt
		if !s.tokens.Now().Before(record.ExpiresAt) {
			return apperrors.ErrTokenExpired
		}

		if record.Identity != token.Identity {
			return apperrors.ErrSubjectMismatch
		}

		user, err := tx.User().GetUserByID(ctx, record.Identity.UUID())
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			return fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
		case err != nil:
			return fmt.Errorf("can't get token owner. Err: %w", err)
		}

		pair, err = s.startSession(ctx, tx, record.Identity, user.Username)
		return err
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	return pair, nil
}

// Must run within transaction
func (s *AuthService) startSession(ctx context.Context, tx repository.Storage, identity models.Identity, label string) (models.TokenPair, error) {
	if _, err := tx.Refresh().DeleteAllForIdentity(ctx, identity); err != nil {
		return models.TokenPair{}, fmt.Errorf("can't delete refresh tokens. Err: %w", err)
	}

	pair, err := s.tokens.IssuePair(identity, label)
	if err != nil {
		return models.TokenPair{}, err
	}

	_, err = tx.Refresh().Save(ctx, models.RefreshToken{
		Identity:  identity,
		Token:     pair.Refresh.Value,
		CreatedAt: s.tokens.Now(),
		ExpiresAt: pair.Refresh.ExpiresAt,
	})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't save refresh token. Err: %w", err)
	}

	return pair, nil
}

func rotationOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, apperrors.ErrTokenExpired):
		return metrics.OutcomeExpired
	case errors.Is(err, apperrors.ErrSubjectMismatch):
		return metrics.OutcomeSubjectMismatch
	case errors.Is(err, apperrors.ErrInvalidToken):
		return metrics.OutcomeInvalidToken
	default:
		return metrics.OutcomeError
	}
}
