package auth

import (
	"context"

	"github.com/nkiryanov/caroauth/internal/models"
)

// Create user and start its first session.
// If username or email is taken return apperrors.ErrUserAlreadyExists
func (s *AuthService) Register(ctx context.Context, username string, email string, password string) (models.TokenPair, error) {
	user, err := s.users.CreateUser(ctx, username, email, password)
	if err != nil {
		return models.TokenPair{}, err
	}

	return s.Establish(ctx, user.Identity(), user.Username)
}

// Check credentials and start new session. Previous session of the user is dropped.
// Unknown login and wrong password return apperrors.ErrInvalidCredentials
func (s *AuthService) Login(ctx context.Context, login string, password string) (models.TokenPair, error) {
	user, err := s.users.CheckCredentials(ctx, login, password)
	if err != nil {
		return models.TokenPair{}, err
	}

	return s.Establish(ctx, user.Identity(), user.Username)
}
