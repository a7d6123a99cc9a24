package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/models"
	"github.com/nkiryanov/caroauth/internal/repository"
)

// User directory: profiles and credentials check
type UserService struct {
	hasher PasswordHasher
	users  repository.UserRepo

	// Compared against when user is unknown so both cases take the same time
	dummyOnce sync.Once
	dummyHash string
}

func NewService(hasher PasswordHasher, users repository.UserRepo) *UserService {
	if hasher == nil {
		hasher = DefaultHasher
	}

	return &UserService{
		hasher: hasher,
		users:  users,
	}
}

func (s *UserService) CreateUser(ctx context.Context, username string, email string, password string) (models.User, error) {
	var user models.User
	if password == "" {
		return user, errors.New("password must not be empty")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	user, err = s.users.CreateUser(ctx, username, strings.ToLower(email), hash)
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

// Return user if login (username or email) and password match.
// Unknown user and wrong password both return apperrors.ErrInvalidCredentials
func (s *UserService) CheckCredentials(ctx context.Context, login string, password string) (models.User, error) {
	user, err := s.users.GetUserByLogin(ctx, login)

	switch {
	case err == nil:
		if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
			return models.User{}, apperrors.ErrInvalidCredentials
		}
		return user, nil

	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = s.hasher.Compare(s.dummy(), password)
		return models.User{}, apperrors.ErrInvalidCredentials

	default:
		return models.User{}, fmt.Errorf("can't get user. Err: %w", err)
	}
}

func (s *UserService) GetUser(ctx context.Context, identity models.Identity) (models.User, error) {
	return s.users.GetUserByID(ctx, identity.UUID())
}

func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("dummy-password")
	})
	return s.dummyHash
}
