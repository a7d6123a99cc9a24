package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/caroauth/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username or email exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, username string, email string, hashedPassword string) (models.User, error)

	// Get user by it's id, or by username or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByLogin(ctx context.Context, emailOrUsername string) (models.User, error)
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Return the token record even if it is expired already
	// If not found must return apperrors.ErrRefreshTokenNotFound
	FindByToken(ctx context.Context, token string) (models.RefreshToken, error)

	// Delete every token of the identity. Idempotent
	DeleteAllForIdentity(ctx context.Context, identity models.Identity) (deleted int64, err error)

	// Insert new token record. Never overwrites existing one:
	// if the token string is taken must return apperrors.ErrRefreshTokenDuplicate
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Delete tokens expired before the moment
	DeleteExpired(ctx context.Context, before time.Time) (deleted int64, err error)
}

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo

	// Run fn with repositories bound to one transaction.
	// Commit if fn returns nil, rollback otherwise.
	// If transaction lost a race with concurrent one must return apperrors.ErrConcurrentUpdate
	InTx(ctx context.Context, fn func(Storage) error) error
}
