package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/models"
)

// In-memory user repository for tests that don't need postgres
type MemoryUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]models.User
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[uuid.UUID]models.User)}
}

func (r *MemoryUsers) CreateUser(_ context.Context, username string, email string, hashedPassword string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == username || u.Email == email {
			return models.User{}, apperrors.ErrUserAlreadyExists
		}
	}

	u := models.User{
		ID:             uuid.New(),
		CreatedAt:      time.Now(),
		Username:       username,
		Email:          email,
		HashedPassword: hashedPassword,
	}
	r.users[u.ID] = u

	return u, nil
}

func (r *MemoryUsers) GetUserByID(_ context.Context, userID uuid.UUID) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return models.User{}, apperrors.ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUsers) GetUserByLogin(_ context.Context, emailOrUsername string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == emailOrUsername || u.Email == strings.ToLower(emailOrUsername) {
			return u, nil
		}
	}
	return models.User{}, apperrors.ErrUserNotFound
}

// Remove user. Mimics account deletion
func (r *MemoryUsers) Delete(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.users, userID)
}
