package models

import (
	"time"

	"github.com/google/uuid"
)

// Persisted part of the refresh token
type RefreshToken struct {
	ID        uuid.UUID
	Identity  Identity
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued on login, registration and refresh
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
