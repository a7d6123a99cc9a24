package tokenmanager

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nkiryanov/caroauth/internal/models"
)

type TokenManager struct {
	keys  Keys
	codec *Codec
	now   func() time.Time
}

type Option func(*TokenManager)

// Use custom clock. Mostly for tests
func WithClock(now func() time.Time) Option {
	return func(m *TokenManager) {
		m.now = now
	}
}

func New(cfg Config, opts ...Option) (*TokenManager, error) {
	keys, err := NewKeys(cfg)
	if err != nil {
		return nil, err
	}

	m := &TokenManager{keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	m.codec = NewCodec(keys, m.now)

	return m, nil
}

func (m *TokenManager) AccessTTL() time.Duration  { return m.keys.AccessTTL() }
func (m *TokenManager) RefreshTTL() time.Duration { return m.keys.RefreshTTL() }

// Current time by the manager clock
func (m *TokenManager) Now() time.Time { return m.now() }

// Issue short-lived access token. Label goes to 'username' claim
func (m *TokenManager) IssueAccess(identity models.Identity, label string) (models.IssuedToken, error) {
	return m.issue(identity, TypeAccess, label, m.keys.accessTTL)
}

// Issue long-lived refresh token. It is not persisted here
func (m *TokenManager) IssueRefresh(identity models.Identity) (models.IssuedToken, error) {
	return m.issue(identity, TypeRefresh, "", m.keys.refreshTTL)
}

func (m *TokenManager) IssuePair(identity models.Identity, label string) (models.TokenPair, error) {
	access, err := m.IssueAccess(identity, label)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := m.IssueRefresh(identity)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

// Verify token and return its content
func (m *TokenManager) Verify(token string) (Token, error) {
	return m.codec.Verify(token)
}

func (m *TokenManager) issue(identity models.Identity, typ string, label string, ttl time.Duration) (models.IssuedToken, error) {
	// JWT dates have seconds precision
	now := m.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	// jti makes tokens issued within the same second differ
	jti, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while generating token id. Err: %w", err)
	}

	value, err := m.codec.Sign(Token{
		ID:        jti.String(),
		Identity:  identity,
		Type:      typ,
		Username:  label,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return models.IssuedToken{}, err
	}

	return models.IssuedToken{Value: value, ExpiresAt: expiresAt}, nil
}
