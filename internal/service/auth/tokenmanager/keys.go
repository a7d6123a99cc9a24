package tokenmanager

import (
	"errors"
	"time"
)

const (
	DefaultIssuer = "caroauth"

	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Token manager configuration with sensible defaults
type Config struct {
	// Secret key to sign tokens
	// Required to be set
	SecretKey string

	// Value of 'iss' claim. Tokens with other issuer are rejected
	// If not set than default is used
	Issuer string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Keys is the process signing material.
// Built once at startup, never mutated; the secret is copied so callers can't change it later.
type Keys struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewKeys(cfg Config) (Keys, error) {
	if cfg.SecretKey == "" {
		return Keys{}, errors.New("secret key must not be empty")
	}

	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return Keys{}, errors.New("token lifetimes must be positive")
	}

	return Keys{
		secret:     []byte(cfg.SecretKey),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

func (k Keys) Issuer() string            { return k.issuer }
func (k Keys) AccessTTL() time.Duration  { return k.accessTTL }
func (k Keys) RefreshTTL() time.Duration { return k.refreshTTL }
