package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/models"
)

// Values of 'typ' claim
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var signingMethod = jwt.SigningMethodHS256

// JWT payload as it goes over the wire
type claims struct {
	jwt.RegisteredClaims
	Type     string `json:"typ,omitempty"`
	Username string `json:"username,omitempty"`
}

// Token is decoded and verified token content
type Token struct {
	ID        string
	Identity  models.Identity
	Type      string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec signs and verifies tokens with the process keys.
// It is a pure function of keys, token and clock.
type Codec struct {
	keys Keys
	now  func() time.Time
}

func NewCodec(keys Keys, now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{keys: keys, now: now}
}

// Sign token. Issuer is always taken from keys
func (c *Codec) Sign(t Token) (string, error) {
	if t.Identity.IsZero() {
		return "", errors.New("token subject must not be empty")
	}

	token := jwt.NewWithClaims(signingMethod, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.ID,
			Issuer:    c.keys.issuer,
			Subject:   t.Identity.String(),
			IssuedAt:  jwt.NewNumericDate(t.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt),
		},
		Type:     t.Type,
		Username: t.Username,
	})

	signed, err := token.SignedString(c.keys.secret)
	if err != nil {
		return "", fmt.Errorf("error while signing token. Err: %w", err)
	}

	return signed, nil
}

// Verify token structure, signature, issuer and expiry.
// Every failure wraps apperrors.ErrTokenInvalid
func (c *Codec) Verify(token string) (Token, error) {
	var cl claims

	_, err := jwt.ParseWithClaims(
		token,
		&cl,
		func(t *jwt.Token) (any, error) {
			return c.keys.secret, nil
		},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(c.keys.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", apperrors.ErrTokenInvalid, err)
	}

	identity, err := models.ParseIdentity(cl.Subject)
	if err != nil {
		return Token{}, fmt.Errorf("%w: subject is not an identity", apperrors.ErrTokenInvalid)
	}

	// NumericDate decodes to local time; tokens and stores work in UTC
	t := Token{
		ID:        cl.ID,
		Identity:  identity,
		Type:      cl.Type,
		Username:  cl.Username,
		ExpiresAt: cl.ExpiresAt.UTC(),
	}
	if cl.IssuedAt != nil {
		t.IssuedAt = cl.IssuedAt.UTC()
	}

	return t, nil
}
