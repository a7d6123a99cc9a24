package tokenmanager

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/models"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func Test_Keys(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		k, err := NewKeys(Config{SecretKey: "secret"})
		require.NoError(t, err)

		require.Equal(t, []byte("secret"), k.secret)
		require.Equal(t, DefaultIssuer, k.Issuer())
		require.Equal(t, defaultAccessTokenTTL, k.AccessTTL(), "default access token TTL should be set")
		require.Equal(t, defaultRefreshTokenTTL, k.RefreshTTL(), "default refresh token TTL should be set")
	})

	t.Run("empty secret", func(t *testing.T) {
		_, err := NewKeys(Config{})
		require.Error(t, err)
	})

	t.Run("negative ttl", func(t *testing.T) {
		_, err := NewKeys(Config{SecretKey: "secret", AccessTTL: -time.Minute})
		require.Error(t, err)
	})
}

func Test_TokenManager(t *testing.T) {
	now := mustParseTime("2024-01-01 19:00:01Z")
	identity := models.NewIdentity(uuid.New())

	newManager := func(t *testing.T, cfg Config, clock time.Time) *TokenManager {
		if cfg.SecretKey == "" {
			cfg.SecretKey = "test-secret-key"
		}
		m, err := New(cfg, WithClock(fixedClock(clock)))
		require.NoError(t, err, "token manager should be created without errors")
		return m
	}

	t.Run("IssueAccess", func(t *testing.T) {
		t.Run("round trip", func(t *testing.T) {
			m := newManager(t, Config{AccessTTL: 15 * time.Minute}, now)

			issued, err := m.IssueAccess(identity, "nk")
			require.NoError(t, err)

			got, err := m.Verify(issued.Value)

			require.NoError(t, err)
			assert.Equal(t, identity, got.Identity, "subject should be the same identity")
			assert.Equal(t, "nk", got.Username)
			assert.Equal(t, TypeAccess, got.Type, "access token has explicit type")
			assert.NotEmpty(t, got.ID, "token has to has jti")
			assert.Equal(t, now, got.IssuedAt)
			assert.Equal(t, now.Add(15*time.Minute), got.ExpiresAt)
			assert.Equal(t, issued.ExpiresAt, got.ExpiresAt, "issued expiry should match claim")
		})

		t.Run("times in utc", func(t *testing.T) {
			local := now.In(time.FixedZone("UTC+3", 3*60*60))
			m := newManager(t, Config{AccessTTL: 15 * time.Minute}, local)

			issued, err := m.IssueAccess(identity, "nk")
			require.NoError(t, err)
			got, err := m.Verify(issued.Value)
			require.NoError(t, err)

			assert.Equal(t, time.UTC, issued.ExpiresAt.Location())
			assert.Equal(t, time.UTC, got.ExpiresAt.Location())
			assert.Equal(t, time.UTC, got.IssuedAt.Location())
			assert.Equal(t, issued.ExpiresAt, got.ExpiresAt)
			assert.True(t, now.Equal(got.IssuedAt))
		})

		t.Run("claims on the wire", func(t *testing.T) {
			m := newManager(t, Config{Issuer: "test-issuer"}, now)
			issued, err := m.IssueAccess(identity, "nk")
			require.NoError(t, err)

			mc := jwt.MapClaims{}
			_, _, err = jwt.NewParser().ParseUnverified(issued.Value, mc)
			require.NoError(t, err)

			assert.Equal(t, "test-issuer", mc["iss"])
			assert.Equal(t, identity.String(), mc["sub"])
			assert.Equal(t, "access", mc["typ"])
			assert.Equal(t, "nk", mc["username"])
			assert.Contains(t, mc, "iat")
			assert.Contains(t, mc, "exp")
			assert.Contains(t, mc, "jti")
		})
	})

	t.Run("IssueRefresh", func(t *testing.T) {
		m := newManager(t, Config{RefreshTTL: 24 * time.Hour}, now)

		issued, err := m.IssueRefresh(identity)
		require.NoError(t, err)

		got, err := m.Verify(issued.Value)
		require.NoError(t, err)
		assert.Equal(t, identity, got.Identity)
		assert.Equal(t, TypeRefresh, got.Type)
		assert.Empty(t, got.Username, "refresh token carries no label")
		assert.Equal(t, now.Add(24*time.Hour), issued.ExpiresAt)
	})

	t.Run("IssuePair tokens differ within one second", func(t *testing.T) {
		m := newManager(t, Config{}, now)

		pair1, err := m.IssuePair(identity, "nk")
		require.NoError(t, err)
		pair2, err := m.IssuePair(identity, "nk")
		require.NoError(t, err)

		assert.NotEqual(t, pair1.Access.Value, pair2.Access.Value, "access tokens should be different")
		assert.NotEqual(t, pair1.Refresh.Value, pair2.Refresh.Value, "refresh tokens should be different")
		assert.NotEqual(t, pair1.Access.Value, pair1.Refresh.Value)
	})

	t.Run("Verify", func(t *testing.T) {
		issuer := newManager(t, Config{AccessTTL: time.Minute}, now)
		access, err := issuer.IssueAccess(identity, "nk")
		require.NoError(t, err)

		t.Run("before expiry", func(t *testing.T) {
			m := newManager(t, Config{}, now.Add(time.Minute-time.Millisecond))
			_, err := m.Verify(access.Value)
			require.NoError(t, err)
		})

		t.Run("at expiry", func(t *testing.T) {
			m := newManager(t, Config{}, now.Add(time.Minute))
			_, err := m.Verify(access.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		})

		t.Run("after expiry", func(t *testing.T) {
			m := newManager(t, Config{}, now.Add(time.Minute+time.Millisecond))
			_, err := m.Verify(access.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		})

		t.Run("other secret", func(t *testing.T) {
			m := newManager(t, Config{SecretKey: "other-secret"}, now)
			_, err := m.Verify(access.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		})

		t.Run("other issuer", func(t *testing.T) {
			m := newManager(t, Config{Issuer: "somebody-else"}, now)
			_, err := m.Verify(access.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		})

		t.Run("issued in the future", func(t *testing.T) {
			m := newManager(t, Config{}, now.Add(-time.Hour))
			_, err := m.Verify(access.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		})

		tests := []struct {
			name  string
			token string
		}{
			{"empty", ""},
			{"malformed", "not-a-token"},
			{"truncated", access.Value[:len(access.Value)-5]},
			{"tampered payload", tamper(access.Value)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := issuer.Verify(tt.token)
				require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
			})
		}

		t.Run("not signed token", func(t *testing.T) {
			token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
				"iss": DefaultIssuer,
				"sub": identity.String(),
				"iat": now.Unix(),
				"exp": now.Add(time.Hour).Unix(),
			})
			unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
			require.NoError(t, err)

			_, err = issuer.Verify(unsigned)

			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		})

		t.Run("without expiry", func(t *testing.T) {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"iss": DefaultIssuer,
				"sub": identity.String(),
			})
			signed, err := token.SignedString([]byte("test-secret-key"))
			require.NoError(t, err)

			_, err = issuer.Verify(signed)

			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		})

		t.Run("subject is not identity", func(t *testing.T) {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"iss": DefaultIssuer,
				"sub": "42",
				"iat": now.Unix(),
				"exp": now.Add(time.Hour).Unix(),
			})
			signed, err := token.SignedString([]byte("test-secret-key"))
			require.NoError(t, err)

			_, err = issuer.Verify(signed)

			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		})
	})
}

// Replace the payload part with other valid base64 keeping the signature
func tamper(token string) string {
	parts := strings.Split(token, ".")
	parts[1] = strings.TrimRight(parts[1], "=") + "e30"
	return strings.Join(parts, ".")
}
