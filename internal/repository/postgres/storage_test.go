package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/models"
	"github.com/nkiryanov/caroauth/internal/repository"
	"github.com/nkiryanov/caroauth/internal/testutil"
)

func Test_Storage(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	newToken := func(identity models.Identity, value string) models.RefreshToken {
		now := time.Now()
		return models.RefreshToken{Identity: identity, Token: value, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	}

	t.Run("InTx commits", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)
			identity := models.NewIdentity(uuid.New())

			err := s.InTx(t.Context(), func(s repository.Storage) error {
				_, err := s.Refresh().Save(t.Context(), newToken(identity, "committed"))
				return err
			})
			require.NoError(t, err)

			_, err = s.Refresh().FindByToken(t.Context(), "committed")
			require.NoError(t, err, "token saved in committed transaction should be visible")
		})
	})

	t.Run("InTx rollbacks on error", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)
			identity := models.NewIdentity(uuid.New())
			errBoom := errors.New("boom")

			err := s.InTx(t.Context(), func(s repository.Storage) error {
				_, err := s.Refresh().Save(t.Context(), newToken(identity, "rolled-back"))
				require.NoError(t, err)
				return errBoom
			})
			require.ErrorIs(t, err, errBoom)

			_, err = s.Refresh().FindByToken(t.Context(), "rolled-back")
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	// Two transactions race for the same token: exactly one of them sees it
	t.Run("concurrent find and delete of the same token", func(t *testing.T) {
		s := NewStorage(pg.Pool)
		identity := models.NewIdentity(uuid.New())
		_, err := s.Refresh().Save(t.Context(), newToken(identity, "contended"))
		require.NoError(t, err)
		t.Cleanup(func() { _, _ = s.Refresh().DeleteAllForIdentity(context.Background(), identity) })

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
			losers  int
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.InTx(context.Background(), func(s repository.Storage) error {
					rt, err := s.Refresh().FindByToken(context.Background(), "contended")
					if err != nil {
						return err
					}
					time.Sleep(50 * time.Millisecond)
					_, err = s.Refresh().DeleteAllForIdentity(context.Background(), rt.Identity)
					return err
				})

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
					losers++
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, winners, "exactly one transaction should find the token")
		require.Equal(t, 1, losers, "other one should see it deleted")
	})

	t.Run("concurrent session starts keep one token", func(t *testing.T) {
		s := NewStorage(pg.Pool)
		identity := models.NewIdentity(uuid.New())

		var wg sync.WaitGroup
		for _, value := range []string{"first-session", "second-session"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.InTx(context.Background(), func(s repository.Storage) error {
					if _, err := s.Refresh().DeleteAllForIdentity(context.Background(), identity); err != nil {
						return err
					}
					time.Sleep(50 * time.Millisecond)
					_, err := s.Refresh().Save(context.Background(), newToken(identity, value))
					return err
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		deleted, err := s.Refresh().DeleteAllForIdentity(t.Context(), identity)
		require.NoError(t, err)
		require.EqualValues(t, 1, deleted, "second session must drop token of the first one")
	})
}
