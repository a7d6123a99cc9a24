package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const saveToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (id, user_id, token, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, user_id, token, created_at, expires_at
`

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, saveToken, token.ID, token.Identity.UUID(), token.Token, token.CreatedAt, token.ExpiresAt)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return saved, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenDuplicate)
		}

		return saved, fmt.Errorf("db error: %w", err)
	}

	return saved, nil
}

// Row is locked till the end of transaction:
// concurrent rotations of the same token wait here and then see it deleted
const findByToken = `-- name: FindRefreshTokenByToken
SELECT id, user_id, token, created_at, expires_at
FROM refresh_tokens
WHERE token = $1
FOR UPDATE
`

// Find token
// It returns result even it is expired already
func (r *RefreshTokenRepo) FindByToken(ctx context.Context, tokenString string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, findByToken, tokenString)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

// Held till the end of transaction: sessions of one identity are started one by one,
// so two of them can't both find nothing to delete and then both insert
const lockIdentity = `-- name: LockRefreshTokensOfUser
SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))
`

const deleteAllForUser = `-- name: DeleteAllRefreshTokensForUser
DELETE FROM refresh_tokens
WHERE user_id = $1
`

func (r *RefreshTokenRepo) DeleteAllForIdentity(ctx context.Context, identity models.Identity) (int64, error) {
	if _, err := r.DB.Exec(ctx, lockIdentity, identity.String()); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	tag, err := r.DB.Exec(ctx, deleteAllForUser, identity.UUID())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

const deleteExpired = `-- name: DeleteExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE expires_at <= $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpired, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var (
		t      models.RefreshToken
		userID uuid.UUID
	)
	err := row.Scan(&t.ID, &userID, &t.Token, &t.CreatedAt, &t.ExpiresAt)
	t.Identity = models.NewIdentity(userID)
	return t, err
}
