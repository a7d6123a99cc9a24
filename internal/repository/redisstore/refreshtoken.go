package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/models"
)

// Hash fields of token key
const (
	fieldID        = "id"
	fieldUserID    = "user_id"
	fieldToken     = "token"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
)

const scanBatch = 100

// Delete every token referenced by identity set and the set itself.
// KEYS[1] is identity set, ARGV[1] is token key prefix.
var deleteIdentityTokens = redis.NewScript(`
local deleted = 0
for _, hash in ipairs(redis.call('SMEMBERS', KEYS[1])) do
	deleted = deleted + redis.call('DEL', ARGV[1] .. hash)
end
redis.call('DEL', KEYS[1])
return deleted
`)

type RefreshTokenRepo struct {
	storage *Storage

	// nil when repo is not bound to transaction
	tx     *redis.Tx
	queued []func(redis.Pipeliner)
}

func (r *RefreshTokenRepo) FindByToken(ctx context.Context, token string) (models.RefreshToken, error) {
	if r.tx == nil {
		var found models.RefreshToken
		err := r.storage.watch(ctx, func(repo *RefreshTokenRepo) (err error) {
			found, err = repo.FindByToken(ctx, token)
			return err
		})
		return found, err
	}

	key := r.storage.tokenKey(token)
	if err := r.tx.Watch(ctx, key).Err(); err != nil {
		return models.RefreshToken{}, fmt.Errorf("redis error: %w", err)
	}

	values, err := r.tx.HGetAll(ctx, key).Result()
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("redis error: %w", err)
	}
	if len(values) == 0 {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}

	return decodeToken(values)
}

func (r *RefreshTokenRepo) DeleteAllForIdentity(ctx context.Context, identity models.Identity) (int64, error) {
	if r.tx == nil {
		var deleted int64
		err := r.storage.watch(ctx, func(repo *RefreshTokenRepo) (err error) {
			deleted, err = repo.DeleteAllForIdentity(ctx, identity)
			return err
		})
		return deleted, err
	}

	// Identity set is not watched: concurrent sessions of one identity must not conflict.
	// Deletion runs inside MULTI against the set as it is at EXEC time.
	setKey := r.storage.identityKey(identity)
	hashes, err := r.tx.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}

	var live int64
	if len(hashes) > 0 {
		keys := make([]string, 0, len(hashes))
		for _, h := range hashes {
			keys = append(keys, r.storage.tokenKeyFromHash(h))
		}

		// Set may still reference tokens expired by redis
		live, err = r.tx.Exists(ctx, keys...).Result()
		if err != nil {
			return 0, fmt.Errorf("redis error: %w", err)
		}
	}

	r.queue(func(p redis.Pipeliner) {
		deleteIdentityTokens.Eval(ctx, p, []string{setKey}, r.storage.tokenKeyFromHash(""))
	})

	return live, nil
}

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	if r.tx == nil {
		var saved models.RefreshToken
		err := r.storage.watch(ctx, func(repo *RefreshTokenRepo) (err error) {
			saved, err = repo.Save(ctx, token)
			return err
		})
		return saved, err
	}

	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	key := r.storage.tokenKey(token.Token)
	if err := r.tx.Watch(ctx, key).Err(); err != nil {
		return token, fmt.Errorf("redis error: %w", err)
	}

	exists, err := r.tx.Exists(ctx, key).Result()
	if err != nil {
		return token, fmt.Errorf("redis error: %w", err)
	}
	if exists > 0 {
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenDuplicate)
	}

	setKey := r.storage.identityKey(token.Identity)
	hash := hashToken(token.Token)
	values := encodeToken(token)

	r.queue(func(p redis.Pipeliner) {
		p.HSet(ctx, key, values)
		p.PExpireAt(ctx, key, token.ExpiresAt)
		p.SAdd(ctx, setKey, hash)
	})

	return token, nil
}

// Redis evicts expired token keys itself, but identity sets keep referencing them.
// Delete tokens expired before the moment and drop dangling set members.
// Returns count of deleted tokens.
func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	client := r.storage.client
	var deleted int64

	iter := client.Scan(ctx, 0, r.storage.identityKeyPattern(), scanBatch).Iterator()
	for iter.Next(ctx) {
		setKey := iter.Val()

		hashes, err := client.SMembers(ctx, setKey).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis error: %w", err)
		}

		for _, h := range hashes {
			key := r.storage.tokenKeyFromHash(h)

			raw, err := client.HGet(ctx, key, fieldExpiresAt).Result()
			switch {
			case errors.Is(err, redis.Nil):
				// Already evicted
			case err != nil:
				return deleted, fmt.Errorf("redis error: %w", err)
			default:
				expiresAt, err := parseTime(raw)
				if err == nil && expiresAt.After(before) {
					continue
				}

				n, err := client.Del(ctx, key).Result()
				if err != nil {
					return deleted, fmt.Errorf("redis error: %w", err)
				}
				deleted += n
			}

			if err := client.SRem(ctx, setKey, h).Err(); err != nil {
				return deleted, fmt.Errorf("redis error: %w", err)
			}
		}
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis error: %w", err)
	}

	return deleted, nil
}

func (r *RefreshTokenRepo) queue(op func(redis.Pipeliner)) {
	r.queued = append(r.queued, op)
}

// Apply queued writes. Fails with redis.TxFailedErr if any watched key changed
func (r *RefreshTokenRepo) commit(ctx context.Context) error {
	if len(r.queued) == 0 {
		return nil
	}

	_, err := r.tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, op := range r.queued {
			op(p)
		}
		return nil
	})
	r.queued = nil

	return err
}

func encodeToken(t models.RefreshToken) map[string]any {
	return map[string]any{
		fieldID:        t.ID.String(),
		fieldUserID:    t.Identity.String(),
		fieldToken:     t.Token,
		fieldCreatedAt: formatTime(t.CreatedAt),
		fieldExpiresAt: formatTime(t.ExpiresAt),
	}
}

func decodeToken(values map[string]string) (models.RefreshToken, error) {
	var t models.RefreshToken

	id, err := uuid.Parse(values[fieldID])
	if err != nil {
		return t, fmt.Errorf("corrupted token record: %w", err)
	}
	userID, err := uuid.Parse(values[fieldUserID])
	if err != nil {
		return t, fmt.Errorf("corrupted token record: %w", err)
	}
	createdAt, err := parseTime(values[fieldCreatedAt])
	if err != nil {
		return t, fmt.Errorf("corrupted token record: %w", err)
	}
	expiresAt, err := parseTime(values[fieldExpiresAt])
	if err != nil {
		return t, fmt.Errorf("corrupted token record: %w", err)
	}

	return models.RefreshToken{
		ID:        id,
		Identity:  models.NewIdentity(userID),
		Token:     values[fieldToken],
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Microseconds, the same precision postgres has
func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func parseTime(raw string) (time.Time, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(v).UTC(), nil
}
