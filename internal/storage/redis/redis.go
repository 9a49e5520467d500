package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const usedResetTokenPrefix = "reset:used:"

type RedisRepo struct {
	client *redis.Client
}

func New(ctx context.Context, addr, pass string, db int) (*RedisRepo, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     pass,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisRepo{
		client: client,
	}, nil
}

// MarkResetTokenUsed records a password-reset token as spent.
// It reports true only for the first call with a given hash; the
// record expires together with the token.
func (r *RedisRepo) MarkResetTokenUsed(ctx context.Context, tokenHash string, ttl time.Duration) (bool, error) {
	const op = "storage.redis.MarkResetTokenUsed"

	if ttl <= 0 {
		ttl = time.Second
	}

	first, err := r.client.SetNX(ctx, usedResetTokenPrefix+tokenHash, "used", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return first, nil
}

// ReleaseResetToken forgets a spent mark so the token can be used again.
func (r *RedisRepo) ReleaseResetToken(ctx context.Context, tokenHash string) error {
	const op = "storage.redis.ReleaseResetToken"

	if err := r.client.Del(ctx, usedResetTokenPrefix+tokenHash).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RedisRepo) Close() {
	_ = r.client.Close()
}
