package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces token keys.
const DefaultRedisPrefix = "dashctl:tokens"

// Redis keeps tokens under <prefix>:<profile>:access and :refresh, for
// deployments where several workers share one session.
type Redis struct {
	rdb        redis.Cmdable
	accessKey  string
	refreshKey string
}

// NewRedis returns a Redis-backed store.
func NewRedis(rdb redis.Cmdable, prefix, profile string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if profile == "" {
		profile = DefaultProfile
	}
	base := prefix + ":" + profile
	return &Redis{
		rdb:        rdb,
		accessKey:  base + ":access",
		refreshKey: base + ":refresh",
	}
}

func (r *Redis) AccessToken(ctx context.Context) (string, error) {
	return r.get(ctx, r.accessKey)
}

func (r *Redis) RefreshToken(ctx context.Context) (string, error) {
	return r.get(ctx, r.refreshKey)
}

func (r *Redis) get(ctx context.Context, key string) (string, error) {
	value, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

// SetTokens writes both keys in one MULTI/EXEC so readers never see a new
// access token next to a refresh token from another pair.
func (r *Redis) SetTokens(ctx context.Context, access, refresh string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.accessKey, access, 0)
		if refresh != "" {
			pipe.Set(ctx, r.refreshKey, refresh, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save tokens: %w", err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.accessKey, r.refreshKey).Err(); err != nil {
		return fmt.Errorf("redis clear tokens: %w", err)
	}
	return nil
}
