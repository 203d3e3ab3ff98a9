// Package redisdb backs the refresh token mapping with Redis. TTL handling
// is native, and GETDEL gives the atomic resolve-and-remove that token
// rotation depends on.
package redisdb

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"identity-service/internal/config"
	"identity-service/internal/store"
	"identity-service/internal/util"
)

const (
	refreshTokenPrefix = "refresh_token:"
	userTokensPrefix   = "user_refresh:"
)

type Client struct {
	Client *redis.Client
}

func NewClient(cfg *config.Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if opts.Password == "" && cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	opts.DB = cfg.Redis.DB
	opts.PoolSize = cfg.Redis.PoolSize
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	util.Info("Redis client initialized",
		util.Int("db", cfg.Redis.DB),
		util.Int("pool_size", cfg.Redis.PoolSize))

	return &Client{Client: client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// RefreshTokenStore implements store.RefreshTokenStore on Redis.
type RefreshTokenStore struct {
	client *Client
}

func NewRefreshTokenStore(client *Client) *RefreshTokenStore {
	return &RefreshTokenStore{client: client}
}

func (s *RefreshTokenStore) Store(ctx context.Context, token, userID string, ttl time.Duration) error {
	pipe := s.client.Client.Pipeline()
	pipe.Set(ctx, refreshTokenPrefix+token, userID, ttl)
	pipe.SAdd(ctx, userTokensPrefix+userID, token)
	pipe.Expire(ctx, userTokensPrefix+userID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

func (s *RefreshTokenStore) Redeem(ctx context.Context, token string) (string, error) {
	userID, err := s.client.Client.GetDel(ctx, refreshTokenPrefix+token).Result()
	if err == redis.Nil {
		return "", store.ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to redeem refresh token: %w", err)
	}
	s.client.Client.SRem(ctx, userTokensPrefix+userID, token)
	return userID, nil
}

func (s *RefreshTokenStore) Revoke(ctx context.Context, token string) error {
	userID, err := s.client.Client.GetDel(ctx, refreshTokenPrefix+token).Result()
	if err == redis.Nil {
		return nil // revoking an absent token is not an error
	}
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	s.client.Client.SRem(ctx, userTokensPrefix+userID, token)
	return nil
}

func (s *RefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	setKey := userTokensPrefix + userID
	tokens, err := s.client.Client.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list user refresh tokens: %w", err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	pipe := s.client.Client.Pipeline()
	for _, t := range tokens {
		pipe.Del(ctx, refreshTokenPrefix+t)
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to revoke user refresh tokens: %w", err)
	}

	util.Info("All refresh tokens revoked for user",
		util.String("user_id", userID),
		util.Int("count", len(tokens)))
	return len(tokens), nil
}
