package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trogers1052/signal-alert-service/internal/config"
	"github.com/trogers1052/signal-alert-service/internal/models"
)

// preferenceTTL bounds how long a provider preference sticks. A day is long
// enough to survive transient outages without pinning a dead base forever.
const preferenceTTL = 24 * time.Hour

// Client wraps the Redis client with candle-pipeline operations
type Client struct {
	rdb *redis.Client
}

// New creates a new Redis client
func New(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks if Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Provider preference cache: remembers which upstream base last served a
// symbol so the candle source tries it first next tick.

// PreferredProvider returns the last successful provider for a symbol, or ""
// on a miss.
func (c *Client) PreferredProvider(ctx context.Context, symbol string) (string, error) {
	key := fmt.Sprintf("candles:%s:provider", symbol)
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// SetPreferredProvider records the provider that just served a symbol.
func (c *Client) SetPreferredProvider(ctx context.Context, symbol, provider string) error {
	key := fmt.Sprintf("candles:%s:provider", symbol)
	return c.rdb.Set(ctx, key, provider, preferenceTTL).Err()
}

// Candle caching: short-TTL snapshots keyed by symbol/interval, so run-now
// bursts against the same stream do not hammer upstream providers.

// SetCandles caches a fetched candle series with TTL
func (c *Client) SetCandles(ctx context.Context, symbol, interval string, series []models.Candle, ttl time.Duration) error {
	key := fmt.Sprintf("candles:%s:%s", symbol, interval)
	jsonData, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("failed to marshal candles: %w", err)
	}
	return c.rdb.Set(ctx, key, jsonData, ttl).Err()
}

// GetCandles retrieves a cached candle series; redis.Nil on a miss.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string) ([]models.Candle, error) {
	key := fmt.Sprintf("candles:%s:%s", symbol, interval)
	jsonData, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var series []models.Candle
	if err := json.Unmarshal(jsonData, &series); err != nil {
		return nil, fmt.Errorf("failed to unmarshal candles: %w", err)
	}
	return series, nil
}
