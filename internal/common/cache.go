package common

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/castrelay/castrelay/pkg/config"
	"github.com/castrelay/castrelay/pkg/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// progress snapshots expire on their own so abandoned jobs do not leak keys
const progressTTL = 24 * time.Hour

// Cache wraps Redis client for caching operations
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(cfg *config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Set stores a value with expiration
func (c *Cache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.Set(ctx, key, data, expiration).Err()
}

// Get retrieves a value and unmarshals it
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("key not found: %s", key)
		}
		return fmt.Errorf("failed to get value: %w", err)
	}

	return json.Unmarshal([]byte(data), dest)
}

// Delete removes a key
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// SetProgress stores the progress snapshot for an active upload job
func (c *Cache) SetProgress(ctx context.Context, jobID uuid.UUID, progress *types.JobProgress) error {
	return c.Set(ctx, progressKey(jobID), progress, progressTTL)
}

// GetProgress retrieves the progress snapshot for an upload job
func (c *Cache) GetProgress(ctx context.Context, jobID uuid.UUID) (*types.JobProgress, error) {
	var progress types.JobProgress
	if err := c.Get(ctx, progressKey(jobID), &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

// ClearProgress removes the progress snapshot once a job reaches a terminal state
func (c *Cache) ClearProgress(ctx context.Context, jobID uuid.UUID) error {
	return c.Delete(ctx, progressKey(jobID))
}

func progressKey(jobID uuid.UUID) string {
	return "castrelay:progress:" + jobID.String()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}
