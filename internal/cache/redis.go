// Package cache provides a tiny Redis client wrapper for caching prediction
// responses keyed by feature vector. The model never changes after load, so
// a cached body stays valid for as long as the TTL keeps it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client for prediction response storage
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a new Cache instance connected to the specified Redis address
// If addr is empty, defaults to localhost:6379
func New(addr string, ttl time.Duration) (*Cache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // No password by default
		DB:       0,  // Default DB
	})

	// Test connection
	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// Key derives the cache key for an encoded feature vector. Equal vectors
// hash equally, so repeated requests for the same row share one entry.
func Key(vector []float32) string {
	h := sha256.New()
	var buf [4]byte
	for _, f := range vector {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		h.Write(buf[:])
	}
	return fmt.Sprintf("prediction:%x", h.Sum(nil))
}

// GetPrediction retrieves a cached response body, "" when the key is absent
func (c *Cache) GetPrediction(key string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("cache client is nil")
	}

	ctx := context.Background()
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil // Key does not exist
	}
	if err != nil {
		return "", fmt.Errorf("failed to get cached prediction: %w", err)
	}

	return data, nil
}

// SetPrediction stores a response body under key with the configured TTL
func (c *Cache) SetPrediction(key, body string) error {
	if c.client == nil {
		return fmt.Errorf("cache client is nil")
	}

	ctx := context.Background()
	if err := c.client.Set(ctx, key, body, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache prediction: %w", err)
	}

	return nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
