// Package cache holds a Redis read-through cache for display names.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "labelflow:username:"

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type Usernames struct {
	client *redis.Client
	ttl    time.Duration
}

// NewUsernames connects and pings Redis before returning.
func NewUsernames(cfg Config) (*Usernames, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Usernames{client: client, ttl: ttl}, nil
}

// Get returns cached names and the ids that missed.
func (c *Usernames) Get(ctx context.Context, ids []string) (map[string]string, []string, error) {
	found := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return found, nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, ids, fmt.Errorf("redis mget: %w", err)
	}
	var missing []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		found[ids[i]] = s
	}
	return found, missing, nil
}

func (c *Usernames) Set(ctx context.Context, names map[string]string) error {
	if len(names) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for id, name := range names {
		pipe.Set(ctx, keyPrefix+id, name, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set usernames: %w", err)
	}
	return nil
}

func (c *Usernames) Invalidate(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, keyPrefix+id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *Usernames) Close() error {
	return c.client.Close()
}
