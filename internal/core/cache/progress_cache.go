package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/t2t2-app/t2t2/internal/models"
)

// ErrNoProgress is returned when no progress entry exists for the user.
var ErrNoProgress = errors.New("no progress recorded")

// progressTTL bounds how long stale progress lingers after a job dies.
const progressTTL = time.Hour

// ProgressCache stores per-user indexing progress. Writes from concurrent
// jobs race last-write-wins; the cache only drives status display.
type ProgressCache interface {
	SetProgress(ctx context.Context, userID string, p models.IndexProgress) error
	GetProgress(ctx context.Context, userID string) (*models.IndexProgress, error)
	Close() error
}

type redisCache struct {
	rdb *goredis.Client
}

func NewRedisCache(addr string) (ProgressCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisCache{rdb: rdb}, nil
}

func progressKey(userID string) string {
	return "indexing_progress:" + userID
}

func (c *redisCache) SetProgress(ctx context.Context, userID string, p models.IndexProgress) error {
	p.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, progressKey(userID), raw, progressTTL).Err()
}

func (c *redisCache) GetProgress(ctx context.Context, userID string) (*models.IndexProgress, error) {
	raw, err := c.rdb.Get(ctx, progressKey(userID)).Bytes()
	if err == goredis.Nil {
		return nil, ErrNoProgress
	}
	if err != nil {
		return nil, err
	}
	var p models.IndexProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *redisCache) Close() error {
	return c.rdb.Close()
}
