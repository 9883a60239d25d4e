package chunk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"meetinggenius/packages/database"
)

const redisKeyPrefix = "chunk:"

// RedisStore 分块保存在 Redis 字符串中，key 为 chunk:{jobId}/{index}
type RedisStore struct {
	rdb *database.RedisClient
	ttl time.Duration
}

// NewRedisStore ttl 为 0 时分块不过期
func NewRedisStore(rdb *database.RedisClient, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, jobID string, index int) (string, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+Key(jobID, index)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get chunk: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, jobID string, index int, data string) error {
	if err := s.rdb.Set(ctx, redisKeyPrefix+Key(jobID, index), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set chunk: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, jobID string, index int) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+Key(jobID, index)).Err(); err != nil {
		return fmt.Errorf("redis del chunk: %w", err)
	}
	return nil
}
