package repository

import (
	"context"
	"sort"
	"time"

	"github.com/ManuelReschke/CopyFox/internal/pkg/cache"
)

// queueRepository inspects the Redis keys behind the job queue. It does not
// use GORM.
type queueRepository struct{}

// NewQueueRepository creates a new queue repository instance
func NewQueueRepository() QueueRepository {
	return &queueRepository{}
}

// GetTTL retrieves the time-to-live for a specific key
func (r *queueRepository) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := cache.GetClient().TTL(ctx, key).Result()
	if err != nil {
		return -1, err
	}
	return ttl, nil
}

// GetListLength returns the length of a Redis list
func (r *queueRepository) GetListLength(ctx context.Context, key string) (int64, error) {
	return cache.GetClient().LLen(ctx, key).Result()
}

// GetSortedSetLength returns the cardinality of a Redis sorted set
func (r *queueRepository) GetSortedSetLength(ctx context.Context, key string) (int64, error) {
	return cache.GetClient().ZCard(ctx, key).Result()
}

// FindKeysByPatterns retrieves keys for the provided Redis match patterns using SCAN.
func (r *queueRepository) FindKeysByPatterns(ctx context.Context, patterns []string) ([]string, error) {
	redisClient := cache.GetClient()
	uniqueKeys := make(map[string]struct{})

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}

		var cursor uint64
		for {
			keys, nextCursor, err := redisClient.Scan(ctx, cursor, pattern, 500).Result()
			if err != nil {
				return nil, err
			}
			for _, key := range keys {
				uniqueKeys[key] = struct{}{}
			}
			cursor = nextCursor
			if cursor == 0 {
				break
			}
		}
	}

	keys := make([]string, 0, len(uniqueKeys))
	for key := range uniqueKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
