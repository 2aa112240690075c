package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"chanrelay/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	redisWatermarkPrefix = "chanrelay:wm:"
	redisInitPrefix      = "chanrelay:init:"
)

// RedisStore keeps each channel's watermark in a sorted set scored by
// forwarded-at unix seconds, which makes retention pruning a range removal.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg models.DatabaseConfig) (*RedisStore, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis store requires redis_addr")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) GetWatermark(ctx context.Context, channelID string) (*models.Watermark, error) {
	wm := models.NewWatermark(channelID)

	exists, err := s.client.Exists(ctx, redisInitPrefix+channelID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read channel state: %w", err)
	}
	wm.Initialized = exists > 0

	members, err := s.client.ZRange(ctx, redisWatermarkPrefix+channelID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}
	for _, id := range members {
		wm.Add(id)
	}

	return wm, nil
}

func (s *RedisStore) CommitForwarded(ctx context.Context, channelID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	now := float64(time.Now().Unix())
	zs := make([]redis.Z, 0, len(ids))
	for _, id := range ids {
		zs = append(zs, redis.Z{Score: now, Member: id})
	}

	if err := s.client.ZAdd(ctx, redisWatermarkPrefix+channelID, zs...).Err(); err != nil {
		return fmt.Errorf("failed to commit watermark: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkChannelInitialized(ctx context.Context, channelID string, baselineIDs []string) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisInitPrefix+channelID, strconv.FormatInt(time.Now().Unix(), 10), 0)

	if len(baselineIDs) > 0 {
		now := float64(time.Now().Unix())
		zs := make([]redis.Z, 0, len(baselineIDs))
		for _, id := range baselineIDs {
			zs = append(zs, redis.Z{Score: now, Member: id})
		}
		pipe.ZAdd(ctx, redisWatermarkPrefix+channelID, zs...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark channel initialized: %w", err)
	}
	return nil
}

func (s *RedisStore) ResetChannel(ctx context.Context, channelID string) error {
	if err := s.client.Del(ctx, redisWatermarkPrefix+channelID, redisInitPrefix+channelID).Err(); err != nil {
		return fmt.Errorf("failed to reset channel: %w", err)
	}
	return nil
}

func (s *RedisStore) CompactWatermarks(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisWatermarkPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan watermark keys: %w", err)
		}

		for _, key := range keys {
			if err := s.compactKey(ctx, key, cutoff); err != nil {
				return err
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) compactKey(ctx context.Context, key string, cutoff int64) error {
	members, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read watermark %s: %w", key, err)
	}
	if len(members) == 0 {
		return nil
	}

	maxID := members[0]
	for _, id := range members[1:] {
		if models.CompareMessageIDs(id, maxID) > 0 {
			maxID = id
		}
	}

	maxScore, err := s.client.ZScore(ctx, key, maxID).Result()
	if err != nil {
		return fmt.Errorf("failed to read max id score: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	// Re-add the maximum id in case the range removal swept it.
	pipe.ZAdd(ctx, key, redis.Z{Score: maxScore, Member: maxID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to compact watermark %s: %w", key, err)
	}
	return nil
}
