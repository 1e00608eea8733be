package notifier

import (
	"context"
	"fmt"
	"time"

	"upasthiti-notifier/internal/config"
	"upasthiti-notifier/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DedupCache 通知去重的 Redis 快路径
// 键值是 NotificationLog 去重窗口的镜像（值为服务商消息ID），
// TTL 到当天结束。缓存不可用时分发器退回数据库查询，正确性不依赖缓存。
type DedupCache struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewDedupCache 创建去重缓存
func NewDedupCache(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *DedupCache {
	return &DedupCache{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Key 构建去重缓存键
func (c *DedupCache) Key(dedupKey, studentID string, status models.AttendanceStatus, date time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s:%s",
		c.config.Notifier.DedupKeyPrefix,
		dedupKey,
		studentID,
		status,
		date.Format("2006-01-02"),
	)
}

// Lookup 查询去重键，命中时返回之前的消息ID
func (c *DedupCache) Lookup(ctx context.Context, key string) (string, bool, error) {
	val, err := c.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to lookup dedup key: %w", err)
	}
	return val, true, nil
}

// Mark 写入去重键（带 TTL）
func (c *DedupCache) Mark(ctx context.Context, key, messageID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.redisClient.Set(ctx, key, messageID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark dedup key: %w", err)
	}
	return nil
}
