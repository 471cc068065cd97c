package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/rs485-master/internal/config"
	"github.com/taoyao-code/rs485-master/internal/health"
	redisstorage "github.com/taoyao-code/rs485-master/internal/storage/redis"
)

// NewRedisClient 创建Redis客户端；未启用时返回 nil
func NewRedisClient(cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enabled {
		logger.Info("redis is disabled, feedback will not be published")
		return nil, nil
	}

	client, err := redisstorage.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))

	return client, nil
}

// NewFeedbackPublisher 基于 Redis 的反馈发布器；client 为 nil 时返回 nil
func NewFeedbackPublisher(client *redisstorage.Client) *redisstorage.FeedbackPublisher {
	if client == nil {
		return nil
	}
	return client.FeedbackPublisher()
}

// AddRedisChecker 添加Redis检查器到聚合器
func AddRedisChecker(aggregator *health.Aggregator, redisClient *redisstorage.Client) {
	if redisClient != nil {
		aggregator.AddChecker(health.NewRedisChecker(redisClient))
	}
}
