package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	cfgpkg "github.com/taoyao-code/rs485-master/internal/config"
	"github.com/taoyao-code/rs485-master/internal/feedback"
)

// DefaultFeedbackChannel 未配置时的反馈发布频道
const DefaultFeedbackChannel = "rs485:feedback"

const defaultPingTimeout = 5 * time.Second

// ErrDisabled 配置未启用 Redis
var ErrDisabled = errors.New("redis is not enabled")

// Client 主控使用的 Redis 连接：反馈发布与健康检查
type Client struct {
	*redis.Client
	feedbackChannel string
}

// NewClient 按配置创建客户端并探测连通性
func NewClient(cfg cfgpkg.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingTimeout := cfg.DialTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w", cfg.Addr, err)
	}

	return newClient(rdb, cfg.FeedbackChannel), nil
}

func newClient(rdb *redis.Client, channel string) *Client {
	if channel == "" {
		channel = DefaultFeedbackChannel
	}
	return &Client{Client: rdb, feedbackChannel: channel}
}

// FeedbackChannel 反馈发布频道
func (c *Client) FeedbackChannel() string { return c.feedbackChannel }

// FeedbackPublisher 发布到本连接反馈频道的发布器，供 feedback.Hub 使用
func (c *Client) FeedbackPublisher() *FeedbackPublisher {
	return NewFeedbackPublisher(c, c.feedbackChannel)
}

// PublishFeedback 同步发布一条反馈
func (c *Client) PublishFeedback(ctx context.Context, ev feedback.Event) error {
	return c.FeedbackPublisher().Publish(ctx, ev)
}

// Close 关闭连接
func (c *Client) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}

// HealthCheck PING 探测
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// Stats 连接池统计
func (c *Client) Stats() *redis.PoolStats {
	return c.PoolStats()
}
