package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/taoyao-code/rs485-master/internal/feedback"
)

// publishFunc 最小发布能力，*Client 与测试替身均满足
type publishFunc interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// FeedbackPublisher 把主控反馈以 JSON 发布到 Redis 频道
type FeedbackPublisher struct {
	client  publishFunc
	channel string
}

var _ feedback.Publisher = (*FeedbackPublisher)(nil)

// NewFeedbackPublisher 创建反馈发布器
func NewFeedbackPublisher(client publishFunc, channel string) *FeedbackPublisher {
	return &FeedbackPublisher{client: client, channel: channel}
}

// Channel 发布频道
func (p *FeedbackPublisher) Channel() string { return p.channel }

// Publish 序列化并发布一条反馈
func (p *FeedbackPublisher) Publish(ctx context.Context, ev feedback.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish feedback to %s: %w", p.channel, err)
	}
	return nil
}
