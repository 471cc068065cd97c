// Package feedback 把主控 Actor 的反馈回调扇出到多个订阅者（SSE 客户端）与可选的外部发布器
package feedback

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/rs485-master/internal/master"
)

const (
	defaultSubscriberBuffer = 64
	defaultPublishBuffer    = 256
	publishTimeout          = 3 * time.Second
)

// Event 一条反馈
type Event struct {
	ID         string    `json:"id"`
	Signal     string    `json:"signal"`
	Content    string    `json:"content"`
	// ContentHex recv_from_serial 载荷的十六进制形式；载荷多为二进制，JSON 中的 Content 会丢失非 UTF-8 字节
	ContentHex string    `json:"content_hex,omitempty"`
	Time       time.Time `json:"time"`
}

// Publisher 外部发布器（例如 Redis PUBLISH）
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscription 单个订阅者；缓冲满时新事件被丢弃
type Subscription struct {
	id      string
	ch      chan Event
	dropped int64
}

// ID 订阅者标识
func (s *Subscription) ID() string { return s.id }

// C 事件通道，取消订阅后关闭
func (s *Subscription) C() <-chan Event { return s.ch }

// Option Hub 可选项
type Option func(*Hub)

// WithPublisher 设置外部发布器
func WithPublisher(p Publisher) Option {
	return func(h *Hub) { h.pub = p }
}

// WithSubscriberBuffer 每个订阅者的缓冲大小
func WithSubscriberBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufSize = n
		}
	}
}

// WithSubscribersHook 订阅者数量变化回调（指标）
func WithSubscribersHook(fn func(n int)) Option {
	return func(h *Hub) { h.onSubscribers = fn }
}

// Hub 反馈扇出中心。Feedback 不阻塞调用方：慢订阅者丢事件，发布器经有界队列异步发送。
type Hub struct {
	log     *zap.Logger
	bufSize int

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool

	pub      Publisher
	pubQueue chan Event

	onSubscribers func(int)
}

// NewHub 创建 Hub；设置了发布器时需调用 Run 发送
func NewHub(log *zap.Logger, opts ...Option) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		log:      log.With(zap.String("component", "feedback")),
		bufSize:  defaultSubscriberBuffer,
		subs:     make(map[string]*Subscription),
		pubQueue: make(chan Event, defaultPublishBuffer),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Feedback 与主控 Actor 的反馈回调签名一致
func (h *Hub) Feedback(signal, content string) error {
	ev := Event{
		ID:      uuid.NewString(),
		Signal:  signal,
		Content: content,
		Time:    time.Now(),
	}
	if signal == master.SignalRecv {
		ev.ContentHex = hex.EncodeToString([]byte(content))
	}
	h.Broadcast(ev)
	return nil
}

// Broadcast 扇出一条事件
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	for _, s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped++
			h.log.Warn("subscriber too slow, event dropped",
				zap.String("subscriber", s.id), zap.Int64("dropped", s.dropped))
		}
	}
	h.mu.Unlock()

	if h.pub == nil {
		return
	}
	select {
	case h.pubQueue <- ev:
	default:
		h.log.Warn("publish queue full, event dropped", zap.String("signal", ev.Signal))
	}
}

// Subscribe 注册订阅者
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{id: uuid.NewString(), ch: make(chan Event, h.bufSize)}
	h.mu.Lock()
	if h.closed {
		close(s.ch)
		h.mu.Unlock()
		return s
	}
	h.subs[s.id] = s
	n := len(h.subs)
	h.mu.Unlock()

	h.log.Debug("subscriber added", zap.String("subscriber", s.id), zap.Int("subscribers", n))
	h.notifySubscribers(n)
	return s
}

// Unsubscribe 注销订阅者并关闭其通道；重复调用无副作用
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[s.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, s.id)
	close(s.ch)
	n := len(h.subs)
	h.mu.Unlock()

	h.log.Debug("subscriber removed", zap.String("subscriber", s.id), zap.Int("subscribers", n))
	h.notifySubscribers(n)
}

// Len 当前订阅者数量
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close 关闭全部订阅者，此后的事件被忽略
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
	h.mu.Unlock()
	h.notifySubscribers(0)
}

// Run 把事件交给发布器，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	if h.pub == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.pubQueue:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := h.pub.Publish(pctx, ev); err != nil {
				h.log.Warn("publish feedback failed", zap.String("signal", ev.Signal), zap.Error(err))
			}
			cancel()
		}
	}
}

func (h *Hub) notifySubscribers(n int) {
	if h.onSubscribers != nil {
		h.onSubscribers(n)
	}
}
