// Package eventbus 最小同步发布/订阅原语：驱动、协议层与主控 Actor 均通过它上报状态与数据事件
package eventbus

import "sync"

// Label 事件标签
type Label string

// Event 单次派发的事件，仅在 Fire 期间存在
type Event struct {
	Source     any
	Label      Label
	Attachment map[string]any
}

// Get 读取附件字段
func (e Event) Get(key string) (any, bool) {
	if e.Attachment == nil {
		return nil, false
	}
	v, ok := e.Attachment[key]
	return v, ok
}

// Handler 订阅者回调；返回错误将中止本轮派发
type Handler func(Event) error

// Bus 同步事件总线
type Bus struct {
	mu       sync.RWMutex
	source   any
	handlers []Handler
}

// New 创建事件总线，source 作为事件来源写入每个 Event
func New(source any) *Bus {
	return &Bus{source: source}
}

// Subscribe 注册订阅者；派发过程中注册的订阅者从下一次 Fire 起生效
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Len 返回订阅者数量
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Fire 按注册顺序同步调用全部订阅者。
// 订阅者之间没有故障隔离：第一个返回错误的订阅者会中止本轮派发，
// 其后的订阅者不再被调用，错误原样返回给调用方；panic 同样直接向上传播。
func (b *Bus) Fire(label Label, attachment map[string]any) error {
	b.mu.RLock()
	snapshot := make([]Handler, len(b.handlers))
	copy(snapshot, b.handlers)
	src := b.source
	b.mu.RUnlock()

	ev := Event{Source: src, Label: label, Attachment: attachment}
	for _, h := range snapshot {
		if err := h(ev); err != nil {
			return err
		}
	}
	return nil
}
