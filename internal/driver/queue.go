package driver

import (
	"context"
	"sync"
)

// Queue 无界 FIFO 写队列（单消费者）。
// 没有容量上限：生产快于消费时内存持续增长。
type Queue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	notify chan struct{}
}

// NewQueue 创建写队列
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push 入队，队列已关闭时返回 false
func (q *Queue) Push(b []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, b)
	q.mu.Unlock()
	q.wake()
	return true
}

// Pop 阻塞直到取出一项；ctx 取消或队列关闭后返回 false，剩余项被丢弃
func (q *Queue) Pop(ctx context.Context) ([]byte, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			b := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return b, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}

// Close 关闭队列并唤醒消费者
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Len 当前排队数量
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
