package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	t.Run("先进先出", func(t *testing.T) {
		q := NewQueue()
		for i := 0; i < 5; i++ {
			require.True(t, q.Push([]byte{byte(i)}))
		}
		assert.Equal(t, 5, q.Len())
		for i := 0; i < 5; i++ {
			b, ok := q.Pop(context.Background())
			require.True(t, ok)
			assert.Equal(t, byte(i), b[0])
		}
		assert.Equal(t, 0, q.Len())
	})

	t.Run("Pop阻塞直到Push", func(t *testing.T) {
		q := NewQueue()
		got := make(chan []byte, 1)
		go func() {
			b, _ := q.Pop(context.Background())
			got <- b
		}()

		select {
		case <-got:
			t.Fatal("Pop 不应在空队列上返回")
		case <-time.After(30 * time.Millisecond):
		}

		q.Push([]byte("x"))
		select {
		case b := <-got:
			assert.Equal(t, []byte("x"), b)
		case <-time.After(time.Second):
			t.Fatal("Pop 未被唤醒")
		}
	})

	t.Run("取消后返回false", func(t *testing.T) {
		q := NewQueue()
		q.Push([]byte("pending"))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, ok := q.Pop(ctx)
		assert.False(t, ok, "取消后剩余项被丢弃")
	})

	t.Run("关闭后拒绝入队并唤醒消费者", func(t *testing.T) {
		q := NewQueue()
		done := make(chan bool, 1)
		go func() {
			_, ok := q.Pop(context.Background())
			done <- ok
		}()
		time.Sleep(10 * time.Millisecond)
		q.Close()

		select {
		case ok := <-done:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("Close 未唤醒消费者")
		}
		assert.False(t, q.Push([]byte("late")))
	})
}
