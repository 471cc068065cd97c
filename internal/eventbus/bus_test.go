package eventbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FanOutInOrder(t *testing.T) {
	b := New("src")
	var calls []int
	for i := 1; i <= 3; i++ {
		n := i
		b.Subscribe(func(e Event) error {
			calls = append(calls, n)
			return nil
		})
	}

	err := b.Fire("ping", map[string]any{"k": 1})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, calls, "三个订阅者应按注册顺序各调用一次")
}

func TestBus_EventFields(t *testing.T) {
	src := &struct{ name string }{"driver"}
	b := New(src)

	var got Event
	b.Subscribe(func(e Event) error {
		got = e
		return nil
	})
	require.NoError(t, b.Fire("state_changed", map[string]any{"state": "connected"}))

	assert.Same(t, src, got.Source)
	assert.Equal(t, Label("state_changed"), got.Label)
	v, ok := got.Get("state")
	assert.True(t, ok)
	assert.Equal(t, "connected", v)

	_, ok = got.Get("missing")
	assert.False(t, ok)
}

func TestBus_ErrorAbortsDispatch(t *testing.T) {
	b := New(nil)
	boom := errors.New("boom")
	var calls []string

	b.Subscribe(func(Event) error { calls = append(calls, "a"); return nil })
	b.Subscribe(func(Event) error { calls = append(calls, "b"); return boom })
	b.Subscribe(func(Event) error { calls = append(calls, "c"); return nil })

	err := b.Fire("x", nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, calls, "出错之后的订阅者本轮不应被调用")
}

func TestBus_SubscribeDuringFire(t *testing.T) {
	b := New(nil)
	late := 0
	b.Subscribe(func(Event) error {
		b.Subscribe(func(Event) error { late++; return nil })
		return nil
	})

	require.NoError(t, b.Fire("x", nil))
	assert.Equal(t, 0, late, "派发中新增的订阅者不参与当前派发")
	assert.Equal(t, 2, b.Len())

	require.NoError(t, b.Fire("x", nil))
	assert.Equal(t, 1, late)
}

func TestBus_NilHandlerIgnored(t *testing.T) {
	b := New(nil)
	b.Subscribe(nil)
	assert.Equal(t, 0, b.Len())
	assert.NoError(t, b.Fire("x", nil))
}
