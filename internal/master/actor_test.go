package master

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taoyao-code/rs485-master/internal/driver"
	"github.com/taoyao-code/rs485-master/internal/protocol/mabmgb"
)

type signal struct {
	name    string
	content string
}

// feedbackLog 并发安全地记录反馈
type feedbackLog struct {
	mu      sync.Mutex
	signals []signal
}

func (f *feedbackLog) fn(name, content string) error {
	f.mu.Lock()
	f.signals = append(f.signals, signal{name, content})
	f.mu.Unlock()
	return nil
}

func (f *feedbackLog) Of(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.signals {
		if s.name == name {
			out = append(out, s.content)
		}
	}
	return out
}

// pipeTransport 返回连接到 net.Pipe 一端的驱动及对端
func pipeTransport(t *testing.T) (*driver.Stream, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() { _ = remote.Close() })
	s := driver.NewStream("pipe", func(driver.Params) (io.ReadWriteCloser, error) { return local, nil }, zap.NewNop())
	return s, remote
}

// startActor 在后台运行 Actor，返回 Run 的结果通道
func startActor(t *testing.T, a *Actor) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return done
}

func TestActor_StateGating(t *testing.T) {
	tr, _ := pipeTransport(t)
	fb := &feedbackLog{}
	a := New(tr, zap.NewNop(), WithFeedback(fb.fn))
	startActor(t, a)
	ctx := context.Background()

	assert.Equal(t, StateWaitInit, a.State())
	assert.ErrorIs(t, a.Disconnect(), ErrInvalidState, "WaitInit 下不允许断开")
	assert.ErrorIs(t, a.SendPacket(mabmgb.NewPacket(1, 1, nil)), ErrInvalidState)

	require.NoError(t, a.ConnectAndWait(ctx, nil))
	assert.Equal(t, StateConnected, a.State())

	assert.ErrorIs(t, a.Connect(nil), ErrInvalidState, "Connected 下不允许再次连接")
	assert.Equal(t, StateConnected, a.State())

	require.NoError(t, a.DisconnectAndWait(ctx))
	assert.Equal(t, StateDisconnected, a.State())
	assert.Equal(t, driver.StateDisconnected, tr.State())

	assert.ErrorIs(t, a.Connect(nil), ErrInvalidState, "Disconnected 为终态")
	assert.ErrorIs(t, a.Disconnect(), ErrInvalidState)
	assert.Equal(t, []string{"wait_init", "connected", "disconnected"}, fb.Of(SignalStatus))
}

func TestActor_AsyncConnect(t *testing.T) {
	tr, _ := pipeTransport(t)
	a := New(tr, nil)

	// 后台任务尚未运行：参数停留在单槽中
	require.NoError(t, a.Connect(nil))
	assert.ErrorIs(t, a.Connect(nil), ErrConnectPending)
	assert.Equal(t, StateWaitInit, a.State())

	startActor(t, a)
	require.Eventually(t, func() bool { return a.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.Disconnect())
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("actor did not reach disconnected")
	}
	assert.Equal(t, StateDisconnected, a.State())
}

func TestActor_ConnectFailureStaysWaitInit(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	var attempts int
	tr := driver.NewStream("flaky", func(p driver.Params) (io.ReadWriteCloser, error) {
		attempts++
		if p.Get(driver.ParamPort) != "ok" {
			return nil, errors.New("no such port")
		}
		return local, nil
	}, zap.NewNop())
	a := New(tr, zap.NewNop())
	startActor(t, a)

	err := a.ConnectAndWait(context.Background(), driver.Params{driver.ParamPort: "bad"})
	assert.ErrorIs(t, err, driver.ErrChannel)
	assert.Equal(t, StateWaitInit, a.State())

	require.NoError(t, a.ConnectAndWait(context.Background(), driver.Params{driver.ParamPort: "ok"}))
	assert.Equal(t, StateConnected, a.State())
	assert.Equal(t, 2, attempts)
}

func TestActor_ContextCancelTearsDown(t *testing.T) {
	tr, _ := pipeTransport(t)
	a := New(tr, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.NoError(t, a.ConnectAndWait(context.Background(), nil))
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateDisconnected, a.State())
	assert.ErrorIs(t, a.Run(context.Background()), ErrAlreadyRunning)
}

func TestActor_CancelWhileWaitingForParams(t *testing.T) {
	tr, _ := pipeTransport(t)
	a := New(tr, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Run(ctx), context.Canceled)
	assert.Equal(t, StateWaitInit, a.State())
}

func TestActor_RecvFeedback(t *testing.T) {
	tr, remote := pipeTransport(t)
	fb := &feedbackLog{}
	a := New(tr, zap.NewNop())
	a.SetFeedback(fb.fn)
	startActor(t, a)
	require.NoError(t, a.ConnectAndWait(context.Background(), nil))

	frame, err := mabmgb.Encode(mabmgb.NewPacket(mabmgb.MGBAddr, 0x10, []byte("hello")))
	require.NoError(t, err)
	go func() { _, _ = remote.Write(frame) }()

	require.Eventually(t, func() bool { return len(fb.Of(SignalRecv)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hello"}, fb.Of(SignalRecv))
}

func TestActor_SendPathsReachChannel(t *testing.T) {
	tr, remote := pipeTransport(t)
	a := New(tr, zap.NewNop())
	startActor(t, a)

	// 连接前写入被驱动丢弃，连接后不会补发
	require.NoError(t, a.SendOnSerial([]byte("early\x03")))
	require.NoError(t, a.ConnectAndWait(context.Background(), nil))

	pkt := mabmgb.NewPacket(mabmgb.MABAddr, 0x44, nil)
	require.NoError(t, a.SendOnSerial([]byte("raw\x03")))
	require.NoError(t, a.SendPacket(pkt))
	assert.ErrorIs(t, a.SendPacket(mabmgb.NewPacket(1, 1, make([]byte, mabmgb.MaxExtPayload))), mabmgb.ErrPayloadTooLarge)

	want, err := mabmgb.Encode(pkt)
	require.NoError(t, err)
	want = append([]byte("raw\x03"), want...)

	got := make([]byte, 0, len(want))
	buf := make([]byte, 64)
	require.NoError(t, remote.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(got) < len(want) {
		n, err := remote.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, want, got)
}

func TestActor_FeedbackFailuresContained(t *testing.T) {
	tr, _ := pipeTransport(t)
	var calls int
	var mu sync.Mutex
	a := New(tr, zap.NewNop(), WithFeedback(func(signal, content string) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n%2 == 0 {
			panic("feedback exploded")
		}
		return errors.New("feedback rejected")
	}))
	startActor(t, a)

	require.NoError(t, a.ConnectAndWait(context.Background(), nil))
	require.NoError(t, a.DisconnectAndWait(context.Background()))
	assert.Equal(t, StateDisconnected, a.State())
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestActor_StateHook(t *testing.T) {
	tr, _ := pipeTransport(t)
	var mu sync.Mutex
	var states []State
	a := New(tr, zap.NewNop(), WithStateHook(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))
	startActor(t, a)
	require.NoError(t, a.ConnectAndWait(context.Background(), nil))
	require.NoError(t, a.DisconnectAndWait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnected, StateDisconnected}, states)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "wait_init", StateWaitInit.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "unknown(7)", State(7).String())
}
