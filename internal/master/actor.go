// Package master 面向外部的主控 Actor：串行化 connect/disconnect/send 命令，
// 独占一个驱动实例的生命周期，并把协议数据与状态变化以反馈回调的形式转发出去。
package master

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/taoyao-code/rs485-master/internal/driver"
	"github.com/taoyao-code/rs485-master/internal/eventbus"
	"github.com/taoyao-code/rs485-master/internal/protocol/mabmgb"
)

var (
	ErrInvalidState   = errors.New("master: command not allowed in current state")
	ErrConnectPending = errors.New("master: connect already pending")
	ErrInvalidCommand = errors.New("master: invalid command")
	ErrAlreadyRunning = errors.New("master: actor already running")
)

// 反馈信号
const (
	SignalStatus = "status"
	SignalRecv   = "recv_from_serial"
)

// State Actor 状态；Disconnected 为终态，重连需新建 Actor
type State int32

const (
	StateWaitInit State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateWaitInit:
		return "wait_init"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// FeedbackFunc 反馈回调，signal 为 SignalStatus 或 SignalRecv
type FeedbackFunc func(signal, content string) error

// Option Actor 可选项
type Option func(*Actor)

// WithFeedback 构造时安装反馈回调
func WithFeedback(fn FeedbackFunc) Option {
	return func(a *Actor) { a.feedback = fn }
}

// WithStateHook 状态变化回调（指标）
func WithStateHook(fn func(State)) Option {
	return func(a *Actor) { a.onState = fn }
}

// WithCommandHook 每条命令执行完毕后回调（指标）
func WithCommandHook(fn func(command string, err error)) Option {
	return func(a *Actor) { a.onCommand = fn }
}

// WithProtocolOptions 透传给协议层的选项
func WithProtocolOptions(opts ...mabmgb.ProtocolOption) Option {
	return func(a *Actor) { a.protoOpts = append(a.protoOpts, opts...) }
}

type connectRequest struct {
	params driver.Params
	result chan error
}

// Actor 主控 Actor。后台任务 Run 是驱动通道的唯一拥有者，也是状态的唯一写入者。
type Actor struct {
	t     driver.Transport
	proto *mabmgb.Protocol
	log   *zap.Logger

	state   atomic.Int32
	running atomic.Bool

	connectCh    chan connectRequest // 容量 1
	disconnectCh chan struct{}       // 容量 1
	finished     chan struct{}

	mu          sync.Mutex
	pending     bool
	feedback    FeedbackFunc
	teardownErr error

	onState   func(State)
	onCommand func(string, error)
	protoOpts []mabmgb.ProtocolOption
}

// New 创建处于 WaitInit 的 Actor；t 的生命周期此后由 Actor 独占
func New(t driver.Transport, log *zap.Logger, opts ...Option) *Actor {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Actor{
		t:            t,
		log:          log.With(zap.String("component", "master")),
		connectCh:    make(chan connectRequest, 1),
		disconnectCh: make(chan struct{}, 1),
		finished:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.proto = mabmgb.NewProtocol(t, log, a.protoOpts...)
	a.proto.Subscribe(a.onProtocolEvent)
	return a
}

// State 当前状态
func (a *Actor) State() State { return State(a.state.Load()) }

// Protocol 内部协议层，供订阅原始数据报事件
func (a *Actor) Protocol() *mabmgb.Protocol { return a.proto }

// Done Actor 进入终态后关闭
func (a *Actor) Done() <-chan struct{} { return a.finished }

// SetFeedback 安装唯一的反馈回调，替换之前的回调
func (a *Actor) SetFeedback(fn FeedbackFunc) {
	a.mu.Lock()
	a.feedback = fn
	a.mu.Unlock()
}

// Connect 交出连接参数后立即返回，连接在后台任务中异步完成
func (a *Actor) Connect(params driver.Params) error {
	_, err := a.submitConnect(params)
	return err
}

// ConnectAndWait 交出连接参数并等待后台打开结果；打开失败时 Actor 保持 WaitInit
func (a *Actor) ConnectAndWait(ctx context.Context, params driver.Params) error {
	result, err := a.submitConnect(params)
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) submitConnect(params driver.Params) (<-chan error, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st := a.State(); st != StateWaitInit {
		return nil, fmt.Errorf("%w: connect in %s", ErrInvalidState, st)
	}
	if a.pending {
		return nil, ErrConnectPending
	}
	req := connectRequest{params: params, result: make(chan error, 1)}
	select {
	case a.connectCh <- req:
	default:
		return nil, ErrConnectPending
	}
	a.pending = true
	return req.result, nil
}

// Disconnect 通知后台任务拆除连接后立即返回
func (a *Actor) Disconnect() error {
	if st := a.State(); st != StateConnected {
		return fmt.Errorf("%w: disconnect in %s", ErrInvalidState, st)
	}
	select {
	case a.disconnectCh <- struct{}{}:
	default:
		// 已有拆除请求在途
	}
	return nil
}

// DisconnectAndWait 通知拆除并等待进入 Disconnected，返回关闭通道的错误
func (a *Actor) DisconnectAndWait(ctx context.Context) error {
	if err := a.Disconnect(); err != nil {
		return err
	}
	select {
	case <-a.finished:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.teardownErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendOnSerial 原样写入驱动队列；任何状态都接受，未连接时驱动丢弃
func (a *Actor) SendOnSerial(text []byte) error {
	a.t.Write(text)
	return nil
}

// SendPacket 经协议层编码后发送，仅 Connected 状态允许
func (a *Actor) SendPacket(p mabmgb.Packet) error {
	if st := a.State(); st != StateConnected {
		return fmt.Errorf("%w: send_packet in %s", ErrInvalidState, st)
	}
	return a.proto.SendPacket(p)
}

// Run 后台任务：等待连接参数 -> 打开通道 -> 等待断开信号或 ctx 结束 -> 关闭通道 -> 终止。
// 每个 Actor 只能运行一次。
func (a *Actor) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	a.emit(SignalStatus, a.State().String())

	if err := a.waitConnected(ctx); err != nil {
		return err
	}

	select {
	case <-a.disconnectCh:
		a.log.Info("disconnect requested")
	case <-ctx.Done():
		a.log.Info("context done, tearing down", zap.Error(ctx.Err()))
	}

	err := a.t.Disconnect()
	if err != nil {
		a.log.Error("close channel failed", zap.Error(err))
	}
	a.mu.Lock()
	a.teardownErr = err
	a.mu.Unlock()
	a.setState(StateDisconnected)
	close(a.finished)
	return err
}

// waitConnected 循环等待连接参数直到打开成功；失败后保持 WaitInit 并接受新的 connect
func (a *Actor) waitConnected(ctx context.Context) error {
	for {
		var req connectRequest
		select {
		case req = <-a.connectCh:
		case <-ctx.Done():
			return ctx.Err()
		}

		a.log.Info("connecting", zap.Any("params", req.params))
		err := a.t.Connect(ctx, req.params)
		if err == nil {
			a.setState(StateConnected)
		} else {
			a.log.Error("connect failed", zap.Error(err))
		}
		// 状态先于 pending 更新：其间到达的 connect 只会看到 pending 或新状态
		a.mu.Lock()
		a.pending = false
		a.mu.Unlock()
		req.result <- err
		if err == nil {
			return nil
		}
	}
}

func (a *Actor) setState(s State) {
	a.state.Store(int32(s))
	a.log.Info("state changed", zap.Stringer("state", s))
	if a.onState != nil {
		a.onState(s)
	}
	a.emit(SignalStatus, s.String())
}

func (a *Actor) onProtocolEvent(ev eventbus.Event) error {
	if ev.Label != mabmgb.LabelPacketRecv {
		return nil
	}
	p, ok := mabmgb.PacketOf(ev)
	if !ok {
		return nil
	}
	a.emit(SignalRecv, string(p.Payload))
	return nil
}

// emit 调用反馈回调；回调的错误与 panic 只记录，不影响后台任务
func (a *Actor) emit(signal, content string) {
	a.mu.Lock()
	fn := a.feedback
	a.mu.Unlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("feedback panicked", zap.String("signal", signal), zap.Any("panic", r))
		}
	}()
	if err := fn(signal, content); err != nil {
		a.log.Warn("feedback failed", zap.String("signal", signal), zap.Error(err))
	}
}
