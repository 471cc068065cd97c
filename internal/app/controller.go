package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/taoyao-code/rs485-master/internal/driver"
	"github.com/taoyao-code/rs485-master/internal/master"
	"github.com/taoyao-code/rs485-master/internal/metrics"
	"github.com/taoyao-code/rs485-master/internal/protocol/mabmgb"
)

// TransportFactory 为每个新 Actor 创建独立的驱动
type TransportFactory func() (driver.Transport, error)

// ControllerOption 控制器可选项
type ControllerOption func(*Controller)

// WithDefaultParams connect 命令未提供的参数由此补齐
func WithDefaultParams(p driver.Params) ControllerOption {
	return func(c *Controller) { c.defaults = p }
}

// WithFeedback 每个 Actor 的反馈回调
func WithFeedback(fn master.FeedbackFunc) ControllerOption {
	return func(c *Controller) { c.feedback = fn }
}

// WithAppMetrics 把 Actor 与协议层的事件计入指标
func WithAppMetrics(m *metrics.AppMetrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// Controller 持有当前 Actor 的应用上下文。
// Actor 进入 Disconnected 后不可复用，下一次 connect 时由控制器换上新的 Actor。
type Controller struct {
	ctx     context.Context
	factory TransportFactory
	log     *zap.Logger

	defaults driver.Params
	feedback master.FeedbackFunc
	metrics  *metrics.AppMetrics

	mu     sync.Mutex
	actor  *master.Actor
	cancel context.CancelFunc
	runErr chan error
}

// NewController 创建控制器并立即准备一个处于 WaitInit 的 Actor；
// ctx 结束时当前 Actor 的后台任务随之拆除
func NewController(ctx context.Context, factory TransportFactory, log *zap.Logger, opts ...ControllerOption) (*Controller, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		ctx:     ctx,
		factory: factory,
		log:     log.With(zap.String("component", "controller")),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.spawnLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

// State 当前 Actor 的状态
func (c *Controller) State() master.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actor.State()
}

// Execute 执行命令；终态 Actor 上的 connect 会先换上新的 Actor
func (c *Controller) Execute(ctx context.Context, cmd master.Command) error {
	c.mu.Lock()
	if conn, ok := cmd.(master.ConnectCommand); ok {
		if c.actor.State() == master.StateDisconnected {
			if err := c.spawnLocked(); err != nil {
				c.mu.Unlock()
				c.observe(cmd.Name(), err)
				return err
			}
		}
		cmd = master.ConnectCommand{Params: c.defaults.Merge(conn.Params)}
	}
	actor := c.actor
	c.mu.Unlock()

	return actor.Execute(ctx, cmd)
}

// Close 断开当前连接并等待后台任务结束
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	actor, cancel, runErr := c.actor, c.cancel, c.runErr
	c.mu.Unlock()

	var err error
	if actor.State() == master.StateConnected {
		if derr := actor.DisconnectAndWait(ctx); derr != nil {
			err = fmt.Errorf("disconnect: %w", derr)
		}
	}
	cancel()
	select {
	case rerr := <-runErr:
		if rerr != nil && !errors.Is(rerr, context.Canceled) && err == nil {
			err = rerr
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// spawnLocked 创建新 Actor 并启动其后台任务，调用方持有 c.mu
func (c *Controller) spawnLocked() error {
	t, err := c.factory()
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	if c.cancel != nil {
		c.cancel()
	}

	opts := []master.Option{master.WithCommandHook(c.observe)}
	if c.feedback != nil {
		opts = append(opts, master.WithFeedback(c.feedback))
	}
	if m := c.metrics; m != nil {
		opts = append(opts,
			master.WithStateHook(func(s master.State) { m.MasterState.Set(float64(s)) }),
			master.WithProtocolOptions(
				mabmgb.WithDecodeHook(func(err error) {
					if err != nil {
						m.DecodeErrors.WithLabelValues(mabmgb.ErrorReason(err)).Inc()
						return
					}
					m.FramesReceived.Inc()
				}),
				mabmgb.WithSentHook(func(mabmgb.Packet) { m.FramesSent.Inc() }),
			),
		)
		m.MasterState.Set(float64(master.StateWaitInit))
	}

	actor := master.New(t, c.log, opts...)
	ctx, cancel := context.WithCancel(c.ctx)
	runErr := make(chan error, 1)
	go func() { runErr <- actor.Run(ctx) }()

	c.actor, c.cancel, c.runErr = actor, cancel, runErr
	c.log.Info("actor ready")
	return nil
}

func (c *Controller) observe(command string, err error) {
	if err != nil {
		c.log.Warn("command failed", zap.String("command", command), zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.ObserveCommand(command, err)
	}
}
