package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taoyao-code/rs485-master/internal/eventbus"
)

const (
	readBufSize       = 256
	defaultEOFBackoff = 100 * time.Millisecond
	defaultCloseGrace = 2 * time.Second
)

// Opener 按参数打开底层通道
type Opener func(params Params) (io.ReadWriteCloser, error)

// Option 驱动可选项
type Option func(*options)

type options struct {
	eofBackoff time.Duration
	closeGrace time.Duration
	onRead     func(n int)
	onWrite    func(n int)
	onDropped  func()
}

// WithEOFBackoff 读到 EOF 后的等待时间
func WithEOFBackoff(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.eofBackoff = d
		}
	}
}

// WithCloseGrace 断开时等待写循环完成当前写入的最长时间
func WithCloseGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.closeGrace = d
		}
	}
}

// WithBytesHooks 读/写字节数回调（指标）
func WithBytesHooks(onRead, onWrite func(n int)) Option {
	return func(o *options) { o.onRead, o.onWrite = onRead, onWrite }
}

// WithDroppedHook 未连接时写入被丢弃的回调（指标）
func WithDroppedHook(fn func()) Option {
	return func(o *options) { o.onDropped = fn }
}

// connection 单次连接期间的资源，由 Stream 独占
type connection struct {
	ch        io.ReadWriteCloser
	queue     *Queue
	ctx       context.Context
	cancel    context.CancelFunc
	writeDone chan struct{}
	done      chan struct{}
}

// Stream 基于字节流通道的驱动核心：文件/FIFO 与串口驱动共用
type Stream struct {
	name string
	open Opener
	log  *zap.Logger
	opts options
	bus  *eventbus.Bus

	opMu  sync.Mutex // 串行化 Connect/Disconnect
	mu    sync.Mutex // 保护 conn
	conn  *connection
	state atomic.Int32
}

var _ Transport = (*Stream)(nil)

// NewStream 创建流式驱动
func NewStream(name string, open Opener, log *zap.Logger, opts ...Option) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	o := options{eofBackoff: defaultEOFBackoff, closeGrace: defaultCloseGrace}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Stream{
		name: name,
		open: open,
		log:  log.With(zap.String("component", "driver"), zap.String("driver", name)),
		opts: o,
	}
	s.bus = eventbus.New(s)
	return s
}

// Name 驱动名称
func (s *Stream) Name() string { return s.name }

// Subscribe 订阅驱动事件
func (s *Stream) Subscribe(h eventbus.Handler) { s.bus.Subscribe(h) }

// State 当前状态
func (s *Stream) State() State { return State(s.state.Load()) }

// Connect 打开通道并启动读写循环；连接的生命周期派生自 ctx
func (s *Stream) Connect(ctx context.Context, params Params) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	busy := s.conn != nil
	s.mu.Unlock()
	if busy {
		return ErrAlreadyConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ch, err := s.open(params)
	if err != nil {
		s.log.Error("open channel failed", zap.Error(err))
		return fmt.Errorf("%w: open %s: %w", ErrChannel, s.name, err)
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &connection{
		ch:        ch,
		queue:     NewQueue(),
		ctx:       cctx,
		cancel:    cancel,
		writeDone: make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()

	s.setState(StateConnected)
	s.log.Info("connected")

	g, gctx := errgroup.WithContext(cctx)
	g.Go(func() error { return s.readLoop(gctx, c) })
	g.Go(func() error { return s.writeLoop(gctx, c) })
	go func() {
		defer close(c.done)
		if err := g.Wait(); err != nil && c.ctx.Err() == nil {
			// 循环意外终止，不自动重连；需由上层 Disconnect 后重新 Connect
			s.log.Error("io loop terminated", zap.Error(err))
		}
	}()
	return nil
}

// Disconnect 协作式取消：先让写循环完成当前写入，再关闭通道解除读阻塞
func (s *Stream) Disconnect() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}

	s.log.Info("disconnecting", zap.Int("pending_writes", c.queue.Len()))
	c.cancel()
	c.queue.Close()

	select {
	case <-c.writeDone:
	case <-time.After(s.opts.closeGrace):
		s.log.Warn("write loop still busy, closing channel", zap.Duration("grace", s.opts.closeGrace))
	}
	closeErr := c.ch.Close()
	<-c.done

	s.setState(StateDisconnected)
	s.log.Info("disconnected")
	if closeErr != nil {
		return fmt.Errorf("%w: close %s: %w", ErrChannel, s.name, closeErr)
	}
	return nil
}

// Write 复制并入队；未连接时丢弃
func (s *Stream) Write(b []byte) {
	dup := make([]byte, len(b))
	copy(dup, b)

	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil || !c.queue.Push(dup) {
		s.log.Warn("write dropped: not connected", zap.Int("len", len(b)))
		if s.opts.onDropped != nil {
			s.opts.onDropped()
		}
	}
}

func (s *Stream) setState(st State) {
	s.state.Store(int32(st))
	if err := s.bus.Fire(LabelStateChanged, map[string]any{AttachState: st}); err != nil {
		s.log.Warn("state listener failed", zap.Stringer("state", st), zap.Error(err))
	}
}

// readLoop 累积字节直到 ETX，整帧（含定界符）上报；取消时丢弃未完成的半帧
func (s *Stream) readLoop(ctx context.Context, c *connection) error {
	buf := make([]byte, readBufSize)
	var acc []byte
	for {
		n, err := c.ch.Read(buf)
		if n > 0 && ctx.Err() == nil {
			if s.opts.onRead != nil {
				s.opts.onRead(n)
			}
			for _, b := range buf[:n] {
				acc = append(acc, b)
				if b == Delimiter {
					s.deliver(acc)
					acc = nil
					continue
				}
				if len(acc) > MaxFrameLen {
					s.log.Warn("frame too long without delimiter, discarding", zap.Int("len", len(acc)))
					acc = nil
				}
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			// EOF 视为暂时无数据：短暂等待后重试
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.opts.eofBackoff):
			}
			continue
		}
		return fmt.Errorf("%w: read: %w", ErrChannel, err)
	}
}

func (s *Stream) deliver(frame []byte) {
	s.log.Debug("recv frame", zap.Binary("frame", frame))
	if err := s.bus.Fire(LabelPacketRecv, map[string]any{AttachText: frame}); err != nil {
		s.log.Warn("packet listener failed", zap.Error(err))
	}
}

// writeLoop 逐个出队并整块写入
func (s *Stream) writeLoop(ctx context.Context, c *connection) error {
	defer close(c.writeDone)
	for {
		b, ok := c.queue.Pop(ctx)
		if !ok {
			return nil
		}
		n, err := c.ch.Write(b)
		if err == nil && n != len(b) {
			err = io.ErrShortWrite
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: write: %w", ErrChannel, err)
		}
		if s.opts.onWrite != nil {
			s.opts.onWrite(n)
		}
		s.log.Debug("sent frame", zap.Binary("frame", b))
	}
}
