package mabmgb

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/taoyao-code/rs485-master/internal/driver"
	"github.com/taoyao-code/rs485-master/internal/eventbus"
)

// 协议层事件
const (
	LabelStateChanged eventbus.Label = "protocol.state_changed"
	LabelPacketRecv   eventbus.Label = "protocol.packet_recv"
	// LabelError 解码失败（仅通知，帧已丢弃）
	LabelError eventbus.Label = "protocol.error"

	AttachState  = "state"
	AttachPacket = "packet"
	AttachError  = "error"
	AttachFrame  = "frame"
)

// State 协议层状态，跟随驱动状态
type State int32

const (
	StateWaitingForConnection State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "waiting_for_connection"
}

// Transport 协议层对驱动的最小依赖
type Transport interface {
	Subscribe(h eventbus.Handler)
	Write(b []byte)
	State() driver.State
}

// ProtocolOption 协议层可选项
type ProtocolOption func(*Protocol)

// WithDecodeHook 每次解码完成后回调，err 为 nil 表示成功
func WithDecodeHook(fn func(err error)) ProtocolOption {
	return func(p *Protocol) { p.onDecode = fn }
}

// WithSentHook 数据报成功编码并入队后回调
func WithSentHook(fn func(Packet)) ProtocolOption {
	return func(p *Protocol) { p.onSent = fn }
}

// Protocol 驱动之上的 MAB/MGB 协议层：把驱动上报的原始帧解码为 Packet，
// 把 Packet 编码后交给驱动发送
type Protocol struct {
	t     Transport
	log   *zap.Logger
	bus   *eventbus.Bus
	state atomic.Int32

	onDecode func(err error)
	onSent   func(Packet)
}

// NewProtocol 创建协议层并订阅驱动事件
func NewProtocol(t Transport, log *zap.Logger, opts ...ProtocolOption) *Protocol {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Protocol{
		t:   t,
		log: log.With(zap.String("component", "protocol")),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bus = eventbus.New(p)
	if t.State() == driver.StateConnected {
		p.state.Store(int32(StateReady))
	}
	t.Subscribe(p.onTransportEvent)
	return p
}

// Subscribe 订阅协议层事件
func (p *Protocol) Subscribe(h eventbus.Handler) { p.bus.Subscribe(h) }

// State 当前协议层状态
func (p *Protocol) State() State { return State(p.state.Load()) }

// SendPacket 编码并交给驱动；编码错误同步返回
func (p *Protocol) SendPacket(pkt Packet) error {
	frame, err := Encode(pkt)
	if err != nil {
		p.log.Warn("encode failed", zap.Stringer("packet", pkt), zap.Error(err))
		return err
	}
	p.t.Write(frame)
	p.log.Debug("packet queued", zap.Stringer("packet", pkt), zap.Binary("frame", frame))
	if p.onSent != nil {
		p.onSent(pkt)
	}
	return nil
}

func (p *Protocol) onTransportEvent(ev eventbus.Event) error {
	switch ev.Label {
	case driver.LabelStateChanged:
		ds, ok := driver.StateOf(ev)
		if !ok {
			return nil
		}
		st := StateWaitingForConnection
		if ds == driver.StateConnected {
			st = StateReady
		}
		p.state.Store(int32(st))
		return p.bus.Fire(LabelStateChanged, map[string]any{AttachState: st})

	case driver.LabelPacketRecv:
		frame, ok := driver.TextOf(ev)
		if !ok {
			return nil
		}
		return p.handleFrame(frame)
	}
	return nil
}

// handleFrame 解码失败只记录并通知，不向驱动返回错误，读循环继续
func (p *Protocol) handleFrame(frame []byte) error {
	pkt, err := Decode(frame)
	if p.onDecode != nil {
		p.onDecode(err)
	}
	if err != nil {
		p.log.Warn("drop invalid frame", zap.String("reason", ErrorReason(err)), zap.Error(err))
		if ferr := p.bus.Fire(LabelError, map[string]any{AttachError: err, AttachFrame: frame}); ferr != nil {
			p.log.Warn("error listener failed", zap.Error(ferr))
		}
		return nil
	}
	p.log.Debug("packet received", zap.Stringer("packet", pkt))
	return p.bus.Fire(LabelPacketRecv, map[string]any{AttachPacket: pkt})
}

// PacketOf 从 LabelPacketRecv 事件中取出数据报
func PacketOf(ev eventbus.Event) (Packet, bool) {
	v, ok := ev.Get(AttachPacket)
	if !ok {
		return Packet{}, false
	}
	pkt, ok := v.(Packet)
	return pkt, ok
}

// StateOf 从 LabelStateChanged 事件中取出协议层状态
func StateOf(ev eventbus.Event) (State, bool) {
	v, ok := ev.Get(AttachState)
	if !ok {
		return 0, false
	}
	s, ok := v.(State)
	return s, ok
}
